// Package calsearch is the retrieval core of a calendar server: it keeps a
// search-backed index of calendar entities and answers time-range, property
// and ownership queries against them, with recurring events expanded into
// master, instance and override documents at write time so range queries
// never re-derive recurrence.
//
// The package is a library boundary. Persistence, ACL evaluation and the
// calendar facade are consumed through the interfaces in the backend
// package.
package calsearch
