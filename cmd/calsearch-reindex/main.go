// Command calsearch-reindex bulk-indexes a directory of iCalendar files
// into a calsearch SQLite index, once or on a cron schedule.
package main

import (
	"context"
	"flag"
	stdlog "log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/emersion/go-ical"

	"github.com/bedework/go-calsearch"
	"github.com/bedework/go-calsearch/backend"
	"github.com/bedework/go-calsearch/calentity"
	"github.com/bedework/go-calsearch/internal/log"
	"github.com/bedework/go-calsearch/sqlindex"
)

// allowAll is the CLI's stand-in for the real ACL engine: local files are
// always readable by the invoking user.
type allowAll struct{}

func (allowAll) CheckAccess(ctx context.Context, entity calentity.Entity, priv backend.Privilege, always bool) (backend.AccessResult, error) {
	return backend.AccessResult{Allowed: true}, nil
}

type staticPrincipals struct{}

func (staticPrincipals) Resolve(ctx context.Context, ref string) (backend.Principal, error) {
	return backend.Principal{Href: ref}, nil
}

// dirSource feeds every .ics file under root as a calendar event.
type dirSource struct {
	root    string
	owner   string
	colPath string
}

func (s dirSource) Entities(ctx context.Context) (<-chan calentity.Entity, error) {
	ch := make(chan calentity.Entity)
	go func() {
		defer close(ch)
		err := filepath.Walk(s.root, func(path string, info os.FileInfo, err error) error {
			if err != nil || info.IsDir() || !strings.HasSuffix(path, ".ics") {
				return err
			}
			ev, err := readEvent(path, s.owner, s.colPath)
			if err != nil {
				log.Error("skipping unreadable calendar file", err, "path", path)
				return nil
			}
			select {
			case ch <- ev:
			case <-ctx.Done():
				return ctx.Err()
			}
			return nil
		})
		if err != nil && err != context.Canceled {
			log.Error("walking calendar directory failed", err, "root", s.root)
		}
	}()
	return ch, nil
}

func readEvent(path, owner, colPath string) (*calentity.Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cal, err := ical.NewDecoder(f).Decode()
	if err != nil {
		return nil, err
	}
	ev, err := calentity.EventFromICal(cal, filepath.Base(path))
	if err != nil {
		return nil, err
	}
	ev.Owner = owner
	ev.Public = owner == ""
	ev.ColPath = colPath
	for _, ov := range ev.Overrides {
		ov.Owner = ev.Owner
		ov.Public = ev.Public
	}
	return ev, nil
}

func main() {
	var (
		configPath = flag.String("config", "", "YAML config file (optional)")
		dbPath     = flag.String("db", "calsearch.db", "SQLite index database")
		icsDir     = flag.String("ics", ".", "directory of .ics files to index")
		owner      = flag.String("owner", "", "owner principal href (empty for public)")
		colPath    = flag.String("colpath", "/public/cals/MainCal", "collection path to index under")
		schedule   = flag.Bool("schedule", false, "keep running on the configured cron schedule")
	)
	flag.Parse()

	cfg := calsearch.DefaultConfig()
	if *configPath != "" {
		var err error
		cfg, err = calsearch.LoadConfig(*configPath)
		if err != nil {
			stdlog.Fatal(err)
		}
	}

	store, err := sqlindex.Open(*dbPath)
	if err != nil {
		stdlog.Fatal(err)
	}
	defer store.Close()

	client := calsearch.NewClient(store, allowAll{}, staticPrincipals{}, cfg)
	crawler := calsearch.NewCrawler(client, cfg.Crawl)
	source := dirSource{root: *icsDir, owner: *owner, colPath: *colPath}

	if *schedule {
		stop, err := crawler.Schedule(source)
		if err != nil {
			stdlog.Fatal(err)
		}
		defer stop()

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt)
		<-sig
		return
	}

	stats, err := crawler.Run(context.Background(), source)
	if err != nil {
		stdlog.Fatal(err)
	}
	log.Info("reindex complete", "indexed", stats.Indexed, "abandoned", stats.Abandoned)
}
