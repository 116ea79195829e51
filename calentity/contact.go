package calentity

import (
	"fmt"

	"github.com/emersion/go-vcard"
)

// ContactFromCard builds a Contact from a vCard. The card must carry a UID;
// the href defaults to the UID when empty.
func ContactFromCard(card vcard.Card, href string) (*Contact, error) {
	uid := card.Value(vcard.FieldUID)
	if uid == "" {
		return nil, fmt.Errorf("calentity: vCard has no UID")
	}
	if href == "" {
		href = uid
	}

	c := &Contact{
		Shared: Shared{Href: href},
		UID:    uid,
		Email:  card.PreferredValue(vcard.FieldEmail),
		Phone:  card.PreferredValue(vcard.FieldTelephone),
	}
	if name := card.PreferredValue(vcard.FieldFormattedName); name != "" {
		c.Name = name
	} else if n := card.Name(); n != nil {
		c.Name = n.GivenName + " " + n.FamilyName
	}
	return c, nil
}
