package tools

import (
	"strings"

	"github.com/voxpaylabs/voxpay-core/internal/ledger"
)

// Balance is the signed outcome of netting unsettled expenses between the
// caller and a named counterpart. Positive Net means the caller owes money.
// Email and Name are taken from the matched counterpart participant, when
// the ledger carries them.
type Balance struct {
	Net   float64
	Email string
	Name  string
}

// ComputeNetBalance nets all unsettled expenses between the current user and
// the recipient query. Names are matched by word-set containment rather than
// exact equality so short or partial spoken names still resolve.
func ComputeNetBalance(current ledger.User, recipientQuery string, expenses []ledger.Expense) Balance {
	var b Balance
	currentName := current.FullName()
	for _, e := range expenses {
		if e.Settled {
			continue
		}
		switch {
		case nameMatches(currentName, e.Payer.Name) && nameMatches(recipientQuery, e.Payee.Name):
			b.Net += e.Amount
			b.noteCounterpart(e.Payee)
		case nameMatches(recipientQuery, e.Payer.Name) && nameMatches(currentName, e.Payee.Name):
			b.Net -= e.Amount
			b.noteCounterpart(e.Payer)
		}
	}
	return b
}

func (b *Balance) noteCounterpart(p ledger.Participant) {
	if b.Email == "" && p.Email != "" {
		b.Email = p.Email
	}
	if b.Name == "" && p.Name != "" {
		b.Name = p.Name
	}
}

// nameMatches reports whether every word of query appears in name's word
// set, case-insensitively. "Bob" matches "Bob Lee"; "Bob Lee" does not match
// "Bob Roy".
func nameMatches(query, name string) bool {
	queryWords := strings.Fields(strings.ToLower(query))
	if len(queryWords) == 0 {
		return false
	}
	nameWords := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(name)) {
		nameWords[w] = struct{}{}
	}
	for _, w := range queryWords {
		if _, ok := nameWords[w]; !ok {
			return false
		}
	}
	return true
}
