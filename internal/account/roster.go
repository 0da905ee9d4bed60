package account

import (
	"os"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/candlelabs/portsync/errs"
	"github.com/candlelabs/portsync/internal/schema"
)

// RosterEntry is one account record from the persisted account roster.
type RosterEntry struct {
	AccountID         string `json:"account_id"`
	Venue             string `json:"venue"`
	APIKey            string `json:"api_key"`
	APISecret         string `json:"api_secret"`
	Passphrase        string `json:"passphrase,omitempty"`
	OrderFeedTaskID   uint64 `json:"order_feed_task_id"`
	BalanceFeedTaskID uint64 `json:"balance_feed_task_id"`
}

// ParsedVenue returns the entry's venue identifier.
func (e RosterEntry) ParsedVenue() (schema.Venue, error) {
	return schema.ParseVenue(e.Venue)
}

// LoadRoster reads and validates the account roster file: a JSON array of
// roster entries. The roster is polled again on every reload tick.
func LoadRoster(path string) ([]RosterEntry, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.New("account/roster", errs.CodeConfig,
			errs.WithMessage("read account roster "+path), errs.WithCause(err))
	}

	var entries []RosterEntry
	if err := json.Unmarshal(content, &entries); err != nil {
		return nil, errs.New("account/roster", errs.CodeConfig,
			errs.WithMessage("parse account roster "+path), errs.WithCause(err))
	}

	seen := make(map[string]bool, len(entries))
	for _, entry := range entries {
		id := strings.TrimSpace(entry.AccountID)
		if id == "" {
			return nil, errs.New("account/roster", errs.CodeConfig,
				errs.WithMessage("roster entry missing account_id"))
		}
		if seen[id] {
			return nil, errs.New("account/roster", errs.CodeConfig,
				errs.WithMessage("duplicate account_id "+id))
		}
		seen[id] = true

		if _, err := entry.ParsedVenue(); err != nil {
			return nil, errs.New("account/roster", errs.CodeConfig,
				errs.WithMessage("account "+id), errs.WithCause(err))
		}
		if entry.OrderFeedTaskID == 0 || entry.BalanceFeedTaskID == 0 {
			return nil, errs.New("account/roster", errs.CodeConfig,
				errs.WithMessage("account "+id+" requires non-zero feed task ids"))
		}
	}
	return entries, nil
}
