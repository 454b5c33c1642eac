// events.go - Event envelope for committed ledger entries.
//
// Published after commit by the Ledger when a publisher is configured.
// The envelope id is a fresh UUID; consumers that need exactly-once
// processing should key on (app_id, external_ref) instead.
package credit

import (
	"time"

	"github.com/google/uuid"
)

// EntryRecorded announces a committed ledger entry and the balance the
// account was left with.
type EntryRecorded struct {
	EventID     string    `json:"event_id"`
	UserID      string    `json:"express_user_id"`
	EntryID     int64     `json:"entry_id"`
	Delta       int64     `json:"delta"`
	Reason      string    `json:"reason"`
	ExternalRef string    `json:"external_ref,omitempty"`
	AppID       string    `json:"app_id"`
	Balance     int64     `json:"balance"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// NewEntryRecorded builds the envelope for a committed entry.
func NewEntryRecorded(e Entry, balance int64) EntryRecorded {
	return EntryRecorded{
		EventID:     uuid.New().String(),
		UserID:      e.UserID,
		EntryID:     e.ID,
		Delta:       e.Delta,
		Reason:      e.Reason,
		ExternalRef: e.ExternalRef,
		AppID:       e.AppID,
		Balance:     balance,
		OccurredAt:  time.Now().UTC(),
	}
}
