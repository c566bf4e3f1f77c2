package workflow

import (
	"fmt"
	"time"
)

// HistoryEntry is one append-only workflow audit row. ActorID zero marks an
// automatic transition.
type HistoryEntry struct {
	ID      int64     `json:"id"`
	OrderID int64     `json:"order_id"`
	From    Status    `json:"from_status"`
	To      Status    `json:"to_status"`
	Action  Action    `json:"action"`
	ActorID int64     `json:"actor_id"`
	Note    string    `json:"note,omitempty"`
	At      time.Time `json:"at"`
}

// Replay reconstructs the current status from entries in chronological order.
// Every entry must continue from the previous one along a table edge.
func Replay(entries []HistoryEntry) (Status, error) {
	status := StatusDraft
	for i, entry := range entries {
		if entry.From != status {
			return "", fmt.Errorf("workflow: history entry %d starts at %s, expected %s", i, entry.From, status)
		}
		rule, ok := Lookup(entry.From, entry.Action)
		if !ok || rule.To != entry.To {
			return "", fmt.Errorf("workflow: history entry %d is not a table edge (%s -%s-> %s)", i, entry.From, entry.Action, entry.To)
		}
		status = entry.To
	}
	return status, nil
}
