package sale

import (
	"github.com/mytireplan/tire-plan-sub001/internal/domain"
)

type Event string

const (
	EventComplete Event = "complete"
	EventEdit     Event = "edit"
	EventCancel   Event = "cancel"
	EventDelete   Event = "delete"
)

// Transition is the outcome of applying an event to a sale in a given status.
type Transition struct {
	Event Event
	From  string
	To    string
	// Noop marks a repeated terminal event, such as canceling a canceled sale.
	Noop bool
}

// Next validates event against the current status. An empty status means the
// sale does not exist yet.
//
//	(none)     --complete--> COMPLETED
//	COMPLETED  --edit------> EDITED     (repeatable)
//	EDITED     --edit------> EDITED
//	COMPLETED/EDITED --cancel--> CANCELED (terminal, restocks)
//	CANCELED   --cancel----> CANCELED   (no-op)
//	any live   --delete----> DELETED    (terminal, no restock)
func Next(current string, event Event) (Transition, error) {
	t := Transition{Event: event, From: current}

	if current == "" || current == domain.SaleStatusDeleted {
		if event == EventComplete && current == "" {
			t.To = domain.SaleStatusCompleted
			return t, nil
		}
		return t, domain.NotFound("SALE_NOT_FOUND", "sale not found")
	}

	switch event {
	case EventComplete:
		// replay of a completion already recorded
		t.To = current
		t.Noop = true
		return t, nil
	case EventEdit:
		if current == domain.SaleStatusCanceled {
			return t, domain.Validation("SALE_CANCELED", "a canceled sale cannot be edited")
		}
		t.To = domain.SaleStatusEdited
		return t, nil
	case EventCancel:
		t.To = domain.SaleStatusCanceled
		t.Noop = current == domain.SaleStatusCanceled
		return t, nil
	case EventDelete:
		t.To = domain.SaleStatusDeleted
		return t, nil
	default:
		return t, domain.Validation("UNKNOWN_SALE_EVENT", "unknown sale event %q", event)
	}
}

// Reconciles reports whether the transition moves stock for s. Deletion never
// does, even for a sale whose stock was adjusted.
func (t Transition) Reconciles(s domain.SaleRecord) bool {
	if t.Noop || !s.InventoryAdjusted {
		return false
	}
	switch t.Event {
	case EventComplete, EventEdit, EventCancel:
		return true
	default:
		return false
	}
}
