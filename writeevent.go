package surgecache

import "github.com/surgecache/surgecache/filter"

// WriteOp is the kind of row mutation a WriteEvent describes.
type WriteOp int

// Write operation kinds.
const (
	OpInsert WriteOp = iota + 1
	OpUpdate
	OpDelete
)

// String names the operation for logs.
func (op WriteOp) String() string {
	switch op {
	case OpInsert:
		return "insert"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// WriteEvent describes one committed row mutation. It is a transient value:
// the engine consumes it once and never retains it. Before and After are
// immutable snapshots taken by the producer, never references into live
// application objects.
//
// Inserts carry After, deletes carry Before, updates carry both: an update
// can invalidate entries that depended on the row's old values as well as
// entries whose dependency is newly satisfied by its new values. Bulk marks
// multi-row writes without per-row image visibility.
type WriteEvent struct {
	Model  string
	Op     WriteOp
	Before filter.Row
	After  filter.Row

	// Bulk forces any-row resolution: every registered conjunction for
	// the model is treated as satisfied. Correctness over precision when
	// row-level images are unavailable.
	Bulk bool
}

// images resolves the event into the row images to match conjunctions
// against, reporting whether the event degrades to any-row. A required image
// that is missing degrades the whole event: matching only the surviving image
// could miss dependencies on the absent one, and a false negative eviction is
// never acceptable.
func (ev WriteEvent) images() ([]filter.Row, bool) {
	if ev.Bulk {
		return nil, true
	}
	switch ev.Op {
	case OpInsert:
		if ev.After == nil {
			return nil, true
		}
		return []filter.Row{ev.After}, false
	case OpDelete:
		if ev.Before == nil {
			return nil, true
		}
		return []filter.Row{ev.Before}, false
	case OpUpdate:
		if ev.Before == nil || ev.After == nil {
			return nil, true
		}
		return []filter.Row{ev.Before, ev.After}, false
	default:
		return nil, true
	}
}
