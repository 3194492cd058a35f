package surgecache

import "time"

// Default profile values.
const (
	DefaultTTL             = 5 * time.Minute
	DefaultLockTimeout     = 10 * time.Second
	DefaultMaxConjunctions = 1000
	DefaultBulkDegradeRows = 64
)

// Profile tunes caching for one model. Zero fields fall back to the engine
// defaults above.
type Profile struct {
	// TTL bounds every cache entry's lifetime; explicit invalidation can
	// end it sooner.
	TTL time.Duration

	// Ops lists the read operations cached for this model; empty enables
	// all of them.
	Ops []string

	// Lock dedups concurrent cache-miss computation of one key: the
	// first reader executes, the rest wait for its result up to
	// LockTimeout and then execute themselves.
	Lock        bool
	LockTimeout time.Duration

	// MaxConjunctions caps the live dependency shapes registered for the
	// model. Once exceeded, new registrations fall back to the any-row
	// conjunction so the per-write scan stays bounded. <0 disables the cap.
	MaxConjunctions int

	// BulkDegradeRows is the row count above which adapters stop
	// resolving per-row images and emit one bulk event instead. The
	// engine itself does not consult it; it lives here so adapters share
	// one knob per model. <0 means always resolve per row.
	BulkDegradeRows int

	// IndexableFields restricts which fields may carry a specific
	// dependency; predicates on other fields degrade to any-row. Empty
	// means all fields.
	IndexableFields []string
}

func (p Profile) withDefaults() Profile {
	if p.TTL <= 0 {
		p.TTL = DefaultTTL
	}
	if p.LockTimeout <= 0 {
		p.LockTimeout = DefaultLockTimeout
	}
	if p.MaxConjunctions == 0 {
		p.MaxConjunctions = DefaultMaxConjunctions
	}
	if p.BulkDegradeRows == 0 {
		p.BulkDegradeRows = DefaultBulkDegradeRows
	}
	return p
}

func (p Profile) allows(op string) bool {
	if len(p.Ops) == 0 {
		return true
	}
	for _, o := range p.Ops {
		if o == op {
			return true
		}
	}
	return false
}
