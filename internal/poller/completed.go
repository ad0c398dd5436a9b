package poller

// DefaultCompletedLimit is the completed-set size above which a prune
// clears it.
const DefaultCompletedLimit = 1000

// CompletedSet remembers identifiers whose condition has already been met so
// that a duplicate registration does not re-arm them.
//
// The set is bounded approximately: [CompletedSet.Prune] clears it entirely
// once it holds more than its limit. Deduplication is therefore best-effort.
// CompletedSet is not safe for concurrent use; the [Scheduler] guards it with
// its own mutex.
type CompletedSet struct {
	ids   map[string]struct{}
	limit int
}

// NewCompletedSet creates an empty set that prunes above limit entries.
// A non-positive limit uses [DefaultCompletedLimit].
func NewCompletedSet(limit int) *CompletedSet {
	if limit <= 0 {
		limit = DefaultCompletedLimit
	}
	return &CompletedSet{
		ids:   make(map[string]struct{}),
		limit: limit,
	}
}

// Add records id as completed.
func (c *CompletedSet) Add(id string) {
	c.ids[id] = struct{}{}
}

// Contains reports whether id is recorded as completed.
func (c *CompletedSet) Contains(id string) bool {
	_, ok := c.ids[id]
	return ok
}

// Remove forgets id.
func (c *CompletedSet) Remove(id string) {
	delete(c.ids, id)
}

// Len returns the number of recorded identifiers.
func (c *CompletedSet) Len() int {
	return len(c.ids)
}

// Prune clears the set if it has grown beyond its limit and reports whether
// it did.
func (c *CompletedSet) Prune() bool {
	if len(c.ids) <= c.limit {
		return false
	}
	c.ids = make(map[string]struct{})
	return true
}
