package attacklog

// Ring is a fixed-capacity circular buffer of records. Once full it
// overwrites the oldest entry, so memory use is constant no matter how
// long the honeypot runs. Ring is not safe for concurrent use; the
// pipeline serializes access to it.
type Ring struct {
	entries []Record
	head    int
	tail    int
	count   int
}

// NewRing allocates a ring holding at most capacity records.
// A non-positive capacity is treated as 1.
func NewRing(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{entries: make([]Record, capacity)}
}

// Capacity returns the fixed size of the ring.
func (r *Ring) Capacity() int { return len(r.entries) }

// Count returns how many records the ring currently holds.
func (r *Ring) Count() int { return r.count }

// Insert appends a record, displacing the oldest one when full.
func (r *Ring) Insert(rec Record) {
	r.entries[r.head] = rec
	r.head = (r.head + 1) % len(r.entries)
	if r.count < len(r.entries) {
		r.count++
	} else {
		r.tail = (r.tail + 1) % len(r.entries)
	}
}

// Recent returns up to max records ordered newest first. It never returns
// more than Count records and always returns a fresh slice.
func (r *Ring) Recent(max int) []Record {
	if max > r.count {
		max = r.count
	}
	if max <= 0 {
		return nil
	}
	out := make([]Record, 0, max)
	idx := r.head
	for i := 0; i < max; i++ {
		idx--
		if idx < 0 {
			idx = len(r.entries) - 1
		}
		out = append(out, r.entries[idx])
	}
	return out
}

// Clear discards all records and resets the cursor positions.
func (r *Ring) Clear() {
	for i := range r.entries {
		r.entries[i] = Record{}
	}
	r.head = 0
	r.tail = 0
	r.count = 0
}
