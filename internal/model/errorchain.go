package model

// ErrorChain is the ordered log of failure descriptions accumulated across
// attempts, oldest first. It is append-only: entries are never rewritten or
// truncated. The chain is shared by reference between the orchestrator and
// the generator within a single pipeline instance, so no locking is needed.
type ErrorChain struct {
	entries []string
}

// NewErrorChain returns an empty chain.
func NewErrorChain() *ErrorChain {
	return &ErrorChain{}
}

// RestoreErrorChain rebuilds a chain from persisted entries, e.g. when
// resuming a suspended pipeline from a checkpoint.
func RestoreErrorChain(entries []string) *ErrorChain {
	c := &ErrorChain{entries: make([]string, len(entries))}
	copy(c.entries, entries)
	return c
}

// Append adds one failure description to the end of the chain.
func (c *ErrorChain) Append(desc string) {
	c.entries = append(c.entries, desc)
}

// Len reports the number of recorded failures. The chain length is the
// authoritative attempt counter across both failure domains.
func (c *ErrorChain) Len() int {
	return len(c.entries)
}

// Entries returns a copy of the recorded failures, oldest first. Callers
// get a snapshot so the chain itself stays append-only.
func (c *ErrorChain) Entries() []string {
	out := make([]string, len(c.entries))
	copy(out, c.entries)
	return out
}
