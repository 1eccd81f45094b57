package analyzer

// Match is one pattern hit in the scanned code.
type Match struct {
	// Category is the classification label of the matching group.
	Category string `json:"category"`

	// Pattern is the expression that matched.
	Pattern string `json:"pattern"`

	// Start and End are byte offsets of the match in the code text.
	Start int `json:"start"`
	End   int `json:"end"`

	// Line is the 1-based line number of the match.
	Line int `json:"line"`

	// Text is the matched span.
	Text string `json:"text"`
}

// Result is the outcome of one analysis pass. It is derived purely from the
// code text and is recomputed for every generation.
type Result struct {
	// Matches lists every hit across all groups, in group order.
	Matches []Match `json:"matches"`

	// ByCategory counts hits per category label.
	ByCategory map[string]int `json:"by_category"`
}

// Has reports whether any pattern in the named category matched.
func (r *Result) Has(category string) bool {
	return r.ByCategory[category] > 0
}

// HasWrites reports whether any write-classified operation was found.
func (r *Result) HasWrites() bool { return r.Has(CategoryWrite) }

// HasReads reports whether any read-classified operation was found.
func (r *Result) HasReads() bool { return r.Has(CategoryRead) }

// Categories returns the labels that matched at least once.
func (r *Result) Categories() []string {
	cats := make([]string, 0, len(r.ByCategory))
	for c, n := range r.ByCategory {
		if n > 0 {
			cats = append(cats, c)
		}
	}
	return cats
}

// Well-known category labels. Pattern configs may define additional ones;
// the gate treats every label opaquely.
const (
	CategoryWrite = "write"
	CategoryRead  = "read"
)
