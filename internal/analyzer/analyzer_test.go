package analyzer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("compiles valid groups", func(t *testing.T) {
		a, err := New([]PatternGroup{
			{Category: CategoryWrite, Patterns: []string{`\bcaput\s*\(`}},
		})
		require.NoError(t, err)
		assert.NotNil(t, a)
	})

	t.Run("rejects invalid pattern", func(t *testing.T) {
		_, err := New([]PatternGroup{
			{Category: CategoryWrite, Patterns: []string{`[invalid`}},
		})
		assert.Error(t, err)
	})

	t.Run("rejects missing category", func(t *testing.T) {
		_, err := New([]PatternGroup{
			{Patterns: []string{`caput`}},
		})
		assert.Error(t, err)
	})
}

func TestMustNew(t *testing.T) {
	assert.Panics(t, func() {
		MustNew([]PatternGroup{{Category: "x", Patterns: []string{`[`}}})
	})
}

func TestAnalyzer_Analyze(t *testing.T) {
	a := MustNew(DefaultGroups()["epics"])

	t.Run("detects write", func(t *testing.T) {
		r := a.Analyze(`import epics` + "\n" + `epics.caput("SR:C01:BPM:X", 1.5)`)

		assert.True(t, r.HasWrites())
		assert.True(t, r.Has(CategoryWrite))
		require.NotEmpty(t, r.Matches)
		assert.Equal(t, 2, r.Matches[0].Line)
	})

	t.Run("detects read without write", func(t *testing.T) {
		r := a.Analyze(`value = caget("SR:C01:BPM:X")`)

		assert.True(t, r.HasReads())
		assert.False(t, r.HasWrites())
	})

	t.Run("reports all matches across groups", func(t *testing.T) {
		code := `v = caget("PV:A")` + "\n" + `caput("PV:B", v)` + "\n" + `caput("PV:C", v)`
		r := a.Analyze(code)

		assert.Equal(t, 2, r.ByCategory[CategoryWrite])
		assert.Equal(t, 1, r.ByCategory[CategoryRead])
		assert.ElementsMatch(t, []string{CategoryWrite, CategoryRead}, r.Categories())
	})

	t.Run("no configured group never matches", func(t *testing.T) {
		readsOnly := MustNew([]PatternGroup{
			{Category: CategoryRead, Patterns: []string{`\bcaget\s*\(`}},
		})
		r := readsOnly.Analyze(`caput("PV:A", 1)`)

		assert.False(t, r.HasWrites())
		assert.Empty(t, r.Matches)
	})

	t.Run("deterministic across calls", func(t *testing.T) {
		code := `caput("PV:A", 1)`
		assert.Equal(t, a.Analyze(code), a.Analyze(code))
	})
}
