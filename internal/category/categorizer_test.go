package category

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCategorizeSecurity(t *testing.T) {
	got := Categorize(Input{
		Type:  "file-write",
		Title: "Redact credential material before persistence",
		Text:  "added sanitize pass for secret values",
	})
	assert.Equal(t, Security, got)
}

func TestCategorizeTestingByPath(t *testing.T) {
	got := Categorize(Input{
		Type:          "file-write",
		Title:         "Store coverage",
		FilesModified: []string{"internal/db/sqlite/store_test.go"},
	})
	assert.Equal(t, Testing, got)
}

func TestCategorizeDebugging(t *testing.T) {
	got := Categorize(Input{
		Type:  "command",
		Title: "Reproduce the crash",
		Text:  "panic: runtime error, stack trace points at nil map write",
	})
	assert.Equal(t, Debugging, got)
}

func TestCategorizeArchitectureTypeBoost(t *testing.T) {
	got := Categorize(Input{
		Type:  "decision",
		Title: "Keep the schema design keyed by epoch",
	})
	assert.Equal(t, Architecture, got)
}

func TestCategorizeConfigByExtension(t *testing.T) {
	got := Categorize(Input{
		Type:          "tool-use",
		Title:         "Bump default settings",
		FilesModified: []string{"deploy/values.yaml"},
	})
	assert.Equal(t, Config, got)
}

func TestCategorizeDefaultsToGeneral(t *testing.T) {
	got := Categorize(Input{Type: "tool-use", Title: "Ran a thing"})
	assert.Equal(t, General, got)

	assert.Equal(t, General, Categorize(Input{}))
}

func TestCategorizeCaseInsensitive(t *testing.T) {
	got := Categorize(Input{Title: "REFACTOR the session CLEANUP path"})
	assert.Equal(t, Refactoring, got)
}

func TestCategorizeDeterministic(t *testing.T) {
	in := Input{
		Type:  "file-write",
		Title: "Implement feature endpoint handler",
	}
	first := Categorize(in)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Categorize(in))
	}
}

func TestCategoriesClosedSet(t *testing.T) {
	cats := Categories()
	assert.Len(t, cats, 9)
	assert.Equal(t, General, cats[len(cats)-1])
}
