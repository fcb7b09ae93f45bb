package sqlite

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorRoundTrip(t *testing.T) {
	cursor := EncodeCursor(1755993600123, 42)

	epoch, id, err := DecodeCursor(cursor)
	require.NoError(t, err)
	assert.Equal(t, int64(1755993600123), epoch)
	assert.Equal(t, int64(42), id)
}

func TestDecodeCursorRejectsGarbage(t *testing.T) {
	for _, cursor := range []string{"not base64 at all!", "bm90LWEtY3Vyc29y", ""} {
		_, _, err := DecodeCursor(cursor)
		assert.Error(t, err, "cursor %q", cursor)
	}
}

func TestSanitizeFTSQuery(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  string
	}{
		{"plain terms", "race condition", `"race" "condition"`},
		{"operators quoted", `title:foo OR bar*`, `"title:foo" "OR" "bar*"`},
		{"embedded quotes doubled", `say "hello"`, `"say" """hello"""`},
		{"smart quotes normalized", "fix \u201cthe\u201d bug", `"fix" """the""" "bug"`},
		{"empty", "   ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, sanitizeFTSQuery(tt.query))
		})
	}
}

func TestSanitizeFTSQueryCapsTerms(t *testing.T) {
	query := strings.Repeat("term ", maxFTSTerms+50)
	sanitized := sanitizeFTSQuery(query)
	assert.Equal(t, maxFTSTerms, strings.Count(sanitized, `"term"`))
}

func TestEscapeLike(t *testing.T) {
	assert.Equal(t, `100\%`, escapeLike("100%"))
	assert.Equal(t, `a\_b`, escapeLike("a_b"))
	assert.Equal(t, `c:\\tmp`, escapeLike(`c:\tmp`))
	assert.Equal(t, "plain", escapeLike("plain"))
}

func TestTruncatePreservesRunes(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))

	// Cutting mid-rune backs off to the last complete one.
	s := "héllo"
	cut := truncate(s, 2)
	assert.Equal(t, "h", cut)

	long := strings.Repeat("日本語", 10)
	cut = truncate(long, 10)
	assert.LessOrEqual(t, len(cut), 10)
	assert.True(t, strings.HasPrefix(long, cut))
}

func TestTimestampPair(t *testing.T) {
	createdAt, epoch := timestampPair(time.Date(2026, time.August, 24, 12, 0, 0, 0, time.UTC))
	assert.Equal(t, "2026-08-24T12:00:00Z", createdAt)
	assert.Equal(t, int64(1787572800000), epoch)
}
