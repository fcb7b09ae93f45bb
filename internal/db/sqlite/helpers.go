package sqlite

import (
	"database/sql"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// nullString converts an empty string to a SQL NULL.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// nullInt converts a non-positive int to a SQL NULL.
func nullInt(i int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(i), Valid: i > 0}
}

// repeatPlaceholders returns ", ?" repeated n times, for IN clauses whose
// first placeholder is written inline.
func repeatPlaceholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat(", ?", n)
}

// int64SliceToInterface converts ids to query args.
func int64SliceToInterface(ids []int64) []interface{} {
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

// timestampPair returns the ISO-8601 string and millisecond epoch for t.
// All timestamps are stored twice: the string for humans, the epoch for
// ordering and filtering.
func timestampPair(t time.Time) (string, int64) {
	return t.UTC().Format(time.RFC3339), t.UnixMilli()
}

// EncodeCursor builds an opaque keyset-pagination cursor from the last row
// of a page ordered by (created_at_epoch DESC, id DESC).
func EncodeCursor(epoch, id int64) string {
	return base64.URLEncoding.EncodeToString([]byte(fmt.Sprintf("%d:%d", epoch, id)))
}

// DecodeCursor parses a cursor produced by EncodeCursor.
func DecodeCursor(cursor string) (epoch, id int64, err error) {
	raw, err := base64.URLEncoding.DecodeString(cursor)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed cursor: %w", err)
	}
	parts := strings.SplitN(string(raw), ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("malformed cursor %q", string(raw))
	}
	epoch, err = strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed cursor epoch: %w", err)
	}
	id, err = strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed cursor id: %w", err)
	}
	return epoch, id, nil
}

// maxFTSTerms caps the number of terms fed into a MATCH expression.
const maxFTSTerms = 100

// smartQuoteReplacer normalizes typographic quotes before FTS sanitization.
var smartQuoteReplacer = strings.NewReplacer(
	"“", `"`, "”", `"`, // double curly quotes
	"‘", "'", "’", "'", // single curly quotes
	"«", `"`, "»", `"`, // guillemets
)

// sanitizeFTSQuery turns free text into a safe FTS5 MATCH expression: every
// whitespace-separated term is wrapped in double quotes so FTS operators in
// user input are treated literally.
func sanitizeFTSQuery(query string) string {
	query = smartQuoteReplacer.Replace(query)

	terms := strings.Fields(query)
	if len(terms) > maxFTSTerms {
		terms = terms[:maxFTSTerms]
	}

	quoted := make([]string, 0, len(terms))
	for _, term := range terms {
		term = strings.ReplaceAll(term, `"`, `""`)
		if term == "" {
			continue
		}
		quoted = append(quoted, `"`+term+`"`)
	}
	return strings.Join(quoted, " ")
}

// escapeLike escapes LIKE wildcards with backslash; queries using it must
// carry ESCAPE '\'.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := s[:n]
	for len(cut) > 0 && !utf8ValidPrefix(cut) {
		cut = cut[:len(cut)-1]
	}
	return cut
}

func utf8ValidPrefix(s string) bool {
	if len(s) == 0 {
		return true
	}
	// A trailing byte of an incomplete multi-byte sequence has the form
	// 10xxxxxx; back off until the last rune is complete.
	last := s[len(s)-1]
	if last < 0x80 {
		return true
	}
	// Find the start of the final rune.
	i := len(s) - 1
	for i > 0 && s[i]&0xC0 == 0x80 {
		i--
	}
	width := len(s) - i
	switch {
	case s[i] >= 0xF0:
		return width == 4
	case s[i] >= 0xE0:
		return width == 3
	case s[i] >= 0xC0:
		return width == 2
	default:
		return false
	}
}
