// Package slugger derives URL-safe identifiers from display names and
// guarantees uniqueness within a caller-defined scope.
package slugger

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var stripAccents = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Make normalizes a display name into a base slug: accents folded,
// lowercased, runs of non-alphanumeric characters collapsed to single
// hyphens. Course names here are mostly Vietnamese, so the accent fold
// matters.
func Make(name string) string {
	folded, _, err := transform.String(stripAccents, name)
	if err != nil {
		folded = name
	}
	folded = strings.ReplaceAll(folded, "đ", "d")
	folded = strings.ReplaceAll(folded, "Đ", "d")
	folded = strings.ToLower(folded)

	var b strings.Builder
	lastHyphen := true // swallow leading separators
	for _, r := range folded {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			lastHyphen = false
			continue
		}
		if !lastHyphen {
			b.WriteByte('-')
			lastHyphen = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

// ExistsFunc reports whether a slug is already taken within the caller's
// scope. Callers exclude the document being saved from the check so that
// unmodified saves keep their slug.
type ExistsFunc func(ctx context.Context, slug string) (bool, error)

// Allocate returns the base slug for name, or the first free
// base-1, base-2, ... variant when the base is taken within scope.
//
// Two writers racing past the existence check can still pick the same slug;
// the scoped unique index in the schema is the real guarantee, and the caller
// retries once on a constraint violation.
func Allocate(ctx context.Context, name string, exists ExistsFunc) (string, error) {
	base := Make(name)
	if base == "" {
		base = "untitled"
	}

	slug := base
	for n := 1; ; n++ {
		taken, err := exists(ctx, slug)
		if err != nil {
			return "", fmt.Errorf("slug existence check failed: %w", err)
		}
		if !taken {
			return slug, nil
		}
		slug = fmt.Sprintf("%s-%d", base, n)
	}
}
