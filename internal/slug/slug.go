package slug

import (
	"context"
	"fmt"
	"strings"
	"unicode"
)

// maxBaseLen bounds slug length before the uniqueness suffix.
const maxBaseLen = 80

// Make normalizes free text into a URL slug: lowercase ASCII letters,
// digits and single hyphens.
func Make(text string) string {
	var b strings.Builder
	lastHyphen := true // suppress leading hyphen
	for _, r := range strings.ToLower(text) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		case unicode.IsSpace(r), r == '-', r == '_', r == '/', r == '.':
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	s := strings.TrimRight(b.String(), "-")
	if len(s) > maxBaseLen {
		s = strings.TrimRight(s[:maxBaseLen], "-")
	}
	if s == "" {
		s = "untitled"
	}
	return s
}

// ExistsFunc probes whether a slug is already taken in the target collection.
type ExistsFunc func(ctx context.Context, slug string) (bool, error)

// AllocateUnique returns candidate if free, otherwise candidate-2,
// candidate-3, ... until an unused slug is found. The suffix space is
// unbounded so the loop always terminates; callers racing on the same base
// must still back the insert with a unique constraint.
func AllocateUnique(ctx context.Context, candidate string, exists ExistsFunc) (string, error) {
	taken, err := exists(ctx, candidate)
	if err != nil {
		return "", err
	}
	if !taken {
		return candidate, nil
	}
	for n := 2; ; n++ {
		next := fmt.Sprintf("%s-%d", candidate, n)
		taken, err := exists(ctx, next)
		if err != nil {
			return "", err
		}
		if !taken {
			return next, nil
		}
	}
}
