// internal/domain/workspace/slug.go
package workspace

import (
	"strings"
	"unicode"

	"github.com/oklog/ulid/v2"
)

// NewSlug derives a URL-safe slug from a name with a random suffix, so two
// workspaces with the same name never collide.
func NewSlug(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(name) {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
		if b.Len() >= 40 {
			break
		}
	}
	base := strings.Trim(b.String(), "-")
	if base == "" {
		base = "workspace"
	}
	suffix := strings.ToLower(ulid.Make().String())
	return base + "-" + suffix[len(suffix)-6:]
}
