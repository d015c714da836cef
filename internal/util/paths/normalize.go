package paths

import (
	"fmt"
	"path"
	"strings"
)

// invisibleRunes are zero-width and directional characters that survive
// copy-paste from chat clients and file managers and then break server-side
// path matching.
var invisibleRunes = map[rune]bool{
	'\u200b': true, // zero-width space
	'\u200c': true, // zero-width non-joiner
	'\u200d': true, // zero-width joiner
	'\ufeff': true, // byte order mark
	'\u200e': true, // left-to-right mark
	'\u200f': true, // right-to-left mark
}

// NormalizeRemote canonicalizes a user-supplied remote path: strips invisible
// characters and control characters, collapses duplicate slashes, resolves
// dot segments and guarantees a single leading slash. Paths that escape the
// root or normalize to the bare root are rejected.
func NormalizeRemote(remotePath string) (string, error) {
	var b strings.Builder
	for _, r := range remotePath {
		if r < 0x20 || r == 0x7F || invisibleRunes[r] {
			continue
		}
		if r == '\\' {
			r = '/'
		}
		b.WriteRune(r)
	}

	// Clean on a rooted path also swallows any ".." escape attempts.
	cleaned := path.Clean("/" + strings.TrimSpace(b.String()))
	if cleaned == "/" {
		return "", fmt.Errorf("invalid remote path %q", remotePath)
	}
	return cleaned, nil
}
