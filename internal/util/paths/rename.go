// Package paths provides remote-path utilities: normalization of
// user-supplied paths and collision-rename candidates.
package paths

import (
	"fmt"
	"path"
)

// Exists reports whether a remote path is already occupied. Implemented by
// the transfer backends; RenameCandidate probes through it.
type Exists func(remotePath string) (bool, error)

// WithSuffix returns remotePath with " (n)" inserted before the extension.
//
// Example: WithSuffix("/Photos/a.jpg", 2) -> "/Photos/a (2).jpg"
func WithSuffix(remotePath string, n int) string {
	ext := path.Ext(remotePath)
	base := remotePath[:len(remotePath)-len(ext)]
	return fmt.Sprintf("%s (%d)%s", base, n, ext)
}

// RenameCandidate finds the first unoccupied " (n)" variant of remotePath,
// starting at (2). The unsuffixed path itself is assumed occupied; callers
// invoke this only after a collision was detected. Probing stops at 1000
// variants to bound the number of round trips against a pathological folder.
func RenameCandidate(remotePath string, exists Exists) (string, error) {
	for n := 2; n < 1000; n++ {
		candidate := WithSuffix(remotePath, n)
		occupied, err := exists(candidate)
		if err != nil {
			return "", fmt.Errorf("probing rename candidate %q: %w", candidate, err)
		}
		if !occupied {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no free rename candidate for %q", remotePath)
}
