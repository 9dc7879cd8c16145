// Package units resolves named configuration units to concrete playbook paths.
package units

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
)

// NotFoundError reports that a unit exists in none of the search roots.
type NotFoundError struct {
	Unit  string
	Roots []string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("configuration unit %q not found in any of %d search roots", e.Unit, len(e.Roots))
}

// Locator resolves unit names against an ordered list of search roots.
// Roots are tried most-specific first, so a unit present in both a
// specialized root and a shared root resolves to the specialized copy.
type Locator struct {
	roots []string
}

// NewLocator creates a locator over the given roots, most-specific first.
func NewLocator(roots ...string) *Locator {
	return &Locator{roots: roots}
}

// Roots returns the configured search roots in lookup order.
func (l *Locator) Roots() []string {
	out := make([]string, len(l.roots))
	copy(out, l.roots)
	return out
}

// Locate resolves name to the first matching path. The bare name and the
// name with a .yml/.yaml suffix are both accepted. It returns *NotFoundError
// only when every root misses; it never partially succeeds.
func (l *Locator) Locate(name string) (string, error) {
	candidates := []string{name, name + ".yml", name + ".yaml"}

	for _, root := range l.roots {
		for _, candidate := range candidates {
			path := filepath.Join(root, candidate)
			info, err := os.Stat(path)
			if err != nil || info.IsDir() {
				continue
			}
			log.Debug().
				Str("unit", name).
				Str("path", path).
				Msg("resolved configuration unit")
			return path, nil
		}
	}

	log.Warn().
		Str("unit", name).
		Strs("roots", l.roots).
		Msg("configuration unit not found in any search root")
	return "", &NotFoundError{Unit: name, Roots: l.Roots()}
}
