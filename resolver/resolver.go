// Package resolver maps a logical filename to the content hash the
// Encoding table is keyed on. Concrete name→hash algorithms are
// game-family-specific and out of scope here; this package provides only
// the dispatch surface a Container wires a real implementation into.
package resolver

import "fmt"

// NotFoundError reports a filename absent from the resolver's namespace.
type NotFoundError struct {
	Path string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("resolver: filename not found: %s", e.Path)
}

// Resolver maps a logical path to its content hash.
type Resolver interface {
	Find(path string) (contentHash []byte, err error)
}

// Func adapts a plain function to Resolver.
type Func func(path string) ([]byte, error)

func (f Func) Find(path string) ([]byte, error) { return f(path) }

// ProgramCode identifies a game family's resolver implementation, derived
// from a build config's `build-uid` field (e.g. "wow", "wowt", "wow_beta").
type ProgramCode string

// Registry dispatches a ProgramCode to the Resolver constructor registered
// for it. The core ships no concrete registrations; a host registers its
// own game-specific resolvers before opening a Container.
type Registry struct {
	factories map[ProgramCode]func(rootContentHash []byte) (Resolver, error)
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[ProgramCode]func(rootContentHash []byte) (Resolver, error))}
}

// Register installs the Resolver constructor for a program code, replacing
// any prior registration.
func (r *Registry) Register(code ProgramCode, factory func(rootContentHash []byte) (Resolver, error)) {
	r.factories[code] = factory
}

// UnsupportedProgramError reports a build-uid with no registered resolver.
type UnsupportedProgramError struct {
	Code ProgramCode
}

func (e *UnsupportedProgramError) Error() string {
	return fmt.Sprintf("resolver: unsupported program code: %s", e.Code)
}

// Build constructs the Resolver registered for code, rooted at
// rootContentHash (the content hash of the game's root manifest, itself
// found through the Encoding/Index chain).
func (r *Registry) Build(code ProgramCode, rootContentHash []byte) (Resolver, error) {
	factory, ok := r.factories[code]
	if !ok {
		return nil, &UnsupportedProgramError{Code: code}
	}
	return factory(rootContentHash)
}
