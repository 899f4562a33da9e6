package symbol

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrReadOnly indicates the project descriptor forbids writes.
	ErrReadOnly = errors.New("project is read-only")

	// ErrNoSymbol indicates a modification op's name path resolved to
	// nothing. Retrieval ops return empty results instead.
	ErrNoSymbol = errors.New("name path matched no symbol")
)

// AmbiguousError reports a modification name path that resolved to more
// than one symbol. The candidate list is carried so the agent can retry
// with a more specific path.
type AmbiguousError struct {
	NamePath   string
	Candidates []*Symbol
}

// Error implements the error interface.
func (e *AmbiguousError) Error() string {
	paths := make([]string, 0, len(e.Candidates))
	for _, c := range e.Candidates {
		paths = append(paths, fmt.Sprintf("%s (%s:%d)", c.NamePath, c.RelPath, c.Range.Start.Line+1))
	}
	return fmt.Sprintf("name path %q is ambiguous, candidates: %s",
		e.NamePath, strings.Join(paths, ", "))
}
