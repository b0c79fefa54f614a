// Package target locates the OS process of the workload under test.
package target

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrTargetNotFound is matched by errors.Is on a resolution that ran out of attempts.
var ErrTargetNotFound = errors.New("target not found")

// Candidate is one running container or process offered by a Source.
type Candidate struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	// PID is known up front for host processes; containers need an inspect.
	PID int `json:"pid,omitempty"`
}

// Source lists candidates and maps a candidate to its host PID.
// Implementations must be read-only.
type Source interface {
	Name() string
	List(ctx context.Context) ([]Candidate, error)
	PID(ctx context.Context, c Candidate) (int, error)
}

// Target is the resolved workload.
type Target struct {
	Name   string `json:"name"`
	ID     string `json:"id"`
	PID    int    `json:"pid"`
	Source string `json:"source"`
}

// NotFoundError reports a resolution that never matched, with the last listing
// for diagnostics.
type NotFoundError struct {
	Pattern    string
	Source     string
	Attempts   int
	Candidates []Candidate
	LastErr    error
}

func (e *NotFoundError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "no %s candidate matching %q after %d attempts", e.Source, e.Pattern, e.Attempts)

	if e.LastErr != nil {
		fmt.Fprintf(&b, " (last error: %v)", e.LastErr)
	}

	names := make([]string, 0, len(e.Candidates))
	for _, c := range e.Candidates {
		names = append(names, c.Name)
	}
	if len(names) == 0 {
		b.WriteString("; nothing running")
	} else {
		fmt.Fprintf(&b, "; running: %s", strings.Join(names, ", "))
	}
	return b.String()
}

// Is makes errors.Is(err, ErrTargetNotFound) true.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrTargetNotFound
}

// Unwrap returns the last listing or inspect error.
func (e *NotFoundError) Unwrap() error {
	return e.LastErr
}

// Match returns the candidates whose name contains pattern, in listing order.
func Match(candidates []Candidate, pattern string) []Candidate {
	var out []Candidate
	for _, c := range candidates {
		if strings.Contains(c.Name, pattern) {
			out = append(out, c)
		}
	}
	return out
}
