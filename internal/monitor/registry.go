package monitor

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/coral-mesh/idleprof/internal/capability"
)

var (
	// ErrDuplicateName is returned when a spec name is registered twice.
	ErrDuplicateName = errors.New("duplicate monitor name")
	// ErrDuplicateOutput is returned when two specs would write the same file.
	ErrDuplicateOutput = errors.New("duplicate monitor output")
)

// Registry is the ordered set of collector specs for a session.
type Registry struct {
	specs   []Spec
	names   map[string]struct{}
	outputs map[string]string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		names:   make(map[string]struct{}),
		outputs: make(map[string]string),
	}
}

// Register adds a spec. Names and output files must be unique.
func (r *Registry) Register(s Spec) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if _, ok := r.names[s.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateName, s.Name)
	}

	output := filepath.Clean(s.Output)
	if owner, ok := r.outputs[output]; ok {
		return fmt.Errorf("%w: %s is already written by %s", ErrDuplicateOutput, output, owner)
	}

	if s.Probe == nil {
		s.Probe = capability.Always()
	}

	r.names[s.Name] = struct{}{}
	r.outputs[output] = s.Name
	r.specs = append(r.specs, s)
	return nil
}

// Specs returns the registered specs in registration order.
func (r *Registry) Specs() []Spec {
	out := make([]Spec, len(r.specs))
	copy(out, r.specs)
	return out
}

// Get returns the spec registered under name.
func (r *Registry) Get(name string) (Spec, bool) {
	for _, s := range r.specs {
		if s.Name == name {
			return s, true
		}
	}
	return Spec{}, false
}

// Len returns the number of registered specs.
func (r *Registry) Len() int {
	return len(r.specs)
}
