package convert

import (
	"context"
	"fmt"
	"strings"
)

// Executor performs one conversion from src to dst. dst is a staging path
// owned by the orchestrator; the executor only has to write it.
type Executor interface {
	Execute(ctx context.Context, src, dst string, opts Resolved) error
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, src, dst string, opts Resolved) error

func (f ExecutorFunc) Execute(ctx context.Context, src, dst string, opts Resolved) error {
	return f(ctx, src, dst, opts)
}

// Descriptor is everything the orchestrator knows about one converter.
type Descriptor struct {
	Name         string
	Requirements []Requirement
	Executor     Executor
	Options      OptionSpec
}

// Probe runs the requirements in order and returns the first negative
// verdict. It never panics.
func (d Descriptor) Probe(ctx context.Context) Verdict {
	for _, r := range d.Requirements {
		v := safeCheck(ctx, r.Name, r.Check)
		if v.OK {
			continue
		}
		if v.Detail == "" {
			v.Detail = r.Name + " not satisfied"
		}
		return v
	}
	return Operational()
}

// Registry is an immutable, ordered set of converters.
type Registry struct {
	descs []Descriptor
	index map[string]int
}

// NewRegistry validates descs and keeps their order as priority order.
func NewRegistry(descs ...Descriptor) (*Registry, error) {
	r := &Registry{
		descs: make([]Descriptor, 0, len(descs)),
		index: make(map[string]int, len(descs)),
	}
	for _, d := range descs {
		if strings.TrimSpace(d.Name) == "" {
			return nil, fmt.Errorf("registry: converter with empty name")
		}
		if _, dup := r.index[d.Name]; dup {
			return nil, fmt.Errorf("registry: duplicate converter %q", d.Name)
		}
		if d.Executor == nil {
			return nil, fmt.Errorf("registry: converter %q has no executor", d.Name)
		}
		r.index[d.Name] = len(r.descs)
		r.descs = append(r.descs, d)
	}
	return r, nil
}

// MustRegistry is NewRegistry that panics on error.
func MustRegistry(descs ...Descriptor) *Registry {
	r, err := NewRegistry(descs...)
	if err != nil {
		panic(err)
	}
	return r
}

func (r *Registry) Len() int { return len(r.descs) }

func (r *Registry) Names() []string {
	names := make([]string, len(r.descs))
	for i, d := range r.descs {
		names[i] = d.Name
	}
	return names
}

func (r *Registry) Descriptors() []Descriptor {
	return append([]Descriptor(nil), r.descs...)
}

func (r *Registry) Lookup(name string) (Descriptor, bool) {
	i, ok := r.index[name]
	if !ok {
		return Descriptor{}, false
	}
	return r.descs[i], true
}

// Select returns a registry holding only names, in the given order.
func (r *Registry) Select(names []string) (*Registry, error) {
	descs := make([]Descriptor, 0, len(names))
	for _, n := range names {
		d, ok := r.Lookup(n)
		if !ok {
			return nil, fmt.Errorf("registry: unknown converter %q (have %s)", n, strings.Join(r.Names(), ", "))
		}
		descs = append(descs, d)
	}
	return NewRegistry(descs...)
}

func (r *Registry) String() string {
	return fmt.Sprintf("converters: %s", strings.Join(r.Names(), ", "))
}
