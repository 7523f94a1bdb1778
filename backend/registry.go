package backend

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/dfbridge/dferr"
)

// Registry maps tags to adapters. Immutable after NewRegistry.
type Registry struct {
	adapters []Adapter
	byTag    map[string]Adapter
}

// NewRegistry registers adapters in order. Empty and duplicate tags are
// rejected.
func NewRegistry(adapters ...Adapter) (*Registry, error) {
	r := &Registry{byTag: make(map[string]Adapter, len(adapters))}
	for _, a := range adapters {
		tag := a.Tag()
		if tag == "" {
			return nil, fmt.Errorf("adapter %T has an empty tag", a)
		}
		if _, dup := r.byTag[tag]; dup {
			return nil, fmt.Errorf("duplicate backend tag %q", tag)
		}
		r.byTag[tag] = a
		r.adapters = append(r.adapters, a)
	}
	return r, nil
}

// Lookup returns the adapter registered under tag.
func (r *Registry) Lookup(tag string) (Adapter, error) {
	if a, ok := r.byTag[tag]; ok {
		return a, nil
	}
	return nil, dferr.Unrecognized("no backend registered as %q (known: %s)", tag, strings.Join(r.Tags(), ", "))
}

// Detect returns the single adapter owning native.
func (r *Registry) Detect(native any) (Adapter, error) {
	var owners []Adapter
	for _, a := range r.adapters {
		if a.Owns(native) {
			owners = append(owners, a)
		}
	}
	switch len(owners) {
	case 1:
		return owners[0], nil
	case 0:
		return nil, dferr.Unrecognized("no registered backend recognizes %T", native)
	}
	tags := make([]string, len(owners))
	for i, a := range owners {
		tags[i] = a.Tag()
	}
	return nil, dferr.Unrecognized("%T is claimed by several backends: %s", native, strings.Join(tags, ", "))
}

// Adapters returns the adapters in registration order.
func (r *Registry) Adapters() []Adapter {
	return slices.Clone(r.adapters)
}

// Tags returns the registered tags in registration order.
func (r *Registry) Tags() []string {
	tags := make([]string, len(r.adapters))
	for i, a := range r.adapters {
		tags[i] = a.Tag()
	}
	return tags
}
