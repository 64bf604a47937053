// Package objfmt holds the pieces shared by the object formats: the format
// registry, the Output that places values and relocations, and helpers for
// assigning section addresses before emission.
package objfmt

import (
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/tinyrange/asmlayout/internal/asm"
)

var ErrUnknownFormat = errors.New("unknown object format")

// Format writes a laid-out object. Write assigns section bases, emits every
// section and serializes the result.
type Format interface {
	Name() string
	Write(obj *asm.Object, w io.Writer) error
}

type Registry struct {
	formats map[string]Format
}

func NewRegistry(formats ...Format) (*Registry, error) {
	r := &Registry{formats: make(map[string]Format)}
	for _, f := range formats {
		if err := r.Register(f); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) Register(f Format) error {
	name := f.Name()
	if name == "" {
		return fmt.Errorf("format %T has no name", f)
	}
	if _, dup := r.formats[name]; dup {
		return fmt.Errorf("format %q registered twice", name)
	}
	r.formats[name] = f
	return nil
}

func (r *Registry) Lookup(name string) (Format, error) {
	f, ok := r.formats[name]
	if !ok {
		return nil, fmt.Errorf("%w %q (have %v)", ErrUnknownFormat, name, r.Names())
	}
	return f, nil
}

// Names returns the registered format names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.formats))
	for name := range r.formats {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
