// Package program loads YAML program descriptions and builds them into an
// asm.Object. A description lists sections of items (labels, data,
// reservations, alignment and a few x86-64 instructions) plus EQUs and
// external symbols.
package program

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/tinyrange/asmlayout/internal/asm"
)

const (
	DefaultFormat  = "bin"
	DefaultSection = ".text"
)

// File is a program description.
type File struct {
	Version     int               `yaml:"version"`
	Format      string            `yaml:"format,omitempty"`
	Output      string            `yaml:"output,omitempty"`
	Entry       string            `yaml:"entry,omitempty"`
	BaseAddress uint64            `yaml:"baseAddress,omitempty"`
	MaxPasses   int               `yaml:"maxPasses,omitempty"`
	Extern      []Extern          `yaml:"extern,omitempty"`
	Equ         map[string]string `yaml:"equ,omitempty"`
	Sections    []Section         `yaml:"sections"`

	// dir resolves relative incbin paths.
	dir string
}

type Extern struct {
	Name string `yaml:"name"`
	// Address is where the symbol lives at run time, for formats that
	// resolve externs themselves.
	Address *uint64 `yaml:"address,omitempty"`
}

type Section struct {
	Name   string `yaml:"name"`
	NoBits bool   `yaml:"nobits,omitempty"`
	Items  []Item `yaml:"items"`
}

func (f *File) normalize() {
	if f.Version == 0 {
		f.Version = 1
	}
	if f.Format == "" {
		f.Format = DefaultFormat
	}
	for i := range f.Sections {
		if f.Sections[i].Name == "" {
			f.Sections[i].Name = DefaultSection
		}
	}
}

// Load reads and decodes the description at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	f, err := Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	f.dir = filepath.Dir(path)
	return f, nil
}

// Parse decodes a description. Unknown keys are rejected. Relative incbin
// paths resolve against the working directory.
func Parse(r io.Reader) (*File, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var f File
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if f.Version > 1 {
		return nil, fmt.Errorf("unsupported version %d", f.Version)
	}
	f.normalize()
	return &f, nil
}

// ExternAddresses returns the externs that carry an address.
func (f *File) ExternAddresses() map[string]uint64 {
	out := make(map[string]uint64)
	for _, ext := range f.Extern {
		if ext.Address != nil {
			out[ext.Name] = *ext.Address
		}
	}
	return out
}

// Build adds the described symbols and sections to obj.
func (f *File) Build(obj *asm.Object) error {
	for _, ext := range f.Extern {
		if _, err := obj.DeclareExtern(ext.Name, 0); err != nil {
			return fmt.Errorf("extern: %w", err)
		}
	}

	names := make([]string, 0, len(f.Equ))
	for name := range f.Equ {
		names = append(names, name)
	}
	sort.Strings(names)
	global := scope{symbol: obj.Symbol}
	for _, name := range names {
		e, err := parseExpr(f.Equ[name], global)
		if err != nil {
			return fmt.Errorf("equ %s: %w", name, err)
		}
		if _, err := obj.DefineEqu(name, e, 0); err != nil {
			return fmt.Errorf("equ %s: %w", name, err)
		}
	}

	for _, sect := range f.Sections {
		s := obj.Section(sect.Name)
		s.NoBits = s.NoBits || sect.NoBits
		b := &builder{sect: s, dir: f.dir}
		for i := range sect.Items {
			if err := b.item(&sect.Items[i]); err != nil {
				return fmt.Errorf("section %s item %d: %w", sect.Name, i, err)
			}
		}
	}
	return nil
}
