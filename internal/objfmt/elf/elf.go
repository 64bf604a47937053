// Package elf writes a standalone x86-64 ELF executable with a single
// loadable segment holding every section. External symbols are resolved
// from addresses supplied in the configuration.
package elf

import (
	"debug/elf"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/tinyrange/asmlayout/internal/asm"
	"github.com/tinyrange/asmlayout/internal/objfmt"
)

const (
	elfHeaderSize        = 64
	elfProgramHeaderSize = 56
)

var defaultConfig = Config{
	BaseAddress:      0x401000,
	SegmentOffset:    0x1000,
	SegmentAlignment: 0x1000,
	SegmentFlags:     elf.PF_R | elf.PF_W | elf.PF_X,
	SectionAlign:     16,
}

type Config struct {
	// BaseAddress is the virtual address of the first section.
	BaseAddress uint64
	// SegmentOffset is the file offset where the loadable segment begins.
	// It must be aligned to SegmentAlignment and leave room for the ELF and
	// program headers.
	SegmentOffset    uint64
	SegmentAlignment uint64
	// SegmentFlags defaults to read, write and execute so that data
	// sections stay writable.
	SegmentFlags elf.ProgFlag
	// SectionAlign aligns the start of each section after the first.
	SectionAlign uint64
	// Entry names the label execution starts at. Empty means BaseAddress.
	Entry string
	// Externs gives the absolute address of each external symbol.
	Externs map[string]uint64
}

func DefaultConfig() Config {
	return defaultConfig
}

type Format struct {
	Config Config
}

var _ objfmt.Format = (*Format)(nil)

func (*Format) Name() string { return "elf" }

func (f *Format) Write(obj *asm.Object, w io.Writer) error {
	out, err := f.Executable(obj)
	if err != nil {
		return err
	}
	_, err = w.Write(out)
	return err
}

// Executable places and emits obj, applies relocations against the
// configured externs and returns the ELF file.
func (f *Format) Executable(obj *asm.Object) ([]byte, error) {
	cfg := f.Config.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	order, err := objfmt.Place(obj, cfg.BaseAddress, cfg.SectionAlign)
	if err != nil {
		return nil, err
	}
	progs, err := objfmt.EmitAll(obj, order, &objfmt.Output{Object: obj, AllowRelocs: true})
	if err != nil {
		return nil, err
	}

	resolve := func(id asm.SymbolID) (uint64, bool) {
		addr, ok := cfg.Externs[obj.SymbolInfo(id).Name]
		return addr, ok
	}

	var image []byte
	memEnd := cfg.BaseAddress
	for i, s := range order {
		memEnd = s.Base + s.Size()
		if s.NoBits {
			continue
		}
		for _, r := range progs[i].Relocations() {
			if _, ok := resolve(r.Symbol); !ok {
				return nil, fmt.Errorf("%w: extern %q has no address", asm.ErrUndefinedSymbol, obj.SymbolInfo(r.Symbol).Name)
			}
		}
		code, err := progs[i].RelocatedCopy(s.Base, resolve)
		if err != nil {
			return nil, fmt.Errorf("section %q: %w", s.Name(), err)
		}
		pad := s.Base - cfg.BaseAddress - uint64(len(image))
		image = append(image, make([]byte, pad)...)
		image = append(image, code...)
	}

	entry := cfg.BaseAddress
	if cfg.Entry != "" {
		id, ok := obj.LookupSymbol(cfg.Entry)
		if !ok {
			return nil, fmt.Errorf("%w: entry %q", asm.ErrUndefinedSymbol, cfg.Entry)
		}
		if entry, err = obj.SymbolAddress(id); err != nil {
			return nil, fmt.Errorf("entry: %w", err)
		}
	}

	fileSize := uint64(len(image))
	memSize := memEnd - cfg.BaseAddress

	prefix := make([]byte, int(cfg.SegmentOffset))
	fillELFHeader(prefix[:elfHeaderSize], entry)
	fillProgramHeader(prefix[elfHeaderSize:elfHeaderSize+elfProgramHeaderSize], cfg, fileSize, memSize)
	return append(prefix, image...), nil
}

func (cfg Config) withDefaults() Config {
	if cfg.BaseAddress == 0 {
		cfg.BaseAddress = defaultConfig.BaseAddress
	}
	if cfg.SegmentOffset == 0 {
		cfg.SegmentOffset = defaultConfig.SegmentOffset
	}
	if cfg.SegmentAlignment == 0 {
		cfg.SegmentAlignment = defaultConfig.SegmentAlignment
	}
	if cfg.SegmentFlags == 0 {
		cfg.SegmentFlags = defaultConfig.SegmentFlags
	}
	if cfg.SectionAlign == 0 {
		cfg.SectionAlign = defaultConfig.SectionAlign
	}
	return cfg
}

func (cfg Config) validate() error {
	headerSize := uint64(elfHeaderSize + elfProgramHeaderSize)
	if cfg.SegmentOffset < headerSize {
		return fmt.Errorf("segment offset %#x too small for ELF headers (%#x)", cfg.SegmentOffset, headerSize)
	}
	if cfg.SegmentAlignment&(cfg.SegmentAlignment-1) != 0 {
		return fmt.Errorf("segment alignment %#x is not a power of two", cfg.SegmentAlignment)
	}
	if cfg.SegmentOffset%cfg.SegmentAlignment != 0 {
		return fmt.Errorf("segment offset %#x must be aligned to %#x", cfg.SegmentOffset, cfg.SegmentAlignment)
	}
	if cfg.BaseAddress < cfg.SegmentOffset {
		return fmt.Errorf("base address %#x must be >= segment offset %#x", cfg.BaseAddress, cfg.SegmentOffset)
	}
	if (cfg.BaseAddress-cfg.SegmentOffset)%cfg.SegmentAlignment != 0 {
		return fmt.Errorf("base address %#x must be congruent to offset %#x modulo %#x", cfg.BaseAddress, cfg.SegmentOffset, cfg.SegmentAlignment)
	}
	if cfg.SegmentOffset > uint64(maxInt) {
		return fmt.Errorf("segment offset %#x exceeds platform limits", cfg.SegmentOffset)
	}
	return nil
}

func fillELFHeader(buf []byte, entry uint64) {
	clear(buf)
	copy(buf, elf.ELFMAG)
	buf[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	buf[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	buf[elf.EI_VERSION] = byte(elf.EV_CURRENT)

	binary.LittleEndian.PutUint16(buf[16:], uint16(elf.ET_EXEC))
	binary.LittleEndian.PutUint16(buf[18:], uint16(elf.EM_X86_64))
	binary.LittleEndian.PutUint32(buf[20:], uint32(elf.EV_CURRENT))
	binary.LittleEndian.PutUint64(buf[24:], entry)
	binary.LittleEndian.PutUint64(buf[32:], uint64(elfHeaderSize))
	binary.LittleEndian.PutUint16(buf[52:], uint16(elfHeaderSize))
	binary.LittleEndian.PutUint16(buf[54:], uint16(elfProgramHeaderSize))
	binary.LittleEndian.PutUint16(buf[56:], 1)
	// No section header table.
}

func fillProgramHeader(buf []byte, cfg Config, fileSize, memSize uint64) {
	clear(buf)
	binary.LittleEndian.PutUint32(buf[0:], uint32(elf.PT_LOAD))
	binary.LittleEndian.PutUint32(buf[4:], uint32(cfg.SegmentFlags))
	binary.LittleEndian.PutUint64(buf[8:], cfg.SegmentOffset)
	binary.LittleEndian.PutUint64(buf[16:], cfg.BaseAddress)
	binary.LittleEndian.PutUint64(buf[24:], cfg.BaseAddress)
	binary.LittleEndian.PutUint64(buf[32:], fileSize)
	binary.LittleEndian.PutUint64(buf[40:], memSize)
	binary.LittleEndian.PutUint64(buf[48:], cfg.SegmentAlignment)
}

func init() {
	if err := defaultConfig.validate(); err != nil {
		panic(err)
	}
}

const maxInt = int(^uint(0) >> 1)
