// Package bin writes a flat binary image: the bytes of every section with
// file contents, placed at consecutive aligned addresses from Origin. The
// image has no headers and cannot carry relocations.
package bin

import (
	"fmt"
	"io"

	"github.com/tinyrange/asmlayout/internal/asm"
	"github.com/tinyrange/asmlayout/internal/objfmt"
)

const defaultSectionAlign = 4

type Format struct {
	// Origin is the address of the first byte of the image.
	Origin uint64
	// SectionAlign is the alignment of every section after the first.
	// Zero means 4.
	SectionAlign uint64
}

var _ objfmt.Format = (*Format)(nil)

func (*Format) Name() string { return "bin" }

// Image places and emits obj and returns the flat image.
func (f *Format) Image(obj *asm.Object) ([]byte, error) {
	align := f.SectionAlign
	if align == 0 {
		align = defaultSectionAlign
	}
	order, err := objfmt.Place(obj, f.Origin, align)
	if err != nil {
		return nil, err
	}
	progs, err := objfmt.EmitAll(obj, order, &objfmt.Output{Object: obj})
	if err != nil {
		return nil, err
	}

	var image []byte
	for i, s := range order {
		if s.NoBits {
			continue
		}
		pad := s.Base - f.Origin - uint64(len(image))
		image = append(image, make([]byte, pad)...)
		code := progs[i].Bytes()
		if uint64(len(code)) != s.Size() {
			return nil, fmt.Errorf("%w: section %q emitted %d bytes, size %d",
				asm.ErrLengthMismatch, s.Name(), len(code), s.Size())
		}
		image = append(image, code...)
	}
	return image, nil
}

func (f *Format) Write(obj *asm.Object, w io.Writer) error {
	image, err := f.Image(obj)
	if err != nil {
		return err
	}
	_, err = w.Write(image)
	return err
}
