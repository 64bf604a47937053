package asm

import (
	"fmt"
)

func (d *Data) finalize(l *layout) error {
	var off uint64
	for _, item := range d.Items {
		if item.Value != nil {
			if err := l.obj.finalizeValue(item.Value, l.bc.Location(off)); err != nil {
				return err
			}
		}
		off += item.size()
	}
	return nil
}

func (d *Data) calcLen(*layout) (uint64, error) {
	var n uint64
	for _, item := range d.Items {
		if v := item.Value; v != nil && (v.Size == 0 || v.Size%8 != 0) {
			return 0, fmt.Errorf("%w: %d bits", ErrValueSize, v.Size)
		}
		n += item.size()
	}
	return n, nil
}

func (d *Data) emit(e *emitter, dst []byte) ([]byte, error) {
	var off uint64
	for _, item := range d.Items {
		if item.Value == nil {
			dst = append(dst, item.Bytes...)
			off += uint64(len(item.Bytes))
			continue
		}
		n := item.size()
		start := len(dst)
		dst = append(dst, make([]byte, n)...)
		e.value(item.Value, dst[start:], off)
		off += n
	}
	return dst, nil
}

func (r *Reserve) calcLen(l *layout) (uint64, error) {
	v, err := l.obj.constInt64(r.Count)
	if err != nil {
		return 0, fmt.Errorf("reserve count: %w", err)
	}
	count, err := nonNegative(v, "reserve count")
	if err != nil {
		return 0, err
	}
	return count * r.ItemSize, nil
}

func (b *IncludeBinary) calcLen(l *layout) (uint64, error) {
	b.start, b.n = 0, uint64(len(b.Data))
	if b.Start != nil {
		v, err := l.obj.constInt64(*b.Start)
		if err != nil {
			return 0, fmt.Errorf("incbin start: %w", err)
		}
		start, err := nonNegative(v, "incbin start")
		if err != nil {
			return 0, err
		}
		if start > uint64(len(b.Data)) {
			return 0, fmt.Errorf("%w: %q start %d, size %d", ErrIncbinRange, b.Name, start, len(b.Data))
		}
		b.start = start
		b.n -= start
	}
	if b.MaxLen != nil {
		v, err := l.obj.constInt64(*b.MaxLen)
		if err != nil {
			return 0, fmt.Errorf("incbin length: %w", err)
		}
		maxLen, err := nonNegative(v, "incbin length")
		if err != nil {
			return 0, err
		}
		b.n = min(b.n, maxLen)
	}
	return b.n, nil
}
