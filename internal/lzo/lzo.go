// Package lzo implements an LZO1X decompressor.
//
// Only decoding is provided. The decoder is bounds checked on both the
// input and the look-behind window, so corrupt blocks produce errors rather
// than panics.
package lzo

import "errors"

var (
	// ErrInputOverrun is returned when the stream ends before the end marker.
	ErrInputOverrun = errors.New("lzo: input overrun")

	// ErrLookBehind is returned when a match refers before the start of output.
	ErrLookBehind = errors.New("lzo: look-behind overrun")

	// ErrCorrupt is returned for malformed streams.
	ErrCorrupt = errors.New("lzo: corrupt stream")
)

const m2MaxOffset = 0x0800

type decoder struct {
	in  []byte
	ip  int
	out []byte
}

func (d *decoder) readByte() (int, error) {
	if d.ip >= len(d.in) {
		return 0, ErrInputOverrun
	}
	b := d.in[d.ip]
	d.ip++
	return int(b), nil
}

func (d *decoder) readLE16() (int, error) {
	if d.ip+2 > len(d.in) {
		return 0, ErrInputOverrun
	}
	v := int(d.in[d.ip]) | int(d.in[d.ip+1])<<8
	d.ip += 2
	return v, nil
}

// length decodes the zero-run extension used by long literal and match lengths.
func (d *decoder) length(base int) (int, error) {
	t := 0
	for {
		b, err := d.readByte()
		if err != nil {
			return 0, err
		}
		if b != 0 {
			return t + base + b, nil
		}
		t += 255
	}
}

func (d *decoder) literals(n int) error {
	if d.ip+n > len(d.in) {
		return ErrInputOverrun
	}
	d.out = append(d.out, d.in[d.ip:d.ip+n]...)
	d.ip += n
	return nil
}

// match copies n bytes starting dist bytes behind the output cursor.
// Overlapping copies repeat the window byte by byte.
func (d *decoder) match(dist, n int) error {
	pos := len(d.out) - dist
	if dist <= 0 || pos < 0 {
		return ErrLookBehind
	}
	for i := range n {
		d.out = append(d.out, d.out[pos+i])
	}
	return nil
}

// Decompress decodes one LZO1X stream. sizeHint preallocates the output and
// may be zero.
func Decompress(src []byte, sizeHint int) ([]byte, error) {
	if sizeHint < 0 {
		sizeHint = 0
	}
	d := &decoder{in: src, out: make([]byte, 0, sizeHint)}
	if err := d.run(); err != nil {
		return nil, err
	}
	if d.ip != len(d.in) {
		return nil, ErrCorrupt
	}
	return d.out, nil
}

//nolint:gocognit,gocyclo // instruction decoding is a single state machine
func (d *decoder) run() error {
	// state is the number of literals copied after the previous instruction:
	// 0 after a match with no trailing literals, 1..3 after short trailing
	// literals, 4 after a literal run.
	state := 0

	if len(d.in) > 0 && d.in[0] > 17 {
		d.ip++
		t := int(d.in[0]) - 17
		if err := d.literals(t); err != nil {
			return err
		}
		if t < 4 {
			state = t
		} else {
			state = 4
		}
	}

	for {
		t, err := d.readByte()
		if err != nil {
			return err
		}

		var dist, n, next int
		switch {
		case t < 16 && state == 0:
			if t == 0 {
				if t, err = d.length(15); err != nil {
					return err
				}
			}
			if err := d.literals(t + 3); err != nil {
				return err
			}
			state = 4
			continue

		case t < 16 && state < 4:
			b, err := d.readByte()
			if err != nil {
				return err
			}
			dist = 1 + t>>2 + b<<2
			n = 2
			next = t & 3

		case t < 16:
			b, err := d.readByte()
			if err != nil {
				return err
			}
			dist = 1 + m2MaxOffset + t>>2 + b<<2
			n = 3
			next = t & 3

		case t >= 64:
			b, err := d.readByte()
			if err != nil {
				return err
			}
			dist = 1 + (t>>2)&7 + b<<3
			n = t>>5 + 1
			next = t & 3

		case t >= 32:
			n = t&31 + 2
			if n == 2 {
				if n, err = d.length(31 + 2); err != nil {
					return err
				}
			}
			v, err := d.readLE16()
			if err != nil {
				return err
			}
			dist = 1 + v>>2
			next = v & 3

		default: // 16..31
			high := (t & 8) << 11
			n = t&7 + 2
			if n == 2 {
				if n, err = d.length(7 + 2); err != nil {
					return err
				}
			}
			v, err := d.readLE16()
			if err != nil {
				return err
			}
			dist = high + v>>2
			if dist == 0 {
				if n != 3 {
					return ErrCorrupt
				}
				return nil
			}
			dist += 0x4000
			next = v & 3
		}

		if err := d.match(dist, n); err != nil {
			return err
		}
		if err := d.literals(next); err != nil {
			return err
		}
		state = next
	}
}
