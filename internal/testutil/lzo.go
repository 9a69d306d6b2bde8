package testutil

import "encoding/binary"

// LZO1X-1 encoder limits.
const (
	lzoChunk      = 49152
	lzoDictBits   = 14
	lzoM2MaxLen   = 8
	lzoM2MaxOff   = 0x0800
	lzoM3MaxOff   = 0x4000
	lzoM3MaxLen   = 33
	lzoM4MaxLen   = 9
	lzoM3Marker   = 32
	lzoM4Marker   = 16
	lzoMinMatchAt = 20
)

// LZOCompress encodes data with the LZO1X-1 algorithm. Its output is byte
// for byte what lzo1x_1_compress produces, so streams built from it contain
// every instruction class that producers emit.
func LZOCompress(data []byte) []byte {
	out := make([]byte, 0, len(data)+len(data)/16+67)
	var t int
	ip, l := 0, len(data)
	for l > lzoMinMatchAt {
		ll := min(l, lzoChunk)
		if (t+ll)>>5 == 0 {
			break
		}
		out, t = lzoChunkCompress(out, data, ip, ll, t)
		ip += ll
		l -= ll
	}
	t += l
	if t > 0 {
		lit := data[len(data)-t:]
		if len(out) == 0 && t <= 238 {
			out = append(out, byte(17+t))
		} else {
			out = lzoLiteralRun(out, t)
		}
		out = append(out, lit...)
	}
	return append(out, 0x11, 0x00, 0x00)
}

// lzoLiteralRun writes the length prefix of a t byte literal run. Runs of up
// to three bytes ride in the low bits of the preceding match.
func lzoLiteralRun(out []byte, t int) []byte {
	switch {
	case t <= 3:
		out[len(out)-2] |= byte(t)
	case t <= 18:
		out = append(out, byte(t-3))
	default:
		out = append(out, 0)
		out = lzoLength(out, t-18)
	}
	return out
}

func lzoLength(out []byte, n int) []byte {
	for n > 255 {
		n -= 255
		out = append(out, 0)
	}
	return append(out, byte(n))
}

// lzoChunkCompress encodes data[base:base+n] with ti literals carried over
// from the previous chunk and returns the count left pending.
func lzoChunkCompress(out, data []byte, base, n, ti int) ([]byte, int) {
	var dict [1 << lzoDictBits]int
	inEnd := base + n
	ipEnd := inEnd - lzoMinMatchAt
	ii := base
	ip := base
	if ti < 4 {
		ip += 4 - ti
	}

	literal := true
	for {
		if literal {
			ip += 1 + (ip-ii)>>5
		}
		literal = true
		if ip >= ipEnd {
			break
		}
		dv := binary.LittleEndian.Uint32(data[ip:])
		idx := (dv * 0x1824429d) >> (32 - lzoDictBits)
		mPos := base + dict[idx]
		dict[idx] = ip - base
		if dv != binary.LittleEndian.Uint32(data[mPos:]) {
			continue
		}

		ii -= ti
		ti = 0
		if t := ip - ii; t != 0 {
			out = lzoLiteralRun(out, t)
			out = append(out, data[ii:ip]...)
		}

		mLen := 4
		if data[ip+mLen] == data[mPos+mLen] {
			for {
				mLen++
				if ip+mLen >= ipEnd || data[ip+mLen] != data[mPos+mLen] {
					break
				}
			}
		}
		off := ip - mPos
		ip += mLen
		ii = ip

		switch {
		case mLen <= lzoM2MaxLen && off <= lzoM2MaxOff:
			off--
			out = append(out, byte((mLen-1)<<5|(off&7)<<2), byte(off>>3))
		case off <= lzoM3MaxOff:
			off--
			if mLen <= lzoM3MaxLen {
				out = append(out, byte(lzoM3Marker|(mLen-2)))
			} else {
				out = append(out, lzoM3Marker)
				out = lzoLength(out, mLen-lzoM3MaxLen)
			}
			out = append(out, byte(off<<2), byte(off>>6))
		default:
			off -= 0x4000
			if mLen <= lzoM4MaxLen {
				out = append(out, byte(lzoM4Marker|(off>>11)&8|(mLen-2)))
			} else {
				out = append(out, byte(lzoM4Marker|(off>>11)&8))
				out = lzoLength(out, mLen-lzoM4MaxLen)
			}
			out = append(out, byte(off<<2), byte(off>>6))
		}
		literal = false
	}
	return out, inEnd - (ii - ti)
}
