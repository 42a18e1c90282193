// Package vbyte implements the variable-byte codec that every on-disk record in
// ixengine is built from: posting list gaps, vocabulary record fields and bucket
// value lengths are all vbyte integers.
//
// Encoding: a value is split into 7-bit little-endian groups. Every byte except the
// last has its top bit (0x80) set, signalling "more bytes follow". The encoding of a
// given value is always the minimum-length valid encoding — there is exactly one
// valid byte sequence per value.
package vbyte

import "errors"

// ErrShortBuffer is returned by Write when dst is too small to hold the encoding.
var ErrShortBuffer = errors.New("vbyte: destination buffer too small")

// ErrTruncated is returned by Read when the vector ends mid-integer.
var ErrTruncated = errors.New("vbyte: truncated integer")

// ErrOverflow is returned by Read when the decoded value would overflow the
// requested target width.
var ErrOverflow = errors.New("vbyte: decoded value overflows target width")

// Len returns the number of bytes Write(n) would produce, without writing anything.
func Len(n uint64) int {
	l := 1
	for n >= 0x80 {
		n >>= 7
		l++
	}
	return l
}

// Write encodes n into dst using 7-bit groups, MSB-continuation. It returns the
// number of bytes written, or 0 if dst is too small to hold the encoding.
func Write(dst []byte, n uint64) int {
	need := Len(n)
	if len(dst) < need {
		return 0
	}
	i := 0
	for n >= 0x80 {
		dst[i] = byte(n) | 0x80
		n >>= 7
		i++
	}
	dst[i] = byte(n)
	return i + 1
}

// Append encodes n and appends it to dst, returning the grown slice.
func Append(dst []byte, n uint64) []byte {
	for n >= 0x80 {
		dst = append(dst, byte(n)|0x80)
		n >>= 7
	}
	return append(dst, byte(n))
}

// Read decodes a single vbyte integer from the front of src. It returns the decoded
// value and the number of bytes consumed. If src ends before a terminal byte (top bit
// clear) is seen, it returns ErrTruncated and 0 bytes consumed — the read position is
// left exactly where the call started, since no bytes are consumed on failure.
func Read(src []byte) (uint64, int, error) {
	var n uint64
	var shift uint
	for i := 0; i < len(src); i++ {
		b := src[i]
		n |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return n, i + 1, nil
		}
		shift += 7
		if shift >= 64 {
			return 0, 0, ErrOverflow
		}
	}
	return 0, 0, ErrTruncated
}

// ReadWidth decodes a single vbyte integer and additionally fails with ErrOverflow if
// the value does not fit in the given bit width (e.g. width=32 for a uint32 field).
func ReadWidth(src []byte, width uint) (uint64, int, error) {
	n, consumed, err := Read(src)
	if err != nil {
		return 0, 0, err
	}
	if width < 64 && n >= (uint64(1)<<width) {
		return 0, 0, ErrOverflow
	}
	return n, consumed, nil
}

// Scan advances over up to k whole vbyte integers in src without materialising them,
// returning the number of integers actually scanned and the number of bytes they
// occupy. Scan stops early (without error) if src ends mid-integer or k integers have
// been consumed, whichever comes first; a mid-integer truncation is reported by
// scanned < k together with a best-effort byte count of zero for the partial tail.
func Scan(src []byte, k int) (scanned int, consumed int) {
	pos := 0
	for scanned < k {
		start := pos
		found := false
		for pos < len(src) {
			b := src[pos]
			pos++
			if b&0x80 == 0 {
				found = true
				break
			}
		}
		if !found {
			return scanned, start
		}
		scanned++
		consumed = pos
	}
	return scanned, consumed
}

// ArrayWrite encodes every value in vs into dst (via Append) and returns the grown
// slice. This is the building block for posting-list gap arrays.
func ArrayWrite(dst []byte, vs []uint64) []byte {
	for _, v := range vs {
		dst = Append(dst, v)
	}
	return dst
}

// ArrayRead decodes exactly n integers from the front of src. It returns the decoded
// values and the number of bytes consumed, or an error if src is exhausted before n
// values have been read.
func ArrayRead(src []byte, n int) ([]uint64, int, error) {
	out := make([]uint64, 0, n)
	pos := 0
	for i := 0; i < n; i++ {
		v, used, err := Read(src[pos:])
		if err != nil {
			return nil, 0, err
		}
		out = append(out, v)
		pos += used
	}
	return out, pos, nil
}
