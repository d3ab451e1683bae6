package core

import (
	"strings"
	"unicode/utf8"
)

// PreviewBytes is how much of a body the fetch demo shows.
const PreviewBytes = 200

// Preview returns at most n bytes of body as text. Invalid UTF-8 becomes
// U+FFFD, one per maximal ill-formed subsequence: a multi-byte sequence
// that starts correctly but stops short (including one cut by the
// truncation) yields a single replacement, a stray byte yields one each.
func Preview(body []byte, n int) string {
	if n >= 0 && len(body) > n {
		body = body[:n]
	}
	var b strings.Builder
	b.Grow(len(body))
	for len(body) > 0 {
		r, size := utf8.DecodeRune(body)
		if r == utf8.RuneError && size == 1 {
			b.WriteRune(utf8.RuneError)
			body = body[maximalSubpart(body):]
			continue
		}
		b.Write(body[:size])
		body = body[size:]
	}
	return b.String()
}

// maximalSubpart returns how many leading bytes of p, which does not start
// with a valid sequence, form one ill-formed subsequence.
func maximalSubpart(p []byte) int {
	var need int
	lo, hi := byte(0x80), byte(0xBF)
	switch c := p[0]; {
	case c >= 0xC2 && c <= 0xDF:
		need = 1
	case c == 0xE0:
		need, lo = 2, 0xA0
	case c == 0xED:
		need, hi = 2, 0x9F
	case c >= 0xE1 && c <= 0xEF:
		need = 2
	case c == 0xF0:
		need, lo = 3, 0x90
	case c == 0xF4:
		need, hi = 3, 0x8F
	case c >= 0xF1 && c <= 0xF3:
		need = 3
	default:
		return 1
	}
	i := 1
	for ; i <= need && i < len(p); i++ {
		if p[i] < lo || p[i] > hi {
			break
		}
		lo, hi = 0x80, 0xBF
	}
	return i
}
