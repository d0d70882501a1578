package wire

import "fmt"

const (
	replacementRune = 0xFFFD
	maxRune         = 0x10FFFF
	surrogateMin    = 0xD800
	surrogateMax    = 0xDFFF
)

// PutString writes a length-prefixed UTF-8 string. The prefix counts bytes.
// Runes that cannot be encoded are written as U+FFFD.
func (b *Buffer) PutString(s string) {
	n := 0
	for _, r := range s {
		n += runeLen(r)
	}
	b.PutLength(n)
	p := b.advance(n)
	i := 0
	for _, r := range s {
		i += encodeRune(p[i:], r)
	}
}

// String reads a length-prefixed UTF-8 string. An absent string reads as "".
func (b *Buffer) String() (string, error) {
	s, err := b.NullableString()
	if err != nil || s == nil {
		return "", err
	}
	return *s, nil
}

// PutNullableString writes nil as absent.
func (b *Buffer) PutNullableString(s *string) {
	if s == nil {
		b.PutLength(Absent)
		return
	}
	b.PutString(*s)
}

func (b *Buffer) NullableString() (*string, error) {
	n, err := b.Length()
	if err != nil {
		return nil, err
	}
	if n == Absent {
		return nil, nil
	}
	p, err := b.take(n)
	if err != nil {
		return nil, err
	}
	if err := validUTF8(p); err != nil {
		return nil, err
	}
	s := string(p)
	return &s, nil
}

func runeLen(r rune) int {
	switch {
	case r < 0:
		return 3
	case r < 0x80:
		return 1
	case r < 0x800:
		return 2
	case r >= surrogateMin && r <= surrogateMax:
		return 3
	case r < 0x10000:
		return 3
	case r <= maxRune:
		return 4
	default:
		return 3
	}
}

func encodeRune(p []byte, r rune) int {
	if r < 0 || r > maxRune || (r >= surrogateMin && r <= surrogateMax) {
		r = replacementRune
	}
	switch {
	case r < 0x80:
		p[0] = byte(r)
		return 1
	case r < 0x800:
		p[0] = 0xC0 | byte(r>>6)
		p[1] = 0x80 | byte(r)&0x3F
		return 2
	case r < 0x10000:
		p[0] = 0xE0 | byte(r>>12)
		p[1] = 0x80 | byte(r>>6)&0x3F
		p[2] = 0x80 | byte(r)&0x3F
		return 3
	default:
		p[0] = 0xF0 | byte(r>>18)
		p[1] = 0x80 | byte(r>>12)&0x3F
		p[2] = 0x80 | byte(r>>6)&0x3F
		p[3] = 0x80 | byte(r)&0x3F
		return 4
	}
}

// validUTF8 rejects truncated sequences, overlong forms, surrogates and
// code points above U+10FFFF.
func validUTF8(p []byte) error {
	for i := 0; i < len(p); {
		c := p[i]
		var n int
		var r rune
		switch {
		case c < 0x80:
			i++
			continue
		case c&0xE0 == 0xC0:
			n, r = 2, rune(c&0x1F)
		case c&0xF0 == 0xE0:
			n, r = 3, rune(c&0x0F)
		case c&0xF8 == 0xF0:
			n, r = 4, rune(c&0x07)
		default:
			return fmt.Errorf("%w: invalid lead byte at %d", ErrMalformedString, i)
		}
		if i+n > len(p) {
			return fmt.Errorf("%w: truncated sequence at %d", ErrMalformedString, i)
		}
		for j := 1; j < n; j++ {
			cc := p[i+j]
			if cc&0xC0 != 0x80 {
				return fmt.Errorf("%w: invalid continuation at %d", ErrMalformedString, i+j)
			}
			r = r<<6 | rune(cc&0x3F)
		}
		if r > maxRune || (r >= surrogateMin && r <= surrogateMax) {
			return fmt.Errorf("%w: invalid code point at %d", ErrMalformedString, i)
		}
		if runeLen(r) != n {
			return fmt.Errorf("%w: overlong sequence at %d", ErrMalformedString, i)
		}
		i += n
	}
	return nil
}
