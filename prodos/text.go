package prodos

import "github.com/zellyn/diskii/sparse"

// Encoder converts between UTF-8 text and ProDOS's on-disk text
// encoding: plain 7-bit ASCII with 0x0D carriage returns separating
// lines.
type Encoder struct{}

var _ sparse.TextEncoder = Encoder{}

// TextEncoder returns the ProDOS text encoding.
func (o operator) TextEncoder() sparse.TextEncoder { return Encoder{} }

// Encode converts txt to ProDOS text bytes, turning LF (and CRLF)
// line endings into carriage returns. It returns false for
// characters outside 7-bit ASCII.
func (Encoder) Encode(txt string) ([]byte, bool) {
	out := make([]byte, 0, len(txt))
	for i := 0; i < len(txt); i++ {
		c := txt[i]
		switch {
		case c == '\r' && i+1 < len(txt) && txt[i+1] == '\n':
			continue
		case c == '\n' || c == '\r':
			out = append(out, 0x0d)
		case c < 0x80:
			out = append(out, c)
		default:
			return nil, false
		}
	}
	return out, true
}

// Decode converts ProDOS text bytes back to UTF-8, turning carriage
// returns into LF. It returns false for a byte with the high bit set.
func (Encoder) Decode(raw []byte) (string, bool) {
	out := make([]byte, 0, len(raw))
	for _, c := range raw {
		switch {
		case c == 0x0d:
			out = append(out, '\n')
		case c < 0x80:
			out = append(out, c)
		default:
			return "", false
		}
	}
	return string(out), true
}
