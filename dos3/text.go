package dos3

import "github.com/zellyn/diskii/sparse"

// Encoder converts between UTF-8 text and DOS 3.3's on-disk text
// encoding: negative ASCII (high bit set) with 0x8D carriage returns
// separating lines.
type Encoder struct{}

var _ sparse.TextEncoder = Encoder{}

// TextEncoder returns the DOS 3.3 text encoding.
func (o operator) TextEncoder() sparse.TextEncoder { return Encoder{} }

// Encode converts txt to negative ASCII, turning LF (and CRLF) line
// endings into carriage returns. It returns false for characters
// outside 7-bit ASCII.
func (Encoder) Encode(txt string) ([]byte, bool) {
	out := make([]byte, 0, len(txt))
	for i := 0; i < len(txt); i++ {
		c := txt[i]
		switch {
		case c == '\r' && i+1 < len(txt) && txt[i+1] == '\n':
			continue // fold CRLF to the LF that follows
		case c == '\n' || c == '\r':
			out = append(out, 0x8d)
		case c < 0x80:
			out = append(out, c|0x80)
		default:
			return nil, false
		}
	}
	return out, true
}

// Decode converts negative ASCII back to UTF-8, turning carriage
// returns into LF. It returns false for a byte without the high bit
// (other than NUL padding, which callers strip before decoding).
func (Encoder) Decode(raw []byte) (string, bool) {
	out := make([]byte, 0, len(raw))
	for _, c := range raw {
		switch {
		case c == 0x8d:
			out = append(out, '\n')
		case c&0x80 != 0:
			out = append(out, c&0x7f)
		default:
			return "", false
		}
	}
	return string(out), true
}
