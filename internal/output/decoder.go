package output

import (
	"strings"
	"unicode/utf8"
)

const replacement = "�"

// Decoder turns a byte stream into text without splitting code points. An
// incomplete trailing sequence is held until the next chunk; invalid bytes
// become U+FFFD.
type Decoder struct {
	pending []byte
}

// Decode returns the longest decodable text of the pending bytes plus p.
func (d *Decoder) Decode(p []byte) string {
	data := p
	if len(d.pending) > 0 {
		data = append(append(make([]byte, 0, len(d.pending)+len(p)), d.pending...), p...)
		d.pending = d.pending[:0]
	}
	var out strings.Builder
	out.Grow(len(data))
	start := 0
	for i := 0; i < len(data); {
		if data[i] < utf8.RuneSelf {
			i++
			continue
		}
		r, size := utf8.DecodeRune(data[i:])
		if r != utf8.RuneError || size > 1 {
			i += size
			continue
		}
		out.Write(data[start:i])
		if !utf8.FullRune(data[i:]) {
			d.pending = append(d.pending, data[i:]...)
			return out.String()
		}
		out.WriteString(replacement)
		i++
		start = i
	}
	out.Write(data[start:])
	return out.String()
}

// Flush returns a replacement for any bytes still pending at end of stream.
func (d *Decoder) Flush() string {
	if len(d.pending) == 0 {
		return ""
	}
	d.pending = d.pending[:0]
	return replacement
}

// Pending reports how many bytes are held back.
func (d *Decoder) Pending() int {
	return len(d.pending)
}
