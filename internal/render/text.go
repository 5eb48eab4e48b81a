package render

import (
	"image"
	"strings"
	"unicode/utf8"

	"golang.org/x/image/font"
	"golang.org/x/image/math/fixed"
)

// Anchor says which point of a text run the draw position refers to.
type Anchor int

const (
	// LeftAscender: left edge, top of the font ascent.
	LeftAscender Anchor = iota
	// LeftMiddle: left edge, halfway between ascent and descent.
	LeftMiddle
	// MiddleTop: horizontal centre, top of the inked glyphs.
	MiddleTop
	// MiddleMiddle: horizontal centre, halfway between ascent and descent.
	MiddleMiddle
	// MiddleAscender: horizontal centre, top of the font ascent.
	MiddleAscender
)

func anchorDot(face font.Face, s string, pt image.Point, a Anchor) fixed.Point26_6 {
	dot := fixed.P(pt.X, pt.Y)
	switch a {
	case MiddleTop, MiddleMiddle, MiddleAscender:
		dot.X -= font.MeasureString(face, s) / 2
	}

	m := face.Metrics()
	switch a {
	case LeftAscender, MiddleAscender:
		dot.Y += m.Ascent
	case LeftMiddle, MiddleMiddle:
		dot.Y += (m.Ascent - m.Descent) / 2
	case MiddleTop:
		b, _ := font.BoundString(face, s)
		dot.Y -= b.Min.Y
	}
	return dot
}

// TextWidth is the advance width of s in pixels.
func TextWidth(face font.Face, s string) int {
	return font.MeasureString(face, s).Round()
}

// InkHeight is the height of the inked area of s.
func InkHeight(face font.Face, s string) int {
	b, _ := font.BoundString(face, s)
	return (b.Max.Y - b.Min.Y).Ceil()
}

// CapHeight is the ink height of "A".
func CapHeight(face font.Face) int { return InkHeight(face, "A") }

// LineHeight is ascent plus descent.
func LineHeight(face font.Face) int {
	m := face.Metrics()
	return (m.Ascent + m.Descent).Ceil()
}

// Wrap splits text into lines of at most width characters, breaking at
// whitespace. Words longer than width are split.
func Wrap(text string, width int) []string {
	if width < 1 {
		width = 1
	}
	var lines []string
	var cur strings.Builder
	curLen := 0
	flush := func() {
		if curLen > 0 {
			lines = append(lines, cur.String())
			cur.Reset()
			curLen = 0
		}
	}
	for _, w := range strings.Fields(text) {
		for utf8.RuneCountInString(w) > width {
			room := width - curLen
			if curLen > 0 {
				room--
			}
			if room <= 0 {
				flush()
				continue
			}
			r := []rune(w)
			if curLen > 0 {
				cur.WriteByte(' ')
			}
			cur.WriteString(string(r[:room]))
			curLen = width
			flush()
			w = string(r[room:])
		}
		n := utf8.RuneCountInString(w)
		if n == 0 {
			continue
		}
		switch {
		case curLen == 0:
			cur.WriteString(w)
			curLen = n
		case curLen+1+n <= width:
			cur.WriteByte(' ')
			cur.WriteString(w)
			curLen += 1 + n
		default:
			flush()
			cur.WriteString(w)
			curLen = n
		}
	}
	flush()
	return lines
}

// Shorten collapses whitespace in text and, if the result is longer than
// width, drops trailing words until they fit together with placeholder.
func Shorten(text string, width int, placeholder string) string {
	words := strings.Fields(text)
	joined := strings.Join(words, " ")
	if utf8.RuneCountInString(joined) <= width {
		return joined
	}
	pl := utf8.RuneCountInString(placeholder)
	n := 0
	for i, w := range words {
		add := utf8.RuneCountInString(w)
		if i > 0 {
			add++
		}
		if n+add+pl > width {
			if i == 0 {
				return strings.TrimLeft(placeholder, " ")
			}
			return strings.Join(words[:i], " ") + placeholder
		}
		n += add
	}
	return joined
}
