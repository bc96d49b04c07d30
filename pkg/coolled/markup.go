// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package coolled

import "strings"

// Span is a run of text drawn in one colour.
type Span struct {
	Text  string
	Color RGB
}

// Markers delimit an inline colour change such as <#00ff00>.
// Empty markers disable markup.
type Markers struct {
	Open  string
	Close string
}

// DefaultMarkers are < and >.
var DefaultMarkers = Markers{Open: "<", Close: ">"}

func (m Markers) enabled() bool {
	return m.Open != "" && m.Close != ""
}

// ParseMarkup splits markup into coloured spans. A colour tag changes the
// colour of the text after it; text before the first tag uses def. An open
// marker with no matching close marker is kept as literal text.
func ParseMarkup(markup string, def RGB, m Markers) ([]Span, error) {
	if !m.enabled() {
		return []Span{{Text: markup, Color: def}}, nil
	}

	var spans []Span
	var text strings.Builder
	current := def
	flush := func() {
		if text.Len() > 0 {
			spans = append(spans, Span{Text: text.String(), Color: current})
			text.Reset()
		}
	}

	rest := markup
	for rest != "" {
		open := strings.Index(rest, m.Open)
		if open < 0 {
			text.WriteString(rest)
			break
		}
		text.WriteString(rest[:open])
		tail := rest[open+len(m.Open):]
		end := strings.Index(tail, m.Close)
		if end < 0 {
			text.WriteString(rest[open:])
			break
		}

		c, err := ParseColor(tail[:end])
		if err != nil {
			return nil, invalid("text", "colour tag %q: %v", tail[:end], err)
		}
		flush()
		current = c
		rest = tail[end+len(m.Close):]
	}
	flush()

	return spans, nil
}

// VisibleText joins the span texts.
func VisibleText(spans []Span) string {
	var b strings.Builder
	for _, s := range spans {
		b.WriteString(s.Text)
	}
	return b.String()
}
