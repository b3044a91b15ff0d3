package csvtable

import (
	"strings"
	"unicode/utf8"
)

// Report summarises what Parse did to make the input rectangular.
type Report struct {
	PhysicalRows      int  `json:"physicalRows"`
	DroppedBlank      int  `json:"droppedBlank"`
	Padded            int  `json:"padded"`
	Truncated         int  `json:"truncated"`
	UnterminatedQuote bool `json:"unterminatedQuote"`
}

// Parse turns text into a Table. The first record becomes the header row.
// It only fails with ErrInvalidInput, for non-text input or bad options.
func Parse(text string, opts Options) (*Table, error) {
	t, _, err := ParseWithReport(text, opts)
	return t, err
}

// ParseBytes is Parse for a byte slice.
func ParseBytes(data []byte, opts Options) (*Table, error) {
	return Parse(string(data), opts)
}

// ParseWithReport is Parse that also reports padded, truncated and
// dropped rows.
func ParseWithReport(text string, opts Options) (*Table, Report, error) {
	var rep Report

	if err := opts.Validate(); err != nil {
		return nil, rep, err
	}
	if err := checkText(text); err != nil {
		return nil, rep, err
	}

	opts = opts.withDefaults()
	t := &Table{headers: []string{}}
	if text == "" {
		return t, rep, nil
	}

	p := &parser{src: text, delim: opts.Delimiter, quote: opts.Quote, report: &rep}
	haveHeader := false

	for {
		fields, quoted, end := p.readRecord()
		rep.PhysicalRows++

		switch {
		case !haveHeader:
			t.headers = fields
			haveHeader = true
		case !quoted && isBlank(fields):
			rep.DroppedBlank++
		default:
			row, diff := fitRow(fields, len(t.headers))
			if diff > 0 {
				rep.Padded++
			} else if diff < 0 {
				rep.Truncated++
			}
			t.rows = append(t.rows, row)
		}

		// A terminator at the very end does not open another record.
		if end == endInput || p.pos >= len(p.src) {
			break
		}
	}

	return t, rep, nil
}

func checkText(text string) error {
	if !utf8.ValidString(text) {
		return invalidInput("text is not valid UTF-8")
	}
	if i := strings.IndexByte(text, 0); i >= 0 {
		return invalidInput("NUL byte at offset %d, input looks binary", i)
	}
	return nil
}

func isBlank(fields []string) bool {
	for _, f := range fields {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

// How a field ended.
const (
	endDelimiter = iota
	endLine
	endInput
)

type parser struct {
	src    string
	pos    int
	delim  rune
	quote  rune
	report *Report
}

// readRecord reads one record. quoted reports whether any field in it
// was quoted.
func (p *parser) readRecord() (fields []string, quoted bool, end int) {
	for {
		field, q, e := p.readField()
		fields = append(fields, field)
		quoted = quoted || q
		if e != endDelimiter {
			return fields, quoted, e
		}
	}
}

func (p *parser) readField() (string, bool, int) {
	var b strings.Builder
	if p.pos < len(p.src) {
		if r, size := utf8.DecodeRuneInString(p.src[p.pos:]); r == p.quote {
			p.pos += size
			end := p.readQuoted(&b)
			return b.String(), true, end
		}
	}
	end := p.readBare(&b)
	return b.String(), false, end
}

// readBare copies runes into b up to the next delimiter or line end.
func (p *parser) readBare(b *strings.Builder) int {
	for p.pos < len(p.src) {
		r, size := utf8.DecodeRuneInString(p.src[p.pos:])
		switch {
		case r == p.delim:
			p.pos += size
			return endDelimiter
		case r == '\n':
			p.pos++
			return endLine
		case r == '\r' && strings.HasPrefix(p.src[p.pos+1:], "\n"):
			p.pos += 2
			return endLine
		}
		b.WriteString(p.src[p.pos : p.pos+size])
		p.pos += size
	}
	return endInput
}

// readQuoted consumes a quoted field body; the opening quote is already
// consumed. Anything between the closing quote and the next separator is
// kept as plain text.
func (p *parser) readQuoted(b *strings.Builder) int {
	for p.pos < len(p.src) {
		r, size := utf8.DecodeRuneInString(p.src[p.pos:])
		p.pos += size
		if r != p.quote {
			b.WriteString(p.src[p.pos-size : p.pos])
			continue
		}
		if p.pos < len(p.src) {
			if next, n := utf8.DecodeRuneInString(p.src[p.pos:]); next == p.quote {
				b.WriteRune(p.quote)
				p.pos += n
				continue
			}
		}
		return p.readBare(b)
	}
	p.report.UnterminatedQuote = true
	return endInput
}
