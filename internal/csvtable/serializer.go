package csvtable

import (
	"bufio"
	"io"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Serialize renders t as text in the given dialect. Records are joined by
// opts.LineTerminator with no terminator after the last one, so the
// output parses back into an equal table.
func Serialize(t *Table, opts Options) (string, error) {
	var sb strings.Builder
	if err := Write(&sb, t, opts); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// Write streams the same bytes Serialize returns to w.
func Write(w io.Writer, t *Table, opts Options) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	opts = opts.withDefaults()

	// Zero-width tables have nothing a reader could recover.
	if t == nil || len(t.headers) == 0 {
		return nil
	}

	bw := bufio.NewWriter(w)
	s := serializer{w: bw, opts: opts}

	s.writeRecord(t.headers, false)
	for _, row := range t.rows {
		bw.WriteString(opts.LineTerminator)
		// Blank rows are quoted so the parser keeps them.
		s.writeRecord(row, isBlank(row))
	}
	return bw.Flush()
}

type serializer struct {
	w    *bufio.Writer
	opts Options
}

func (s serializer) writeRecord(fields []string, quoteAll bool) {
	if len(fields) == 1 && fields[0] == "" {
		// An empty line would vanish on re-parse.
		quoteAll = true
	}
	for i, f := range fields {
		if i > 0 {
			s.w.WriteRune(s.opts.Delimiter)
		}
		if quoteAll || s.needsQuotes(f) {
			s.writeQuoted(f)
		} else {
			s.w.WriteString(f)
		}
	}
}

func (s serializer) writeQuoted(f string) {
	q := string(s.opts.Quote)
	s.w.WriteString(q)
	s.w.WriteString(strings.ReplaceAll(f, q, q+q))
	s.w.WriteString(q)
}

func (s serializer) needsQuotes(f string) bool {
	if f == "" {
		return false
	}
	if strings.ContainsRune(f, s.opts.Delimiter) ||
		strings.ContainsRune(f, s.opts.Quote) ||
		strings.ContainsAny(f, "\r\n") {
		return true
	}
	if s.opts.QuoteSpaces {
		first, _ := utf8.DecodeRuneInString(f)
		last, _ := utf8.DecodeLastRuneInString(f)
		return unicode.IsSpace(first) || unicode.IsSpace(last)
	}
	return false
}
