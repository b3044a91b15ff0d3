package config

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/JonMunkholm/CsvEditor/internal/csvtable"
)

// Options converts the CSV settings into engine dialect options.
func (c *CSVConfig) Options() (csvtable.Options, error) {
	raw := c.Delimiter
	if strings.EqualFold(raw, "tab") {
		raw = "\t"
	}
	if utf8.RuneCountInString(raw) != 1 {
		return csvtable.Options{}, fmt.Errorf("CSV_DELIMITER (%q) must be a single character or \"tab\"", c.Delimiter)
	}
	delim, _ := utf8.DecodeRuneInString(raw)

	opts := csvtable.DefaultOptions()
	opts.Delimiter = delim
	opts.QuoteSpaces = c.QuoteSpaces

	switch strings.ToLower(c.LineEnding) {
	case "lf", "":
		opts.LineTerminator = "\n"
	case "crlf":
		opts.LineTerminator = "\r\n"
	default:
		return csvtable.Options{}, fmt.Errorf("CSV_LINE_ENDING (%q) must be one of: lf, crlf", c.LineEnding)
	}

	if err := opts.Validate(); err != nil {
		return csvtable.Options{}, fmt.Errorf("CSV_DELIMITER (%q): %w", c.Delimiter, err)
	}
	return opts, nil
}
