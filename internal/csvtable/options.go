package csvtable

import "unicode/utf8"

// Default dialect values.
const (
	DefaultDelimiter      = ','
	DefaultQuote          = '"'
	DefaultLineTerminator = "\n"
)

// Options describes the dialect shared by Parse and Serialize.
// Zero fields fall back to the defaults, so Options{} is the plain
// comma-separated dialect.
type Options struct {
	Delimiter      rune
	Quote          rune
	LineTerminator string // "\n" or "\r\n"; only used when writing

	// QuoteSpaces quotes fields with leading or trailing whitespace on
	// output so other tools do not trim them.
	QuoteSpaces bool
}

// DefaultOptions returns the comma/double-quote/LF dialect.
func DefaultOptions() Options {
	return Options{
		Delimiter:      DefaultDelimiter,
		Quote:          DefaultQuote,
		LineTerminator: DefaultLineTerminator,
	}
}

func (o Options) withDefaults() Options {
	if o.Delimiter == 0 {
		o.Delimiter = DefaultDelimiter
	}
	if o.Quote == 0 {
		o.Quote = DefaultQuote
	}
	if o.LineTerminator == "" {
		o.LineTerminator = DefaultLineTerminator
	}
	return o
}

// Validate reports whether the options form a usable dialect.
func (o Options) Validate() error {
	o = o.withDefaults()

	if !validSeparator(o.Delimiter) {
		return invalidInput("delimiter %q is not allowed", o.Delimiter)
	}
	if !validSeparator(o.Quote) {
		return invalidInput("quote %q is not allowed", o.Quote)
	}
	if o.Delimiter == o.Quote {
		return invalidInput("delimiter and quote are both %q", o.Delimiter)
	}
	if o.LineTerminator != "\n" && o.LineTerminator != "\r\n" {
		return invalidInput("line terminator %q must be \\n or \\r\\n", o.LineTerminator)
	}
	return nil
}

func validSeparator(r rune) bool {
	return r != 0 && r != '\r' && r != '\n' && r != utf8.RuneError && utf8.ValidRune(r)
}
