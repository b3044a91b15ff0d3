// Package csvtable is the CSV table engine behind the editor.
//
// It has three parts that compose linearly:
//
//   - Parser: raw text -> [Table] (header row + data rows)
//   - Table store: in-memory grid with cell and row mutators
//   - Serializer: [Table] -> raw text, the inverse of the parser
//
// The engine performs no I/O and holds no locks. Callers that share a
// Table between goroutines must serialise access themselves.
//
// # Dialect
//
// Fields are separated by [Options.Delimiter] (default comma). A field
// starting with [Options.Quote] may contain delimiters and line breaks;
// a doubled quote stands for one quote character. Records end at "\n" or
// "\r\n". Malformed quoting never fails: an unterminated quote runs to the
// end of input.
//
// # Shape
//
// Every row has exactly as many cells as the header row. Short rows are
// padded with empty cells and long rows are truncated when parsed or
// appended. Data rows that hold nothing but whitespace are dropped while
// parsing unless one of their fields was quoted.
package csvtable
