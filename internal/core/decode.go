package core

// decode.go turns a dropped file into text for the parser.
//
// Browsers hand over whatever bytes the user dropped. Windows tools commonly
// prefix a UTF-8 byte order mark, and files exported from legacy systems may
// carry stray Latin-1 bytes. Both are repaired here so that the engine only
// ever rejects input that is genuinely not text.

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

var (
	// ErrFileTooLarge is returned when a file exceeds the configured size.
	ErrFileTooLarge = errors.New("file too large")

	// ErrUnsupportedFile is returned for files without a .csv extension.
	ErrUnsupportedFile = errors.New("unsupported file type")
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// CheckFileName accepts names ending in .csv, case-insensitively.
func CheckFileName(name string) error {
	if !strings.EqualFold(filepath.Ext(name), ".csv") {
		return fmt.Errorf("%w: %q is not a .csv file", ErrUnsupportedFile, name)
	}
	return nil
}

// DecodeText reads r to the end and returns its contents as text.
//
// A leading UTF-8 BOM is removed and invalid UTF-8 sequences are replaced
// with U+FFFD. A limit of zero or less disables the size check. An empty
// reader yields "" and no error.
func DecodeText(r io.Reader, limit int64) (string, error) {
	if limit > 0 {
		r = io.LimitReader(r, limit+1)
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	if limit > 0 && int64(len(data)) > limit {
		return "", fmt.Errorf("%w: more than %d bytes", ErrFileTooLarge, limit)
	}

	data = bytes.TrimPrefix(data, utf8BOM)
	if !utf8.Valid(data) {
		data = bytes.ToValidUTF8(data, []byte(string(utf8.RuneError)))
	}

	return string(data), nil
}
