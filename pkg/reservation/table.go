package reservation

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/japanese"
)

var (
	// ErrNoInput is returned when the reservation source cannot be opened.
	ErrNoInput = errors.New("reservation input not found")

	// ErrUndecodable is returned when no configured encoding can read the file.
	ErrUndecodable = errors.New("reservation csv could not be decoded")
)

// DefaultEncodings is the order in which CSV encodings are tried.
var DefaultEncodings = []string{"auto", "utf-8-sig", "utf-8", "cp932", "shift_jis"}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Table is a raw reservation log: one header and one string row per
// reservation, before any typing.
type Table struct {
	Header   []string
	Rows     [][]string
	Encoding string
	Source   string
}

// Len returns the number of data rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// ReadCSV loads a reservation CSV trying each encoding in order. A nil or
// empty encodings list means DefaultEncodings.
func ReadCSV(path string, encodings []string) (*Table, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNoInput, path)
		}
		return nil, fmt.Errorf("read reservation csv %s: %w", path, err)
	}
	if len(encodings) == 0 {
		encodings = DefaultEncodings
	}

	var tried []string
	for _, enc := range encodings {
		text, err := decode(raw, enc)
		if err != nil {
			tried = append(tried, fmt.Sprintf("%s (%v)", enc, err))
			continue
		}
		t, err := parseCSV(text)
		if err != nil {
			return nil, fmt.Errorf("parse reservation csv %s as %s: %w", path, enc, err)
		}
		t.Encoding = enc
		t.Source = path
		return t, nil
	}
	return nil, fmt.Errorf("%w: %s tried %s", ErrUndecodable, path, strings.Join(tried, ", "))
}

func decode(raw []byte, encoding string) (string, error) {
	switch strings.ToLower(encoding) {
	case "auto":
		body := bytes.TrimPrefix(raw, utf8BOM)
		if !utf8.Valid(body) {
			return "", errors.New("not utf-8")
		}
		return string(body), nil
	case "utf-8-sig", "utf8-sig":
		body := bytes.TrimPrefix(raw, utf8BOM)
		if !utf8.Valid(body) {
			return "", errors.New("invalid utf-8")
		}
		return string(body), nil
	case "utf-8", "utf8":
		if !utf8.Valid(raw) {
			return "", errors.New("invalid utf-8")
		}
		return string(raw), nil
	case "cp932", "shift_jis", "sjis", "windows-31j":
		out, err := japanese.ShiftJIS.NewDecoder().Bytes(raw)
		if err != nil {
			return "", err
		}
		if bytes.ContainsRune(out, utf8.RuneError) {
			return "", errors.New("invalid shift_jis sequence")
		}
		return string(out), nil
	default:
		return "", fmt.Errorf("unsupported encoding %q", encoding)
	}
}

func parseCSV(text string) (*Table, error) {
	r := csv.NewReader(strings.NewReader(text))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return &Table{}, nil
	}

	header := make([]string, len(records[0]))
	for i, h := range records[0] {
		header[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	}
	return &Table{Header: header, Rows: records[1:]}, nil
}
