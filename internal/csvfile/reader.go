// Package csvfile reads delimited text files for the import pipeline.
//
// A Reader never holds a file open between calls. Every read reopens the
// file and decodes it from the start, so a Reader is cheap to keep around
// and safe to restart. Bounded reads (offset/limit) are used to fetch the
// header and the probe row; lazy iteration is used to feed staging.
package csvfile

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// DefaultSeparator is used when the caller passes an empty separator.
const DefaultSeparator = ','

// Supported encodings. UTF-8 input has its BOM stripped and invalid byte
// sequences replaced with U+FFFD.
const (
	EncodingUTF8        = "utf-8"
	EncodingWindows1252 = "windows-1252"
	EncodingLatin1      = "iso-8859-1"
	EncodingLatin9      = "iso-8859-15"
)

// ErrBadSeparator is returned when the separator is not a single usable rune.
var ErrBadSeparator = errors.New("separator must be a single character")

// Reader reads records from a delimited file on disk.
//
// The separator and text encoding are fixed when the Reader is opened.
// Input is decoded to UTF-8 before parsing, quotes are handled leniently
// and records may have differing field counts; checking the field count
// against the header is left to the caller.
type Reader struct {
	path     string
	comma    rune
	encoding encoding.Encoding
}

// Open returns a Reader for path. The file is not opened until the first
// read. separator may be empty (comma) or a single character, "\t" and
// "tab" both select a tab.
func Open(path, separator, enc string) (*Reader, error) {
	comma, err := ParseSeparator(separator)
	if err != nil {
		return nil, err
	}
	e, err := lookupEncoding(enc)
	if err != nil {
		return nil, err
	}
	return &Reader{path: path, comma: comma, encoding: e}, nil
}

// ParseSeparator converts a user supplied separator into a rune accepted
// by encoding/csv.
func ParseSeparator(s string) (rune, error) {
	switch s {
	case "":
		return DefaultSeparator, nil
	case `\t`, "tab", "TAB":
		return '\t', nil
	}
	if utf8.RuneCountInString(s) != 1 {
		return 0, ErrBadSeparator
	}
	r, _ := utf8.DecodeRuneInString(s)
	if r == '"' || r == '\r' || r == '\n' || r == utf8.RuneError {
		return 0, ErrBadSeparator
	}
	return r, nil
}

func lookupEncoding(name string) (encoding.Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", EncodingUTF8, "utf8":
		return unicode.UTF8, nil
	case EncodingWindows1252, "cp1252":
		return charmap.Windows1252, nil
	case EncodingLatin1, "latin1":
		return charmap.ISO8859_1, nil
	case EncodingLatin9, "latin9":
		return charmap.ISO8859_15, nil
	default:
		return nil, fmt.Errorf("unsupported encoding %q", name)
	}
}

// open returns a csv.Reader positioned at the start of the file together
// with the file handle the caller must close.
func (r *Reader) open() (*csv.Reader, io.Closer, error) {
	f, err := os.Open(r.path)
	if err != nil {
		return nil, nil, err
	}

	var dec transform.Transformer
	if r.encoding == unicode.UTF8 {
		dec = unicode.BOMOverride(unicode.UTF8.NewDecoder())
	} else {
		dec = r.encoding.NewDecoder()
	}

	cr := csv.NewReader(transform.NewReader(f, dec))
	cr.Comma = r.comma
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = false
	return cr, f, nil
}

// Read returns at most limit records after skipping offset records.
// A limit of zero or less returns every remaining record. Reading past
// the end of the file, or reading an empty file, yields an empty slice.
// An open or decode failure is returned as is.
func (r *Reader) Read(offset, limit int) ([][]string, error) {
	rows := r.Records(offset)
	var out [][]string
	for _, rec := range rows.All() {
		out = append(out, rec)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Rows iterates over the records of a file after a fixed offset.
//
// Ranging over All reopens the file, so a Rows may be ranged over more than
// once. When iteration ends early because the file could not be opened or
// a record could not be decoded, Err returns that failure; after a clean
// pass, or a pass the caller stopped itself, Err is nil. A truncated or
// unreadable file therefore never looks like a finished one.
type Rows struct {
	r      *Reader
	offset int
	err    error
}

// Records returns the records after offset.
func (r *Reader) Records(offset int) *Rows {
	return &Rows{r: r, offset: offset}
}

// Err returns the failure that ended the last pass, if any.
func (rs *Rows) Err() error { return rs.err }

// All yields records keyed by their 1-based line number in the file.
func (rs *Rows) All() iter.Seq2[int, []string] {
	return func(yield func(int, []string) bool) {
		rs.err = nil
		cr, closer, err := rs.r.open()
		if err != nil {
			rs.err = err
			return
		}
		defer closer.Close()

		for n := 0; ; n++ {
			rec, err := cr.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				rs.err = fmt.Errorf("record %d: %w", n+1, err)
				return
			}
			if n < rs.offset {
				continue
			}
			line, _ := cr.FieldPos(0)
			if !yield(line, rec) {
				return
			}
		}
	}
}
