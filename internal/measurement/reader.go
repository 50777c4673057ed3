package measurement

import (
	"encoding/csv"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/htmlindex"
)

// ErrNoMatchingFiles is returned when a pattern matches no files.
var ErrNoMatchingFiles = eris.New("measurement: no matching files")

// ReaderOptions configures how delimited files are read.
type ReaderOptions struct {
	// Delimiter separates fields. Zero means a comma.
	Delimiter rune
	// Encoding is a WHATWG encoding label such as "windows-1252". Empty or
	// "utf-8" reads the file as-is.
	Encoding string
}

// MatchFiles returns the files in dir matching pattern, sorted by path and
// capped at limit when limit > 0.
func MatchFiles(dir, pattern string, limit int) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil, eris.Wrapf(err, "measurement: bad pattern %q", pattern)
	}
	if len(matches) == 0 {
		return nil, eris.Wrapf(ErrNoMatchingFiles, "measurement: %s in %s", pattern, dir)
	}
	sort.Strings(matches)
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// openCSV opens path and returns a csv.Reader over its decoded contents. The
// caller closes the returned file.
func openCSV(path string, opts ReaderOptions) (*csv.Reader, io.Closer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "measurement: open %s", path)
	}

	var r io.Reader = f
	if label := strings.ToLower(strings.TrimSpace(opts.Encoding)); label != "" && label != "utf-8" && label != "utf8" {
		enc, err := htmlindex.Get(label)
		if err != nil {
			_ = f.Close()
			return nil, nil, eris.Wrapf(err, "measurement: encoding %q", opts.Encoding)
		}
		r = enc.NewDecoder().Reader(f)
	}

	cr := csv.NewReader(r)
	if opts.Delimiter != 0 {
		cr.Comma = opts.Delimiter
	}
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	return cr, f, nil
}

// newDecoder reads the header row, canonicalises it against schema and
// returns a decoder keyed by canonical names.
func newDecoder(cr *csv.Reader, schema Schema) (*csvutil.Decoder, *Header, error) {
	raw, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil, eris.Wrap(ErrMissingColumn, "measurement: empty file")
		}
		return nil, nil, eris.Wrap(err, "measurement: read header")
	}
	header, err := schema.Canonicalize(raw)
	if err != nil {
		return nil, header, err
	}
	dec, err := csvutil.NewDecoder(cr, header.Names...)
	if err != nil {
		return nil, header, eris.Wrap(err, "measurement: decoder")
	}
	return dec, header, nil
}

// isMalformed reports whether err is a record the CSV layer could not split.
func isMalformed(err error) bool {
	var parseErr *csv.ParseError
	return errors.Is(err, csvutil.ErrFieldCount) || errors.As(err, &parseErr)
}
