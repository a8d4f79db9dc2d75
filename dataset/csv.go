package dataset

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"

	scierrors "github.com/YuminosukeSato/exoml/pkg/errors"
)

// naTokens are read as missing values, the same set pandas uses by default
// for the catalog exports this project consumes.
var naTokens = map[string]struct{}{
	"": {}, "NA": {}, "N/A": {}, "n/a": {}, "NaN": {}, "nan": {}, "-NaN": {}, "-nan": {},
	"null": {}, "NULL": {}, "None": {}, "#N/A": {}, "<NA>": {},
}

// IsNA reports whether a raw cell is a missing-value token.
func IsNA(raw string) bool {
	_, ok := naTokens[strings.TrimSpace(raw)]
	return ok
}

// ReadOptions configures ReadCSV.
type ReadOptions struct {
	// Comma is the field delimiter. Zero means ','.
	Comma rune
}

// LoadTable reads a delimited file. Files ending in .tsv or .tab are read
// tab separated.
func LoadTable(path string) (*Frame, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer file.Close()

	opts := ReadOptions{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".tsv", ".tab":
		opts.Comma = '\t'
	}
	f, err := ReadCSV(file, opts)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	return f, nil
}

// ReadCSV parses a header row followed by data rows. Lines whose first
// non-blank character is '#' are skipped. A column is numeric when every
// non-missing cell parses as a float; otherwise it is categorical.
// Duplicate header names get ".1", ".2" suffixes.
func ReadCSV(r io.Reader, opts ReadOptions) (*Frame, error) {
	body, err := stripComments(r)
	if err != nil {
		return nil, err
	}

	reader := csv.NewReader(bytes.NewReader(body))
	if opts.Comma != 0 {
		reader.Comma = opts.Comma
	}
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, errors.Wrap(err, "parse csv")
	}
	if len(records) == 0 {
		return nil, scierrors.Wrap(scierrors.ErrEmptyData, "no header row")
	}

	header := dedupeHeader(records[0])
	rows := records[1:]
	raw := make([][]string, len(header))
	for j := range raw {
		raw[j] = make([]string, len(rows))
	}
	for i, rec := range rows {
		if len(rec) > len(header) {
			return nil, errors.Newf("line %d: expected %d fields, saw %d", i+2, len(header), len(rec))
		}
		for j := range header {
			if j < len(rec) {
				raw[j][i] = rec[j]
			}
		}
	}

	cols := make([]*Column, len(header))
	for j, name := range header {
		cols[j] = inferColumn(name, raw[j])
	}
	return NewFrame(cols...)
}

func stripComments(r io.Reader) ([]byte, error) {
	var buf bytes.Buffer
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") || trimmed == "" {
			continue
		}
		buf.WriteString(line)
		buf.WriteByte('\n')
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "read input")
	}
	return buf.Bytes(), nil
}

func dedupeHeader(header []string) []string {
	out := make([]string, len(header))
	seen := make(map[string]int, len(header))
	for i, h := range header {
		name := strings.TrimSpace(h)
		if n, ok := seen[name]; ok {
			seen[name] = n + 1
			name = name + "." + strconv.Itoa(n+1)
		} else {
			seen[name] = 0
		}
		out[i] = name
	}
	return out
}

func inferColumn(name string, cells []string) *Column {
	floats := make([]float64, len(cells))
	numeric := true
	for i, cell := range cells {
		if IsNA(cell) {
			floats[i] = nan
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(cell), 64)
		if err != nil {
			numeric = false
			break
		}
		floats[i] = v
	}
	if numeric {
		return NewNumeric(name, floats)
	}

	values := make([]string, len(cells))
	valid := make([]bool, len(cells))
	for i, cell := range cells {
		if IsNA(cell) {
			continue
		}
		values[i] = cell
		valid[i] = true
	}
	return NewCategorical(name, values, valid)
}

// WriteCSV writes the frame with a header row. Missing values are written
// as empty fields.
func (f *Frame) WriteCSV(w io.Writer) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(f.Names()); err != nil {
		return errors.Wrap(err, "write header")
	}
	record := make([]string, f.NCols())
	for i := 0; i < f.nrows; i++ {
		for j, c := range f.cols {
			record[j] = c.StringAt(i)
		}
		if err := writer.Write(record); err != nil {
			return errors.Wrapf(err, "write row %d", i)
		}
	}
	writer.Flush()
	return errors.Wrap(writer.Error(), "flush csv")
}

// SaveCSV writes the frame to path.
func (f *Frame) SaveCSV(path string) error {
	file, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create %s", path)
	}
	if err := f.WriteCSV(file); err != nil {
		file.Close()
		return err
	}
	return errors.Wrapf(file.Close(), "close %s", path)
}
