package normalizer

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/licitaciones/platform/pkg/common/logger"
	"github.com/licitaciones/platform/pkg/common/models"
)

// CSVNormalizer reads tabular open-data exports. The delimiter is sniffed
// from the header line and headers are matched through fieldAliases.
type CSVNormalizer struct {
	transformer *Transformer
}

func NewCSV(opts Options) *CSVNormalizer {
	return &CSVNormalizer{transformer: NewTransformer(opts.Vocabulary, opts.location())}
}

func (n *CSVNormalizer) Family() string { return FamilyCSV }

func (n *CSVNormalizer) Normalize(a Artifact, content []byte) (Result, error) {
	rows := newRowReader(content, sniffDelimiter(content))

	header, _, err := rows.next()
	if errors.Is(err, io.EOF) {
		return Result{}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("%s: reading header: %w", a.Name, err)
	}
	keys := make([]string, len(header))
	for i, h := range header {
		keys[i] = columnKey(h)
	}

	var res Result
	for {
		row, line, err := rows.next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if !errors.As(err, &parseErr) {
				return res, fmt.Errorf("%s: %w", a.Name, err)
			}
			res.Failures++
			logger.WithSource(a.Source).WithError(err).WithField("artifact", a.Name).Debug("skipping malformed row")
			continue
		}
		if blankRow(row) {
			continue
		}

		tender, err := n.fromRow(a, header, keys, row)
		if err != nil {
			res.Failures++
			logger.WithSource(a.Source).WithError(err).WithField("artifact", a.Name).
				Debugf("skipping row at line %d", line)
			continue
		}
		res.Tenders = append(res.Tenders, tender)
	}
	return res, nil
}

func (n *CSVNormalizer) fromRow(a Artifact, header, keys, row []string) (*models.Tender, error) {
	if len(row) > len(header) {
		return nil, fmt.Errorf("row has %d fields, header has %d", len(row), len(header))
	}
	record := make(map[string]string, len(keys))
	original := make(map[string]string, len(header))
	for i, value := range row {
		if keys[i] == "" {
			continue
		}
		original[header[i]] = value
		if _, taken := record[keys[i]]; !taken {
			record[keys[i]] = value
		}
	}
	raw, err := json.Marshal(original)
	if err != nil {
		return nil, err
	}
	return n.transformer.Transform(a, record, raw)
}

// rowReader reads records with strict quoting. After a malformed record it
// restarts at the physical line following the one the record began on, so
// an unbalanced quote costs that row and not the rest of the file.
type rowReader struct {
	content []byte
	comma   rune
	reader  *csv.Reader
	offset  int // byte offset the current reader starts at
	base    int // physical lines before offset
}

func newRowReader(content []byte, comma rune) *rowReader {
	r := &rowReader{content: content, comma: comma}
	r.restart(0, 0)
	return r
}

func (r *rowReader) restart(offset, base int) {
	r.offset, r.base = offset, base
	r.reader = csv.NewReader(bytes.NewReader(r.content[offset:]))
	r.reader.Comma = r.comma
	r.reader.FieldsPerRecord = -1
	r.reader.TrimLeadingSpace = true
}

// next returns the next record and the physical line it starts on.
func (r *rowReader) next() ([]string, int, error) {
	row, err := r.reader.Read()
	if err == nil {
		line, _ := r.reader.FieldPos(0)
		return row, r.base + line, nil
	}
	var parseErr *csv.ParseError
	if !errors.As(err, &parseErr) {
		return nil, 0, err
	}

	base := r.base
	startLine := base + parseErr.StartLine
	start, end := r.lineBounds(parseErr.StartLine)
	r.restart(end, startLine)

	// A stray quote inside an unquoted field is literal text; reading the
	// single line leniently keeps such rows.
	if errors.Is(parseErr.Err, csv.ErrBareQuote) {
		if row, ok := r.lenientLine(start, end); ok {
			return row, startLine, nil
		}
	}
	parseErr.StartLine = startLine
	parseErr.Line += base
	return nil, startLine, parseErr
}

// lineBounds locates physical line n (1-based) of the current reader's input
// and returns its absolute byte range, newline included.
func (r *rowReader) lineBounds(n int) (int, int) {
	start := r.offset
	for i := 1; i < n && start < len(r.content); i++ {
		j := bytes.IndexByte(r.content[start:], '\n')
		if j < 0 {
			start = len(r.content)
			break
		}
		start += j + 1
	}
	end := len(r.content)
	if j := bytes.IndexByte(r.content[start:], '\n'); j >= 0 {
		end = start + j + 1
	}
	return start, end
}

func (r *rowReader) lenientLine(start, end int) ([]string, bool) {
	reader := csv.NewReader(bytes.NewReader(r.content[start:end]))
	reader.Comma = r.comma
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.LazyQuotes = true
	row, err := reader.Read()
	return row, err == nil
}

func sniffDelimiter(content []byte) rune {
	line := content
	if i := bytes.IndexByte(content, '\n'); i >= 0 {
		line = content[:i]
	}
	best, bestCount := ',', bytes.Count(line, []byte{','})
	for _, candidate := range []rune{';', '\t', '|'} {
		if c := bytes.Count(line, []byte(string(candidate))); c > bestCount {
			best, bestCount = candidate, c
		}
	}
	return best
}

func blankRow(row []string) bool {
	for _, v := range row {
		if cleanText(v) != "" {
			return false
		}
	}
	return true
}
