package importer

import (
	"encoding/csv"
	"errors"
	"io"
	"strings"
)

// Reader yields the data rows of a tabular source after its header row.
// Next returns io.EOF once the source is exhausted.
type Reader interface {
	Header() []string
	Next() ([]string, error)
}

// CSVReader reads comma separated input. Rows keep whatever width they have
// so the importer can count and skip malformed ones.
type CSVReader struct {
	r      *csv.Reader
	header []string
}

func NewCSVReader(r io.Reader) (*CSVReader, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("file has no header row")
		}
		return nil, err
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	return &CSVReader{r: cr, header: header}, nil
}

func (c *CSVReader) Header() []string {
	return c.header
}

func (c *CSVReader) Next() ([]string, error) {
	return c.r.Read()
}

// SliceReader serves rows held in memory.
type SliceReader struct {
	header []string
	rows   [][]string
	pos    int
}

func NewSliceReader(header []string, rows [][]string) *SliceReader {
	return &SliceReader{header: header, rows: rows}
}

func (s *SliceReader) Header() []string {
	return s.header
}

func (s *SliceReader) Next() ([]string, error) {
	if s.pos >= len(s.rows) {
		return nil, io.EOF
	}
	row := s.rows[s.pos]
	s.pos++
	return row, nil
}
