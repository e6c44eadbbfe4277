// Package csv reads tabular datasets from CSV files.
package csv

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/odkit/odkit/pkg/dataset"
)

const streamBuffer = 100

// Reader reads numeric rows from a CSV file. Rows that fail to parse as
// floats are skipped and counted rather than aborting the read.
type Reader struct {
	file      *os.File
	reader    *csv.Reader
	hasHeader bool
	headers   []string
	skipped   int
}

var _ dataset.Reader = (*Reader)(nil)

// Option configures a Reader.
type Option func(*Reader)

// WithHeader indicates whether the file starts with a header row.
// The default assumes it does.
func WithHeader(has bool) Option {
	return func(r *Reader) { r.hasHeader = has }
}

// Open creates a Reader for the given file.
func Open(filename string, opts ...Option) (*Reader, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}

	r := &Reader{
		file:      file,
		reader:    csv.NewReader(file),
		hasHeader: true,
	}
	for _, opt := range opts {
		opt(r)
	}

	if r.hasHeader {
		headers, err := r.reader.Read()
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("read csv header: %w", err)
		}
		r.headers = headers
	}

	return r, nil
}

// Headers returns the column headers, nil when the file has none.
func (r *Reader) Headers() []string { return r.headers }

// Skipped returns the number of rows dropped because they failed to parse.
func (r *Reader) Skipped() int { return r.skipped }

// Read consumes the remaining rows and returns them as a matrix.
func (r *Reader) Read() ([][]float64, error) {
	var data [][]float64
	for {
		record, err := r.reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}

		row, err := parseRow(record)
		if err != nil {
			r.skipped++
			continue
		}
		data = append(data, row)
	}
	return data, nil
}

// Stream returns a channel of rows for incremental scoring. Malformed rows
// are skipped.
func (r *Reader) Stream(ctx context.Context) (<-chan []float64, error) {
	out := make(chan []float64, streamBuffer)

	go func() {
		defer close(out)
		for {
			record, err := r.reader.Read()
			if err != nil {
				return
			}

			row, err := parseRow(record)
			if err != nil {
				r.skipped++
				continue
			}

			select {
			case out <- row:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// Close releases the underlying file.
func (r *Reader) Close() error {
	if r.file != nil {
		return r.file.Close()
	}
	return nil
}

func parseRow(record []string) ([]float64, error) {
	if len(record) == 0 {
		return nil, errors.New("empty row")
	}

	row := make([]float64, len(record))
	for i, val := range record {
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return nil, err
		}
		row[i] = f
	}
	return row, nil
}
