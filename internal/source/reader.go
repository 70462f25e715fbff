package source

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Reader streams the records of one source file; the first is the header.
// Next returns io.EOF after the last record. A returned record is only
// valid until the following call.
type Reader interface {
	Next() ([]string, error)
	Close() error
}

// Options tune how a file is read
type Options struct {
	Delimiter rune   // delimited text only
	Sheet     string // xlsx only, default = first sheet
}

// Open picks a reader by file extension
func Open(path string, opts Options) (Reader, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		return openXLSX(path, opts.Sheet)
	default:
		return openDelimited(path, opts.Delimiter)
	}
}

type delimitedReader struct {
	f *os.File
	r *csv.Reader
}

func openDelimited(path string, delimiter rune) (*delimitedReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	if delimiter == 0 {
		delimiter = ','
	}
	if strings.EqualFold(filepath.Ext(path), ".tsv") {
		delimiter = '\t'
	}

	r := csv.NewReader(bufio.NewReaderSize(f, 64*1024))
	r.Comma = delimiter
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.ReuseRecord = true

	return &delimitedReader{f: f, r: r}, nil
}

func (d *delimitedReader) Next() ([]string, error) {
	rec, err := d.r.Read()
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read record: %w", err)
	}
	return rec, err
}

func (d *delimitedReader) Close() error {
	return d.f.Close()
}

type xlsxReader struct {
	f    *excelize.File
	rows *excelize.Rows
}

func openXLSX(path, sheet string) (*xlsxReader, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}

	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			f.Close()
			return nil, fmt.Errorf("workbook has no sheets")
		}
		sheet = sheets[0]
	}

	rows, err := f.Rows(sheet)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("sheet %q: %w", sheet, err)
	}

	return &xlsxReader{f: f, rows: rows}, nil
}

func (x *xlsxReader) Next() ([]string, error) {
	for x.rows.Next() {
		cols, err := x.rows.Columns()
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		// fully empty spreadsheet rows carry nothing
		if len(cols) == 0 {
			continue
		}
		return cols, nil
	}
	if err := x.rows.Error(); err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	return nil, io.EOF
}

func (x *xlsxReader) Close() error {
	rerr := x.rows.Close()
	ferr := x.f.Close()
	if rerr != nil {
		return rerr
	}
	return ferr
}
