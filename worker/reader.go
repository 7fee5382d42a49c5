package worker

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"

	"github.com/andys/listimport/mapper"
)

// CSVOptions controls how the source file is decoded
type CSVOptions struct {
	Encoding  string // utf-8 (default), windows-1251, windows-1252, iso-8859-1
	Delimiter rune   // Defaults to ','
}

// CSVReader reads source rows lazily from a delimited file
type CSVReader struct {
	file    *os.File
	reader  *csv.Reader
	columns []string
	header  mapper.Header
	rowNo   int64
}

// OpenCSV opens a source file and reads its header line
func OpenCSV(path string, opts CSVOptions) (*CSVReader, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("source file not found: %w", err)
		}
		return nil, fmt.Errorf("failed to open source file: %w", err)
	}

	dec, err := decoderFor(opts.Encoding)
	if err != nil {
		file.Close()
		return nil, err
	}
	var in io.Reader = file
	if dec != nil {
		in = dec.Reader(file)
	}

	csvReader := csv.NewReader(in)
	if opts.Delimiter != 0 {
		csvReader.Comma = opts.Delimiter
	}
	csvReader.LazyQuotes = true
	csvReader.FieldsPerRecord = -1

	columns, err := csvReader.Read()
	if err != nil {
		file.Close()
		if err == io.EOF {
			return nil, fmt.Errorf("source file %s is empty", path)
		}
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	if len(columns) > 0 {
		columns[0] = strings.TrimPrefix(columns[0], "\ufeff")
	}
	for i := range columns {
		columns[i] = strings.TrimSpace(columns[i])
	}

	return &CSVReader{
		file:    file,
		reader:  csvReader,
		columns: columns,
		header:  mapper.NewHeader(columns),
	}, nil
}

func decoderFor(name string) (*encoding.Decoder, error) {
	switch strings.ToLower(name) {
	case "", "utf-8", "utf8":
		return nil, nil
	case "windows-1251", "cp1251":
		return charmap.Windows1251.NewDecoder(), nil
	case "windows-1252", "cp1252":
		return charmap.Windows1252.NewDecoder(), nil
	case "iso-8859-1", "latin1":
		return charmap.ISO8859_1.NewDecoder(), nil
	default:
		return nil, fmt.Errorf("unsupported encoding: %s", name)
	}
}

// Columns returns the header names of the source file
func (r *CSVReader) Columns() []string {
	return r.columns
}

// Next returns the next data row, or io.EOF at the end of the file
func (r *CSVReader) Next() (mapper.Row, error) {
	record, err := r.reader.Read()
	if err == io.EOF {
		return mapper.Row{}, io.EOF
	}
	if err != nil {
		return mapper.Row{}, fmt.Errorf("csv read error after row %d: %w", r.rowNo, err)
	}

	r.rowNo++
	return mapper.Row{
		No:     r.rowNo,
		Header: r.header,
		Values: record,
	}, nil
}

// Close closes the underlying file
func (r *CSVReader) Close() error {
	if r.file != nil {
		return r.file.Close()
	}
	return nil
}
