package pipeline

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aluiziolira/go-bookfind/models"
)

// Header is the column order of delimited exports.
var Header = []string{"price", "currency", "condition", "seller", "shipping", "total"}

// CSVWriter writes offers as delimited rows. The file at path is replaced on
// Close and left alone on Discard.
type CSVWriter struct {
	path   string
	file   *stagedFile
	writer *csv.Writer
}

// NewCSVWriter stages filename and writes the header row. A zero delimiter
// means a comma.
func NewCSVWriter(filename string, delimiter rune) (*CSVWriter, error) {
	f, err := createStaged(filename)
	if err != nil {
		return nil, err
	}

	writer := csv.NewWriter(f)
	if delimiter != 0 {
		writer.Comma = delimiter
	}
	if err := writer.Write(Header); err != nil {
		f.Discard()
		return nil, &IOError{Op: "write header", Path: filename, Err: err}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		f.Discard()
		return nil, &IOError{Op: "flush header", Path: filename, Err: err}
	}

	return &CSVWriter{
		path:   filename,
		file:   f,
		writer: writer,
	}, nil
}

// Record renders one offer in Header order. Unknown shipping is left empty.
func Record(offer *models.Offer) []string {
	shipping := ""
	if offer.Shipping != nil {
		shipping = offer.Shipping.StringFixed(2)
	}
	return []string{
		offer.Price.StringFixed(2),
		offer.Currency,
		string(offer.Condition),
		offer.Seller,
		shipping,
		offer.Total.StringFixed(2),
	}
}

// Write appends offers to the delimited output.
func (cw *CSVWriter) Write(offers []*models.Offer) error {
	for _, offer := range offers {
		if err := cw.writer.Write(Record(offer)); err != nil {
			return &IOError{Op: "write record", Path: cw.path, Err: err}
		}
	}
	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		return &IOError{Op: "flush records", Path: cw.path, Err: err}
	}
	return nil
}

// Close flushes the rows and moves the file into place.
func (cw *CSVWriter) Close() error {
	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		cw.file.Discard()
		return &IOError{Op: "flush", Path: cw.path, Err: err}
	}
	return cw.file.Commit()
}

// Discard drops everything written so far.
func (cw *CSVWriter) Discard() error {
	return cw.file.Discard()
}

// Validate ensures the file holds at least the header.
func (cw *CSVWriter) Validate() error {
	info, err := os.Stat(cw.path)
	if err != nil {
		return &IOError{Op: "stat", Path: cw.path, Err: err}
	}
	if info.Size() <= 0 {
		return &IOError{Op: "validate", Path: cw.path, Err: fmt.Errorf("file is empty")}
	}
	return nil
}

// JSONWriter writes newline-delimited JSON records.
type JSONWriter struct {
	path    string
	file    *stagedFile
	writer  *bufio.Writer
	encoder *json.Encoder
}

// NewJSONWriter stages filename; Close replaces any existing file.
func NewJSONWriter(filename string) (*JSONWriter, error) {
	f, err := createStaged(filename)
	if err != nil {
		return nil, err
	}

	buffer := bufio.NewWriter(f)
	return &JSONWriter{
		path:    filename,
		file:    f,
		writer:  buffer,
		encoder: json.NewEncoder(buffer),
	}, nil
}

// Write appends offers in JSONL format.
func (jw *JSONWriter) Write(offers []*models.Offer) error {
	for _, offer := range offers {
		if err := jw.encoder.Encode(offer); err != nil {
			return &IOError{Op: "encode record", Path: jw.path, Err: err}
		}
	}

	if err := jw.writer.Flush(); err != nil {
		return &IOError{Op: "flush", Path: jw.path, Err: err}
	}
	return nil
}

// Close flushes buffers and moves the file into place.
func (jw *JSONWriter) Close() error {
	if err := jw.writer.Flush(); err != nil {
		jw.file.Discard()
		return &IOError{Op: "flush", Path: jw.path, Err: err}
	}
	return jw.file.Commit()
}

// Discard drops everything written so far.
func (jw *JSONWriter) Discard() error {
	return jw.file.Discard()
}

// Validate ensures the JSON file exists. An empty file means zero offers.
func (jw *JSONWriter) Validate() error {
	if _, err := os.Stat(jw.path); err != nil {
		return &IOError{Op: "stat", Path: jw.path, Err: err}
	}
	return nil
}

func ensureDir(filename string) error {
	dir := filepath.Dir(filename)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &IOError{Op: "create directory", Path: dir, Err: err}
	}
	return nil
}
