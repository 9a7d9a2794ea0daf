package pipeline

import (
	"errors"
	"fmt"

	"github.com/aluiziolira/go-bookfind/models"
)

// MultiWriter fans every batch out to several writers in order.
type MultiWriter struct {
	writers []OutputWriter
}

// NewMultiWriter combines writers; Write stops at the first failure.
func NewMultiWriter(writers ...OutputWriter) *MultiWriter {
	return &MultiWriter{writers: writers}
}

// NewDualWriter writes CSV to csvFilename and JSONL to jsonFilename.
func NewDualWriter(csvFilename, jsonFilename string) (*MultiWriter, error) {
	csvWriter, err := NewCSVWriter(csvFilename, ',')
	if err != nil {
		return nil, fmt.Errorf("create CSV writer: %w", err)
	}

	jsonWriter, err := NewJSONWriter(jsonFilename)
	if err != nil {
		csvWriter.Discard()
		return nil, fmt.Errorf("create JSON writer: %w", err)
	}

	return NewMultiWriter(csvWriter, jsonWriter), nil
}

func (mw *MultiWriter) Write(offers []*models.Offer) error {
	for _, w := range mw.writers {
		if err := w.Write(offers); err != nil {
			return err
		}
	}
	return nil
}

// Close closes every writer, even after a failure.
func (mw *MultiWriter) Close() error {
	var errs []error
	for _, w := range mw.writers {
		errs = append(errs, w.Close())
	}
	return errors.Join(errs...)
}

// Discard drops the output of every writer.
func (mw *MultiWriter) Discard() error {
	var errs []error
	for _, w := range mw.writers {
		errs = append(errs, Discard(w))
	}
	return errors.Join(errs...)
}

func (mw *MultiWriter) Validate() error {
	var errs []error
	for _, w := range mw.writers {
		errs = append(errs, w.Validate())
	}
	return errors.Join(errs...)
}
