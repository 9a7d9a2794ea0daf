// Package pipeline applies the result limit and hands offers to the selected
// output writer.
package pipeline

import (
	"errors"
	"fmt"
	"iter"
	"sort"
	"strings"

	"github.com/aluiziolira/go-bookfind/config"
	"github.com/aluiziolira/go-bookfind/models"
	"github.com/aluiziolira/go-bookfind/parser"
	lru "github.com/hashicorp/golang-lru/v2"
)

var (
	// ErrPipelineClosed is returned when Consume is called after Close.
	ErrPipelineClosed = errors.New("pipeline: closed")
)

// OutputWriter defines the interface for data output.
type OutputWriter interface {
	Write(offers []*models.Offer) error
	Close() error
	Validate() error
}

// Discarder is implemented by writers that can abandon their output, leaving
// any earlier file in place.
type Discarder interface {
	Discard() error
}

// Discard abandons w's output after a failed run. Writers that cannot discard
// are closed instead.
func Discard(w OutputWriter) error {
	if d, ok := w.(Discarder); ok {
		return d.Discard()
	}
	return w.Close()
}

// Pipeline validates, de-duplicates, limits and batches offers on the
// caller's goroutine.
type Pipeline struct {
	writer      OutputWriter
	limit       int
	sortByPrice bool
	batchSize   int

	seen *lru.Cache[string, struct{}]

	metrics metrics
	closed  bool
}

// NewPipeline builds a pipeline writing to writer.
func NewPipeline(writer OutputWriter, cfg *config.Config) (*Pipeline, error) {
	dedupeSize := cfg.DedupeMaxSize
	if dedupeSize <= 0 {
		dedupeSize = 1024
	}
	seen, err := lru.New[string, struct{}](dedupeSize)
	if err != nil {
		return nil, fmt.Errorf("create dedupe cache: %w", err)
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 64
	}

	return &Pipeline{
		writer:      writer,
		limit:       cfg.Limit,
		sortByPrice: cfg.Sort == config.SortPrice,
		batchSize:   batchSize,
		seen:        seen,
		metrics:     newMetrics(),
	}, nil
}

// Consume drains offers into the writer. Without sorting it stops pulling
// from the sequence as soon as the limit is reached.
func (p *Pipeline) Consume(offers iter.Seq[models.Offer]) error {
	if p.closed {
		return ErrPipelineClosed
	}
	if p.sortByPrice {
		return p.consumeSorted(offers)
	}

	if p.full() {
		return nil
	}

	batch := make([]*models.Offer, 0, p.batchSize)
	for offer := range offers {
		prepared := p.prepare(offer)
		if prepared == nil {
			continue
		}
		batch = append(batch, prepared)
		p.metrics.addAccepted(1)
		if p.full() {
			break
		}
		if len(batch) >= p.batchSize {
			if err := p.flush(batch); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	return p.flush(batch)
}

func (p *Pipeline) consumeSorted(offers iter.Seq[models.Offer]) error {
	var all []*models.Offer
	for offer := range offers {
		if prepared := p.prepare(offer); prepared != nil {
			all = append(all, prepared)
		}
	}

	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Total.LessThan(all[j].Total)
	})
	if p.limit > 0 && len(all) > p.limit {
		p.metrics.addValidation("over_limit", len(all)-p.limit)
		all = all[:p.limit]
	}

	for start := 0; start < len(all); start += p.batchSize {
		end := min(start+p.batchSize, len(all))
		p.metrics.addAccepted(end - start)
		if err := p.flush(all[start:end]); err != nil {
			return err
		}
	}
	return nil
}

// Close prevents further submissions. The writer is closed by its owner.
func (p *Pipeline) Close() error {
	p.closed = true
	return nil
}

// Written is the number of offers handed to the writer.
func (p *Pipeline) Written() int {
	return int(p.metrics.written())
}

// GetMetrics returns a snapshot of the internal counters.
func (p *Pipeline) GetMetrics() map[string]interface{} {
	return p.metrics.snapshot()
}

func (p *Pipeline) full() bool {
	return p.limit > 0 && p.metrics.accepted() >= int64(p.limit)
}

func (p *Pipeline) flush(batch []*models.Offer) error {
	if len(batch) == 0 {
		return nil
	}
	if err := p.writer.Write(batch); err != nil {
		return fmt.Errorf("write batch: %w", err)
	}
	p.metrics.addWritten(len(batch))
	return nil
}

func (p *Pipeline) prepare(offer models.Offer) *models.Offer {
	if err := parser.ValidateOffer(&offer); err != nil {
		p.metrics.addValidation("invalid_record", 1)
		return nil
	}

	offer.Seller = parser.NormalizeText(offer.Seller)

	key := offerKey(&offer)
	if p.seen.Contains(key) {
		p.metrics.addValidation("duplicate_offer", 1)
		return nil
	}
	p.seen.Add(key, struct{}{})
	return &offer
}

// offerKey identifies a row by every listed field. Distinct offers may share
// a seller link, so the URL alone is not enough.
func offerKey(o *models.Offer) string {
	shipping := "-"
	if o.Shipping != nil {
		shipping = o.Shipping.String()
	}
	return strings.Join([]string{
		o.URL,
		o.Seller,
		string(o.Condition),
		o.Currency,
		o.Price.String(),
		shipping,
		o.PublishedDate,
		strings.Join(o.Description, "\x1f"),
	}, "\x1e")
}

type metrics struct {
	accept     int64
	write      int64
	validation map[string]int
}

func newMetrics() metrics {
	return metrics{
		validation: make(map[string]int),
	}
}

func (m *metrics) addAccepted(n int) { m.accept += int64(n) }

func (m *metrics) accepted() int64 { return m.accept }

func (m *metrics) addWritten(n int) { m.write += int64(n) }

func (m *metrics) written() int64 { return m.write }

func (m *metrics) addValidation(kind string, n int) {
	m.validation[kind] += n
}

func (m *metrics) snapshot() map[string]interface{} {
	copyValidation := make(map[string]int, len(m.validation))
	for k, v := range m.validation {
		copyValidation[k] = v
	}

	return map[string]interface{}{
		"processed_offers":  m.write,
		"validation_errors": copyValidation,
	}
}
