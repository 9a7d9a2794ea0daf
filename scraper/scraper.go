package scraper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"
	"unicode/utf8"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/aluiziolira/go-bookfind/config"
	"github.com/aluiziolira/go-bookfind/extract"
	"github.com/aluiziolira/go-bookfind/models"
	"github.com/aluiziolira/go-bookfind/pipeline"
	"github.com/aluiziolira/go-bookfind/query"
	"github.com/gocolly/colly/v2"
	"golang.org/x/text/encoding/charmap"
)

const acceptHeader = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"

// Scraper issues the single search request and streams the extracted offers
// into a pipeline.
type Scraper struct {
	cfg       *config.Config
	collector *colly.Collector
	transport http.RoundTripper
	extractor extract.Extractor
	Metrics   *Metrics
}

// Option customises a Scraper.
type Option func(*Scraper)

// WithTransport replaces the HTTP transport, typically with a mock in tests.
func WithTransport(rt http.RoundTripper) Option {
	return func(s *Scraper) {
		s.transport = rt
	}
}

// WithExtractor replaces the default page extractor.
func WithExtractor(x extract.Extractor) Option {
	return func(s *Scraper) {
		s.extractor = x
	}
}

// NewScraper builds a scraper instance configured from cfg.
func NewScraper(cfg *config.Config, opts ...Option) (*Scraper, error) {
	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("base url must include a host")
	}

	// colly.Async ignores its argument; the zero value is synchronous.
	collector := colly.NewCollector(
		colly.AllowedDomains(parsed.Hostname()),
		colly.UserAgent(cfg.UserAgent),
		colly.AllowURLRevisit(),
	)
	collector.SetRequestTimeout(cfg.Timeout)
	collector.IgnoreRobotsTxt = true

	s := &Scraper{
		cfg:       cfg,
		collector: collector,
		transport: cloudflarebp.AddCloudFlareByPass(&http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   cfg.Timeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:        10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		}),
		Metrics: NewMetrics(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Run fetches the results page for spec and hands the matching offers to p.
// The returned result is non-nil whenever the request was attempted.
func (s *Scraper) Run(ctx context.Context, spec models.QuerySpec, p *pipeline.Pipeline) (*models.SearchResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	req, err := query.Build(s.cfg.BaseURL, spec)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := &models.SearchResult{
		RequestURL: req.String(),
		StartTime:  time.Now(),
	}

	c := s.collector.Clone()
	c.WithTransport(&contextTransport{ctx: ctx, next: s.transport})

	var runErr error
	c.OnRequest(func(r *colly.Request) {
		r.Ctx.Put("start", time.Now())
		r.Headers.Set("Accept", acceptHeader)
		r.Headers.Set("Accept-Language", "en-US,en;q=0.9")
		s.Metrics.IncRequest("started")
		slog.Debug("search request", slog.String("url", r.URL.String()))
	})

	c.OnResponse(func(r *colly.Response) {
		s.observe(r)
		s.Metrics.IncRequest("completed")
		result.StatusCode = r.StatusCode
		runErr = s.consume(ctx, decodeBody(r.Body), spec, p, result)
	})

	c.OnError(func(r *colly.Response, err error) {
		s.observe(r)
		statusCode := 0
		if r != nil {
			statusCode = r.StatusCode
		}
		result.StatusCode = statusCode

		classified := classifyError(err, statusCode)
		category := errorTypeLabel(classified)
		s.Metrics.IncError(category)
		slog.Error("request error",
			slog.String("url", result.RequestURL),
			slog.Int("status", statusCode),
			slog.String("category", category),
			slog.Any("error", err),
		)
		runErr = &NetworkError{URL: result.RequestURL, StatusCode: statusCode, Err: classified}
	})

	visitErr := c.Visit(result.RequestURL)
	c.Wait()
	result.EndTime = time.Now()

	if ctxErr := ctx.Err(); ctxErr != nil {
		return result, ctxErr
	}
	if runErr != nil {
		return result, runErr
	}
	if visitErr != nil {
		return result, &NetworkError{URL: result.RequestURL, Err: visitErr}
	}
	return result, nil
}

func (s *Scraper) consume(ctx context.Context, body []byte, spec models.QuerySpec, p *pipeline.Pipeline, result *models.SearchResult) error {
	x := s.extractor
	if x == nil {
		html := extract.New(spec.Currency)
		html.OnSkip = func(skip extract.Skip) {
			s.Metrics.IncSkipped()
			slog.Debug("row skipped",
				slog.Int("row", skip.Row),
				slog.String("reason", skip.Reason),
				slog.Any("error", skip.Err),
			)
		}
		x = html
	}

	scan := x.Extract(bytes.NewReader(body))
	err := p.Consume(s.matching(ctx, scan.Offers(), spec.Condition, result))

	result.Details = scan.Details()
	result.Extracted = scan.Emitted()
	result.Skipped = scan.Skipped()
	result.Written = p.Written()

	if err != nil {
		return fmt.Errorf("consume offers: %w", err)
	}
	if err := scan.Err(); err != nil {
		return fmt.Errorf("extract offers: %w", err)
	}

	if !result.Details.Found() {
		slog.Warn("no book could be found", slog.String("isbn", spec.Identifier.Digits))
	}
	slog.Info("search finished",
		slog.Int("rows", scan.Rows()),
		slog.Int("extracted", result.Extracted),
		slog.Int("skipped", result.Skipped),
		slog.Int("filtered", result.Filtered),
		slog.Int("written", result.Written),
	)
	return nil
}

// matching drops offers of the other condition and stops when ctx is done.
func (s *Scraper) matching(ctx context.Context, offers iter.Seq[models.Offer], want models.Condition, result *models.SearchResult) iter.Seq[models.Offer] {
	return func(yield func(models.Offer) bool) {
		for offer := range offers {
			if ctx.Err() != nil {
				return
			}
			s.Metrics.IncOffers()
			if want != "" && offer.Condition != want {
				result.Filtered++
				continue
			}
			if !yield(offer) {
				return
			}
		}
	}
}

func (s *Scraper) observe(r *colly.Response) {
	if r == nil || r.Ctx == nil {
		return
	}
	if start, ok := r.Ctx.GetAny("start").(time.Time); ok {
		s.Metrics.ObserveDuration(time.Since(start))
	}
}

// decodeBody falls back to Windows-1252 when the page is not valid UTF-8.
// Bodies with a declared charset were already converted by colly.
func decodeBody(body []byte) []byte {
	if utf8.Valid(body) {
		return body
	}
	decoded, err := charmap.Windows1252.NewDecoder().Bytes(body)
	if err != nil {
		return body
	}
	return decoded
}

// contextTransport binds outgoing requests to the run's context so that
// cancellation aborts an in-flight fetch.
type contextTransport struct {
	ctx  context.Context
	next http.RoundTripper
}

func (t *contextTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.next.RoundTrip(req.WithContext(t.ctx))
}

func classifyError(err error, statusCode int) error {
	if err == nil && statusCode == 0 {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout{Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout{Err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ErrConnection{Err: err}
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return ErrConnection{Err: err}
	}

	if statusCode != 0 {
		wrapped := err
		if wrapped == nil {
			wrapped = fmt.Errorf("http status %d", statusCode)
		}
		switch statusCode {
		case http.StatusForbidden:
			return ErrForbidden{Err: wrapped}
		case http.StatusNotFound:
			return ErrNotFound{Err: wrapped}
		case http.StatusTooManyRequests:
			return ErrRateLimited{Err: wrapped}
		}
		if statusCode < 200 || statusCode >= 300 {
			return ErrHTTPStatus{StatusCode: statusCode, Err: wrapped}
		}
	}

	return err
}
