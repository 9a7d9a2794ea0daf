// Package extract turns the aggregator's results page into offers by walking
// the markup as a flat token stream.
package extract

import (
	"errors"
	"io"
	"iter"
	"strings"

	"github.com/aluiziolira/go-bookfind/models"
	"github.com/aluiziolira/go-bookfind/parser"
	"golang.org/x/net/html"
)

// Extractor is the only component that knows the page markup.
type Extractor interface {
	Extract(r io.Reader) *Scan
}

// Skip describes a row that was dropped because it could not be parsed.
type Skip struct {
	Row    int
	Reason string
	Err    error
}

// HTMLExtractor scans pages laid out according to Layout.
type HTMLExtractor struct {
	Layout Layout
	// Currency labels offers whose row does not name one.
	Currency string
	// OnSkip, when set, is called for every dropped row.
	OnSkip func(Skip)
}

var _ Extractor = (*HTMLExtractor)(nil)

// New returns an extractor for the current page layout.
func New(currency string) *HTMLExtractor {
	return &HTMLExtractor{Layout: LayoutV1, Currency: currency}
}

// Extract prepares a scan over r. Nothing is read until Offers is ranged over.
func (x *HTMLExtractor) Extract(r io.Reader) *Scan {
	return &Scan{
		z:        html.NewTokenizer(r),
		layout:   x.Layout,
		currency: x.Currency,
		onSkip:   x.OnSkip,
	}
}

type field int

const (
	fieldNone field = iota
	fieldTitle
	fieldPublisher
	fieldEdition
	fieldLanguage
	fieldSection
	fieldPrice
	fieldSeller
	fieldShipping
	fieldNote
)

// capture collects the text of one element, nested same-name tags included.
type capture struct {
	field  field
	tag    string
	depth  int
	chunks []string
}

type row struct {
	index     int
	tag       string
	depth     int
	dataPrice string
	date      string
	currency  string
	condition string
	url       string
	price     string
	seller    string
	shipping  string
	notes     []string
}

type section struct {
	ordinal   int
	condition models.Condition
}

// Scan is a single pass over one response body. Like bufio.Scanner it cannot
// be rewound: ranging over Offers a second time yields nothing.
type Scan struct {
	z        *html.Tokenizer
	layout   Layout
	currency string
	onSkip   func(Skip)

	started bool
	done    bool
	err     error

	details     models.BookDetails
	detailCount int
	section     section
	capture     *capture
	row         *row

	rows    int
	ignored int
	skipped int
	emitted int
}

// Offers yields well-formed offers in document order.
func (s *Scan) Offers() iter.Seq[models.Offer] {
	return func(yield func(models.Offer) bool) {
		if s.started {
			return
		}
		s.started = true
		s.run(yield)
	}
}

// Details returns the bibliographic header seen so far.
func (s *Scan) Details() models.BookDetails { return s.details }

// Rows is the number of offer rows encountered.
func (s *Scan) Rows() int { return s.rows }

// Skipped is the number of rows dropped as unparsable.
func (s *Scan) Skipped() int { return s.skipped }

// Ignored is the number of rows outside a new or used section.
func (s *Scan) Ignored() int { return s.ignored }

// Emitted is the number of offers yielded.
func (s *Scan) Emitted() int { return s.emitted }

// Done reports whether the whole document has been consumed.
func (s *Scan) Done() bool { return s.done }

// Err returns the first read error other than io.EOF.
func (s *Scan) Err() error { return s.err }

func (s *Scan) run(yield func(models.Offer) bool) {
	for {
		switch s.z.Next() {
		case html.ErrorToken:
			if err := s.z.Err(); !errors.Is(err, io.EOF) {
				s.err = err
			}
			s.done = true
			s.finishRow(yield)
			return
		case html.StartTagToken:
			if !s.startTag(false, yield) {
				return
			}
		case html.SelfClosingTagToken:
			if !s.startTag(true, yield) {
				return
			}
		case html.EndTagToken:
			name, _ := s.z.TagName()
			if !s.endTag(string(name), yield) {
				return
			}
		case html.TextToken:
			if s.capture != nil {
				s.capture.chunks = append(s.capture.chunks, string(s.z.Text()))
			}
		}
	}
}

// startTag returns false once the consumer has stopped.
func (s *Scan) startTag(selfClosing bool, yield func(models.Offer) bool) bool {
	rawName, hasAttr := s.z.TagName()
	name := string(rawName)
	attrs := readAttrs(s.z, hasAttr)

	if _, ok := attrs[s.layout.RowAttr]; ok && !selfClosing {
		if !s.finishRow(yield) {
			return false
		}
		s.endCapture()
		s.rows++
		s.row = &row{
			index:     s.rows,
			tag:       name,
			depth:     1,
			dataPrice: attrs[s.layout.RowAttr],
			date:      attrs[s.layout.DateAttr],
			currency:  attrs[s.layout.CurrencyAttr],
			condition: attrs[s.layout.ConditionAttr],
		}
		return true
	}

	if s.row != nil && name == s.row.tag && !selfClosing {
		s.row.depth++
	}

	if c := s.capture; c != nil {
		if name == "br" {
			c.chunks = append(c.chunks, "\n")
		}
		if name == "a" {
			switch c.field {
			case fieldNote:
				// links inside notes are advertising, not description
				s.endCapture()
				return true
			case fieldPrice:
				if s.row != nil && s.row.url == "" {
					s.row.url = parser.SellerURL(attrs["href"])
				}
			}
		}
		if name == c.tag && !selfClosing {
			c.depth++
		}
		return true
	}

	classes := strings.Fields(attrs["class"])
	if selfClosing || voidElements[name] {
		// empty markers carry no text but may still open a section
		if hasClass(classes, s.layout.SectionClass) {
			s.nextSection()
			s.labelSection(attrs["alt"])
		}
		return true
	}

	switch {
	case attrs["id"] == s.layout.TitleID && s.layout.TitleID != "":
		s.beginCapture(fieldTitle, name)
	case hasClass(classes, s.layout.DetailClass):
		s.detailCount++
		switch s.detailCount {
		case 1:
			s.beginCapture(fieldPublisher, name)
		case 2:
			s.beginCapture(fieldEdition, name)
		case 3:
			s.beginCapture(fieldLanguage, name)
		}
	case hasClass(classes, s.layout.SectionClass):
		s.nextSection()
		s.beginCapture(fieldSection, name)
	case s.row != nil && hasClass(classes, s.layout.PriceClass):
		if name == "a" && s.row.url == "" {
			s.row.url = parser.SellerURL(attrs["href"])
		}
		s.beginCapture(fieldPrice, name)
	case s.row != nil && hasClass(classes, s.layout.SellerClass):
		s.beginCapture(fieldSeller, name)
	case s.row != nil && hasClass(classes, s.layout.ShippingClass):
		s.beginCapture(fieldShipping, name)
	case s.row != nil && hasClass(classes, s.layout.NoteClass):
		s.beginCapture(fieldNote, name)
	}
	return true
}

func (s *Scan) endTag(name string, yield func(models.Offer) bool) bool {
	if c := s.capture; c != nil && name == c.tag {
		c.depth--
		if c.depth == 0 {
			s.endCapture()
		}
	}
	if s.row == nil {
		return true
	}
	if name == s.row.tag {
		s.row.depth--
		if s.row.depth == 0 {
			return s.finishRow(yield)
		}
		return true
	}
	if name == "table" {
		return s.finishRow(yield)
	}
	return true
}

// nextSection moves to the following results table. The first one lists new
// copies and the second used ones unless a label says otherwise.
func (s *Scan) nextSection() {
	s.section.ordinal++
	switch s.section.ordinal {
	case 1:
		s.section.condition = models.ConditionNew
	case 2:
		s.section.condition = models.ConditionUsed
	default:
		s.section.condition = ""
	}
}

func (s *Scan) labelSection(label string) {
	label = strings.ToLower(label)
	switch {
	case strings.Contains(label, "used"):
		s.section.condition = models.ConditionUsed
	case strings.Contains(label, "new"):
		s.section.condition = models.ConditionNew
	}
}

func (s *Scan) beginCapture(f field, tag string) {
	s.capture = &capture{field: f, tag: tag, depth: 1}
}

func (s *Scan) endCapture() {
	c := s.capture
	if c == nil {
		return
	}
	s.capture = nil
	joined := strings.Join(c.chunks, "")
	text := parser.NormalizeText(joined)

	switch c.field {
	case fieldTitle:
		if s.details.Title == "" {
			s.details.Title = text
		}
	case fieldPublisher:
		s.details.Publisher = text
	case fieldEdition:
		s.details.Edition = text
	case fieldLanguage:
		s.details.Language = text
	case fieldSection:
		s.labelSection(text)
	}

	if s.row == nil {
		return
	}
	switch c.field {
	case fieldPrice:
		s.row.price = text
	case fieldSeller:
		s.row.seller = text
	case fieldShipping:
		s.row.shipping = text
	case fieldNote:
		for _, line := range strings.Split(joined, "\n") {
			if line = parser.NormalizeText(line); line != "" {
				s.row.notes = append(s.row.notes, line)
			}
		}
	}
}

// finishRow turns the open row, if any, into an offer. It returns false once
// the consumer has stopped.
func (s *Scan) finishRow(yield func(models.Offer) bool) bool {
	if s.capture != nil && s.row != nil {
		s.endCapture()
	}
	r := s.row
	if r == nil {
		return true
	}
	s.row = nil

	offer, ok := s.buildOffer(r)
	if !ok {
		return true
	}
	s.emitted++
	return yield(offer)
}

func (s *Scan) buildOffer(r *row) (models.Offer, bool) {
	condition := s.section.condition
	if c, err := models.ParseCondition(r.condition); err == nil {
		condition = c
	}
	if condition == "" {
		s.ignored++
		return models.Offer{}, false
	}

	priceText := r.price
	if priceText == "" {
		priceText = r.dataPrice
	}
	price, err := parser.ParsePrice(priceText)
	if err != nil {
		s.skip(r, "unparsable price", err)
		return models.Offer{}, false
	}

	currency := strings.ToUpper(strings.TrimSpace(r.currency))
	if currency == "" {
		currency = s.currency
	}

	offer := models.Offer{
		Price:         price,
		Currency:      currency,
		Condition:     condition,
		Seller:        r.seller,
		Total:         price,
		URL:           r.url,
		PublishedDate: strings.TrimSpace(r.date),
		Description:   r.notes,
	}
	if shipping, ok := parser.ParseShipping(r.shipping); ok {
		offer.Shipping = &shipping
		offer.Total = price.Add(shipping)
	}
	return offer, true
}

func (s *Scan) skip(r *row, reason string, err error) {
	s.skipped++
	if s.onSkip != nil {
		s.onSkip(Skip{Row: r.index, Reason: reason, Err: err})
	}
}

func readAttrs(z *html.Tokenizer, hasAttr bool) map[string]string {
	attrs := make(map[string]string)
	for hasAttr {
		var key, val []byte
		key, val, hasAttr = z.TagAttr()
		attrs[string(key)] = string(val)
	}
	return attrs
}

// voidElements never have content or an end tag, with or without "/>".
var voidElements = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true,
	"hr": true, "img": true, "input": true, "link": true, "meta": true,
	"source": true, "track": true, "wbr": true,
}

func hasClass(classes []string, want string) bool {
	if want == "" {
		return false
	}
	for _, c := range classes {
		if c == want {
			return true
		}
	}
	return false
}
