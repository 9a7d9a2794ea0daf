package pipeline

import (
	"fmt"
	"io"
	"strconv"

	"github.com/aluiziolira/go-bookfind/models"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// TableWriter buffers offers and renders them as a table on Close.
type TableWriter struct {
	out     io.Writer
	offers  []*models.Offer
	details models.BookDetails
}

// NewTableWriter renders to out, normally standard output.
func NewTableWriter(out io.Writer) *TableWriter {
	return &TableWriter{out: out}
}

// SetDetails attaches the bibliographic header printed below the offers.
func (tw *TableWriter) SetDetails(d models.BookDetails) {
	tw.details = d
}

// Write buffers offers until Close.
func (tw *TableWriter) Write(offers []*models.Offer) error {
	tw.offers = append(tw.offers, offers...)
	return nil
}

// Close renders the offers and the book details.
func (tw *TableWriter) Close() error {
	if len(tw.offers) == 0 {
		fmt.Fprintln(tw.out, "No offers found.")
	} else {
		t := newTable(tw.out)
		t.AppendHeader(table.Row{"#", "Total", "Price", "Shipping", "Condition", "Seller", "Published"})
		for i, offer := range tw.offers {
			shipping := "?"
			if offer.Shipping != nil {
				shipping = offer.Shipping.StringFixed(2)
			}
			t.AppendRow(table.Row{
				strconv.Itoa(i + 1),
				offer.Total.StringFixed(2) + " " + offer.Currency,
				offer.Price.StringFixed(2),
				shipping,
				string(offer.Condition),
				offer.Seller,
				offer.PublishedDate,
			})
		}
		t.SetColumnConfigs([]table.ColumnConfig{
			{Number: 2, Align: text.AlignRight},
			{Number: 3, Align: text.AlignRight},
			{Number: 4, Align: text.AlignRight},
		})
		t.AppendFooter(table.Row{"", fmt.Sprintf("%d offers", len(tw.offers))})
		t.Render()
	}

	if tw.details.Found() {
		d := newTable(tw.out)
		d.AppendRows([]table.Row{
			{"Title", tw.details.Title},
			{"Publisher", tw.details.Publisher},
			{"Edition", tw.details.Edition},
			{"Language", tw.details.Language},
		})
		d.Render()
	}
	return nil
}

// Discard drops the buffered offers without printing anything.
func (tw *TableWriter) Discard() error {
	tw.offers = nil
	return nil
}

// Validate is a no-op; the terminal has no file to check.
func (tw *TableWriter) Validate() error {
	return nil
}

func newTable(out io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(out)
	return t
}
