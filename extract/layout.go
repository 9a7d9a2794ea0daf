package extract

// Layout names every markup feature the extractor keys on. The aggregator
// controls this markup; when it changes, add a new Layout rather than editing
// the scan loop.
type Layout struct {
	Version string

	// SectionClass marks the header of a listing section. The first section
	// lists new copies, the second used ones, unless the header text says
	// otherwise.
	SectionClass string

	// RowAttr is carried by the opening tag of each offer row; the row ends
	// at the matching close tag.
	RowAttr       string
	DateAttr      string
	CurrencyAttr  string
	ConditionAttr string

	PriceClass    string
	SellerClass   string
	ShippingClass string
	NoteClass     string

	TitleID     string
	DetailClass string
}

// LayoutV1 matches the results page as of March 2022.
var LayoutV1 = Layout{
	Version:       "2022-03",
	SectionClass:  "results-table-Logo",
	RowAttr:       "data-price",
	DateAttr:      "data-pub_date",
	CurrencyAttr:  "data-currency",
	ConditionAttr: "data-condition",
	PriceClass:    "results-price",
	SellerClass:   "results-bookseller",
	ShippingClass: "results-shipping",
	NoteClass:     "item-note",
	TitleID:       "describe-isbn-title",
	DetailClass:   "describe-isbn",
}
