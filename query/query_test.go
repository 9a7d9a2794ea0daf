package query

import (
	"errors"
	"strings"
	"testing"

	"github.com/aluiziolira/go-bookfind/models"
	"github.com/aluiziolira/go-bookfind/parser"
	"github.com/stretchr/testify/require"
)

func validSpec() models.QuerySpec {
	return models.QuerySpec{
		Identifier: models.BookIdentifier{
			Raw:    "978-0-14-044913-6",
			Digits: "9780140449136",
			Format: models.FormatISBN13,
			Valid:  true,
		},
		Currency:    "usd",
		Destination: "us",
		Condition:   models.ConditionUsed,
	}
}

func TestBuild(t *testing.T) {
	req, err := Build("https://www.bookfinder.com", validSpec())
	require.NoError(t, err)
	require.Equal(t, "GET", req.Method)
	require.Equal(t, "www.bookfinder.com", req.URL.Host)
	require.Equal(t, "/search/", req.URL.Path)

	q := req.URL.Query()
	require.Equal(t, "9780140449136", q.Get("keywords"))
	require.Equal(t, "USD", q.Get("currency"))
	require.Equal(t, "us", q.Get("destination"))
	require.Equal(t, "U", q.Get("new_used"))
	require.Equal(t, "en", q.Get("lang"))
	require.True(t, q.Has("submit"))
	require.Equal(t,
		"https://www.bookfinder.com/search/?ac=qr&currency=USD&destination=us&keywords=9780140449136&lang=en&new_used=U&st=sh&submit=",
		req.String(),
	)
}

func TestBuildKeepsBasePath(t *testing.T) {
	spec := validSpec()
	spec.Condition = models.ConditionNew
	req, err := Build("http://example.test/mirror/", spec)
	require.NoError(t, err)
	require.Equal(t, "/mirror/search/", req.URL.Path)
	require.Equal(t, "N", req.URL.Query().Get("new_used"))
}

func TestBuildRejectsMalformedOptions(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*models.QuerySpec)
		option string
	}{
		{name: "two letter currency", mutate: func(s *models.QuerySpec) { s.Currency = "EU" }, option: "currency"},
		{name: "numeric currency", mutate: func(s *models.QuerySpec) { s.Currency = "978" }, option: "currency"},
		{name: "unknown currency", mutate: func(s *models.QuerySpec) { s.Currency = "ABC" }, option: "currency"},
		{name: "three letter destination", mutate: func(s *models.QuerySpec) { s.Destination = "FRA" }, option: "destination"},
		{name: "digit destination", mutate: func(s *models.QuerySpec) { s.Destination = "F1" }, option: "destination"},
		{name: "empty destination", mutate: func(s *models.QuerySpec) { s.Destination = "" }, option: "destination"},
		{name: "bad condition", mutate: func(s *models.QuerySpec) { s.Condition = "any" }, option: "condition"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := validSpec()
			tt.mutate(&spec)
			_, err := Build("https://www.bookfinder.com", spec)
			require.Error(t, err)
			require.True(t, errors.Is(err, ErrUnsupportedOption), "error %v should match ErrUnsupportedOption", err)

			var optErr *UnsupportedOptionError
			require.True(t, errors.As(err, &optErr))
			require.Equal(t, tt.option, optErr.Option)
		})
	}
}

func TestBuildRejectsInvalidIdentifier(t *testing.T) {
	spec := validSpec()
	spec.Identifier.Valid = false
	_, err := Build("https://www.bookfinder.com", spec)
	require.ErrorIs(t, err, parser.ErrInvalidIdentifier)
	require.False(t, errors.Is(err, ErrUnsupportedOption))

	var idErr *parser.InvalidIdentifierError
	require.True(t, errors.As(err, &idErr))
	require.Equal(t, "978-0-14-044913-6", idErr.Input)
}

func TestBuildSearchPath(t *testing.T) {
	tests := []struct {
		base string
		want string
	}{
		{base: "https://www.bookfinder.com", want: "/search/"},
		{base: "https://www.bookfinder.com/", want: "/search/"},
		{base: "http://example.test/mirror", want: "/mirror/search/"},
		{base: "http://example.test/mirror/", want: "/mirror/search/"},
	}

	for _, tt := range tests {
		t.Run(tt.base, func(t *testing.T) {
			req, err := Build(tt.base, validSpec())
			require.NoError(t, err)
			require.Equal(t, tt.want, req.URL.Path)
			require.True(t, strings.HasPrefix(req.String(), strings.TrimSuffix(tt.base, "/")+tt.want+"?"), req.String())
		})
	}
}

func TestBuildRejectsBaseURLWithoutHost(t *testing.T) {
	_, err := Build("/relative", validSpec())
	require.ErrorIs(t, err, ErrUnsupportedOption)
}

func TestCheckCurrencyNormalizesCase(t *testing.T) {
	code, err := CheckCurrency(" eur ")
	require.NoError(t, err)
	require.Equal(t, "EUR", code)
}

func TestCheckDestinationNormalizesCase(t *testing.T) {
	code, err := CheckDestination("fr")
	require.NoError(t, err)
	require.Equal(t, "FR", code)
}
