package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aluiziolira/go-bookfind/parser"
	"github.com/aluiziolira/go-bookfind/pipeline"
	"github.com/aluiziolira/go-bookfind/query"
	"github.com/aluiziolira/go-bookfind/scraper"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/require"
)

type fakeSite struct {
	status int
	body   string
	calls  int
}

func (f *fakeSite) transport() *httpmock.MockTransport {
	transport := httpmock.NewMockTransport()
	transport.RegisterNoResponder(func(req *http.Request) (*http.Response, error) {
		f.calls++
		resp := httpmock.NewStringResponse(f.status, f.body)
		resp.Header.Set("Content-Type", "text/html; charset=utf-8")
		return resp, nil
	})
	return transport
}

func newFakeSite(t *testing.T) *fakeSite {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("..", "..", "extract", "testdata", "results.html"))
	require.NoError(t, err)
	return &fakeSite{status: http.StatusOK, body: string(data)}
}

func run(t *testing.T, site *fakeSite, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := execute(context.Background(), args, &stdout, &stderr, site.transport())
	return code, stdout.String(), stderr.String()
}

func TestExecuteWritesUsedOffersInDocumentOrder(t *testing.T) {
	site := newFakeSite(t)
	path := filepath.Join(t.TempDir(), "offers.csv")

	code, _, stderr := run(t, site, "-c", "USD", "-d", "US", "-u", "-l", "3", "-o", path, "9780140449136")
	require.Equal(t, exitOK, code, stderr)
	require.Equal(t, 1, site.calls)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)

	require.Len(t, records, 4)
	require.Equal(t, pipeline.Header, records[0])
	var sellers []string
	for _, record := range records[1:] {
		require.Equal(t, "used", record[2])
		require.Equal(t, "USD", record[1])
		sellers = append(sellers, record[3])
	}
	require.Equal(t, []string{"Alibris", "eBay", "Powell's"}, sellers)
	require.Equal(t, []string{"4.25", "USD", "used", "Alibris", "2.00", "6.25"}, records[1])
}

func TestExecuteRendersTable(t *testing.T) {
	site := newFakeSite(t)

	code, stdout, stderr := run(t, site, "--sort", "price", "9780140449136")
	require.Equal(t, exitOK, code, stderr)
	require.Contains(t, stdout, "AbeBooks")
	require.Contains(t, stdout, "Biblio")
	require.NotContains(t, stdout, "Alibris")
	require.Contains(t, stdout, "The Odyssey")
	require.Contains(t, stdout, "Penguin Classics")
	require.Less(t, strings.Index(stdout, "Biblio"), strings.Index(stdout, "AbeBooks"), "sorted by total")
	require.NotContains(t, stdout, `"level"`, "logs must stay off stdout")
}

func TestExecuteInvalidIdentifierIssuesNoRequest(t *testing.T) {
	site := newFakeSite(t)

	code, _, stderr := run(t, site, "123")
	require.Equal(t, exitInvalidIdentifier, code)
	require.Equal(t, 0, site.calls)
	require.True(t, strings.HasPrefix(stderr, "error: "), stderr)
}

func TestExecuteExitCodes(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name   string
		status int
		args   []string
		want   int
		calls  int
	}{
		{name: "help", args: []string{"--help"}, want: exitOK},
		{name: "version", args: []string{"-v"}, want: exitOK},
		{name: "unknown currency", args: []string{"-c", "ABC", "9780140449136"}, want: exitUnsupportedOption},
		{name: "bad destination", args: []string{"-d", "XYZ", "9780140449136"}, want: exitUnsupportedOption},
		{name: "unknown flag", args: []string{"--colour", "9780140449136"}, want: exitUnsupportedOption},
		{name: "new and used", args: []string{"-n", "-u", "9780140449136"}, want: exitUnsupportedOption},
		{name: "missing identifier", args: nil, want: exitUnsupportedOption},
		{name: "bad format", args: []string{"-f", "xml", "-o", filepath.Join(dir, "x"), "9780140449136"}, want: exitUnsupportedOption},
		{name: "server error", status: http.StatusInternalServerError, args: []string{"9780140449136"}, want: exitNetwork, calls: 1},
		{name: "not found", status: http.StatusNotFound, args: []string{"9780140449136"}, want: exitNetwork, calls: 1},
		{name: "output is a directory", args: []string{"-o", dir, "9780140449136"}, want: exitIO},
		{name: "zero results", args: []string{"0140449132"}, want: exitOK, calls: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			site := &fakeSite{status: http.StatusOK, body: "<html><body></body></html>"}
			if tt.status != 0 {
				site.status = tt.status
			}
			code, _, stderr := run(t, site, tt.args...)
			if code != tt.want {
				t.Fatalf("exit=%d, want %d (stderr=%q)", code, tt.want, stderr)
			}
			if site.calls != tt.calls {
				t.Fatalf("calls=%d, want %d", site.calls, tt.calls)
			}
		})
	}
}

func TestExecuteNetworkFailureKeepsExistingOutput(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "offers.csv")
	require.NoError(t, os.WriteFile(path, []byte("price\nearlier\n"), 0o644))

	site := &fakeSite{status: http.StatusInternalServerError}
	code, stdout, stderr := run(t, site, "-o", path, "9780140449136")
	require.Equal(t, exitNetwork, code, stderr)
	require.Equal(t, 1, site.calls)
	require.Empty(t, stdout)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "price\nearlier\n", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "no staging file may be left behind")
}

func TestExecuteNetworkFailurePrintsNoTable(t *testing.T) {
	site := &fakeSite{status: http.StatusBadGateway}

	code, stdout, stderr := run(t, site, "9780140449136")
	require.Equal(t, exitNetwork, code)
	require.NotContains(t, stdout, "No offers found.")
	require.Empty(t, stdout)
	require.Contains(t, stderr, "error: ")
}

func TestExecuteHelpAndVersionOutput(t *testing.T) {
	site := newFakeSite(t)

	_, stdout, _ := run(t, site, "-h")
	require.Contains(t, stdout, "--currency")
	require.Contains(t, stdout, "--used")

	_, stdout, _ = run(t, site, "--version")
	require.Contains(t, stdout, "bookfind version "+version)
}

func TestExecuteConfigPrecedence(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "bookfind.yaml")
	outPath := filepath.Join(dir, "offers.tsv")
	yaml := "currency: GBP\ndestination: GB\ncondition: used\nformat: tsv\nlimit: 1\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(yaml), 0o644))
	t.Setenv("BOOKFIND_CURRENCY", "USD")

	var captured []string
	transport := httpmock.NewMockTransport()
	transport.RegisterNoResponder(func(req *http.Request) (*http.Response, error) {
		captured = append(captured, req.URL.String())
		return httpmock.NewStringResponse(http.StatusOK, "<html></html>"), nil
	})

	var stdout, stderr bytes.Buffer
	code := execute(context.Background(), []string{"--config", cfgPath, "-d", "US", "-o", outPath, "9780140449136"}, &stdout, &stderr, transport)
	require.Equal(t, exitOK, code, stderr.String())

	require.Len(t, captured, 1)
	require.Contains(t, captured[0], "currency=USD")
	require.Contains(t, captured[0], "destination=us")
	require.Contains(t, captured[0], "new_used=U")

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(string(data), "price\tcurrency\t"), string(data))
}

func TestExecuteWritesMetricsFile(t *testing.T) {
	site := newFakeSite(t)
	metricsPath := filepath.Join(t.TempDir(), "bookfind.prom")

	code, _, stderr := run(t, site, "--metrics-file", metricsPath, "9780140449136")
	require.Equal(t, exitOK, code, stderr)

	data, err := os.ReadFile(metricsPath)
	require.NoError(t, err)
	require.Contains(t, string(data), "bookfind_offers_extracted_total")
	require.Contains(t, string(data), "bookfind_rows_skipped_total 1")
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "nil", err: nil, want: exitOK},
		{name: "identifier", err: &parser.InvalidIdentifierError{Input: "123", Reason: "too short"}, want: exitInvalidIdentifier},
		{name: "option", err: &query.UnsupportedOptionError{Option: "currency", Value: "ABC"}, want: exitUnsupportedOption},
		{name: "network", err: &scraper.NetworkError{URL: "https://x.test", Err: errors.New("boom")}, want: exitNetwork},
		{name: "io wrapped", err: errors.Join(errors.New("close"), &pipeline.IOError{Op: "close", Path: "x", Err: errors.New("full")}), want: exitIO},
		{name: "other", err: errors.New("boom"), want: exitUnexpected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCode(tt.err); got != tt.want {
				t.Fatalf("exitCode(%v)=%d, want %d", tt.err, got, tt.want)
			}
		})
	}
}
