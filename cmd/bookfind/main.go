package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/aluiziolira/go-bookfind/config"
	"github.com/aluiziolira/go-bookfind/models"
	"github.com/aluiziolira/go-bookfind/parser"
	"github.com/aluiziolira/go-bookfind/pipeline"
	"github.com/aluiziolira/go-bookfind/query"
	"github.com/aluiziolira/go-bookfind/scraper"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var version = "dev"

// Exit codes.
const (
	exitOK                = 0
	exitUnexpected        = 1
	exitInvalidIdentifier = 2
	exitUnsupportedOption = 3
	exitNetwork           = 4
	exitIO                = 5
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], os.Stdout, os.Stderr, nil)
	stop()
	os.Exit(code)
}

type app struct {
	stdout    io.Writer
	stderr    io.Writer
	transport http.RoundTripper

	configPath string
	newOnly    bool
	usedOnly   bool
}

// execute runs the command line and returns the process exit code. A nil
// transport means the real network.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer, transport http.RoundTripper) int {
	a := &app{stdout: stdout, stderr: stderr, transport: transport}
	cmd := a.newRootCommand()
	if args == nil {
		args = []string{}
	}
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitCode(err)
	}
	return exitOK
}

func (a *app) newRootCommand() *cobra.Command {
	defaults := config.DefaultConfig()

	cmd := &cobra.Command{
		Use:   "bookfind [flags] <isbn>",
		Short: "Find the cheapest offers for a book on BookFinder",
		Long: "bookfind queries bookfinder.com for an SBN, ISBN-10 or ISBN-13 and lists the\n" +
			"offers for new or used copies in the requested currency.",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return &query.UnsupportedOptionError{
					Option: "arguments",
					Value:  strings.Join(args, " "),
					Err:    fmt.Errorf("expected exactly one identifier, got %d", len(args)),
				}
			}
			return nil
		},
		RunE: a.run,
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &query.UnsupportedOptionError{Option: "flag", Err: err}
	})

	flags := cmd.Flags()
	flags.SortFlags = false
	flags.StringP("currency", "c", defaults.Currency, "ISO 4217 currency for prices")
	flags.StringP("destination", "d", defaults.Destination, "ISO 3166 country the book ships to")
	flags.BoolVarP(&a.newOnly, "new", "n", false, "list new copies (default)")
	flags.BoolVarP(&a.usedOnly, "used", "u", false, "list used copies")
	flags.IntP("limit", "l", defaults.Limit, "maximum number of offers, 0 for all")
	flags.StringP("output", "o", defaults.OutputFile, "write offers to a file instead of a table on stdout")
	flags.StringP("format", "f", defaults.OutputFormat, "file format: csv, tsv, json, or dual")
	flags.String("sort", defaults.Sort, "offer order: source or price")
	flags.StringVar(&a.configPath, "config", "", "YAML configuration file")
	flags.Duration("timeout", defaults.Timeout, "request timeout")
	flags.String("base-url", defaults.BaseURL, "search site root")
	flags.String("metrics-file", defaults.MetricsFile, "write Prometheus metrics to this file on exit")
	flags.Bool("verbose", defaults.Verbose, "enable debug logging")

	return cmd
}

func (a *app) run(cmd *cobra.Command, args []string) error {
	id, err := parser.ParseIdentifier(args[0])
	if err != nil {
		return err
	}

	cfg, err := a.loadConfig(cmd.Flags())
	if err != nil {
		return err
	}

	logger, level := newLogger(a.stderr, cfg.Verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	if err := cfg.Validate(); err != nil {
		return err
	}
	spec, err := cfg.QuerySpec(id)
	if err != nil {
		return err
	}

	writer, err := a.createWriter(cfg)
	if err != nil {
		return err
	}

	p, err := pipeline.NewPipeline(writer, cfg)
	if err != nil {
		pipeline.Discard(writer)
		return err
	}

	var opts []scraper.Option
	if a.transport != nil {
		opts = append(opts, scraper.WithTransport(a.transport))
	}
	s, err := scraper.NewScraper(cfg, opts...)
	if err != nil {
		pipeline.Discard(writer)
		return err
	}

	slog.Info("searching",
		slog.String("isbn", id.Digits),
		slog.String("format", string(id.Format)),
		slog.String("currency", spec.Currency),
		slog.String("destination", spec.Destination),
		slog.String("condition", string(spec.Condition)),
	)

	result, runErr := s.Run(cmd.Context(), spec, p)
	p.Close()

	var closeErr error
	if runErr != nil {
		// a failed search leaves an existing output file as it was
		closeErr = pipeline.Discard(writer)
	} else {
		if tw, ok := writer.(*pipeline.TableWriter); ok {
			tw.SetDetails(result.Details)
		}
		if closeErr = writer.Close(); closeErr == nil {
			closeErr = writer.Validate()
		}
	}

	var metricsErr error
	if cfg.MetricsFile != "" {
		if err := s.Metrics.WriteFile(cfg.MetricsFile); err != nil {
			metricsErr = &pipeline.IOError{Op: "write metrics", Path: cfg.MetricsFile, Err: err}
		}
	}

	if runErr != nil {
		return runErr
	}
	if closeErr != nil {
		return closeErr
	}
	if metricsErr != nil {
		return metricsErr
	}

	logSummary(result, cfg.OutputFile, p.GetMetrics())
	return nil
}

// loadConfig layers defaults, the YAML file, the environment and the flags
// that were set explicitly, in that order.
func (a *app) loadConfig(flags *pflag.FlagSet) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if a.configPath != "" {
		loaded, err := config.Load(a.configPath)
		if err != nil {
			return nil, &query.UnsupportedOptionError{Option: "config", Value: a.configPath, Err: err}
		}
		cfg = loaded
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, &query.UnsupportedOptionError{Option: "environment", Err: err}
	}

	if a.newOnly && a.usedOnly {
		return nil, &query.UnsupportedOptionError{Option: "condition", Value: "new,used", Err: errors.New("--new and --used are mutually exclusive")}
	}
	if a.newOnly {
		cfg.Condition = string(models.ConditionNew)
	}
	if a.usedOnly {
		cfg.Condition = string(models.ConditionUsed)
	}

	var err error
	flags.Visit(func(f *pflag.Flag) {
		if err != nil {
			return
		}
		switch f.Name {
		case "currency":
			cfg.Currency, err = flags.GetString(f.Name)
		case "destination":
			cfg.Destination, err = flags.GetString(f.Name)
		case "limit":
			cfg.Limit, err = flags.GetInt(f.Name)
		case "output":
			cfg.OutputFile, err = flags.GetString(f.Name)
		case "format":
			var format string
			format, err = flags.GetString(f.Name)
			cfg.OutputFormat = strings.ToLower(format)
		case "sort":
			var order string
			order, err = flags.GetString(f.Name)
			cfg.Sort = strings.ToLower(order)
		case "timeout":
			cfg.Timeout, err = flags.GetDuration(f.Name)
		case "base-url":
			cfg.BaseURL, err = flags.GetString(f.Name)
		case "metrics-file":
			cfg.MetricsFile, err = flags.GetString(f.Name)
		case "verbose":
			cfg.Verbose, err = flags.GetBool(f.Name)
		}
	})
	if err != nil {
		return nil, &query.UnsupportedOptionError{Option: "flag", Err: err}
	}
	return cfg, nil
}

func (a *app) createWriter(cfg *config.Config) (pipeline.OutputWriter, error) {
	filename := cfg.OutputFile
	if filename == "" {
		return pipeline.NewTableWriter(a.stdout), nil
	}
	switch cfg.OutputFormat {
	case config.FormatJSON:
		return pipeline.NewJSONWriter(filename)
	case config.FormatCSV:
		return pipeline.NewCSVWriter(filename, ',')
	case config.FormatTSV:
		return pipeline.NewCSVWriter(filename, '\t')
	case config.FormatDual:
		jsonFilename := strings.TrimSuffix(filename, filepath.Ext(filename)) + ".jsonl"
		return pipeline.NewDualWriter(filename, jsonFilename)
	default:
		return nil, &query.UnsupportedOptionError{Option: "format", Value: cfg.OutputFormat, Err: errors.New("unsupported format")}
	}
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, parser.ErrInvalidIdentifier):
		return exitInvalidIdentifier
	case errors.Is(err, query.ErrUnsupportedOption):
		return exitUnsupportedOption
	case errors.Is(err, scraper.ErrNetwork):
		return exitNetwork
	case errors.Is(err, pipeline.ErrIO):
		return exitIO
	default:
		return exitUnexpected
	}
}

func logSummary(result *models.SearchResult, outputFile string, metrics map[string]interface{}) {
	if result == nil {
		return
	}
	attrs := []any{
		slog.String("title", result.Details.Title),
		slog.Int("extracted", result.Extracted),
		slog.Int("skipped", result.Skipped),
		slog.Int("written", result.Written),
		slog.Duration("duration", result.EndTime.Sub(result.StartTime).Round(time.Millisecond)),
	}
	if outputFile != "" {
		attrs = append(attrs, slog.String("output", outputFile))
	}
	if valErrors, ok := metrics["validation_errors"].(map[string]int); ok && len(valErrors) > 0 {
		attrs = append(attrs, slog.Any("dropped", valErrors))
	}
	slog.Info("search complete", attrs...)
}

func newLogger(w io.Writer, verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if f, ok := w.(*os.File); ok && isTerminal(f) {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
