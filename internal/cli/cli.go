package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pfrederiksen/geodash/internal/app"
	"github.com/pfrederiksen/geodash/internal/catalog"
	"github.com/pfrederiksen/geodash/internal/config"
	"github.com/pfrederiksen/geodash/internal/dashboard"
	"github.com/pfrederiksen/geodash/internal/export"
	"github.com/pfrederiksen/geodash/internal/logger"
	"github.com/pfrederiksen/geodash/internal/projection"
)

const (
	ExitSuccess  = 0
	ExitError    = 1
	ExitNotFound = 2
)

// Version is reported by --version; set at build time.
var Version = "dev"

var (
	flagDataDir     string
	flagEnvFile     string
	flagLogLevel    string
	flagContentsURL string
	flagFormat      string
	flagVerbose     bool

	flagCatalogSort  string
	flagRefresh      bool
	flagShowLimit    int
	flagProjectSort  string
	flagOutput       string
	flagListen       string
	flagHistoryLimit int
)

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "geodash",
		Short: "Census choropleth dashboard",
		Long: `geodash fetches the tables of the 6th national population census,
caches and normalizes them, and draws any numeric column as a choropleth
map of China's provinces.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&flagDataDir, "data-dir", "", "Cache directory (default $GEODASH_DATA_DIR or ~/.local/share/geodash)")
	pf.StringVar(&flagEnvFile, "env-file", ".env", "Environment file to load")
	pf.StringVar(&flagLogLevel, "log-level", "", "Log level: debug, info, warn, error (default $LOG_LEVEL)")
	pf.StringVar(&flagContentsURL, "contents-url", "", "Contents page URL or local file (default $GEODASH_CONTENTS_URL)")
	pf.StringVar(&flagFormat, "format", "text", "Output format: text or json")
	pf.BoolVar(&flagVerbose, "verbose", false, "Enable verbose logging")

	cmd.AddCommand(
		newCatalogCmd(),
		newShowCmd(),
		newProjectCmd(),
		newExportCmd(),
		newServeCmd(),
		newHistoryCmd(),
	)
	return cmd
}

func newCatalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "List the tables linked from the contents page",
		Args:  cobra.NoArgs,
		RunE:  runCatalog,
	}
	cmd.Flags().StringVar(&flagCatalogSort, "sort", string(SortByDocument), "Sort order: document, name or path")
	cmd.Flags().BoolVar(&flagRefresh, "refresh", false, "Download the contents page even if it is cached")
	return cmd
}

func newShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <table>",
		Short: "Print a normalized table",
		Long: `Print a normalized table. <table> is a catalog key, the table's link path
(e.g. html/B0101.htm) or its position in the catalog, starting at 0.`,
		Args: cobra.ExactArgs(1),
		RunE: runShow,
	}
	cmd.Flags().IntVar(&flagShowLimit, "limit", 0, "Print at most this many rows (0 for all)")
	return cmd
}

func newProjectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "project <table> [column]",
		Short: "Print the map values of one table column",
		Long: `Print the (location, value) pairs one column of a table is drawn from.
Without a column the numeric columns of the table are listed.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: runProject,
	}
	cmd.Flags().StringVar(&flagProjectSort, "sort", string(SortByDocument), "Sort order: document, location or value")
	return cmd
}

func newExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export <table>",
		Short: "Write a normalized table to an xlsx workbook",
		Args:  cobra.ExactArgs(1),
		RunE:  runExport,
	}
	cmd.Flags().StringVarP(&flagOutput, "output", "o", "", "Output file (default <table file>.xlsx)")
	return cmd
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the dashboard",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
	cmd.Flags().StringVar(&flagListen, "listen", "", "Listen address (default $GEODASH_LISTEN or 127.0.0.1:8050)")
	return cmd
}

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent retrievals from the journal",
		Args:  cobra.NoArgs,
		RunE:  runHistory,
	}
	cmd.Flags().IntVar(&flagHistoryLimit, "limit", 20, "Number of entries to show")
	return cmd
}

// setup builds the Config and App shared by every command.
func setup(cmd *cobra.Command) (*app.App, OutputFormat, error) {
	format := OutputFormat(strings.ToLower(flagFormat))
	if format != FormatText && format != FormatJSON {
		return nil, "", fmt.Errorf("invalid format: %s (must be 'text' or 'json')", flagFormat)
	}

	cfg, err := config.Load(flagEnvFile)
	if err != nil {
		return nil, "", err
	}
	if flagDataDir != "" {
		cfg.DataDir = flagDataDir
	}
	if flagContentsURL != "" {
		cfg.ContentsURL = flagContentsURL
	}
	if flagLogLevel != "" {
		cfg.LogLevel = flagLogLevel
	}
	if flagVerbose {
		cfg.LogLevel = string(logger.LevelDebug)
	}
	if err := cfg.Finalize(); err != nil {
		return nil, "", err
	}

	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, "", err
	}
	log := logger.New(level, cmd.ErrOrStderr())

	a, err := app.New(cfg, log, logger.NewMetrics())
	if err != nil {
		return nil, "", err
	}
	return a, format, nil
}

func runCatalog(cmd *cobra.Command, args []string) error {
	order, err := parseEntrySort(flagCatalogSort)
	if err != nil {
		return err
	}

	a, format, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	if flagRefresh {
		cat, diff, err := a.Reload(cmd.Context())
		if err != nil {
			return fmt.Errorf("reloading catalog: %w", err)
		}
		entries := cat.Entries()
		sortEntries(entries, order)
		return WriteReload(cmd.OutOrStdout(), entries, diff, format)
	}

	cat, err := a.Catalog(cmd.Context())
	if err != nil {
		return fmt.Errorf("loading catalog: %w", err)
	}
	entries := cat.Entries()
	sortEntries(entries, order)
	return WriteCatalog(cmd.OutOrStdout(), entries, format)
}

func runShow(cmd *cobra.Command, args []string) error {
	a, format, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	key, err := lookupKey(cmd.Context(), a, args[0])
	if err != nil {
		return err
	}
	t, err := a.Table(cmd.Context(), key)
	if err != nil {
		return fmt.Errorf("loading table: %w", err)
	}
	return WriteTable(cmd.OutOrStdout(), t, format, flagShowLimit)
}

func runProject(cmd *cobra.Command, args []string) error {
	order, err := parsePointSort(flagProjectSort)
	if err != nil {
		return err
	}

	a, format, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	key, err := lookupKey(cmd.Context(), a, args[0])
	if err != nil {
		return err
	}

	if len(args) == 1 {
		t, err := a.Table(cmd.Context(), key)
		if err != nil {
			return fmt.Errorf("loading table: %w", err)
		}
		return WriteColumns(cmd.OutOrStdout(), projection.NumericColumns(t), format)
	}

	d, err := a.Projection(cmd.Context(), key, args[1])
	if err != nil {
		return err
	}
	sortPoints(d.Points, order)
	return WriteDataset(cmd.OutOrStdout(), d, format)
}

func runExport(cmd *cobra.Command, args []string) error {
	a, _, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	key, err := lookupKey(cmd.Context(), a, args[0])
	if err != nil {
		return err
	}
	t, err := a.Table(cmd.Context(), key)
	if err != nil {
		return fmt.Errorf("loading table: %w", err)
	}

	out := flagOutput
	if out == "" {
		cat, _ := a.Catalog(cmd.Context())
		path, _ := cat.Resolve(key)
		out = exportName(path)
	}
	if err := export.WriteFile(t, out); err != nil {
		return fmt.Errorf("exporting table: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (%d rows)\n", out, len(t.Rows))
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	a, _, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	cfg := a.Config()
	addr := cfg.ListenAddr
	if flagListen != "" {
		addr = flagListen
	}

	srv, err := dashboard.New(a, dashboard.Options{
		Center:     cfg.MapCenter,
		Zoom:       cfg.MapZoom,
		ColorScale: cfg.ColorScale,
	}, a.Logger(), a.Metrics())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return srv.ListenAndServe(ctx, addr)
}

func runHistory(cmd *cobra.Command, args []string) error {
	a, format, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	entries, err := a.History(flagHistoryLimit)
	if err != nil {
		return fmt.Errorf("reading journal: %w", err)
	}
	counts, err := a.RetrievalCounts()
	if err != nil {
		return fmt.Errorf("reading journal: %w", err)
	}
	return WriteHistory(cmd.OutOrStdout(), entries, counts, format)
}

type catalogSource interface {
	Catalog(ctx context.Context) (*catalog.Catalog, error)
}

// lookupKey turns a command-line table reference into a catalog key. The
// argument may be the key itself, a link path, or a position in the catalog.
// Anything else is returned unchanged and fails to resolve later.
func lookupKey(ctx context.Context, src catalogSource, arg string) (string, error) {
	cat, err := src.Catalog(ctx)
	if err != nil {
		return "", fmt.Errorf("loading catalog: %w", err)
	}

	entries := cat.Entries()
	for _, e := range entries {
		if e.Unique == arg {
			return arg, nil
		}
	}
	for _, e := range entries {
		if e.Path == arg {
			return e.Unique, nil
		}
	}
	if i, err := strconv.Atoi(arg); err == nil {
		if i < 0 || i >= len(entries) {
			return "", fmt.Errorf("%w: position %d out of range (catalog has %d tables)", catalog.ErrNotFound, i, len(entries))
		}
		return entries[i].Unique, nil
	}
	return arg, nil
}

// exportName derives a workbook file name from a table link path.
func exportName(path string) string {
	base := path
	if i := strings.LastIndex(base, "/"); i >= 0 {
		base = base[i+1:]
	}
	base = strings.TrimSuffix(base, ".htm")
	if base == "" {
		base = "table"
	}
	return base + ".xlsx"
}

// Execute runs the CLI
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if errors.Is(err, catalog.ErrNotFound) || errors.Is(err, projection.ErrColumnNotFound) {
			os.Exit(ExitNotFound)
		}
		os.Exit(ExitError)
	}
}
