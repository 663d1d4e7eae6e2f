package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/greg-hellings/ocsview/pkg/config"
	"github.com/greg-hellings/ocsview/pkg/diff"
	"github.com/greg-hellings/ocsview/pkg/document"
	"github.com/greg-hellings/ocsview/pkg/heatmap"
	"github.com/greg-hellings/ocsview/pkg/report"
	consolefmt "github.com/greg-hellings/ocsview/pkg/report/format"
	"github.com/greg-hellings/ocsview/pkg/search"
	"github.com/greg-hellings/ocsview/pkg/tooltip"
)

// build-time override (e.g. -ldflags "-X main.version=1.2.3")
var version = "dev"

// Global (root-level) flag variables
var (
	flagVerbose bool
	flagDebug   bool
	flagConfig  string
	flagColor   string
)

// appCfg is loaded in PersistentPreRunE before any subcommand runs.
var appCfg = config.Default()

// inspect command flags
type inspectCmdFlags struct {
	outputFormat string
	outputFile   string
	full         bool
	withTooltips bool
	pathColWidth int
	jsonIndent   bool
}

var inspectFlags inspectCmdFlags

// search command flags
type searchCmdFlags struct {
	outputFormat string
	outputFile   string
	jsonIndent   bool
}

var searchFlags searchCmdFlags

// diff command flags
type diffCmdFlags struct {
	outputFormat string
	outputFile   string
	showPatch    bool
	jsonIndent   bool
}

var diffFlags diffCmdFlags

// heatmap command flags
type heatmapCmdFlags struct {
	outputFormat string
	outputFile   string
	sortBy       string
	top          int
	warn         float64
	hot          float64
	jsonIndent   bool
}

var heatFlags heatmapCmdFlags

// tooltips command flags
type tooltipsCmdFlags struct {
	tablePath string
}

var tipFlags tooltipsCmdFlags

func main() {
	root := newRootCmd()
	root.SilenceUsage = true
	root.SilenceErrors = true

	if err := root.Execute(); err != nil {
		// If Execute() returns an error, logging may or may not be initialized yet.
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd creates the root Cobra command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ocsview",
		Short: "OCS configuration visualizer CLI",
		Long: strings.TrimSpace(`
ocsview - Open Components System configuration inspector

Load JSON (or TOML/YAML) configuration files, list their fields with
help texts, search across them, and compare files structurally with a
field-level divergence heatmap.`),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOrDefault(flagConfig)
			if err != nil {
				return err
			}
			appCfg = cfg
			if flagColor != "" {
				switch strings.ToLower(flagColor) {
				case "auto", "always", "never":
				default:
					return fmt.Errorf("unsupported --color value: %s", flagColor)
				}
			}
			initLogging()
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Enable verbose (info) logging")
	cmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging (overrides --verbose)")
	cmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Config file (default <user config dir>/ocsview/config.yaml)")
	cmd.PersistentFlags().StringVar(&flagColor, "color", "", "Color output: auto|always|never (default from config)")
	cmd.Version = version

	// Add subcommands
	cmd.AddCommand(newInspectCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newDiffCmd())
	cmd.AddCommand(newHeatmapCmd())
	cmd.AddCommand(newTooltipsCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// newVersionCmd prints version info (simple helper).
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("ocsview version: %s\n", version)
		},
	}
}

// newInspectCmd creates the 'inspect' subcommand.
func newInspectCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "inspect <file|dir>...",
		Short: "Summarize configuration files and their pairwise differences",
		Long: strings.TrimSpace(`
Load the given configuration files and print a summary table per file.
With two or more files, pairwise change counts and the divergence
heatmap are included. Directories expand to the config files inside
them (non-recursive, sorted).

Formats:
  console (default) - adaptive terminal tables
  json              - machine-readable JSON

Examples:
  ocsview inspect config.json
  ocsview inspect configs/ --full --tooltips
  ocsview inspect a.json b.json --output json --json-indent
`),
		Args: cobra.MinimumNArgs(1),
		RunE: runInspect,
	}

	c.Flags().StringVarP(&inspectFlags.outputFormat, "output", "o", "console", "Output format: console|json")
	c.Flags().StringVar(&inspectFlags.outputFile, "out", "", "Write output to file instead of stdout")
	c.Flags().BoolVar(&inspectFlags.full, "full", false, "Dump every field of every file (console format)")
	c.Flags().BoolVar(&inspectFlags.withTooltips, "tooltips", false, "Add the help-text column to the field dump (implies --full)")
	c.Flags().IntVar(&inspectFlags.pathColWidth, "path-col-width", 0, "Max width of field path columns (console format; 0=auto)")
	c.Flags().BoolVar(&inspectFlags.jsonIndent, "json-indent", false, "Pretty-print JSON output")

	return c
}

// newSearchCmd creates the 'search' subcommand.
func newSearchCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "search <query> <file|dir>...",
		Short: "Search field paths and values across configuration files",
		Long: strings.TrimSpace(`
Load the given configuration files and list every field whose path or
value contains the query (case-insensitive substring match).

Examples:
  ocsview search timeout configs/
  ocsview search retry a.json b.json --output json
`),
		Args: cobra.MinimumNArgs(2),
		RunE: runSearch,
	}

	c.Flags().StringVarP(&searchFlags.outputFormat, "output", "o", "console", "Output format: console|json")
	c.Flags().StringVar(&searchFlags.outputFile, "out", "", "Write output to file instead of stdout")
	c.Flags().BoolVar(&searchFlags.jsonIndent, "json-indent", false, "Pretty-print JSON output")

	return c
}

// newDiffCmd creates the 'diff' subcommand.
func newDiffCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "diff <left-file> <right-file>",
		Short: "Compare two configuration files field by field",
		Long: strings.TrimSpace(`
Compare two configuration files structurally and list added, removed
and changed fields. Finding differences is not a failure; the exit
code reports only operational errors.

Examples:
  ocsview diff a.json b.json
  ocsview diff a.json b.json --patch
  ocsview diff a.json b.json --output json --json-indent
`),
		Args: cobra.ExactArgs(2),
		RunE: runDiff,
	}

	c.Flags().StringVarP(&diffFlags.outputFormat, "output", "o", "console", "Output format: console|json")
	c.Flags().StringVar(&diffFlags.outputFile, "out", "", "Write output to file instead of stdout")
	c.Flags().BoolVar(&diffFlags.showPatch, "patch", false, "Print the JSON merge patch turning left into right")
	c.Flags().BoolVar(&diffFlags.jsonIndent, "json-indent", false, "Pretty-print JSON output")

	return c
}

// newHeatmapCmd creates the 'heatmap' subcommand.
func newHeatmapCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "heatmap <file|dir>...",
		Short: "Render the per-field divergence heatmap for a set of files",
		Long: strings.TrimSpace(`
Score every field across every pair of the given configuration files
(0 = identical, 1 = fully diverged) and render the scores as a colored
grid. Needs at least two files.

Examples:
  ocsview heatmap configs/
  ocsview heatmap a.json b.json c.json --sort score --top 10
  ocsview heatmap a.json b.json --output json
`),
		Args: cobra.MinimumNArgs(1),
		RunE: runHeatmap,
	}

	c.Flags().StringVarP(&heatFlags.outputFormat, "output", "o", "console", "Output format: console|json")
	c.Flags().StringVar(&heatFlags.outputFile, "out", "", "Write output to file instead of stdout")
	c.Flags().StringVar(&heatFlags.sortBy, "sort", "order", "Row order: order (first appearance)|score (hottest first)")
	c.Flags().IntVar(&heatFlags.top, "top", 0, "Show only the first N rows after sorting (0=all)")
	c.Flags().Float64Var(&heatFlags.warn, "warn", 0, "Score where cells turn warm (0=config default)")
	c.Flags().Float64Var(&heatFlags.hot, "hot", 0, "Score where cells turn hot (0=config default)")
	c.Flags().BoolVar(&heatFlags.jsonIndent, "json-indent", false, "Pretty-print JSON output")

	return c
}

// newTooltipsCmd creates the 'tooltips' subcommand.
func newTooltipsCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "tooltips",
		Short: "List the effective tooltip table",
		Long: strings.TrimSpace(`
Print the help texts shown alongside configuration fields: the
built-in table with the configured override file merged over it.

Examples:
  ocsview tooltips
  ocsview tooltips --table ./tooltips.yaml
`),
		Args: cobra.NoArgs,
		RunE: runTooltips,
	}

	c.Flags().StringVar(&tipFlags.tablePath, "table", "", "Tooltip override file merged over the built-in table (default from config)")

	return c
}

func initLogging() {
	// If already initialized (e.g., multiple subcommands), skip.
	// We rely on slog default logger replacement here idempotently.
	var level slog.Level
	switch {
	case flagDebug:
		level = slog.LevelDebug
	case flagVerbose:
		level = slog.LevelInfo
	default:
		level = appCfg.LogLevel()
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if appCfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
	slog.Debug("Logging initialized", "level", level.String(), "format", appCfg.Logging.Format)
}

// runInspect executes the core logic for inspect.
func runInspect(cmd *cobra.Command, args []string) error {
	start := time.Now()

	slog.Info("Starting inspection",
		"paths", len(args),
		"format", inspectFlags.outputFormat)

	set, err := loadSet(args)
	if err != nil {
		return err
	}

	rpt, err := report.NewGenerator().Generate(set)
	if err != nil {
		return fmt.Errorf("failed to generate report: %w", err)
	}

	outWriter, err := openOutput(inspectFlags.outputFile)
	if err != nil {
		return err
	}
	defer outWriter.Close()

	switch strings.ToLower(inspectFlags.outputFormat) {
	case "console":
		if err := renderInspectConsole(set, rpt, outWriter); err != nil {
			return fmt.Errorf("failed to render console output: %w", err)
		}
	case "json":
		if err := renderInspectJSON(rpt, outWriter); err != nil {
			return fmt.Errorf("failed to render JSON output: %w", err)
		}
	default:
		return fmt.Errorf("unsupported output format: %s", inspectFlags.outputFormat)
	}

	slog.Info("Inspection complete",
		"files", len(rpt.Files),
		"pairs", len(rpt.Pairs),
		"duration", time.Since(start).String())
	return nil
}

// renderInspectConsole renders the report, and with --full the
// per-file field dumps, using the console formatter.
func renderInspectConsole(set *document.Set, rpt *report.Report, w ioWriter) error {
	fmt.Fprintf(w, "OCS Configuration Report (format=console)\n\n")

	formatter := newFormatter()
	if inspectFlags.pathColWidth > 0 {
		formatter.MaxPathColWidth = inspectFlags.pathColWidth
	}
	if err := formatter.Render(rpt, w); err != nil {
		return err
	}

	if !inspectFlags.full && !inspectFlags.withTooltips {
		return nil
	}
	var tips tooltip.Table
	if inspectFlags.withTooltips {
		var err error
		tips, err = tooltip.LoadWithBuiltin(appCfg.Tooltips.Path)
		if err != nil {
			slog.Warn("Tooltip override ignored", "error", err)
			tips = tooltip.Builtin()
		}
	}
	for _, doc := range set.Docs() {
		fmt.Fprintf(w, "\n%s fields:\n", doc.Name)
		if err := formatter.RenderLeaves(doc, tips, w); err != nil {
			return err
		}
	}
	return nil
}

// jsonOutput is the structured JSON shape we emit (allows adding summary without
// changing core report.Report struct).
type jsonOutput struct {
	Version     string               `json:"cliVersion"`
	GeneratedAt time.Time            `json:"generatedAt"`
	Files       []report.FileSummary `json:"files"`
	Pairs       []report.PairReport  `json:"pairs,omitempty"`
	Heatmap     []report.HeatmapRow  `json:"heatmap,omitempty"`
	Summary     jsonSummary          `json:"summary"`
}

type jsonSummary struct {
	FileCount      int `json:"fileCount"`
	FieldCount     int `json:"fieldCount"`
	PairCount      int `json:"pairCount"`
	DifferingPairs int `json:"differingPairs"`
}

// renderInspectJSON marshals the report to JSON with additional metadata.
func renderInspectJSON(rpt *report.Report, w ioWriter) error {
	fieldCount := 0
	for _, file := range rpt.Files {
		fieldCount += file.FieldCount
	}
	differing := 0
	for _, pair := range rpt.Pairs {
		if pair.Stats.Total > 0 {
			differing++
		}
	}

	payload := jsonOutput{
		Version:     version,
		GeneratedAt: rpt.GeneratedAt,
		Files:       rpt.Files,
		Pairs:       rpt.Pairs,
		Heatmap:     rpt.Heatmap,
		Summary: jsonSummary{
			FileCount:      len(rpt.Files),
			FieldCount:     fieldCount,
			PairCount:      len(rpt.Pairs),
			DifferingPairs: differing,
		},
	}
	return writeJSON(payload, inspectFlags.jsonIndent, w)
}

// runSearch executes the core logic for search.
func runSearch(cmd *cobra.Command, args []string) error {
	query := args[0]

	set, err := loadSet(args[1:])
	if err != nil {
		return err
	}

	index := search.Build(set)
	hits := index.Query(query)
	slog.Info("Search complete",
		"query", query,
		"entries", index.Size(),
		"matches", len(hits))

	outWriter, err := openOutput(searchFlags.outputFile)
	if err != nil {
		return err
	}
	defer outWriter.Close()

	switch strings.ToLower(searchFlags.outputFormat) {
	case "console":
		fmt.Fprintf(outWriter, "Search results for %q\n\n", query)
		if err := newFormatter().RenderSearch(hits, outWriter); err != nil {
			return fmt.Errorf("failed to render console output: %w", err)
		}
	case "json":
		payload := struct {
			Version string         `json:"cliVersion"`
			Query   string         `json:"query"`
			Count   int            `json:"count"`
			Matches []search.Entry `json:"matches"`
		}{version, query, len(hits), hits}
		if err := writeJSON(payload, searchFlags.jsonIndent, outWriter); err != nil {
			return fmt.Errorf("failed to render JSON output: %w", err)
		}
	default:
		return fmt.Errorf("unsupported output format: %s", searchFlags.outputFormat)
	}
	return nil
}

// runDiff executes the core logic for diff.
func runDiff(cmd *cobra.Command, args []string) error {
	left, err := document.Load(args[0])
	if err != nil {
		return err
	}
	right, err := document.Load(args[1])
	if err != nil {
		return err
	}

	result := diff.Compare(left, right)
	slog.Info("Diff complete",
		"left", left.Name,
		"right", right.Name,
		"changes", len(result.Changes))

	outWriter, err := openOutput(diffFlags.outputFile)
	if err != nil {
		return err
	}
	defer outWriter.Close()

	switch strings.ToLower(diffFlags.outputFormat) {
	case "console":
		if err := newFormatter().RenderDiff(result, outWriter); err != nil {
			return fmt.Errorf("failed to render console output: %w", err)
		}
		if diffFlags.showPatch {
			patch, err := diff.MergePatch(left, right)
			if err != nil {
				// The patch layer degrades to a notice; the diff above already rendered.
				fmt.Fprintf(outWriter, "\nmerge patch unavailable: %v\n", err)
				return nil
			}
			fmt.Fprintf(outWriter, "\nMerge patch (left -> right):\n%s\n", patch)
		}
	case "json":
		set := document.NewSet()
		set.Add(left)
		set.Add(right)
		rpt, err := report.NewGenerator().Generate(set)
		if err != nil {
			return fmt.Errorf("failed to generate report: %w", err)
		}
		if len(rpt.Pairs) == 0 {
			return errors.New("diff requires two distinct files")
		}
		payload := struct {
			Version     string            `json:"cliVersion"`
			GeneratedAt time.Time         `json:"generatedAt"`
			Pair        report.PairReport `json:"pair"`
		}{version, rpt.GeneratedAt, rpt.Pairs[0]}
		if err := writeJSON(payload, diffFlags.jsonIndent, outWriter); err != nil {
			return fmt.Errorf("failed to render JSON output: %w", err)
		}
	default:
		return fmt.Errorf("unsupported output format: %s", diffFlags.outputFormat)
	}
	return nil
}

// runHeatmap executes the core logic for heatmap.
func runHeatmap(cmd *cobra.Command, args []string) error {
	switch strings.ToLower(heatFlags.sortBy) {
	case "order", "score":
	default:
		return fmt.Errorf("unsupported sort key: %s", heatFlags.sortBy)
	}

	set, err := loadSet(args)
	if err != nil {
		return err
	}

	matrix, err := heatmap.Build(set)
	if err != nil {
		return err
	}
	if strings.EqualFold(heatFlags.sortBy, "score") {
		limit := heatFlags.top
		if limit <= 0 {
			limit = -1
		}
		matrix.Rows = matrix.Hottest(limit)
	} else if heatFlags.top > 0 && heatFlags.top < len(matrix.Rows) {
		matrix.Rows = matrix.Rows[:heatFlags.top]
	}
	slog.Info("Heatmap built",
		"files", len(matrix.Files),
		"pairs", len(matrix.Pairs),
		"rows", len(matrix.Rows))

	outWriter, err := openOutput(heatFlags.outputFile)
	if err != nil {
		return err
	}
	defer outWriter.Close()

	switch strings.ToLower(heatFlags.outputFormat) {
	case "console":
		formatter := newFormatter()
		if heatFlags.warn > 0 {
			formatter.HeatWarn = heatFlags.warn
		}
		if heatFlags.hot > 0 {
			formatter.HeatHot = heatFlags.hot
		}
		if err := formatter.RenderHeatmap(matrix, outWriter); err != nil {
			return fmt.Errorf("failed to render console output: %w", err)
		}
	case "json":
		labels := make([]string, 0, len(matrix.Pairs))
		for _, pair := range matrix.Pairs {
			labels = append(labels, pair.Label())
		}
		payload := struct {
			Version string              `json:"cliVersion"`
			Files   []string            `json:"files"`
			Pairs   []string            `json:"pairs"`
			Rows    []report.HeatmapRow `json:"rows"`
		}{version, matrix.Files, labels, report.HeatmapRows(matrix)}
		if err := writeJSON(payload, heatFlags.jsonIndent, outWriter); err != nil {
			return fmt.Errorf("failed to render JSON output: %w", err)
		}
	default:
		return fmt.Errorf("unsupported output format: %s", heatFlags.outputFormat)
	}
	return nil
}

// runTooltips executes the core logic for tooltips.
func runTooltips(cmd *cobra.Command, args []string) error {
	path := tipFlags.tablePath
	if path == "" {
		path = appCfg.Tooltips.Path
	}
	table, err := tooltip.LoadWithBuiltin(path)
	if err != nil {
		slog.Warn("Tooltip override ignored", "error", err)
		table = tooltip.Builtin()
	}
	slog.Info("Tooltip table loaded", "entries", len(table), "override", path)

	return newFormatter().RenderTooltips(table, os.Stdout)
}

// loadSet expands the file and directory arguments and loads every
// config file into a fresh document set.
func loadSet(args []string) (*document.Set, error) {
	paths, err := document.ExpandPaths(args)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, errors.New("no config files found in the given paths")
	}

	set := document.NewSet()
	for _, path := range paths {
		doc, err := document.Load(path)
		if err != nil {
			return nil, err
		}
		set.Add(doc)
		slog.Debug("Loaded document", "path", path, "format", doc.Format)
	}
	return set, nil
}

// newFormatter builds a console formatter from the loaded config and
// the global color flag.
func newFormatter() *consolefmt.ConsoleFormatter {
	formatter := consolefmt.NewConsoleFormatter()
	formatter.HeatWarn = appCfg.Heatmap.Warn
	formatter.HeatHot = appCfg.Heatmap.Hot

	mode := flagColor
	if mode == "" {
		mode = appCfg.Color
	}
	switch strings.ToLower(mode) {
	case "always":
		formatter.Colors = consolefmt.ColorAlways
	case "never":
		formatter.Colors = consolefmt.ColorNever
	default:
		formatter.Colors = consolefmt.ColorAuto
	}
	return formatter
}

// openOutput resolves the output writer for a command: stdout by
// default, a freshly created file when --out is set.
func openOutput(path string) (ioWriteCloser, error) {
	if path == "" {
		return stdOutWriteCloser{w: os.Stdout}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}
	return f, nil
}

// writeJSON marshals the payload and writes it with a trailing newline.
func writeJSON(payload any, indent bool, w ioWriter) error {
	var data []byte
	var err error
	if indent {
		data, err = json.MarshalIndent(payload, "", "  ")
	} else {
		data, err = json.Marshal(payload)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	_, _ = w.Write(data)
	_, _ = w.Write([]byte("\n"))
	return nil
}

/* ---------- Minimal ioWriter / ioWriteCloser helpers (avoid extra imports) ---------- */

type ioWriter interface {
	Write(p []byte) (n int, err error)
}

type ioWriteCloser interface {
	ioWriter
	Close() error
}

type stdOutWriteCloser struct {
	w ioWriter
}

func (s stdOutWriteCloser) Write(p []byte) (int, error) {
	return s.w.Write(p)
}

func (s stdOutWriteCloser) Close() error {
	// stdout should not be closed
	return nil
}
