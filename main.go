package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/schemaforge/erd-engine/pkg/analyzer"
	"github.com/schemaforge/erd-engine/pkg/cache"
	"github.com/schemaforge/erd-engine/pkg/config"
	"github.com/schemaforge/erd-engine/pkg/detect"
	"github.com/schemaforge/erd-engine/pkg/models"
	"github.com/schemaforge/erd-engine/pkg/patterns"
	"github.com/schemaforge/erd-engine/pkg/pipeline"
	"github.com/schemaforge/erd-engine/pkg/render"
	"github.com/schemaforge/erd-engine/pkg/source"
	"github.com/schemaforge/erd-engine/pkg/state"
	"github.com/schemaforge/erd-engine/pkg/validate"
)

var version = "dev"

func main() {
	app := &cli.App{
		Name:    "erd-engine",
		Usage:   "Infer entity relationships from warehouse schemas",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "config.yaml",
				Usage:   "Path to configuration file",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Enable debug logging",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "generate",
				Usage:  "Infer relationships and render an ER diagram",
				Action: runGenerate,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "schema",
						Usage: "Schema document (.yaml/.json); omit to extract from PostgreSQL",
					},
					&cli.StringFlag{
						Name:  "samples",
						Usage: "Offline sample document for data validation",
					},
					&cli.StringFlag{
						Name:  "patterns",
						Usage: "Pattern configuration file",
					},
					&cli.StringFlag{
						Name:  "rules",
						Usage: "Custom rules file",
					},
					&cli.StringFlag{
						Name:    "format",
						Aliases: []string{"f"},
						Usage:   "Output format: mermaid or plantuml",
					},
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Output file; stdout when empty",
					},
					&cli.BoolFlag{
						Name:  "validate",
						Usage: "Run the data-validation pass",
					},
					&cli.BoolFlag{
						Name:  "sequential",
						Usage: "Disable parallel generation",
					},
					&cli.BoolFlag{
						Name:  "no-cache",
						Usage: "Bypass the relationship cache",
					},
					&cli.BoolFlag{
						Name:  "no-incremental",
						Usage: "Reprocess every table regardless of stored state",
					},
				},
			},
			{
				Name:   "cache-clear",
				Usage:  "Drop cached relationships, optionally by table-name pattern",
				Action: runCacheClear,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "pattern",
						Usage: "Only clear keys containing this substring",
					},
					&cli.BoolFlag{
						Name:  "state",
						Usage: "Also clear incremental state for matching tables",
					},
				},
			},
			{
				Name:   "stats",
				Usage:  "Show cache and incremental-state statistics",
				Action: runStats,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newLogger(c *cli.Context) (*zap.Logger, error) {
	if c.Bool("verbose") {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{"stderr"}
	return cfg.Build()
}

func runGenerate(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	applyFlags(c, cfg)

	logger, err := newLogger(c)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nInterrupted.")
		cancel()
	}()

	patternCfg, err := loadPatterns(cfg)
	if err != nil {
		return err
	}

	var rules *models.CustomRuleSet
	if cfg.RulesPath != "" {
		if rules, err = source.LoadRules(cfg.RulesPath); err != nil {
			return fmt.Errorf("failed to load rules: %w", err)
		}
	}

	tables, sampleSource, closeSource, err := loadTables(ctx, c.String("schema"), c.String("samples"), cfg, logger)
	if err != nil {
		return err
	}
	defer closeSource()

	relCache, err := buildCache(cfg, logger)
	if err != nil {
		return err
	}
	if relCache != nil {
		defer relCache.Close()
	}

	var stateProc *state.Processor
	if cfg.State.Enabled {
		stateProc = state.New(cfg.State.Path, logger)
	}

	var validator validate.Validator
	if cfg.Validation.Enabled {
		if sampleSource == nil {
			logger.Warn("validation requested but no sample source available, skipping")
		} else {
			validator = validate.New(sampleSource, validate.Options{
				SampleSize:    cfg.Validation.SampleSize,
				PassThreshold: cfg.Validation.PassThreshold,
				Workers:       cfg.Validation.Workers,
				SampleTimeout: cfg.Validation.SampleTimeout,
			}, logger)
		}
	}

	opts := pipeline.Options{
		Incremental:  cfg.State.Enabled,
		Parallel:     cfg.Processing.Parallel,
		GroupByType:  cfg.Processing.GroupByType,
		BatchSize:    cfg.Processing.BatchSize,
		Workers:      cfg.Processing.Workers,
		BatchTimeout: cfg.Processing.BatchTimeout,
		Validate:     validator != nil,
	}

	bar := progressbar.NewOptions(1,
		progressbar.OptionSetDescription("Processing"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetRenderBlankState(true),
	)
	opts.Progress = func(done, total int) {
		bar.ChangeMax(total)
		bar.Set(done)
	}

	p := pipeline.New(
		analyzer.New(patternCfg, logger),
		detect.NewEngine(patternCfg, rules, logger),
		validator, relCache, stateProc, opts, logger)

	result, err := p.Run(ctx, tables)
	if err != nil {
		return fmt.Errorf("pipeline failed: %w", err)
	}
	bar.Finish()
	fmt.Fprintln(os.Stderr)

	format, err := render.ParseFormat(cfg.Output.Format)
	if err != nil {
		return err
	}
	diagram, err := render.Render(format, tables, result.Relationships, render.Options{
		ShowColumnTypes: cfg.Output.ShowColumnTypes,
	})
	if err != nil {
		return fmt.Errorf("failed to render diagram: %w", err)
	}

	if out := c.String("output"); out != "" {
		if err := os.WriteFile(out, []byte(diagram), 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", out, err)
		}
		fmt.Fprintf(os.Stderr, "Wrote %s\n", out)
	} else {
		fmt.Print(diagram)
	}

	printReport(result)
	return nil
}

// applyFlags lets command-line flags override the loaded configuration.
func applyFlags(c *cli.Context, cfg *config.Config) {
	if c.IsSet("format") {
		cfg.Output.Format = c.String("format")
	}
	if c.IsSet("patterns") {
		cfg.PatternsPath = c.String("patterns")
	}
	if c.IsSet("rules") {
		cfg.RulesPath = c.String("rules")
	}
	if c.Bool("validate") {
		cfg.Validation.Enabled = true
	}
	if c.Bool("sequential") {
		cfg.Processing.Parallel = false
	}
	if c.Bool("no-cache") {
		cfg.Cache.Enabled = false
	}
	if c.Bool("no-incremental") {
		cfg.State.Enabled = false
	}
}

func loadPatterns(cfg *config.Config) (*patterns.Config, error) {
	if cfg.PatternsPath == "" {
		return patterns.Default(), nil
	}
	patternCfg, err := patterns.Load(cfg.PatternsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load pattern config: %w", err)
	}
	return patternCfg, nil
}

// loadTables reads the schema from a file or a live database and pairs
// it with a sample source for validation when one is available.
func loadTables(ctx context.Context, schemaPath, samplesPath string, cfg *config.Config, logger *zap.Logger) ([]*models.TableSchema, validate.SampleSource, func(), error) {
	noop := func() {}

	if schemaPath != "" {
		tables, err := source.LoadSchema(schemaPath)
		if err != nil {
			return nil, nil, noop, fmt.Errorf("failed to load schema: %w", err)
		}
		var samples validate.SampleSource
		if samplesPath != "" {
			if samples, err = source.NewFileSampleSource(samplesPath); err != nil {
				return nil, nil, noop, fmt.Errorf("failed to load samples: %w", err)
			}
		}
		return tables, samples, noop, nil
	}

	if !cfg.Database.Configured() {
		return nil, nil, noop, fmt.Errorf("no schema file given and no database configured")
	}
	pg, err := source.NewPostgresSource(ctx, cfg.Database.ConnectionString(), cfg.Database.Schema, logger)
	if err != nil {
		return nil, nil, noop, err
	}
	tables, err := pg.Tables(ctx)
	if err != nil {
		pg.Close()
		return nil, nil, noop, err
	}
	return tables, pg, pg.Close, nil
}

func buildCache(cfg *config.Config, logger *zap.Logger) (*cache.Cache, error) {
	if !cfg.Cache.Enabled {
		return nil, nil
	}

	var (
		store cache.Store
		err   error
	)
	if cfg.Cache.SQLitePath != "" {
		store, err = cache.NewSQLiteStore(cfg.Cache.SQLitePath)
	} else {
		store, err = cache.NewFileStore(cfg.Cache.Dir)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}
	return cache.New(store, cfg.Cache.TTL, logger), nil
}

func printReport(result *pipeline.Result) {
	report := pipeline.BuildReport(result.Relationships)

	fmt.Fprintf(os.Stderr, "\nTables: %d processed, %d unchanged\n",
		result.ProcessedTables, result.SkippedTables)
	fmt.Fprintf(os.Stderr, "Relationships: %d (%d high, %d medium, %d low confidence, avg %.2f)\n",
		report.Total, report.HighConfidence, report.MediumConfidence, report.LowConfidence,
		report.AverageConfidence)
	if report.DataValidated > 0 {
		fmt.Fprintf(os.Stderr, "Data validated: %d\n", report.DataValidated)
	}

	methods := make([]string, 0, len(report.ByMethod))
	for m := range report.ByMethod {
		methods = append(methods, m)
	}
	sort.Strings(methods)
	for _, m := range methods {
		fmt.Fprintf(os.Stderr, "  %-20s %d\n", m, report.ByMethod[m])
	}
}

func runCacheClear(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := newLogger(c)
	if err != nil {
		return err
	}
	defer logger.Sync()

	relCache, err := buildCache(cfg, logger)
	if err != nil {
		return err
	}
	if relCache == nil {
		return fmt.Errorf("cache is disabled in configuration")
	}
	defer relCache.Close()

	pattern := c.String("pattern")
	n, err := relCache.Clear(pattern)
	if err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}
	fmt.Printf("Cleared %d cached relationships\n", n)

	if c.Bool("state") && cfg.State.Enabled {
		stateProc := state.New(cfg.State.Path, logger)
		cleared := stateProc.Clear(pattern)
		if err := stateProc.Save(); err != nil {
			return fmt.Errorf("failed to save state: %w", err)
		}
		fmt.Printf("Cleared state for %d tables\n", cleared)
	}
	return nil
}

func runStats(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := newLogger(c)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if relCache, err := buildCache(cfg, logger); err == nil && relCache != nil {
		stats := relCache.Stats()
		fmt.Printf("Cache: %d stored entries, TTL %s\n", stats.StoreEntries, stats.TTL)
		relCache.Close()
	} else if err != nil {
		return err
	}

	if cfg.State.Enabled {
		stats := state.New(cfg.State.Path, logger).Stats()
		fmt.Printf("State: %d processed tables, %d relationships\n",
			stats.ProcessedTables, stats.TotalRelationships)
		if stats.LastProcessed != nil {
			fmt.Printf("Last processed: %s\n", stats.LastProcessed.Format(time.RFC3339))
		}
	}
	return nil
}
