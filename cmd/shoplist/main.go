// Command shoplist fetches recipe pages, extracts and normalizes their
// ingredients with an AI provider, and manages the two-tier content cache
// that sits under every operation.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/lmittmann/tint"

	"github.com/shoplist-ai/shoplist/cache"
	"github.com/shoplist-ai/shoplist/credentials"
	"github.com/shoplist-ai/shoplist/expiry"
	"github.com/shoplist-ai/shoplist/fetch"
	"github.com/shoplist-ai/shoplist/provider"
	"github.com/shoplist-ai/shoplist/storage"
	"github.com/shoplist-ai/shoplist/telemetry"
)

var version = "dev"

type globals struct {
	DataDir      string        `help:"Directory for the disk cache tier." default:"./data" env:"SHOPLIST_DATA_DIR"`
	CacheTTL     time.Duration `help:"Memory cache TTL." default:"1h" env:"SHOPLIST_CACHE_TTL"`
	CacheMaxSize int           `help:"Maximum memory cache entries." default:"1000" env:"SHOPLIST_CACHE_MAX_SIZE"`
	Provider     string        `help:"AI provider (openai, azure, github, ollama)." default:"ollama" env:"AI_PROVIDER"`
	Credentials  string        `help:"Path to a templated credentials file." env:"SHOPLIST_CREDENTIALS"`
	LogLevel     string        `help:"Log level (debug, info, warn, error)." default:"info" enum:"debug,info,warn,error" env:"SHOPLIST_LOG_LEVEL"`
	LogFormat    string        `help:"Log format (text, json)." default:"text" enum:"text,json" env:"SHOPLIST_LOG_FORMAT"`
	MetricsAddr  string        `help:"Address for the Prometheus /metrics endpoint (empty disables it)." env:"SHOPLIST_METRICS_ADDR"`
	OTLPEndpoint string        `help:"OTLP gRPC endpoint for metrics export (empty disables it)." env:"SHOPLIST_OTLP_ENDPOINT"`
}

type cli struct {
	globals

	Fetch        fetchCmd        `cmd:"" help:"Fetch a recipe page through the cache tiers."`
	Extract      extractCmd      `cmd:"" help:"Extract and normalize a recipe's ingredients."`
	Alternatives alternativesCmd `cmd:"" help:"Suggest substitute ingredients."`
	Cache        cacheCmd        `cmd:"" help:"Inspect or clear the memory cache tier."`
	Storage      storageCmd      `cmd:"" help:"Inspect or clear the disk storage tier."`
	Version      versionCmd      `cmd:"" help:"Print the version."`
}

// appContext carries the wired components into each subcommand.
type appContext struct {
	ctx     context.Context
	logger  *slog.Logger
	fetcher *fetch.Fetcher
	memory  *cache.Manager
	disk    *storage.Manager
	g       *globals
}

func main() {
	var app cli
	k := kong.Parse(&app,
		kong.Name("shoplist"),
		kong.Description("Grocery price comparison assistant for recipes."),
		kong.UsageOnError(),
	)

	if err := run(k, &app); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(k *kong.Context, app *cli) error {
	logger, err := buildLogger(app.LogLevel, app.LogFormat)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if app.Credentials != "" {
		resolver := credentials.NewResolver(credentials.WithLogger(logger))
		creds, err := resolver.ResolveFile(ctx, app.Credentials)
		if err != nil {
			return fmt.Errorf("resolving credentials: %w", err)
		}
		creds.Apply()
	}

	shutdown, err := telemetry.InitMetrics(ctx, telemetry.MetricsConfig{
		ServiceName:      "shoplist",
		ServiceVersion:   version,
		OTLPEndpoint:     app.OTLPEndpoint,
		EnablePrometheus: app.MetricsAddr != "",
	})
	if err != nil {
		return fmt.Errorf("initializing metrics: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdown(shutdownCtx)
	}()

	if app.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", telemetry.PrometheusHandler())
		go func() {
			if err := http.ListenAndServe(app.MetricsAddr, mux); err != nil {
				logger.Error("metrics endpoint failed", "error", err)
			}
		}()
	}

	memCfg := cache.DefaultConfig()
	memCfg.TTL = app.CacheTTL
	memCfg.MaxSize = app.CacheMaxSize
	memCfg.Logger = logger
	memory := cache.NewManager(memCfg)

	diskCfg := storage.DefaultConfig(app.DataDir)
	diskCfg.Logger = logger
	disk := storage.NewManager(diskCfg)

	fetchCfg := fetch.DefaultConfig()
	fetchCfg.Logger = logger
	fetcher := fetch.New(fetchCfg, memory, disk)

	return k.Run(&appContext{
		ctx:     ctx,
		logger:  logger,
		fetcher: fetcher,
		memory:  memory,
		disk:    disk,
		g:       &app.globals,
	})
}

func buildLogger(level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return nil, fmt.Errorf("invalid log level: %s", level)
	}

	var handler slog.Handler
	switch format {
	case "text":
		handler = tint.NewHandler(os.Stderr, &tint.Options{Level: lvl})
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	default:
		return nil, fmt.Errorf("invalid log format: %s", format)
	}
	return slog.New(handler), nil
}

type fetchCmd struct {
	URL     string `arg:"" help:"Page URL to fetch."`
	Cleaned bool   `help:"Print the reduced, model-ready content instead of the raw page."`
}

func (c *fetchCmd) Run(app *appContext) error {
	if c.Cleaned {
		r, cleaned, err := app.fetcher.FetchCleaned(app.ctx, c.URL)
		if err != nil {
			return err
		}
		app.logger.Info("fetched", "url", r.URL, "size", r.Size, "from_cache", r.FromCache())
		fmt.Println(cleaned)
		return nil
	}

	r, err := app.fetcher.Fetch(app.ctx, c.URL)
	if err != nil {
		return err
	}
	app.logger.Info("fetched", "url", r.URL, "size", r.Size, "from_cache", r.FromCache())
	fmt.Println(r.Content)
	return nil
}

type extractCmd struct {
	URL string `arg:"" help:"Recipe page URL."`
}

// extraction is the printed result of an extract run.
type extraction struct {
	Recipe      *provider.Recipe      `json:"recipe"`
	Ingredients []provider.Ingredient `json:"ingredients"`
}

func (c *extractCmd) Run(app *appContext) error {
	p, err := provider.New(app.g.Provider, app.logger)
	if err != nil {
		return err
	}
	assistant := provider.NewAssistant(p, app.logger)

	r, err := app.fetcher.Fetch(app.ctx, c.URL)
	if err != nil {
		return err
	}

	recipe, err := assistant.ExtractRecipe(app.ctx, r.Content, c.URL)
	if err != nil {
		return err
	}

	ingredients, err := assistant.NormalizeIngredients(app.ctx, recipe.Ingredients)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(extraction{Recipe: recipe, Ingredients: ingredients}, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

type alternativesCmd struct {
	Ingredient string `arg:"" help:"Ingredient to find substitutes for."`
}

func (c *alternativesCmd) Run(app *appContext) error {
	p, err := provider.New(app.g.Provider, app.logger)
	if err != nil {
		return err
	}
	assistant := provider.NewAssistant(p, app.logger)

	alternatives, err := assistant.SuggestAlternatives(app.ctx, c.Ingredient)
	if err != nil {
		return err
	}
	for _, alt := range alternatives {
		fmt.Println(alt)
	}
	return nil
}

type cacheCmd struct {
	Stats cacheStatsCmd `cmd:"" help:"Print memory cache statistics."`
	Clear cacheClearCmd `cmd:"" help:"Remove every memory cache entry."`
}

type cacheStatsCmd struct{}

func (c *cacheStatsCmd) Run(app *appContext) error {
	return printJSON(app.memory.Stats())
}

type cacheClearCmd struct{}

func (c *cacheClearCmd) Run(app *appContext) error {
	n := app.memory.Clear()
	app.logger.Info("memory cache cleared", "entries", n)
	return nil
}

type storageCmd struct {
	Stats storageStatsCmd `cmd:"" help:"Print disk storage statistics."`
	Clear storageClearCmd `cmd:"" help:"Remove every stored payload and sidecar."`
	Sweep storageSweepCmd `cmd:"" help:"Remove expired and excess records."`
}

type storageStatsCmd struct{}

func (c *storageStatsCmd) Run(app *appContext) error {
	return printJSON(app.disk.Stats())
}

type storageClearCmd struct{}

func (c *storageClearCmd) Run(app *appContext) error {
	n, err := app.disk.Clear()
	if err != nil {
		return err
	}
	app.logger.Info("disk storage cleared", "files", n)
	return nil
}

type storageSweepCmd struct {
	TTL     time.Duration `help:"Remove records older than this." default:"168h"`
	MaxSize int64         `help:"Evict oldest records until total payload size fits." default:"1073741824"`
}

func (c *storageSweepCmd) Run(app *appContext) error {
	cfg := expiry.DefaultConfig()
	cfg.TTL = c.TTL
	cfg.MaxSize = c.MaxSize
	cfg.Logger = app.logger

	result := expiry.NewSweeper(app.disk, cfg).RunOnce(app.ctx)
	return printJSON(result)
}

type versionCmd struct{}

func (c *versionCmd) Run(app *appContext) error {
	fmt.Println(version)
	return nil
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
