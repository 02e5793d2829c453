package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/jaxxstorm/hopwatch/internal/aggregate"
	"github.com/jaxxstorm/hopwatch/internal/analyze"
	"github.com/jaxxstorm/hopwatch/internal/api"
	"github.com/jaxxstorm/hopwatch/internal/config"
	"github.com/jaxxstorm/hopwatch/internal/dnsclient"
	"github.com/jaxxstorm/hopwatch/internal/metrics"
	"github.com/jaxxstorm/hopwatch/internal/output"
	"github.com/jaxxstorm/hopwatch/internal/pipeline"
	"github.com/jaxxstorm/hopwatch/internal/rdns"
	"github.com/jaxxstorm/hopwatch/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

var Version = "dev"

type CLI struct {
	Serve   ServeCmd   `cmd:"serve" help:"Run the ingestion API with event logging and hop aggregation."`
	Parse   ParseCmd   `cmd:"parse" help:"Classify one captured path trace and print the verdict."`
	Version VersionCmd `cmd:"version" help:"Print version."`
}

type ServeCmd struct {
	Config  string `short:"c" type:"path" help:"YAML config file. Defaults apply when unset."`
	Listen  string `help:"Override the listen address."`
	Verbose bool   `help:"Enable verbose logging."`
	Debug   bool   `help:"Enable debug logging (includes per-request and DNS detail)."`
}

type ParseCmd struct {
	File          string        `arg:"" optional:"" name:"file" help:"File holding raw traceroute/tracert output. Reads stdin when empty or '-'."`
	Target        string        `default:"unknown" help:"Target the trace was run against."`
	HighLatencyMs float64       `name:"high-latency-ms" default:"200" help:"Per-hop latency threshold in milliseconds."`
	PacketLossPct float64       `name:"packet-loss-pct" default:"3" help:"Run loss threshold in percent."`
	ResolveNames  bool          `help:"Fill missing hop hostnames from PTR records."`
	Resolvers     []string      `name:"resolver" help:"Resolver IPs for PTR lookups (repeatable). If not set, uses system resolvers."`
	Transport     string        `enum:"udp,tcp,auto" default:"auto" help:"Transport to use for PTR queries."`
	Retries       int           `default:"1" help:"Attempts per resolver before moving down the ladder."`
	MaxTime       time.Duration `default:"2s" help:"Time budget per PTR query."`
	Output        string        `enum:"pretty,json" default:"pretty" help:"Output format."`
	Verbose       bool          `help:"Enable verbose logging."`
	Debug         bool          `help:"Enable debug logging."`
}

type VersionCmd struct{}

func main() {
	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("hopwatch"),
		kong.Description("Classify path traces, log anomalies and aggregate per-hop latency."),
	)

	switch ctx.Selected().Name {
	case "version":
		fmt.Println(Version)
	case "parse":
		logger, err := newLogger(cli.Parse.Verbose, cli.Parse.Debug)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		runParse(cli.Parse, logger)
	case "serve":
		logger, err := newLogger(cli.Serve.Verbose, cli.Serve.Debug)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		if err := runServe(cli.Serve, logger); err != nil {
			logger.Error("serve failed", zap.Error(err))
			_ = logger.Sync()
			os.Exit(1)
		}
		_ = logger.Sync()
	}
}

func runParse(cmd ParseCmd, logger *zap.Logger) {
	var in io.Reader = os.Stdin
	if cmd.File != "" && cmd.File != "-" {
		f, err := os.Open(cmd.File)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		defer f.Close()
		in = f
	}
	raw, err := io.ReadAll(in)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	pcfg := pipeline.Config{
		Thresholds: analyze.Thresholds{HighLatencyMs: &cmd.HighLatencyMs, PacketLossPct: &cmd.PacketLossPct},
		Logger:     logger,
	}
	if cmd.ResolveNames {
		client := dnsclient.New(dnsclient.Options{
			Mode:    dnsclient.Mode(cmd.Transport),
			Timeout: cmd.MaxTime,
			Retries: cmd.Retries,
			Logger:  logger,
		})
		pcfg.Enricher = rdns.New(client, rdns.Config{Resolvers: cmd.Resolvers, Logger: logger})
	}

	result := pipeline.New(pcfg).Process(context.Background(), cmd.Target, string(raw))

	var rendered string
	if cmd.Output == "json" {
		rendered, err = output.RenderJSON(result)
	} else {
		rendered = output.RenderPretty(result)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	fmt.Println(rendered)
	if result.Classification.Anomalous() {
		os.Exit(2)
	}
}

func runServe(cmd ServeCmd, logger *zap.Logger) error {
	cfg := config.Default()
	if cmd.Config != "" {
		loaded, err := config.Load(cmd.Config)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}
	if cmd.Listen != "" {
		cfg.Listen = cmd.Listen
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)
	runtime := config.NewRuntime(cfg)
	buffer := aggregate.NewBuffer()

	apiCfg := api.Config{Runtime: runtime, Gatherer: reg, Logger: logger.Named("api")}
	pcfg := pipeline.Config{
		Thresholds: analyze.Thresholds{HighLatencyMs: cfg.HighLatencyThresholdMs, PacketLossPct: cfg.PacketLossThresholdPct},
		Runtime:    runtime,
		Buffer:     buffer,
		Metrics:    m,
		Logger:     logger.Named("pipeline"),
	}
	var merger aggregate.Merger

	db, err := store.Open(cfg.DatabasePath, logger.Named("store"))
	if err != nil {
		logger.Warn("persistence unavailable, running degraded", zap.String("path", cfg.DatabasePath), zap.Error(err))
	} else {
		defer db.Close()
		apiCfg.Gateway = db
		pcfg.Events = db
		merger = db
	}

	if cfg.ReverseDNS.Enabled {
		client := dnsclient.New(dnsclient.Options{
			Mode:    dnsclient.Mode(cfg.ReverseDNS.Transport),
			Timeout: cfg.ReverseDNSTimeout(),
			Retries: cfg.ReverseDNS.Retries,
			Logger:  logger.Named("dns"),
		})
		pcfg.Enricher = rdns.New(client, rdns.Config{
			Resolvers:     cfg.ReverseDNS.Resolvers,
			RatePerSecond: cfg.ReverseDNS.RatePerSecond,
			Logger:        logger.Named("rdns"),
		})
	}

	flusher := aggregate.NewFlusher(buffer, merger, aggregate.Config{
		Interval:    cfg.FlushInterval(),
		Timeout:     cfg.FlushTimeout(),
		Parallelism: cfg.MergeParallelism,
		Logger:      logger.Named("flush"),
		Metrics:     m,
	})
	apiCfg.Flusher = flusher
	apiCfg.Pipeline = pipeline.New(pcfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	flusher.Start(ctx)

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           api.NewRouter(apiCfg),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.Listen), zap.Bool("persistence", db != nil))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-serveErr:
		if err != nil {
			flusher.Stop(context.Background())
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.FlushTimeout()+5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	report := flusher.Stop(shutdownCtx)
	logger.Info("final flush",
		zap.Int("buckets", report.Buckets),
		zap.Int("merged", report.Merged),
		zap.Int("failed", report.Failed),
	)
	return nil
}

func newLogger(verbose bool, debug bool) (*zap.Logger, error) {
	if debug {
		cfg := zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		return cfg.Build()
	}
	cfg := zap.NewProductionConfig()
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	} else {
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	}
	return cfg.Build()
}
