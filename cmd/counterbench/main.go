// Command counterbench times the baseline, locked and sharded counters
// with one writer goroutine per usable CPU and checks every total.
//
// Usage:
//
//	counterbench                       # all three benchmarks with default sizes
//	counterbench -n 100000 -workers 4  # smaller run
//	counterbench -only benchmark_approx_counter -shards 8 -threshold 1024
//	counterbench -json                 # print results as JSON
//	counterbench -remote-write http://prometheus:9090/api/v1/write
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/bytedance/sonic"
	"github.com/google/gops/agent"
	"go.uber.org/zap"

	"github.com/nikiz24/counter"
	"github.com/nikiz24/counter/bench"
	"github.com/nikiz24/counter/export"
)

type options struct {
	bench       bench.Config
	only        string
	json        bool
	remoteWrite string
	gops        bool
	debug       bool
}

func parseFlags(args []string) (options, error) {
	def := bench.DefaultConfig()
	opts := options{}

	fs := flag.NewFlagSet("counterbench", flag.ContinueOnError)
	fs.IntVar(&opts.bench.Iterations, "iterations", def.Iterations, "iterations per benchmark")
	fs.IntVar(&opts.bench.UpdatesPerWorker, "n", def.UpdatesPerWorker, "updates per worker per iteration")
	fs.IntVar(&opts.bench.Workers, "workers", def.Workers, "concurrent writers")
	fs.IntVar(&opts.bench.Shards, "shards", def.Shards, "shards of the sharded counter")
	fs.Int64Var(&opts.bench.Threshold, "threshold", 0, "sharded counter drain threshold, 0 to flush only at the end")
	fs.StringVar(&opts.only, "only", "", "run a single benchmark by name")
	fs.BoolVar(&opts.json, "json", false, "print results as JSON")
	fs.StringVar(&opts.remoteWrite, "remote-write", "", "Prometheus remote write URL for results")
	fs.BoolVar(&opts.gops, "gops", false, "start a gops diagnostics agent")
	fs.BoolVar(&opts.debug, "debug", false, "debug logging")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	return opts, nil
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{"stderr"}
	return cfg.Build()
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(2)
	}

	logger, err := newLogger(opts.debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, logger, os.Stdout); err != nil {
		logger.Error("counterbench failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options, logger *zap.Logger, out io.Writer) error {
	if opts.gops {
		if err := agent.Listen(agent.Options{ShutdownCleanup: true}); err != nil {
			return fmt.Errorf("starting gops agent: %w", err)
		}
		defer agent.Close()
	}

	if opts.remoteWrite != "" {
		cfg := export.DefaultConfig()
		cfg.RemoteWriteURL = opts.remoteWrite
		cfg.Logger = logger
		if err := export.Init(cfg); err != nil {
			return fmt.Errorf("starting exporter: %w", err)
		}
		defer export.Shutdown()
		opts.bench.Publish = publishCounter
	}

	opts.bench.Logger = logger
	var results []bench.Result
	for _, v := range bench.Variants() {
		if opts.only != "" && v.Name != opts.only {
			continue
		}
		res, err := bench.Run(ctx, v.Name, opts.bench, v.Workload)
		if err != nil {
			return err
		}
		results = append(results, res)
		export.RecordResult(res)
		if !opts.json {
			fmt.Fprintln(out, res.String())
		}
	}
	if len(results) == 0 {
		return fmt.Errorf("no benchmark named %q", opts.only)
	}

	if opts.json {
		data, err := sonic.ConfigStd.MarshalIndent(results, "", "  ")
		if err != nil {
			return fmt.Errorf("encoding results: %w", err)
		}
		fmt.Fprintln(out, string(data))
	}

	if opts.remoteWrite != "" {
		if err := export.ForceWrite(ctx); err != nil {
			return fmt.Errorf("publishing results: %w", err)
		}
	}
	return nil
}

// publishCounter exports a live benchmark counter until the returned func
// withdraws it.
func publishCounter(name string, r counter.Reader) func() {
	export.Register(name, r)
	return func() { export.Unregister(name) }
}
