package main

import (
	"context"
	"flag"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/okian/visibility/internal/loadgen"
	"github.com/okian/visibility/pkg/logger"
)

// Default configuration constants.
const (
	defaultCreators   = 2000
	defaultTopN       = 50
	defaultWorkers    = 2 // multiplier for runtime.NumCPU()
	defaultTimeout    = 30 * time.Second
	defaultSettle     = time.Minute
	defaultRunTimeout = 10 * time.Minute
)

func main() {
	var (
		baseURL    = flag.String("url", "http://localhost:9080", "Base URL of the service")
		creators   = flag.Int("creators", defaultCreators, "Number of creators to generate")
		topN       = flag.Int("top", defaultTopN, "Number of top entries to fetch per surface")
		workers    = flag.Int("workers", runtime.NumCPU()*defaultWorkers, "Number of concurrent workers")
		mode       = flag.String("mode", loadgen.ModeSync, "sync or async submission")
		countries  = flag.String("countries", "US,DE,FR,GB,BR", "Comma separated country codes")
		seed       = flag.Uint64("seed", 1, "Seed for the metrics generator")
		settle     = flag.Duration("settle", defaultSettle, "Max wait for the queue to drain in async mode")
		timeout    = flag.Duration("timeout", defaultTimeout, "HTTP request timeout")
		outputFile = flag.String("output", "", "Write generated creators to this JSON file")
		verbose    = flag.Bool("verbose", false, "Enable verbose logging")
		help       = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		loadgen.ShowHelp()
		return
	}
	if *mode != loadgen.ModeSync && *mode != loadgen.ModeAsync {
		os.Stderr.WriteString("invalid -mode: " + *mode + "\n")
		os.Exit(2)
	}

	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	if *verbose {
		_ = logger.SetLevelString("debug")
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultRunTimeout)
	defer cancel()

	cfg := &loadgen.Config{
		BaseURL:    strings.TrimRight(*baseURL, "/"),
		Creators:   *creators,
		TopN:       *topN,
		Workers:    max(*workers, 1),
		Timeout:    *timeout,
		Mode:       *mode,
		Countries:  strings.Split(*countries, ","),
		Seed:       *seed,
		Settle:     *settle,
		OutputFile: *outputFile,
		Verbose:    *verbose,
	}

	if _, err := loadgen.Run(ctx, cfg, logger.Named("loadgen")); err != nil {
		os.Stderr.WriteString("load run failed: " + err.Error() + "\n")
		os.Exit(1)
	}
}
