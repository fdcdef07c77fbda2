package loadgen

import "os"

// ShowHelp prints usage information for the load generator.
func ShowHelp() {
	os.Stdout.WriteString(`Visibility Load Generator
=========================

Scores synthetic creators against a running service and verifies that the
surface listings agree with the per-creator scores.

Usage:
  go run ./cmd/loadgen [options]

Options:
  -url string
        Base URL of the service (default "http://localhost:9080")
  -creators int
        Number of creators to generate (default 2000)
  -top int
        Number of top entries to fetch per surface (default 50)
  -workers int
        Number of concurrent workers (default CPU cores * 2)
  -mode string
        sync posts to /score, async posts to /metrics (default "sync")
  -countries string
        Comma separated country codes (default "US,DE,FR,GB,BR")
  -seed uint
        Seed for the metrics generator (default 1)
  -settle duration
        Max wait for the queue to drain in async mode (default 1m)
  -timeout duration
        HTTP request timeout (default 30s)
  -output string
        Write generated creators to this JSON file
  -verbose
        Log rejected submissions and the head of each listing
  -help
        Show this help message

Examples:
  go run ./cmd/loadgen -creators 10000 -workers 32
  go run ./cmd/loadgen -mode async -settle 2m -verbose
`)
}
