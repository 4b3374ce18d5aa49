/*
main.go - Application entry point

PURPOSE:
  pointsd runs the points ledger HTTP server and offers one-shot commands
  against the same SQLite database.

COMMANDS:
  serve                      Start the HTTP API (default)
  add PAYER POINTS [--at]    Record a grant
  spend POINTS               Spend points oldest-first
  balances                   Print per-payer balances

GLOBAL FLAGS:
  --config     TOML config file (optional)
  --db         SQLite database path, ":memory:" for in-memory
  --port       HTTP server port
  --log-level  debug, info, warn, error

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection

EXAMPLES:
  pointsd serve --db ./data/points.db
  pointsd add DANNON 300 --at 2020-10-31T10:00:00Z
  pointsd spend 5000

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: Config file format
*/
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
