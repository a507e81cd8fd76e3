// The gvapview command lists and serves gvaphive result directories.
package main

import (
	"flag"
	"os"
	"time"

	"gopkg.in/inconshreveable/log15.v2"
)

const (
	durationDays  = 24 * time.Hour
	durationMonth = 31 * durationDays
)

func main() {
	var (
		serve          = flag.Bool("serve", false, "Enables the HTTP server")
		listing        = flag.Bool("listing", false, "Writes the result listing to stdout as JSON lines")
		limit          = flag.Int("limit", 200, "Maximum number of listed scenario results")
		gc             = flag.Bool("gc", false, "Deletes old result files and node logs")
		gcKeepInterval = flag.Duration("keep", 5*durationMonth, "Time interval of past results to keep (for -gc)")
		gcKeepMin      = flag.Int("keep-min", 10, "Minimum number of scenario results to keep (for -gc)")
		config         serverConfig
	)
	flag.StringVar(&config.listenAddr, "addr", "0.0.0.0:8080", "HTTP server listen address")
	flag.StringVar(&config.resultsDir, "results", "workspace/results", "Path to the gvaphive results directory")
	flag.Parse()
	config.limit = *limit

	log15.Root().SetHandler(log15.StreamHandler(os.Stderr, log15.TerminalFormat()))
	switch {
	case *serve:
		if err := runServer(config); err != nil {
			fatal("server failed", "err", err)
		}
	case *listing:
		if err := writeListing(os.DirFS(config.resultsDir), os.Stdout, *limit); err != nil {
			fatal("can't generate listing", "err", err)
		}
	case *gc:
		cutoff := time.Now().Add(-*gcKeepInterval)
		if err := resultsGC(config.resultsDir, cutoff, *gcKeepMin); err != nil {
			fatal("gc failed", "err", err)
		}
	default:
		fatal("use -serve, -listing or -gc to select mode")
	}
}

func fatal(msg string, ctx ...interface{}) {
	log15.Crit(msg, ctx...)
	os.Exit(1)
}
