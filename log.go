package main

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"
	"golang.org/x/term"
)

// setupLog sends logs to stderr, and additionally to DECKCAST_LOG_FILE when
// set. Terminals get the styled formatter, everything else logfmt.
func setupLog() (func() error, error) {
	log.SetReportTimestamp(true)
	log.SetLevel(log.InfoLevel)

	var out io.Writer = os.Stderr
	closer := func() error { return nil }

	if path := os.Getenv("DECKCAST_LOG_FILE"); path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644) //nolint:gosec
		if err != nil {
			return nil, fmt.Errorf("unable to open log file: %w", err)
		}
		out = io.MultiWriter(os.Stderr, f)
		closer = f.Close
	}

	log.SetOutput(out)
	if out != os.Stderr || !term.IsTerminal(int(os.Stderr.Fd())) { //nolint:gosec
		log.SetFormatter(log.LogfmtFormatter)
	}
	return closer, nil
}
