package testenv

import (
	"flag"
	"testing"

	"calc-tracker/internal/config"
)

// Command-line switches for the test binary, e.g.
//
//	go test ./... -args -preserve-db
//
// Packages that do not import testenv reject unknown flags, so the
// PRESERVE_DB and RUN_SLOW environment variables are the portable form.
var (
	preserveDBFlag = flag.Bool("preserve-db", false, "keep test database rows and tables after the run")
	runSlowFlag    = flag.Bool("run-slow", false, "run tests marked as slow")
)

// Options are the run-wide test switches.
type Options struct {
	PreserveDB bool
	RunSlow    bool
}

// OptionsFrom merges the command-line flags with configuration. Either
// source can switch an option on. flag.Parse must have run.
func OptionsFrom(cfg config.Test) Options {
	return Options{
		PreserveDB: *preserveDBFlag || cfg.PreserveDB,
		RunSlow:    *runSlowFlag || cfg.RunSlow,
	}
}

// SkipUnlessSlow skips t unless slow tests were requested.
func SkipUnlessSlow(t testing.TB, opts Options) {
	t.Helper()
	if !opts.RunSlow {
		t.Skip("use --run-slow to run")
	}
}
