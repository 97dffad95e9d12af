// bundlestat reports the size of a built dashboard and checks it against
// budgets. It writes bundle-report.json and bundle-report.csv and prints a
// summary. The exit code is 1 when the build directory is missing or
// unreadable, or a report cannot be written. Exceeded budgets are reported
// but do not fail the run, and an unusable budget file falls back to the
// defaults with a warning.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/pflag"

	"sar/internal/bundle"
)

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	var (
		dir, budgetsPath, outDir string
		top                      int
		quiet                    bool
	)
	fs := pflag.NewFlagSet("bundlestat", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVarP(&dir, "dir", "d", "dist", "build output directory to analyze")
	fs.StringVarP(&budgetsPath, "budgets", "b", "", "YAML budget file (defaults apply when empty)")
	fs.StringVarP(&outDir, "out", "o", ".", "directory for bundle-report.json and bundle-report.csv")
	fs.IntVar(&top, "top", 10, "number of largest assets listed in the summary")
	fs.BoolVarP(&quiet, "quiet", "q", false, "skip the summary")
	if err := fs.Parse(args); err != nil {
		return err
	}

	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("%w: %s", bundle.ErrNoBuildDir, dir)
	}

	budgets := bundle.DefaultBudgets()
	if budgetsPath != "" {
		loaded, err := bundle.LoadBudgets(budgetsPath)
		if err != nil {
			fmt.Fprintf(stderr, "warning: %v; using default budgets\n", err)
		} else {
			budgets = loaded
		}
	}

	report, err := bundle.Analyze(os.DirFS(dir))
	if err != nil {
		return err
	}
	report.Dir = dir
	report.GeneratedAt = time.Now().UTC()
	report.Evaluate(budgets)

	if err := writeFile(filepath.Join(outDir, "bundle-report.json"), report.WriteJSON); err != nil {
		return err
	}
	if err := writeFile(filepath.Join(outDir, "bundle-report.csv"), report.WriteCSV); err != nil {
		return err
	}

	if !quiet {
		if err := report.WriteSummary(stdout, top); err != nil {
			return err
		}
	}
	return nil
}

func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
