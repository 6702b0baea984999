package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/adalundhe/scopechain/core/config"
	"github.com/adalundhe/scopechain/core/registry"
	"github.com/adalundhe/scopechain/core/scenario"
	"github.com/adalundhe/scopechain/core/scope"
	"github.com/adalundhe/scopechain/core/storage"
)

// ErrScenariosFailed is returned when at least one scenario reported a failed
// expectation.
var ErrScenariosFailed = errors.New("scenarios failed")

var (
	runConfigFiles []string
	runShow        string
	runWatch       bool
	runJSON        bool
)

var runCmd = &cobra.Command{
	Use:   "run <scenario.yaml>...",
	Short: "Run scope scenarios",
	Long: `Run one or more scenario files. Each scenario gets a fresh environment;
its trace and failed expectations are printed in order.

Examples:
  scopechain run testdata/isolation.yaml
  scopechain run --show 'counter*' scenarios/*.yaml   # dump released frames
  scopechain run --watch scenarios/*.yaml             # rerun on change
  scopechain run --json scenarios/*.yaml`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringSliceVarP(&runConfigFiles, "config", "c", nil, "Additional config files, applied in order")
	runCmd.Flags().StringVar(&runShow, "show", "", "Print released frames with bindings matching this glob")
	runCmd.Flags().BoolVarP(&runWatch, "watch", "w", false, "Rerun when a scenario or config file changes")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "Output as JSON")
}

// runOptions carries everything one pass over the scenario files needs.
type runOptions struct {
	Paths       []string
	ConfigFiles []string
	Show        string
	JSON        bool
	Config      *config.Config
	Logger      *slog.Logger
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mgr := config.NewManager(storage.ResolveDirs())
	for _, f := range runConfigFiles {
		mgr.AddFile(f)
	}
	if err := mgr.Load(); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg := mgr.Get()
	logger := newLogger(cmd.ErrOrStderr(), cfg.Log)

	opts := runOptions{Paths: args, ConfigFiles: runConfigFiles, Show: runShow, JSON: runJSON, Config: cfg, Logger: logger}
	ok, err := executeScenarios(ctx, cmd.OutOrStdout(), opts)
	if err != nil {
		return err
	}
	if !runWatch {
		if !ok {
			return ErrScenariosFailed
		}
		return nil
	}

	mgr.OnChange(func(c *config.Config) {
		opts.Config = c
		opts.Logger = newLogger(cmd.ErrOrStderr(), c.Log)
	})
	return watchScenarios(ctx, cmd.OutOrStdout(), mgr, &opts)
}

// watchScenarios reruns every scenario whenever one of them, or an explicit
// config file, changes.
func watchScenarios(ctx context.Context, w io.Writer, mgr *config.Manager, opts *runOptions) error {
	watched := append(append([]string{}, opts.Paths...), opts.ConfigFiles...)
	fw, err := newFileWatcher(watched, watchDebounce, opts.Logger)
	if err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}
	if !opts.JSON {
		fmt.Fprintf(w, "\n%s%sWatch Mode%s - Press Ctrl+C to stop\n", colorBold, colorCyan, colorReset)
	}

	err = fw.Run(ctx, func(changed []string) {
		opts.Logger.Info("files changed", "files", changed)
		if err := mgr.Reload(); err != nil {
			opts.Logger.Error("config reload failed, keeping previous config", "error", err)
		}
		if _, err := executeScenarios(ctx, w, *opts); err != nil {
			opts.Logger.Error("scenario run failed", "error", err)
		}
	})
	if !opts.JSON {
		fmt.Fprintln(w, "\nWatch mode stopped.")
	}
	return err
}

// scenarioReport is the JSON form of one scenario result.
type scenarioReport struct {
	File     string           `json:"file"`
	Name     string           `json:"name"`
	Passed   bool             `json:"passed"`
	Error    string           `json:"error,omitempty"`
	Trace    []scenario.Event `json:"trace"`
	Failures []string         `json:"failures,omitempty"`
}

type runReport struct {
	Scenarios []scenarioReport `json:"scenarios"`
	Frames    []scope.Snapshot `json:"frames,omitempty"`
}

// executeScenarios runs every file once and writes the report. It returns
// false if any scenario failed or could not run.
func executeScenarios(ctx context.Context, w io.Writer, opts runOptions) (bool, error) {
	cfg := opts.Config
	reg, err := registry.New(cfg.Registry.RetiredCapacity)
	if err != nil {
		return false, err
	}
	runner := &scenario.Runner{
		Policy:           cfg.Policy(),
		Observers:        []scope.Observer{reg},
		Logger:           opts.Logger,
		MaxLifetime:      cfg.Concurrency.MaxLifetime,
		ShutdownGrace:    cfg.Concurrency.GracePeriod,
		ShutdownDeadline: cfg.Concurrency.HardDeadline,
	}

	report := runReport{}
	ok := true
	for _, path := range opts.Paths {
		rep := runScenarioFile(ctx, runner, path)
		ok = ok && rep.Passed
		report.Scenarios = append(report.Scenarios, rep)
		if ctx.Err() != nil {
			break
		}
	}

	if opts.Show != "" {
		frames, err := registry.Filter(reg.Retired(), opts.Show)
		if err != nil {
			return false, err
		}
		report.Frames = frames
	}

	if opts.JSON {
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return ok, encoder.Encode(report)
	}
	outputRichReport(w, report, opts.Show != "")
	return ok, nil
}

func runScenarioFile(ctx context.Context, runner *scenario.Runner, path string) scenarioReport {
	rep := scenarioReport{File: path}
	sc, err := scenario.Load(path)
	if err != nil {
		rep.Error = err.Error()
		return rep
	}
	rep.Name = sc.Name

	res, err := runner.Run(ctx, sc)
	if res != nil {
		rep.Trace = res.Trace
		rep.Failures = res.Failures
	}
	if err != nil {
		rep.Error = err.Error()
		return rep
	}
	rep.Passed = res.OK()
	return rep
}

func outputRichReport(w io.Writer, report runReport, showFrames bool) {
	passed := 0
	for _, rep := range report.Scenarios {
		name := rep.Name
		if name == "" {
			name = rep.File
		}
		fmt.Fprintf(w, "%s%s=== %s%s %s(%s)%s\n", colorBold, colorCyan, name, colorReset, colorGray, rep.File, colorReset)
		for _, ev := range rep.Trace {
			fmt.Fprintf(w, "    %s\n", ev)
		}
		for _, f := range rep.Failures {
			fmt.Fprintf(w, "  %s✗ %s%s\n", colorRed, f, colorReset)
		}
		switch {
		case rep.Error != "":
			fmt.Fprintf(w, "%sERROR%s %s: %s\n", colorRed, colorReset, name, rep.Error)
		case rep.Passed:
			passed++
			fmt.Fprintf(w, "%sPASS%s  %s\n", colorGreen, colorReset, name)
		default:
			fmt.Fprintf(w, "%sFAIL%s  %s\n", colorRed, colorReset, name)
		}
		fmt.Fprintln(w)
	}

	if showFrames {
		fmt.Fprintf(w, "%s%sReleased Frames%s\n", colorBold, colorCyan, colorReset)
		fmt.Fprintf(w, "%s%s%s\n", colorGray, strings.Repeat("-", 40), colorReset)
		if len(report.Frames) == 0 {
			fmt.Fprintf(w, "%sno matching bindings%s\n", colorYellow, colorReset)
		}
		for _, f := range report.Frames {
			fmt.Fprintf(w, "%s%s%s depth %d parent %s\n", colorBold, f.ID, colorReset, f.Depth, f.ParentID)
			for _, b := range f.Bindings {
				fmt.Fprintf(w, "    %s = %v\n", b.Identifier, b.Value)
			}
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "%d/%d scenarios passed\n", passed, len(report.Scenarios))
}
