package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/streamprobe/streamprobe/pkg/config"
	"github.com/streamprobe/streamprobe/pkg/pipeline"
	"github.com/streamprobe/streamprobe/pkg/store"
	"github.com/streamprobe/streamprobe/pkg/validate"
)

var (
	checkURL              string
	checkPhase            int
	checkSkipPhases       []int
	checkOutput           string
	checkTestRunID        string
	checkSilenceThreshold float64
	checkSampleDuration   int
	checkNoStore          bool
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run the diagnostic pipeline against a stream URL",
	Long: `Check a stream URL. By default all four phases run; --phase N stops
after phase N and --skip-phase removes individual phases.`,
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)

	checkCmd.Flags().StringVar(&checkURL, "url", "", "stream URL to check (required)")
	checkCmd.Flags().IntVar(&checkPhase, "phase", 0,
		"run phases 1 through N (default: all phases)")
	checkCmd.Flags().IntSliceVar(&checkSkipPhases, "skip-phase", nil,
		"phase to skip (can be repeated)")
	checkCmd.Flags().StringVar(&checkOutput, "output", "text",
		"output format (text, json)")
	checkCmd.Flags().StringVar(&checkTestRunID, "test-run-id", "",
		"reuse an existing test run ID (UUID) instead of generating one")
	checkCmd.Flags().Float64Var(&checkSilenceThreshold, "silence-threshold",
		config.DefaultSilenceThresholdDB, "silence threshold in dB")
	checkCmd.Flags().IntVar(&checkSampleDuration, "sample-duration",
		config.DefaultSampleDurationSeconds, "audio sample duration in seconds")
	checkCmd.Flags().BoolVar(&checkNoStore, "no-store", false,
		"do not persist results to the database")

	_ = checkCmd.MarkFlagRequired("url")
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// CLI flags override config values when set.
	if cmd.Flags().Changed("silence-threshold") {
		if !validate.SilenceThreshold(checkSilenceThreshold) {
			return fmt.Errorf("silence threshold must be between -100 and 0 dB")
		}

		cfg.Probe.SilenceThresholdDB = &checkSilenceThreshold
	}

	if cmd.Flags().Changed("sample-duration") {
		if !validate.SampleDuration(checkSampleDuration) {
			return fmt.Errorf("sample duration must be between 1 and 300 seconds")
		}

		cfg.Probe.SampleDurationSeconds = checkSampleDuration
	}

	if checkOutput != "text" && checkOutput != "json" {
		return fmt.Errorf("unknown output format %q (want text or json)", checkOutput)
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.WithField("signal", sig).Info("Received shutdown signal")
		cancel()
	}()

	opts := pipeline.Options{}

	if !checkNoStore {
		dbPath, err := cfg.DatabaseFile()
		if err != nil {
			return fmt.Errorf("resolving database path: %w", err)
		}

		st := store.NewStore(log, dbPath)
		if err := st.Start(ctx); err != nil {
			return fmt.Errorf("opening database: %w", err)
		}

		defer func() {
			if err := st.Stop(); err != nil {
				log.WithError(err).Warn("Failed to close database")
			}
		}()

		opts.Store = st
	}

	p, err := pipeline.New(log, cfg, opts)
	if err != nil {
		return fmt.Errorf("creating pipeline: %w", err)
	}

	rec, err := p.Run(ctx, &pipeline.Request{
		URL:        checkURL,
		TestRunID:  checkTestRunID,
		Phase:      checkPhase,
		SkipPhases: checkSkipPhases,
	})
	if err != nil {
		return err
	}

	if checkOutput == "json" {
		data, err := rec.JSON()
		if err != nil {
			return err
		}

		fmt.Println(string(data))

		return nil
	}

	renderRecord(os.Stdout, rec)

	return nil
}
