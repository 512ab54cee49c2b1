package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/streamprobe/streamprobe/pkg/config"
	"github.com/streamprobe/streamprobe/pkg/identity"
	"github.com/streamprobe/streamprobe/pkg/result"
	"github.com/streamprobe/streamprobe/pkg/store"
)

var (
	historyURL      string
	historyStreamID string
	historyLimit    int
	historyOutput   string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show past test runs for a stream",
	RunE:  runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().StringVar(&historyURL, "url", "", "stream URL")
	historyCmd.Flags().StringVar(&historyStreamID, "stream-id", "", "stream ID")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 10, "maximum number of runs to show")
	historyCmd.Flags().StringVar(&historyOutput, "output", "text",
		"output format (text, json)")

	historyCmd.MarkFlagsOneRequired("url", "stream-id")
	historyCmd.MarkFlagsMutuallyExclusive("url", "stream-id")
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if historyOutput != "text" && historyOutput != "json" {
		return fmt.Errorf("unknown output format %q (want text or json)", historyOutput)
	}

	streamID := historyStreamID
	if streamID == "" {
		streamID, err = identity.StreamID(historyURL)
		if err != nil {
			return fmt.Errorf("deriving stream id: %w", err)
		}
	}

	ctx := cmd.Context()

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

	stream, err := st.GetStream(ctx, streamID)
	if err != nil {
		return err
	}

	if stream == nil {
		return fmt.Errorf("no stream found for id %s", streamID)
	}

	runs, err := st.StreamHistory(ctx, streamID, historyLimit)
	if err != nil {
		return err
	}

	if historyOutput == "json" {
		return printHistoryJSON(runs)
	}

	fmt.Printf("Stream:     %s\n", stream.URL)
	fmt.Printf("Stream ID:  %s\n", stream.StreamID)
	fmt.Printf("Tests run:  %d\n", stream.TestCount)

	if stream.LastTested != nil {
		fmt.Printf("Last test:  %s\n", stream.LastTested.Format("2006-01-02 15:04:05 MST"))
	}

	fmt.Println()

	if len(runs) == 0 {
		fmt.Println("No test runs recorded.")

		return nil
	}

	for _, run := range runs {
		line := fmt.Sprintf("%s  phase %d  %s",
			run.Timestamp.Format("2006-01-02 15:04:05"), run.Phase, run.TestRunID)

		if rec, err := result.ParseRecord([]byte(run.ResultsJSON)); err == nil && rec.HealthScore != nil {
			line += fmt.Sprintf("  health %d/100", *rec.HealthScore)

			if len(rec.Issues) > 0 {
				line += "  " + strings.Join(rec.Issues, "; ")
			}
		}

		fmt.Println(line)
	}

	return nil
}

// printHistoryJSON emits the stored records as a JSON array.
func printHistoryJSON(runs []store.TestRun) error {
	records := make([]*result.Record, 0, len(runs))

	for _, run := range runs {
		rec, err := result.ParseRecord([]byte(run.ResultsJSON))
		if err != nil {
			return fmt.Errorf("parsing stored record %s: %w", run.TestRunID, err)
		}

		records = append(records, rec)
	}

	out, err := result.MarshalRecords(records)
	if err != nil {
		return err
	}

	_, err = os.Stdout.Write(append(out, '\n'))

	return err
}
