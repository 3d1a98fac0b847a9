package main

import (
	"encoding/json"

	"github.com/raaihank/promptguard/internal/detect"
	"github.com/raaihank/promptguard/internal/evaluate"
	"github.com/spf13/cobra"
)

var (
	evalWorkers   int
	evalBatchSize int
	evalJSON      bool
)

// evalCmd scores the detectors against a labelled dataset
var evalCmd = &cobra.Command{
	Use:   "eval [dataset]",
	Short: "Measure detector precision and recall on a labelled dataset",
	Long: `Runs every record of a labelled dataset through the detection engine and
reports overall and per-rule precision and recall.

Datasets are CSV, Parquet or JSON lines with the columns text, label
(1 or true when the text should be stopped) and optionally label_text, a
comma separated list of the rules expected to fire.

Example:
  promptguard eval testdata/prompts.csv
  promptguard eval --workers 8 --json prompts.parquet`,
	Args: cobra.ExactArgs(1),
	RunE: runEval,
}

func init() {
	def := evaluate.DefaultConfig()
	evalCmd.Flags().IntVar(&evalWorkers, "workers", def.WorkerCount, "Number of worker goroutines")
	evalCmd.Flags().IntVar(&evalBatchSize, "batch-size", def.BatchSize, "Records per batch")
	evalCmd.Flags().BoolVar(&evalJSON, "json", false, "Print the report as JSON")
}

func runEval(cmd *cobra.Command, args []string) error {
	engine, err := detect.New(cfg.Detection, appLog.WithComponent("detect"))
	if err != nil {
		return err
	}

	evalCfg := evaluate.DefaultConfig()
	evalCfg.WorkerCount = evalWorkers
	evalCfg.BatchSize = evalBatchSize

	report, err := evaluate.New(engine, evalCfg, appLog).EvaluateFile(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	if evalJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	return report.WriteTable(cmd.OutOrStdout())
}
