package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/raaihank/promptguard/internal/detect"
	"github.com/raaihank/promptguard/internal/redact"
	"github.com/spf13/cobra"
)

// errFindings makes scan exit with status 2 when asked to fail
var errFindings = errors.New("sensitive data found")

var scanFailOnFindings bool

// scanCmd runs the detection engine over text
var scanCmd = &cobra.Command{
	Use:   "scan [file]",
	Short: "Scan text for sensitive data",
	Long: `Scans a file, or standard input when no file is given, and prints the
findings with masked values and the redacted text as JSON.

Example:
  echo "mail me at jane@corp.io" | promptguard scan
  promptguard scan --fail-on-findings prompt.txt`,
	Args: cobra.MaximumNArgs(1),
	RunE: runScan,
}

func init() {
	scanCmd.Flags().BoolVar(&scanFailOnFindings, "fail-on-findings", false, "Exit with status 2 when anything is found")
}

type scanFinding struct {
	Name     string          `json:"name"`
	Severity detect.Severity `json:"severity"`
	Masked   string          `json:"masked"`
}

type scanResult struct {
	Findings    []scanFinding   `json:"findings"`
	MaxSeverity detect.Severity `json:"max_severity"`
	Redacted    string          `json:"redacted"`
}

func runScan(cmd *cobra.Command, args []string) error {
	var in io.Reader = cmd.InOrStdin()
	if len(args) == 1 {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("failed to open input: %w", err)
		}
		defer f.Close()
		in = f
	}

	text, err := io.ReadAll(in)
	if err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}

	engine, err := detect.New(cfg.Detection, appLog.WithComponent("detect"))
	if err != nil {
		return err
	}

	result := buildScanResult(engine, string(text))

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return err
	}

	if scanFailOnFindings && len(result.Findings) > 0 {
		return errFindings
	}
	return nil
}

func buildScanResult(engine *detect.Engine, text string) scanResult {
	findings := engine.Detect(text)
	result := scanResult{
		Findings:    make([]scanFinding, 0, len(findings)),
		MaxSeverity: detect.MaxSeverity(findings),
		Redacted:    redact.Redact(text, findings),
	}
	for _, f := range findings {
		result.Findings = append(result.Findings, scanFinding{
			Name:     f.Name,
			Severity: f.Severity,
			Masked:   detect.MaskValue(f.Match),
		})
	}
	return result
}
