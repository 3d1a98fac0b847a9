package evaluate

import (
	"path/filepath"
	"strings"
	"time"
)

// Record is one labelled sample. Label is 1 when the text discloses
// sensitive data and should be stopped. LabelText optionally names the
// rules expected to fire, comma separated.
type Record struct {
	Text      string `csv:"text" parquet:"text" json:"text"`
	LabelText string `csv:"label_text" parquet:"label_text" json:"label_text"`
	Label     int    `csv:"label" parquet:"label" json:"label"`
}

// Config controls an evaluation run
type Config struct {
	BatchSize      int  `yaml:"batch_size" mapstructure:"batch_size"`           // 500
	WorkerCount    int  `yaml:"worker_count" mapstructure:"worker_count"`       // 4
	ValidateData   bool `yaml:"validate_data" mapstructure:"validate_data"`     // true
	MaxTextLength  int  `yaml:"max_text_length" mapstructure:"max_text_length"` // 10000
	MaxMisses      int  `yaml:"max_misses" mapstructure:"max_misses"`           // 20
	ProgressReport int  `yaml:"progress_report" mapstructure:"progress_report"` // 1000
}

// DefaultConfig returns the settings used by the eval command
func DefaultConfig() Config {
	return Config{
		BatchSize:      500,
		WorkerCount:    4,
		ValidateData:   true,
		MaxTextLength:  10000,
		MaxMisses:      20,
		ProgressReport: 1000,
	}
}

// Report is the outcome of scoring a dataset
type Report struct {
	Dataset        string        `json:"dataset"`
	TotalRecords   int64         `json:"total_records"`
	Skipped        int64         `json:"skipped"`
	TruePositives  int64         `json:"true_positives"`
	FalsePositives int64         `json:"false_positives"`
	TrueNegatives  int64         `json:"true_negatives"`
	FalseNegatives int64         `json:"false_negatives"`
	Precision      float64       `json:"precision"`
	Recall         float64       `json:"recall"`
	F1             float64       `json:"f1"`
	Accuracy       float64       `json:"accuracy"`
	Rules          []RuleReport  `json:"rules"`
	Misses         []Miss        `json:"misses,omitempty"`
	Duration       time.Duration `json:"duration"`
}

// RuleReport scores a single detector. Expected and Found only count
// records whose label_text names rules.
type RuleReport struct {
	Name       string  `json:"name"`
	Fired      int64   `json:"fired"`
	OnPositive int64   `json:"on_positive"`
	OnNegative int64   `json:"on_negative"`
	Expected   int64   `json:"expected"`
	Found      int64   `json:"found"`
	Precision  float64 `json:"precision"`
	Recall     float64 `json:"recall"`
}

// Miss is a misclassified record kept for inspection
type Miss struct {
	Text     string   `json:"text"`
	Label    int      `json:"label"`
	Detected []string `json:"detected"`
}

// FileFormat represents supported file formats
type FileFormat string

const (
	FormatCSV     FileFormat = "csv"
	FormatParquet FileFormat = "parquet"
	FormatJSON    FileFormat = "json"
)

// DetectFileFormat detects file format from extension
func DetectFileFormat(filename string) FileFormat {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".parquet":
		return FormatParquet
	case ".json", ".jsonl", ".ndjson":
		return FormatJSON
	default:
		return FormatCSV
	}
}

// expectedRules splits label_text into rule names
func expectedRules(labelText string) []string {
	var names []string
	for _, part := range strings.Split(labelText, ",") {
		if name := strings.TrimSpace(part); name != "" {
			names = append(names, name)
		}
	}
	return names
}

func ratio(num, den int64) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}
