// Package evaluate scores the detection engine against labelled datasets.
package evaluate

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/parquet-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/raaihank/promptguard/internal/detect"
	"github.com/raaihank/promptguard/internal/logger"
)

// errMalformed marks a row the source could not decode. The row is
// skipped and reading continues.
var errMalformed = errors.New("malformed record")

// Source yields records until io.EOF
type Source func() (*Record, error)

// Evaluator runs datasets through a detection engine
type Evaluator struct {
	engine *detect.Engine
	config Config
	logger *logger.Logger
	known  map[string]string
}

// New creates an evaluator. Zero sizes fall back to DefaultConfig.
func New(engine *detect.Engine, cfg Config, log *logger.Logger) *Evaluator {
	if log == nil {
		log = logger.NewNop()
	}
	def := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = def.WorkerCount
	}
	if cfg.MaxTextLength <= 0 {
		cfg.MaxTextLength = def.MaxTextLength
	}

	known := make(map[string]string)
	for _, name := range engine.Rules() {
		known[strings.ToLower(name)] = name
	}

	return &Evaluator{
		engine: engine,
		config: cfg,
		logger: log.WithComponent("evaluate"),
		known:  known,
	}
}

// EvaluateFile scores a dataset file (CSV, Parquet, or JSON lines)
func (e *Evaluator) EvaluateFile(ctx context.Context, filePath string) (*Report, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset: %w", err)
	}
	defer file.Close()

	format := DetectFileFormat(filePath)
	e.logger.Info("Detected file format", zap.String("file", filePath), zap.String("format", string(format)))

	var src Source
	switch format {
	case FormatCSV:
		src, err = CSVSource(file)
	case FormatParquet:
		var pr *parquet.Reader
		pr, src = parquetSource(file)
		defer pr.Close()
	case FormatJSON:
		src = JSONSource(file)
	default:
		return nil, fmt.Errorf("unsupported file format: %s", format)
	}
	if err != nil {
		return nil, fmt.Errorf("%s dataset: %w", format, err)
	}

	return e.Evaluate(ctx, filePath, src)
}

// Evaluate reads every record from src and scores it. Batches are scored
// by WorkerCount goroutines while the source is still being read.
func (e *Evaluator) Evaluate(ctx context.Context, name string, src Source) (*Report, error) {
	start := time.Now()
	e.logger.Info("Starting evaluation",
		zap.String("dataset", name),
		zap.Int("batch_size", e.config.BatchSize),
		zap.Int("workers", e.config.WorkerCount))

	var (
		skipped   atomic.Int64
		processed atomic.Int64
		mu        sync.Mutex
		total     = newTally()
	)

	g, gctx := errgroup.WithContext(ctx)
	batches := make(chan []*Record, e.config.WorkerCount)

	g.Go(func() error {
		defer close(batches)
		for {
			batch, n, err := e.readBatch(src)
			skipped.Add(n)
			if len(batch) > 0 {
				select {
				case batches <- batch:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("failed to read batch: %w", err)
			}
		}
	})

	for i := 0; i < e.config.WorkerCount; i++ {
		g.Go(func() error {
			local := newTally()
			for batch := range batches {
				if err := gctx.Err(); err != nil {
					return err
				}
				for _, rec := range batch {
					e.score(local, rec)
				}
				e.progress(processed.Add(int64(len(batch))), len(batch), start)
			}
			mu.Lock()
			total.merge(local, e.config.MaxMisses)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("evaluation of %s failed: %w", name, err)
	}

	report := total.report(name, e.engine.Rules())
	report.Skipped = skipped.Load()
	report.Duration = time.Since(start)

	e.logger.Info("Evaluation completed",
		zap.String("dataset", name),
		zap.Int64("total_records", report.TotalRecords),
		zap.Int64("skipped", report.Skipped),
		zap.Float64("precision", report.Precision),
		zap.Float64("recall", report.Recall),
		zap.Float64("f1", report.F1),
		zap.Duration("duration", report.Duration))

	return report, nil
}

// readBatch collects up to BatchSize valid records. It returns the number
// of records it dropped along with io.EOF once the source is exhausted.
func (e *Evaluator) readBatch(src Source) ([]*Record, int64, error) {
	var (
		batch   []*Record
		skipped int64
	)
	for len(batch) < e.config.BatchSize {
		rec, err := src()
		if errors.Is(err, errMalformed) {
			e.logger.Warn("Skipping malformed record", zap.Error(err))
			skipped++
			continue
		}
		if err != nil {
			return batch, skipped, err
		}
		if !e.validateRecord(rec) {
			skipped++
			continue
		}
		batch = append(batch, rec)
	}
	return batch, skipped, nil
}

// validateRecord validates a data record
func (e *Evaluator) validateRecord(rec *Record) bool {
	if !e.config.ValidateData {
		return true
	}
	if strings.TrimSpace(rec.Text) == "" {
		e.logger.Debug("Invalid record: empty text")
		return false
	}
	if rec.Label != 0 && rec.Label != 1 {
		e.logger.Debug("Invalid record: invalid label", zap.Int("label", rec.Label))
		return false
	}
	if len(rec.Text) > e.config.MaxTextLength {
		e.logger.Debug("Invalid record: text too long", zap.Int("length", len(rec.Text)))
		return false
	}
	return true
}

func (e *Evaluator) score(t *tally, rec *Record) {
	names := detect.Names(e.engine.Detect(rec.Text))
	fired := make(map[string]bool, len(names))
	for _, name := range names {
		fired[name] = true
	}

	var expected []string
	for _, name := range expectedRules(rec.LabelText) {
		if canonical, ok := e.known[strings.ToLower(name)]; ok {
			expected = append(expected, canonical)
		}
	}

	t.add(rec, names, fired, expected)
}

func (e *Evaluator) progress(done int64, batch int, start time.Time) {
	every := int64(e.config.ProgressReport)
	if every <= 0 || done/every == (done-int64(batch))/every {
		return
	}
	elapsed := time.Since(start)
	e.logger.Info("Evaluation progress",
		zap.Int64("records_processed", done),
		zap.Float64("rate_per_sec", float64(done)/elapsed.Seconds()),
		zap.Duration("elapsed", elapsed))
}

// CSVSource reads a CSV dataset with a text, label_text, label header.
// Columns are matched by name; label_text may be absent.
func CSVSource(r io.Reader) (Source, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	cols := map[string]int{"text": -1, "label_text": -1, "label": -1}
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if _, ok := cols[h]; ok {
			cols[h] = i
		}
	}
	if cols["text"] < 0 || cols["label"] < 0 {
		return nil, fmt.Errorf("CSV header must name text and label columns, got %v", header)
	}

	field := func(row []string, col string) string {
		i := cols[col]
		if i < 0 || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	return func() (*Record, error) {
		row, err := reader.Read()
		if err == io.EOF {
			return nil, io.EOF
		}
		var perr *csv.ParseError
		if errors.As(err, &perr) {
			return nil, fmt.Errorf("%w: %v", errMalformed, err)
		}
		if err != nil {
			return nil, err
		}
		if len(row) <= cols["text"] || len(row) <= cols["label"] {
			return nil, fmt.Errorf("%w: %d fields", errMalformed, len(row))
		}
		return &Record{
			Text:      field(row, "text"),
			LabelText: field(row, "label_text"),
			Label:     parseLabel(field(row, "label")),
		}, nil
	}, nil
}

// JSONSource reads one JSON object per line
func JSONSource(r io.Reader) Source {
	decoder := json.NewDecoder(r)
	return func() (*Record, error) {
		var rec Record
		err := decoder.Decode(&rec)
		if err == io.EOF {
			return nil, io.EOF
		}
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return nil, fmt.Errorf("%w: %v", errMalformed, err)
		}
		if err != nil {
			// the decoder cannot resynchronise after a syntax error
			return nil, fmt.Errorf("failed to read JSON record: %w", err)
		}
		return &rec, nil
	}
}

func parquetSource(r io.ReaderAt) (*parquet.Reader, Source) {
	reader := parquet.NewReader(r)
	return reader, func() (*Record, error) {
		var rec Record
		if err := reader.Read(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("failed to read Parquet record: %w", err)
		}
		return &rec, nil
	}
}

func parseLabel(s string) int {
	switch strings.ToLower(s) {
	case "1", "true", "block", "yes":
		return 1
	default:
		return 0
	}
}
