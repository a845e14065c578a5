package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"PriceSim/internal/domain/models"
	applogger "PriceSim/pkg/logger"

	"github.com/shopspring/decimal"
)

const DefaultResultsFile = "simulation_results.json"

// JSONFileExporter writes one results document per run.
type JSONFileExporter struct {
	dir      string
	file     string
	dataFile string
	l        *applogger.Logger
}

type JSONExporterOption func(*JSONFileExporter)

// WithResultsFile pins the output name. Only the base name is kept.
func WithResultsFile(name string) JSONExporterOption {
	return func(e *JSONFileExporter) { e.file = name }
}

// WithDataFile records where the market snapshot came from.
func WithDataFile(path string) JSONExporterOption {
	return func(e *JSONFileExporter) { e.dataFile = path }
}

func WithJSONLogger(l *applogger.Logger) JSONExporterOption {
	return func(e *JSONFileExporter) { e.l = l }
}

func NewJSONFileExporter(dir string, opts ...JSONExporterOption) *JSONFileExporter {
	if dir == "" {
		dir = "."
	}
	e := &JSONFileExporter{dir: dir, l: applogger.Nop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *JSONFileExporter) Name() string { return "json" }

type resultsDocument struct {
	Metadata  resultsMetadata `json:"simulation_metadata"`
	PriceData []priceRecord   `json:"price_data"`
}

type resultsMetadata struct {
	RunID        string             `json:"run_id"`
	Seed         uint64             `json:"seed"`
	Volatility   float64            `json:"volatility"`
	Horizon      int                `json:"horizon"`
	DataFile     string             `json:"data_file"`
	MarketData   map[string]float64 `json:"market_data"`
	TotalRecords int                `json:"total_records"`
	State        string             `json:"state"`
	Error        string             `json:"error,omitempty"`
}

type priceRecord struct {
	Timestamp string          `json:"timestamp"`
	Interval  models.Interval `json:"interval"`
	Price     json.Number     `json:"price"`
}

// Path reports where the document for runID is written.
func (e *JSONFileExporter) Path(runID string) string {
	name := e.file
	if name == "" {
		name = runID
	}
	return filepath.Join(e.dir, SanitizeResultsName(name))
}

// SanitizeResultsName strips directories and forces a .json suffix.
func SanitizeResultsName(name string) string {
	base := filepath.Base(filepath.Clean("/" + name))
	if base == "/" || base == "." || base == "" {
		base = strings.TrimSuffix(DefaultResultsFile, ".json")
	}
	if !strings.HasSuffix(base, ".json") {
		base += ".json"
	}
	return base
}

func (e *JSONFileExporter) Export(ctx context.Context, rec *models.RunRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	doc := buildResultsDocument(rec, e.dataFile)
	body, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode results: %w", err)
	}

	path := e.Path(rec.RunID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create results dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".results-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp results: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(append(body, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("write results: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close results: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("publish results: %w", err)
	}
	e.l.Info("results exported", applogger.String("path", path), applogger.Int("records", len(doc.PriceData)))
	return nil
}

func buildResultsDocument(rec *models.RunRecord, dataFile string) resultsDocument {
	doc := resultsDocument{
		Metadata: resultsMetadata{
			RunID:      rec.RunID,
			Seed:       rec.Params.Seed,
			Volatility: rec.Params.Volatility,
			Horizon:    rec.Params.Horizon,
			DataFile:   dataFile,
		},
		PriceData: []priceRecord{},
	}
	res := rec.Result
	if res == nil {
		return doc
	}
	snap := res.Snapshot
	doc.Metadata.MarketData = map[string]float64{
		"open": snap.Open, "high": snap.High, "low": snap.Low, "close": snap.Close,
	}
	doc.Metadata.State = res.State.String()
	if res.Err != nil {
		doc.Metadata.Error = res.Err.Error()
	}
	for _, o := range res.Observations {
		doc.PriceData = append(doc.PriceData, priceRecord{
			Timestamp: o.Timestamp.Format(time.RFC3339Nano),
			Interval:  o.Interval,
			Price:     json.Number(RoundPrice(o.Price).String()),
		})
	}
	doc.Metadata.TotalRecords = len(doc.PriceData)
	return doc
}

// RoundPrice rounds half away from zero to cents.
func RoundPrice(p float64) decimal.Decimal {
	return decimal.NewFromFloat(p).Round(2)
}
