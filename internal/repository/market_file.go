package repository

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"PriceSim/internal/domain/models"
	"PriceSim/internal/domain/service"
)

// MarketFileLoader reads market documents from disk.
type MarketFileLoader struct {
	maxBytes int64
}

func NewMarketFileLoader(maxBytes int64) *MarketFileLoader {
	if maxBytes <= 0 {
		maxBytes = service.DefaultMaxDocumentBytes
	}
	return &MarketFileLoader{maxBytes: maxBytes}
}

// Load returns the raw document without validating field relationships.
func (l *MarketFileLoader) Load(path string) (map[string]any, error) {
	if !strings.EqualFold(filepath.Ext(path), ".json") {
		return nil, &models.ValidationError{Reason: "market data file must have a .json extension"}
	}
	fi, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat market data: %w", err)
	}
	if fi.IsDir() {
		return nil, &models.ValidationError{Reason: "market data path is a directory"}
	}
	if fi.Size() > l.maxBytes {
		return nil, &models.ValidationError{Reason: fmt.Sprintf("document exceeds %d bytes", l.maxBytes)}
	}
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read market data: %w", err)
	}
	return service.DecodeMarketDocument(body)
}

// LoadSnapshot loads and validates in one go.
func (l *MarketFileLoader) LoadSnapshot(path string) (models.MarketSnapshot, error) {
	raw, err := l.Load(path)
	if err != nil {
		return models.MarketSnapshot{}, err
	}
	return service.ValidateMarketData(raw)
}
