// Package finance implements the mock financial tools exposed to the model.
package finance

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Provider supplies the market data the tools read. Implementations must be
// safe for concurrent use.
type Provider interface {
	// BasePrice returns the reference price for an upper-case symbol.
	BasePrice(symbol string) (float64, bool)
	// Symbols returns the sorted list of known stock symbols.
	Symbols() []string
	// MarketSnapshot returns the index snapshot and market status label.
	MarketSnapshot() ([]IndexQuote, string)
	// Ratios returns the financial ratios for an upper-case symbol.
	Ratios(symbol string) (Ratios, bool)
	// AnalysisSymbols returns the sorted list of symbols with ratio data.
	AnalysisSymbols() []string
	// Rate returns the directed conversion rate between two currency codes.
	Rate(from, to string) (float64, bool)
}

// IndexQuote is one entry of the market summary.
type IndexQuote struct {
	Name          string  `json:"name" yaml:"name"`
	Value         float64 `json:"value" yaml:"value"`
	Change        float64 `json:"change" yaml:"change"`
	ChangePercent float64 `json:"changePercent" yaml:"changePercent"`
}

// Ratios is the static analysis record for one symbol.
type Ratios struct {
	PERatio        float64 `json:"peRatio" yaml:"peRatio"`
	EPS            float64 `json:"eps" yaml:"eps"`
	DividendYield  float64 `json:"dividendYield" yaml:"dividendYield"`
	MarketCap      string  `json:"marketCap" yaml:"marketCap"`
	BookValue      float64 `json:"bookValue" yaml:"bookValue"`
	DebtToEquity   float64 `json:"debtToEquity" yaml:"debtToEquity"`
	ROE            float64 `json:"roe" yaml:"roe"`
	RevenueGrowth  float64 `json:"revenueGrowth" yaml:"revenueGrowth"`
	Recommendation string  `json:"recommendation" yaml:"recommendation"`
	TargetPrice    float64 `json:"targetPrice" yaml:"targetPrice"`
}

// Tables is the in-memory data set behind a TableProvider. It doubles as the
// YAML document format read by LoadProvider.
type Tables struct {
	Prices       map[string]float64            `yaml:"prices"`
	Indices      []IndexQuote                  `yaml:"indices"`
	MarketStatus string                        `yaml:"marketStatus"`
	Ratios       map[string]Ratios             `yaml:"ratios"`
	Rates        map[string]map[string]float64 `yaml:"rates"`
}

// TableProvider serves lookups from immutable tables.
type TableProvider struct {
	t             Tables
	symbols       []string
	analysisNames []string
}

// NewTableProvider normalizes keys to upper case and freezes the tables.
func NewTableProvider(t Tables) *TableProvider {
	norm := Tables{
		Prices:       make(map[string]float64, len(t.Prices)),
		Indices:      append([]IndexQuote(nil), t.Indices...),
		MarketStatus: t.MarketStatus,
		Ratios:       make(map[string]Ratios, len(t.Ratios)),
		Rates:        make(map[string]map[string]float64, len(t.Rates)),
	}
	for k, v := range t.Prices {
		norm.Prices[strings.ToUpper(k)] = v
	}
	for k, v := range t.Ratios {
		norm.Ratios[strings.ToUpper(k)] = v
	}
	for from, row := range t.Rates {
		dst := make(map[string]float64, len(row))
		for to, rate := range row {
			dst[strings.ToUpper(to)] = rate
		}
		norm.Rates[strings.ToUpper(from)] = dst
	}
	if norm.MarketStatus == "" {
		norm.MarketStatus = "Open"
	}

	return &TableProvider{
		t:             norm,
		symbols:       sortedKeys(norm.Prices),
		analysisNames: sortedKeys(norm.Ratios),
	}
}

// NewMockProvider returns the built-in demo data set.
func NewMockProvider() *TableProvider {
	return NewTableProvider(MockTables())
}

// LoadProvider reads a YAML data file in the Tables format.
func LoadProvider(path string) (*TableProvider, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read finance data: %w", err)
	}

	var t Tables
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to parse finance data: %w", err)
	}
	if len(t.Prices) == 0 {
		return nil, fmt.Errorf("finance data %s has no prices", path)
	}

	return NewTableProvider(t), nil
}

func (p *TableProvider) BasePrice(symbol string) (float64, bool) {
	v, ok := p.t.Prices[symbol]
	return v, ok
}

func (p *TableProvider) Symbols() []string {
	return append([]string(nil), p.symbols...)
}

func (p *TableProvider) MarketSnapshot() ([]IndexQuote, string) {
	return append([]IndexQuote(nil), p.t.Indices...), p.t.MarketStatus
}

func (p *TableProvider) Ratios(symbol string) (Ratios, bool) {
	r, ok := p.t.Ratios[symbol]
	return r, ok
}

func (p *TableProvider) AnalysisSymbols() []string {
	return append([]string(nil), p.analysisNames...)
}

func (p *TableProvider) Rate(from, to string) (float64, bool) {
	row, ok := p.t.Rates[from]
	if !ok {
		return 0, false
	}
	r, ok := row[to]
	return r, ok
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// MockTables returns the demo data set.
func MockTables() Tables {
	return Tables{
		Prices: map[string]float64{
			"AAPL":  175.50,
			"GOOGL": 142.30,
			"MSFT":  378.85,
			"AMZN":  155.20,
			"TSLA":  248.50,
			"NVDA":  875.30,
			"META":  485.20,
		},
		Indices: []IndexQuote{
			{Name: "S&P 500", Value: 4783.45, Change: 12.34, ChangePercent: 0.26},
			{Name: "NASDAQ", Value: 15055.65, Change: -23.45, ChangePercent: -0.16},
			{Name: "DOW", Value: 37545.33, Change: 45.67, ChangePercent: 0.12},
		},
		MarketStatus: "Open",
		Ratios: map[string]Ratios{
			"AAPL": {
				PERatio: 28.5, EPS: 6.16, DividendYield: 0.52, MarketCap: "2.7T",
				BookValue: 4.40, DebtToEquity: 1.73, ROE: 147.25, RevenueGrowth: 2.8,
				Recommendation: "Buy", TargetPrice: 195.00,
			},
			"GOOGL": {
				PERatio: 24.2, EPS: 5.80, DividendYield: 0.00, MarketCap: "1.8T",
				BookValue: 22.10, DebtToEquity: 0.11, ROE: 27.36, RevenueGrowth: 8.7,
				Recommendation: "Strong Buy", TargetPrice: 165.00,
			},
			"MSFT": {
				PERatio: 32.1, EPS: 11.80, DividendYield: 0.73, MarketCap: "2.8T",
				BookValue: 27.75, DebtToEquity: 0.35, ROE: 38.52, RevenueGrowth: 12.1,
				Recommendation: "Buy", TargetPrice: 420.00,
			},
			"TSLA": {
				PERatio: 65.4, EPS: 3.80, DividendYield: 0.00, MarketCap: "790B",
				BookValue: 19.80, DebtToEquity: 0.08, ROE: 22.46, RevenueGrowth: 18.8,
				Recommendation: "Hold", TargetPrice: 250.00,
			},
		},
		Rates: map[string]map[string]float64{
			"USD": {"EUR": 0.85, "GBP": 0.73, "JPY": 110.0, "CAD": 1.25},
			"EUR": {"USD": 1.18, "GBP": 0.86, "JPY": 129.5},
			"GBP": {"USD": 1.37, "EUR": 1.16, "JPY": 150.8},
			"JPY": {"USD": 0.0091, "EUR": 0.0077, "GBP": 0.0066},
			"CAD": {"USD": 0.80},
		},
	}
}
