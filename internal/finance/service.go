package finance

import (
	"math"
	"math/rand/v2"
	"strings"
	"sync/atomic"
	"time"
)

// RandFactory returns a fresh generator for one call. Generators are never
// shared between calls, so concurrent lookups need no locking.
type RandFactory func() *rand.Rand

// DefaultRand seeds every generator from the runtime's global source.
func DefaultRand() *rand.Rand {
	return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
}

// SeededRand returns a reproducible factory: the n-th generator it hands out
// is seeded with (seed, n).
func SeededRand(seed uint64) RandFactory {
	var n atomic.Uint64
	return func() *rand.Rand {
		return rand.New(rand.NewPCG(seed, n.Add(1)))
	}
}

// Service computes the tool results over a Provider.
type Service struct {
	provider Provider
	newRand  RandFactory
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithRand overrides the random source used for price changes.
func WithRand(f RandFactory) Option {
	return func(s *Service) { s.newRand = f }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a Service reading from provider.
func NewService(provider Provider, opts ...Option) *Service {
	s := &Service{
		provider: provider,
		newRand:  DefaultRand,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MaxPriceChange bounds the simulated absolute price change.
const MaxPriceChange = 5.0

// StockQuote is the result of a stock price lookup.
type StockQuote struct {
	Symbol        string    `json:"symbol"`
	Price         float64   `json:"price"`
	Change        float64   `json:"change"`
	ChangePercent float64   `json:"changePercent"`
	Currency      string    `json:"currency"`
	Timestamp     time.Time `json:"timestamp"`
}

// StockPrice looks up symbol and simulates an intraday move in
// [-MaxPriceChange, MaxPriceChange].
func (s *Service) StockPrice(symbol string) (*StockQuote, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	base, ok := s.provider.BasePrice(symbol)
	if !ok {
		return nil, &SymbolNotFoundError{Symbol: symbol, Known: s.provider.Symbols()}
	}

	r := s.newRand()
	change := round2(r.Float64()*2*MaxPriceChange - MaxPriceChange)
	price := round2(base + change)

	var pct float64
	if price != 0 {
		pct = round2(change / price * 100)
	}

	return &StockQuote{
		Symbol:        symbol,
		Price:         price,
		Change:        change,
		ChangePercent: pct,
		Currency:      "USD",
		Timestamp:     s.now().UTC(),
	}, nil
}

// MarketSummary is the result of the market summary tool.
type MarketSummary struct {
	Indices      []IndexQuote `json:"indices"`
	MarketStatus string       `json:"marketStatus"`
	Timestamp    time.Time    `json:"timestamp"`
}

// MarketSummary returns the provider's index snapshot.
func (s *Service) MarketSummary() *MarketSummary {
	indices, status := s.provider.MarketSnapshot()
	return &MarketSummary{
		Indices:      indices,
		MarketStatus: status,
		Timestamp:    s.now().UTC(),
	}
}

// InterestResult is the result of a compound interest calculation.
type InterestResult struct {
	Principal             float64 `json:"principal"`
	AnnualRate            float64 `json:"annualRate"`
	Years                 float64 `json:"years"`
	CompoundingFrequency  int64   `json:"compoundingFrequency"`
	FinalAmount           float64 `json:"finalAmount"`
	TotalInterest         float64 `json:"totalInterest"`
	EffectiveAnnualReturn float64 `json:"effectiveAnnualReturn"`
}

// CompoundInterest computes principal*(1+rate/frequency)^(frequency*years).
// Rate is a decimal fraction (0.07 for 7%).
func (s *Service) CompoundInterest(principal, rate, years float64, frequency int64) (*InterestResult, error) {
	switch {
	case principal <= 0:
		return nil, &ValidationError{Field: "principal", Reason: "must be greater than 0"}
	case rate < 0:
		return nil, &ValidationError{Field: "rate", Reason: "cannot be negative"}
	case years <= 0:
		return nil, &ValidationError{Field: "time", Reason: "must be greater than 0"}
	case frequency <= 0:
		return nil, &ValidationError{Field: "compoundingFrequency", Reason: "must be greater than 0"}
	}

	n := float64(frequency)
	amount := principal * math.Pow(1+rate/n, n*years)
	interest := amount - principal
	effective := ((amount/principal - 1) * 100) / years

	return &InterestResult{
		Principal:             principal,
		AnnualRate:            rate,
		Years:                 years,
		CompoundingFrequency:  frequency,
		FinalAmount:           round2(amount),
		TotalInterest:         round2(interest),
		EffectiveAnnualReturn: round2(effective),
	}, nil
}

// Analysis is the result of the financial analysis tool.
type Analysis struct {
	Symbol string `json:"symbol"`
	Ratios
}

// FinancialAnalysis returns the ratio record for symbol.
func (s *Service) FinancialAnalysis(symbol string) (*Analysis, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	r, ok := s.provider.Ratios(symbol)
	if !ok {
		return nil, &SymbolNotFoundError{Symbol: symbol, Known: s.provider.AnalysisSymbols()}
	}
	return &Analysis{Symbol: symbol, Ratios: r}, nil
}

// Conversion is the result of a currency conversion.
type Conversion struct {
	OriginalAmount  float64   `json:"originalAmount"`
	FromCurrency    string    `json:"fromCurrency"`
	ToCurrency      string    `json:"toCurrency"`
	ConvertedAmount float64   `json:"convertedAmount"`
	ExchangeRate    float64   `json:"exchangeRate"`
	Timestamp       time.Time `json:"timestamp"`
}

// ConvertCurrency converts amount between currency codes.
func (s *Service) ConvertCurrency(amount float64, from, to string) (*Conversion, error) {
	from = strings.ToUpper(strings.TrimSpace(from))
	to = strings.ToUpper(strings.TrimSpace(to))

	rate := 1.0
	if from != to {
		var ok bool
		rate, ok = s.provider.Rate(from, to)
		if !ok {
			return nil, &RateUnavailableError{From: from, To: to}
		}
	}

	converted := amount
	if rate != 1.0 {
		converted = round2(amount * rate)
	}

	return &Conversion{
		OriginalAmount:  amount,
		FromCurrency:    from,
		ToCurrency:      to,
		ConvertedAmount: converted,
		ExchangeRate:    rate,
		Timestamp:       s.now().UTC(),
	}, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
