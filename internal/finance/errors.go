package finance

import (
	"fmt"
	"strings"
)

// SymbolNotFoundError is returned for a symbol absent from the data set.
type SymbolNotFoundError struct {
	Symbol string
	Known  []string
}

func (e *SymbolNotFoundError) Error() string {
	return fmt.Sprintf("symbol %s not found; available symbols: %s", e.Symbol, strings.Join(e.Known, ", "))
}

// RateUnavailableError is returned when no conversion rate exists for a pair.
type RateUnavailableError struct {
	From string
	To   string
}

func (e *RateUnavailableError) Error() string {
	return fmt.Sprintf("exchange rate from %s to %s is not available", e.From, e.To)
}

// ValidationError reports inputs a calculation cannot accept. The tool layer
// returns its text to the model instead of failing the call.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}
