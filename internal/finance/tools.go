package finance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/finchat/assistant/internal/tools"
)

// Tool names advertised to the model.
const (
	ToolStockPrice        = "get_stock_price"
	ToolMarketSummary     = "get_market_summary"
	ToolCompoundInterest  = "calculate_compound_interest"
	ToolFinancialAnalysis = "get_financial_analysis"
	ToolConvertCurrency   = "convert_currency"
)

// Register adds the five financial tools backed by svc to reg.
func Register(reg *tools.Registry, svc *Service) error {
	defs := []struct {
		desc tools.Descriptor
		fn   tools.Invoker
	}{
		{
			desc: tools.Descriptor{
				Name:        ToolStockPrice,
				Description: "Get the current stock price and daily change for a ticker symbol",
				Parameters: []tools.Parameter{
					{Name: "symbol", Type: tools.TypeString, Description: "Stock ticker symbol, e.g. AAPL", Required: true},
				},
			},
			fn: func(_ context.Context, args tools.Args) (string, error) {
				q, err := svc.StockPrice(args.String("symbol"))
				if err != nil {
					return "", err
				}
				return encode(q)
			},
		},
		{
			desc: tools.Descriptor{
				Name:        ToolMarketSummary,
				Description: "Get a summary of the major market indices",
			},
			fn: func(context.Context, tools.Args) (string, error) {
				return encode(svc.MarketSummary())
			},
		},
		{
			desc: tools.Descriptor{
				Name:        ToolCompoundInterest,
				Description: "Calculate compound interest for an investment",
				Parameters: []tools.Parameter{
					{Name: "principal", Type: tools.TypeNumber, Description: "Initial amount invested", Required: true},
					{Name: "rate", Type: tools.TypeNumber, Description: "Annual interest rate as a decimal, e.g. 0.07 for 7%", Required: true},
					{Name: "time", Type: tools.TypeNumber, Description: "Investment period in years", Required: true},
					{Name: "compoundingFrequency", Type: tools.TypeInteger, Description: "Times interest is compounded per year", Default: 12},
				},
			},
			fn: func(_ context.Context, args tools.Args) (string, error) {
				res, err := svc.CompoundInterest(
					args.Float("principal"),
					args.Float("rate"),
					args.Float("time"),
					args.Int("compoundingFrequency"),
				)
				var verr *ValidationError
				if errors.As(err, &verr) {
					return "Invalid input: " + verr.Error(), nil
				}
				if err != nil {
					return "", err
				}
				return encode(res)
			},
		},
		{
			desc: tools.Descriptor{
				Name:        ToolFinancialAnalysis,
				Description: "Get key financial ratios and an analyst recommendation for a ticker symbol",
				Parameters: []tools.Parameter{
					{Name: "symbol", Type: tools.TypeString, Description: "Stock ticker symbol, e.g. MSFT", Required: true},
				},
			},
			fn: func(_ context.Context, args tools.Args) (string, error) {
				a, err := svc.FinancialAnalysis(args.String("symbol"))
				if err != nil {
					return "", err
				}
				return encode(a)
			},
		},
		{
			desc: tools.Descriptor{
				Name:        ToolConvertCurrency,
				Description: "Convert an amount from one currency to another",
				Parameters: []tools.Parameter{
					{Name: "amount", Type: tools.TypeNumber, Description: "Amount to convert", Required: true},
					{Name: "fromCurrency", Type: tools.TypeString, Description: "Source currency code, e.g. USD", Required: true},
					{Name: "toCurrency", Type: tools.TypeString, Description: "Target currency code, e.g. EUR", Required: true},
				},
			},
			fn: func(_ context.Context, args tools.Args) (string, error) {
				c, err := svc.ConvertCurrency(args.Float("amount"), args.String("fromCurrency"), args.String("toCurrency"))
				if err != nil {
					return "", err
				}
				return encode(c)
			},
		},
	}

	for _, d := range defs {
		if err := reg.Register(d.desc, d.fn); err != nil {
			return fmt.Errorf("failed to register %s: %w", d.desc.Name, err)
		}
	}
	return nil
}

func encode(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode result: %w", err)
	}
	return string(data), nil
}
