package llm

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/finchat/assistant/internal/model"
	"github.com/finchat/assistant/internal/tools"
)

// OfflineClient is a keyword-routing backend that needs no credentials. It
// maps recognizable financial questions onto tool calls and turns the tool
// results into a plain reply, which is enough to demo the gateway and to
// exercise the full tool loop end to end.
type OfflineClient struct{}

// NewOfflineClient creates the offline backend.
func NewOfflineClient() *OfflineClient {
	return &OfflineClient{}
}

// Name returns the provider name.
func (c *OfflineClient) Name() string {
	return string(ProviderOffline)
}

// Models returns available models.
func (c *OfflineClient) Models() []string {
	return []string{"keyword-router"}
}

var (
	convertPattern   = regexp.MustCompile(`(?i)(\d[\d,]*(?:\.\d+)?)\s*([a-z]{3})\s+(?:to|in|into)\s+([a-z]{3})\b`)
	amountPattern    = regexp.MustCompile(`\$?\s*(\d[\d,]*(?:\.\d+)?)(?:\s*(k|thousand))?\b`)
	ratePattern      = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*%`)
	yearsPattern     = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*(?:years?|yrs?)\b`)
	tickerPattern    = regexp.MustCompile(`\$?\b([A-Z]{2,5})\b`)
	analysisKeywords = []string{"analysis", "analyze", "ratio", "recommend", "fundamental", "p/e", "valuation"}
)

var notTickers = map[string]bool{
	"USD": true, "EUR": true, "GBP": true, "JPY": true, "CAD": true, "CHF": true,
	"AI": true, "OK": true, "THE": true, "AND": true, "FOR": true, "WHAT": true, "IS": true,
	"ETF": true, "IPO": true, "CEO": true, "PE": true, "EPS": true, "ROE": true,
}

// Complete routes the latest user message.
func (c *OfflineClient) Complete(ctx context.Context, conv model.Conversation, catalog []tools.Descriptor) (*Outcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, Unavailable(c.Name(), err)
	}

	last := -1
	for i := len(conv) - 1; i >= 0; i-- {
		if conv[i].Role == model.RoleUser {
			last = i
			break
		}
	}
	if last < 0 {
		return nil, Protocol(c.Name(), fmt.Errorf("conversation has no user message"))
	}

	if results := toolResultsAfter(conv, last); len(results) > 0 {
		return c.answer(summarize(results)), nil
	}

	available := make(map[string]bool, len(catalog))
	for _, d := range catalog {
		available[d.Name] = true
	}

	calls := route(conv[last].Content, available)
	if len(calls) == 0 {
		return c.answer("I can look up stock prices (e.g. \"price of AAPL\"), summarize the market, " +
			"calculate compound interest (e.g. \"interest on $10000 at 5% for 10 years\"), " +
			"show financial ratios (e.g. \"analysis of MSFT\") and convert currencies (e.g. \"convert 100 USD to EUR\")."), nil
	}

	out := NewToolCalls(calls...)
	out.Model = c.Models()[0]
	return out, nil
}

func (c *OfflineClient) answer(text string) *Outcome {
	out := NewFinalAnswer(text)
	out.Model = c.Models()[0]
	return out
}

type namedResult struct {
	name    string
	content string
}

func toolResultsAfter(conv model.Conversation, from int) []namedResult {
	names := make(map[string]string)
	var out []namedResult
	for _, m := range conv[from+1:] {
		switch m.Role {
		case model.RoleAssistant:
			for _, tc := range m.ToolCalls {
				names[tc.ID] = tc.Name
			}
		case model.RoleTool:
			out = append(out, namedResult{name: names[m.ToolCallID], content: m.Content})
		}
	}
	return out
}

func summarize(results []namedResult) string {
	var b strings.Builder
	b.WriteString("Here is what I found:")
	for _, r := range results {
		name := r.name
		if name == "" {
			name = "tool"
		}
		fmt.Fprintf(&b, "\n- %s: %s", name, r.content)
	}
	return b.String()
}

func route(text string, available map[string]bool) []model.ToolCallRequest {
	lower := strings.ToLower(text)
	var calls []model.ToolCallRequest
	add := func(name string, args map[string]any) {
		if available[name] {
			calls = append(calls, model.ToolCallRequest{ID: "offline_" + uuid.NewString(), Name: name, Arguments: args})
		}
	}

	if m := convertPattern.FindStringSubmatch(text); m != nil {
		amount, _ := parseNumber(m[1])
		add("convert_currency", map[string]any{
			"amount":       amount,
			"fromCurrency": strings.ToUpper(m[2]),
			"toCurrency":   strings.ToUpper(m[3]),
		})
		return calls
	}

	if strings.Contains(lower, "interest") {
		args := map[string]any{}
		if m := ratePattern.FindStringSubmatch(text); m != nil {
			r, _ := strconv.ParseFloat(m[1], 64)
			args["rate"] = r / 100
		}
		if m := yearsPattern.FindStringSubmatch(text); m != nil {
			y, _ := strconv.ParseFloat(m[1], 64)
			args["time"] = y
		}
		if p, ok := principalOf(text); ok {
			args["principal"] = p
		}
		switch {
		case strings.Contains(lower, "quarterly"):
			args["compoundingFrequency"] = 4
		case strings.Contains(lower, "annually"), strings.Contains(lower, "yearly"):
			args["compoundingFrequency"] = 1
		case strings.Contains(lower, "daily"):
			args["compoundingFrequency"] = 365
		}
		add("calculate_compound_interest", args)
		return calls
	}

	if strings.Contains(lower, "market") || strings.Contains(lower, "indices") || strings.Contains(lower, "indexes") {
		add("get_market_summary", map[string]any{})
	}

	wantAnalysis := false
	for _, k := range analysisKeywords {
		if strings.Contains(lower, k) {
			wantAnalysis = true
			break
		}
	}

	seen := make(map[string]bool)
	for _, m := range tickerPattern.FindAllStringSubmatch(text, -1) {
		sym := m[1]
		if notTickers[sym] || seen[sym] {
			continue
		}
		seen[sym] = true
		if wantAnalysis {
			add("get_financial_analysis", map[string]any{"symbol": sym})
		} else {
			add("get_stock_price", map[string]any{"symbol": sym})
		}
	}

	return calls
}

// principalOf picks the first amount that is not the rate or the duration.
func principalOf(text string) (float64, bool) {
	for _, idx := range amountPattern.FindAllStringSubmatchIndex(text, -1) {
		end := idx[1]
		rest := strings.TrimSpace(text[end:])
		if strings.HasPrefix(rest, "%") || yearsPattern.MatchString(text[idx[0]:min(len(text), end+6)]) {
			continue
		}
		v, ok := parseNumber(text[idx[2]:idx[3]])
		if !ok {
			continue
		}
		if idx[4] >= 0 {
			v *= 1000
		}
		return v, true
	}
	return 0, false
}

func parseNumber(s string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
	return v, err == nil
}
