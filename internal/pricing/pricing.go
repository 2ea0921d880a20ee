// Package pricing maps model names to per-token USD rates so traces can
// carry cost accounting.
package pricing

// Rate holds USD prices per one million tokens.
type Rate struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

// Table resolves a model name to its rate, falling back to a default rate
// for unrecognized models.
type Table struct {
	rates    map[string]Rate
	fallback Rate
}

// defaultRate is applied to unrecognized models. It matches the
// gemini-1.5-flash tier, the cheapest paid tier, so unknown models never
// silently report zero cost.
var defaultRate = Rate{InputPerMillion: 0.075, OutputPerMillion: 0.30}

// DefaultTable returns the Gemini price list.
func DefaultTable() *Table {
	return &Table{
		rates: map[string]Rate{
			"gemini-2.0-flash-exp": {InputPerMillion: 0, OutputPerMillion: 0}, // free tier
			"gemini-2.0-flash":     {InputPerMillion: 0.075, OutputPerMillion: 0.30},
			"gemini-1.5-flash":     {InputPerMillion: 0.075, OutputPerMillion: 0.30},
			"gemini-1.5-pro":       {InputPerMillion: 1.25, OutputPerMillion: 5.00},
			"gemini-2.5-flash":     {InputPerMillion: 0.075, OutputPerMillion: 0.30},
		},
		fallback: defaultRate,
	}
}

// NewTable builds a table from explicit rates with the given fallback.
func NewTable(rates map[string]Rate, fallback Rate) *Table {
	copied := make(map[string]Rate, len(rates))
	for name, r := range rates {
		copied[name] = r
	}
	return &Table{rates: copied, fallback: fallback}
}

// Rate returns the rate for a model, or the fallback when unrecognized.
func (t *Table) Rate(model string) Rate {
	if r, ok := t.rates[model]; ok {
		return r
	}
	return t.fallback
}

// Cost computes the USD cost of a call given token counts.
func (t *Table) Cost(model string, inputTokens, outputTokens int) float64 {
	r := t.Rate(model)
	return float64(inputTokens)/1_000_000*r.InputPerMillion +
		float64(outputTokens)/1_000_000*r.OutputPerMillion
}
