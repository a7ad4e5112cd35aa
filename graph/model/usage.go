package model

// Pricing is the per-million-token cost of a model in USD.
type Pricing struct {
	InputPer1M  float64
	OutputPer1M float64
}

// Static pricing for the models this system is configured with.
// Prices are USD per 1M tokens, from provider pricing pages; update
// as providers adjust.
var defaultPricing = map[string]Pricing{
	"gpt-4o":      {InputPer1M: 2.50, OutputPer1M: 10.00},
	"gpt-4o-mini": {InputPer1M: 0.15, OutputPer1M: 0.60},
	"gpt-4.1":     {InputPer1M: 2.00, OutputPer1M: 8.00},
	"gpt-4.1-mini": {
		InputPer1M:  0.40,
		OutputPer1M: 1.60,
	},
	"claude-3-5-sonnet-20241022": {InputPer1M: 3.00, OutputPer1M: 15.00},
	"claude-3-5-haiku-20241022":  {InputPer1M: 0.80, OutputPer1M: 4.00},
	"gemini-1.5-pro":             {InputPer1M: 1.25, OutputPer1M: 5.00},
	"gemini-1.5-flash":           {InputPer1M: 0.075, OutputPer1M: 0.30},
}

// Cost returns the USD cost of a completion's usage. Unknown models
// report zero; callers treat missing pricing as unknown, not free.
func Cost(modelName string, u Usage) (usd float64, known bool) {
	p, ok := defaultPricing[modelName]
	if !ok {
		return 0, false
	}
	usd = float64(u.PromptTokens)/1e6*p.InputPer1M + float64(u.CompletionTokens)/1e6*p.OutputPer1M
	return usd, true
}
