package domain

import "math"

// CostRates carries the per-unit USD rates for the two metered providers.
type CostRates struct {
	LLMInputPerM  float64
	LLMOutputPerM float64
	SerperPer1K   float64
}

// JobCost is the derived USD cost breakdown stored on a job.
type JobCost struct {
	LLMCostUSD        float64
	SerperCostUSD     float64
	TotalCostUSD      float64
	CostPerContactUSD float64
}

// LLMCostUSD prices token usage: prompt tokens at the input rate and
// completion tokens at the output rate, both per million.
func LLMCostUSD(promptTokens, completionTokens int64, inPerM, outPerM float64) float64 {
	pt := maxInt64(0, promptTokens)
	ct := maxInt64(0, completionTokens)
	return float64(pt)/1e6*inPerM + float64(ct)/1e6*outPerM
}

// SerperCostUSD prices search calls at the per-thousand rate.
func SerperCostUSD(calls int64, per1K float64) float64 {
	return float64(maxInt64(0, calls)) / 1000.0 * per1K
}

// ComputeJobCost derives the full cost breakdown for a job's current
// counters. cost_per_contact divides by max(1, contacts) so zero-yield jobs
// still report a defined value. Results round half-to-even to 6 decimals.
func ComputeJobCost(promptTokens, completionTokens, serperCalls int64, contactsFound int, rates CostRates) JobCost {
	llm := LLMCostUSD(promptTokens, completionTokens, rates.LLMInputPerM, rates.LLMOutputPerM)
	serper := SerperCostUSD(serperCalls, rates.SerperPer1K)
	total := llm + serper
	denom := contactsFound
	if denom < 1 {
		denom = 1
	}
	return JobCost{
		LLMCostUSD:        RoundMoney(llm),
		SerperCostUSD:     RoundMoney(serper),
		TotalCostUSD:      RoundMoney(total),
		CostPerContactUSD: RoundMoney(total / float64(denom)),
	}
}

// RoundMoney rounds half-to-even to 6 decimal places.
func RoundMoney(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return math.RoundToEven(v*1e6) / 1e6
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
