package usage

// Pricing is the USD price per million tokens of one model.
// 价格单位：美元 / 百万 tokens
type Pricing struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

// InputCost returns the cost of tokens sent to the model.
func (p Pricing) InputCost(tokens int) float64 {
	return float64(tokens) * p.InputPerMillion / 1_000_000
}

// OutputCost returns the cost of tokens generated by the model.
func (p Pricing) OutputCost(tokens int) float64 {
	return float64(tokens) * p.OutputPerMillion / 1_000_000
}

// TokenCount is the token volume one edit session contributed.
type TokenCount struct {
	Input  int `json:"input"`
	Output int `json:"output"`
}

func (c TokenCount) add(other TokenCount) TokenCount {
	return TokenCount{Input: c.Input + other.Input, Output: c.Output + other.Output}
}
