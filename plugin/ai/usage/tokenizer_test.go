package usage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenizer(t *testing.T) {
	tok := NewTokenizer()

	assert.Equal(t, 0, tok.Count(""))
	short := tok.Count("hello world")
	assert.Greater(t, short, 0)
	assert.Greater(t, tok.Count("hello world, this sentence is clearly longer than the first one"), short)
}

func TestEstimateByLength(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{"a", 1},
		{"abcd", 1},
		{"abcde", 2},
		{"abcdefgh", 2},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, EstimateByLength(tt.text))
		})
	}
}

func TestPricing(t *testing.T) {
	p := Pricing{InputPerMillion: 0.15, OutputPerMillion: 0.60}
	assert.InDelta(t, 0.15, p.InputCost(1_000_000), 1e-12)
	assert.InDelta(t, 0.0006, p.OutputCost(1000), 1e-12)
	assert.Equal(t, 0.0, p.InputCost(0))
}
