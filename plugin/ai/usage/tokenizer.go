package usage

import (
	"log/slog"
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

// Tokenizer estimates how many model tokens a text occupies.
type Tokenizer interface {
	Count(text string) int
}

var (
	codec     tokenizer.Codec
	codecOnce sync.Once
	codecErr  error
)

// getCodec returns the cl100k_base codec, loaded once per process.
func getCodec() (tokenizer.Codec, error) {
	codecOnce.Do(func() {
		codec, codecErr = tokenizer.Get(tokenizer.Cl100kBase)
		if codecErr != nil {
			slog.Warn("cl100k_base tokenizer unavailable, falling back to length estimate", "error", codecErr)
		}
	})
	return codec, codecErr
}

type tiktokenCounter struct{}

// NewTokenizer returns a cl100k_base tokenizer. When the codec cannot be
// loaded or fails on a text, it estimates one token per four bytes.
func NewTokenizer() Tokenizer {
	return tiktokenCounter{}
}

func (tiktokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	c, err := getCodec()
	if err != nil {
		return EstimateByLength(text)
	}
	ids, _, err := c.Encode(text)
	if err != nil {
		return EstimateByLength(text)
	}
	return len(ids)
}

// EstimateByLength is the coarse fallback estimate: len/4, rounded up.
func EstimateByLength(text string) int {
	return (len(text) + 3) / 4
}

// TokenizerFunc adapts a function to the Tokenizer interface.
type TokenizerFunc func(text string) int

func (f TokenizerFunc) Count(text string) int {
	return f(text)
}
