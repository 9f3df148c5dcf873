package ai

import (
	"sync"

	tiktoken "github.com/pkoukk/tiktoken-go"
)

// contextWindow is a conservative floor across the chat models in use; both
// providers accept at least this many tokens per request.
const contextWindow = 32768

// tokenMargin absorbs the per-message framing overhead the API adds.
const tokenMargin = 64

// Counter counts and truncates prompts with tiktoken. Encodings are cached
// per model; unknown models fall back to cl100k_base.
type Counter struct {
	mu    sync.RWMutex
	cache map[string]*tiktoken.Tiktoken
}

func NewCounter() *Counter {
	return &Counter{cache: make(map[string]*tiktoken.Tiktoken)}
}

func (c *Counter) encodingFor(model string) (*tiktoken.Tiktoken, error) {
	c.mu.RLock()
	enc, ok := c.cache[model]
	c.mu.RUnlock()
	if ok {
		return enc, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if enc, ok := c.cache[model]; ok {
		return enc, nil
	}
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, err
		}
	}
	c.cache[model] = enc
	return enc, nil
}

// Count returns the token count of text for model. When no encoding can be
// loaded it estimates four characters per token.
func (c *Counter) Count(model, text string) int {
	if text == "" {
		return 0
	}
	enc, err := c.encodingFor(model)
	if err != nil {
		return len(text) / 4
	}
	return len(enc.Encode(text, nil, nil))
}

// Truncate cuts text down to at most maxTokens tokens.
func (c *Counter) Truncate(model, text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	enc, err := c.encodingFor(model)
	if err != nil {
		n := maxTokens * 4
		if len(text) <= n {
			return text
		}
		return text[:n]
	}
	ids := enc.Encode(text, nil, nil)
	if len(ids) <= maxTokens {
		return text
	}
	return enc.Decode(ids[:maxTokens])
}
