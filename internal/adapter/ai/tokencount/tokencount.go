// Package tokencount counts tokens for chat completion payloads using
// tiktoken-go. It backs the token histograms when the provider response
// carries no usage block; billing-grade usage stays with the provider
// numbers or the caller's character estimate.
package tokencount

import (
	"strings"
	"sync"

	tiktoken "github.com/pkoukk/tiktoken-go"
	tiktokenloader "github.com/pkoukk/tiktoken-go-loader"

	"github.com/fairyhunter13/lead-scout/internal/domain"
)

func init() {
	// Embedded BPE dictionaries keep token counting off the network.
	tiktoken.SetBpeLoader(tiktokenloader.NewOfflineLoader())
}

// Counter caches tiktoken encodings per model. Safe for concurrent use.
type Counter struct {
	mu        sync.RWMutex
	encodings map[string]*tiktoken.Tiktoken
}

// NewCounter returns an empty Counter.
func NewCounter() *Counter {
	return &Counter{encodings: make(map[string]*tiktoken.Tiktoken)}
}

// DefaultCounter is a shared process-wide instance.
var DefaultCounter = NewCounter()

func (c *Counter) encodingFor(model string) (*tiktoken.Tiktoken, error) {
	name := normalizeModel(model)

	c.mu.RLock()
	enc, ok := c.encodings[name]
	c.mu.RUnlock()
	if ok {
		return enc, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if enc, ok := c.encodings[name]; ok {
		return enc, nil
	}

	enc, err := tiktoken.EncodingForModel(name)
	if err != nil {
		// cl100k_base covers GPT-3.5/4 and approximates most open models.
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, err
		}
	}
	c.encodings[name] = enc
	return enc, nil
}

// normalizeModel maps an OpenRouter model ID (provider prefix, optional
// :free suffix) onto a tiktoken-known name.
func normalizeModel(model string) string {
	model = strings.ToLower(model)
	if i := strings.LastIndex(model, "/"); i >= 0 {
		model = model[i+1:]
	}
	model = strings.TrimSuffix(model, ":free")
	if strings.Contains(model, "gpt-3.5") {
		return "gpt-3.5-turbo"
	}
	// Non-OpenAI families tokenize close enough to GPT-4's encoding for
	// metrics purposes.
	return "gpt-4"
}

// CountText counts the tokens in a single string.
func (c *Counter) CountText(text, model string) (int, error) {
	enc, err := c.encodingFor(model)
	if err != nil {
		return 0, err
	}
	return len(enc.Encode(text, nil, nil)), nil
}

// CountMessages counts the tokens of a chat request including the
// per-message framing overhead used by OpenAI-compatible APIs.
func (c *Counter) CountMessages(model string, messages []domain.ChatMessage) (int, error) {
	enc, err := c.encodingFor(model)
	if err != nil {
		return 0, err
	}

	// 3 tokens of framing plus 1 for the role name per message, and the
	// assistant reply priming at the end.
	const perMessage = 3
	const perRole = 1

	n := 0
	for _, m := range messages {
		n += perMessage + perRole
		n += len(enc.Encode(m.Role, nil, nil))
		n += len(enc.Encode(m.Content, nil, nil))
	}
	n += 3
	return n, nil
}
