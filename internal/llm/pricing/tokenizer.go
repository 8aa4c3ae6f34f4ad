package pricing

import (
	"sync"

	tiktoken "github.com/pkoukk/tiktoken-go"
)

// Tokenizer counts tokens for usage accounting. The context-assembly engine
// uses its own fast ceil(len/4) estimate for budget packing; this package
// needs an exact count because it is what gets billed and persisted, so it
// uses tiktoken-go's BPE implementation instead.
type Tokenizer struct {
	mu    sync.Mutex
	cache map[string]*tiktoken.Tiktoken
}

// NewTokenizer builds a Tokenizer. Encodings are loaded lazily per model and
// cached, since tiktoken-go's encoder construction reads an embedded vocab
// file that is wasteful to repeat per request.
func NewTokenizer() *Tokenizer {
	return &Tokenizer{cache: make(map[string]*tiktoken.Tiktoken)}
}

// Count returns the token count of text under modelID's encoding, falling
// back to cl100k_base for models tiktoken-go doesn't recognize (every
// non-OpenAI vendor in this gateway, whose tokenizers are proprietary and
// unexported), so counts for those models are approximate. No pipeline
// stage calls Count: PromptUsage's tokensAdded is taken from the vendor's
// own reported Usage.
func (t *Tokenizer) Count(modelID, text string) int {
	enc := t.encodingFor(modelID)
	if enc == nil {
		return len([]rune(text)) / 4 // coarse fallback if even cl100k fails to load
	}
	return len(enc.Encode(text, nil, nil))
}

func (t *Tokenizer) encodingFor(modelID string) *tiktoken.Tiktoken {
	t.mu.Lock()
	defer t.mu.Unlock()
	if enc, ok := t.cache[modelID]; ok {
		return enc
	}
	enc, err := tiktoken.EncodingForModel(modelID)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			t.cache[modelID] = nil
			return nil
		}
	}
	t.cache[modelID] = enc
	return enc
}
