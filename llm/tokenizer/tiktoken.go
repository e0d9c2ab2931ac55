package tokenizer

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding is a reasonable stand-in for providers that do not publish
// a tokenizer; counts track modern BPE vocabularies closely enough for
// budgeting.
const DefaultEncoding = "cl100k_base"

// TiktokenCounter counts with a real BPE encoding.
type TiktokenCounter struct {
	encoding string
	enc      *tiktoken.Tiktoken
}

// NewTiktokenCounter loads the named encoding. An empty name loads
// DefaultEncoding.
func NewTiktokenCounter(encoding string) (*TiktokenCounter, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("load tiktoken encoding %q: %w", encoding, err)
	}
	return &TiktokenCounter{encoding: encoding, enc: enc}, nil
}

func (t *TiktokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(t.enc.Encode(text, nil, nil))
}

func (t *TiktokenCounter) Name() string { return "tiktoken/" + t.encoding }
