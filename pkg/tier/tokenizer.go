package tier

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// Tokenizer counts and truncates text in model tokens.
type Tokenizer interface {
	Count(s string) int
	Truncate(s string, max int) string
}

// NewTokenizer returns the tokenizer named by name: "approx" (default) or
// "tiktoken".
func NewTokenizer(name string) (Tokenizer, error) {
	switch name {
	case "", "approx":
		return Approx{}, nil
	case "tiktoken":
		return NewTiktoken("cl100k_base")
	default:
		return nil, fmt.Errorf("unsupported tokenizer: %s", name)
	}
}

// Approx estimates four bytes per token and truncates on word boundaries.
type Approx struct{}

func (Approx) Count(s string) int {
	return (len(s) + 3) / 4
}

func (Approx) Truncate(s string, max int) string {
	if max <= 0 || len(s) <= max*4 {
		return s
	}

	cut := max * 4
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	if idx := strings.LastIndexAny(s[:cut], " \n\t"); idx > cut/2 {
		cut = idx
	}
	return strings.TrimSpace(s[:cut])
}

// Tiktoken counts with a BPE encoding.
type Tiktoken struct {
	enc *tiktoken.Tiktoken
}

// NewTiktoken loads the named encoding, such as "cl100k_base".
func NewTiktoken(encoding string) (*Tiktoken, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("loading tiktoken encoding %s: %w", encoding, err)
	}
	return &Tiktoken{enc: enc}, nil
}

func (t *Tiktoken) Count(s string) int {
	return len(t.enc.Encode(s, nil, nil))
}

func (t *Tiktoken) Truncate(s string, max int) string {
	if max <= 0 {
		return s
	}
	tokens := t.enc.Encode(s, nil, nil)
	if len(tokens) <= max {
		return s
	}
	return strings.ToValidUTF8(t.enc.Decode(tokens[:max]), "")
}
