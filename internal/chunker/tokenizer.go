package chunker

import (
	"strings"

	"github.com/clipperhouse/uax29/v2/words"
)

// Token is the byte span of one token in the text it was produced from.
type Token struct {
	Start int
	End   int
}

// Tokenizer splits text into tokens with absolute byte spans. It is used only
// to place chunk boundaries, never to produce entity text.
type Tokenizer interface {
	Tokenize(text string) []Token
}

// TokenizerFunc adapts a function to the Tokenizer interface.
type TokenizerFunc func(text string) []Token

// Tokenize calls f(text).
func (f TokenizerFunc) Tokenize(text string) []Token { return f(text) }

// WordTokenizer tokenizes on Unicode (UAX #29) word boundaries. Whitespace
// segments are not tokens. It approximates a model's sub-word tokenizer
// closely enough for chunk sizing; a model-specific tokenizer can be plugged
// in instead through the Tokenizer interface.
type WordTokenizer struct{}

// Tokenize implements Tokenizer.
func (WordTokenizer) Tokenize(text string) []Token {
	var tokens []Token
	segments := words.FromString(text)
	pos := 0
	for segments.Next() {
		seg := segments.Value()
		start := pos
		pos += len(seg)
		if strings.TrimSpace(seg) == "" {
			continue
		}
		tokens = append(tokens, Token{Start: start, End: pos})
	}
	return tokens
}
