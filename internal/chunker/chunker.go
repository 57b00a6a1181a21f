// Package chunker splits long documents into overlapping windows.
//
// Two strategies are provided, both returning entity.Chunk values whose
// Offset translates chunk-local positions back to document positions:
//
//   - TokenChunks: windows of at most N tokens for the span-labeling model.
//     Window bounds come from the tokenizer's byte spans, never from
//     re-tokenizing the slice.
//   - RegexSafeChunks: fixed-size byte windows for the pattern matcher, with
//     cut points biased toward whitespace or punctuation and away from
//     anything that looks like an email, URL or phone number.
//
// Cut points always fall on rune boundaries. Empty input yields no chunks.
package chunker

import (
	"regexp"
	"unicode/utf8"

	"text-anonymizer/internal/entity"
)

const (
	DefaultTokenWindow  = 400
	DefaultTokenOverlap = 25
	// TokenWindowCap keeps windows safely below the 512-token sequence limit
	// of the usual token-classification models.
	TokenWindowCap = 400

	DefaultRegexChunkSize = 5000
	DefaultRegexOverlap   = 200

	breakSearch   = 50 // bytes either side of the nominal cut
	patternWindow = 30 // bytes either side of a candidate cut scanned for patterns
)

// TokenChunks groups tokens into windows of at most maxTokens tokens with
// overlapTokens tokens shared between neighbours. maxTokens <= 0 selects the
// default and is capped at TokenWindowCap; negative overlapTokens selects the
// default; overlap never exceeds a quarter of the window so every step advances.
//
// A window spans its first token's start to its last token's end. Text outside
// every token is not covered: leading and trailing whitespace, and with zero
// overlap the whitespace between two windows. No entity lives there.
func TokenChunks(text string, tok Tokenizer, maxTokens, overlapTokens int) []entity.Chunk {
	if text == "" {
		return nil
	}
	tokens := tok.Tokenize(text)
	if len(tokens) == 0 {
		return nil
	}

	window := maxTokens
	if window <= 0 {
		window = DefaultTokenWindow
	}
	window = min(window, TokenWindowCap)

	overlap := overlapTokens
	if overlap < 0 {
		overlap = DefaultTokenOverlap
	}
	overlap = min(overlap, window/4)

	var chunks []entity.Chunk
	for first := 0; first < len(tokens); {
		last := min(first+window, len(tokens))
		start, end := tokens[first].Start, tokens[last-1].End
		chunks = append(chunks, entity.Chunk{Text: text[start:end], Offset: start})
		if last >= len(tokens) {
			break
		}
		first = last - overlap
	}
	return chunks
}

// RegexSafeChunks splits text into windows of roughly size bytes overlapping
// by overlap bytes. size <= 0 and overlap < 0 select the defaults. Text no
// longer than size comes back as a single chunk at offset 0.
func RegexSafeChunks(text string, size, overlap int) []entity.Chunk {
	if text == "" {
		return nil
	}
	if size <= 0 {
		size = DefaultRegexChunkSize
	}
	if overlap < 0 {
		overlap = DefaultRegexOverlap
	}
	n := len(text)
	if n <= size {
		return []entity.Chunk{{Text: text, Offset: 0}}
	}

	var chunks []entity.Chunk
	start := 0
	for start < n {
		end := min(start+size, n)
		if end < n {
			end = cutPoint(text, start, end, size)
		}
		chunks = append(chunks, entity.Chunk{Text: text[start:end], Offset: start})
		if end >= n {
			break
		}

		next := runeFloor(text, max(end-overlap, 0))
		if next <= start {
			// overlap swallowed the whole advance
			next = runeCeil(text, start+1)
		}
		start = next
	}
	return chunks
}

// cutPoint picks the exclusive end of the chunk starting at start whose
// nominal end is end. It scans backwards from end+breakSearch for a break
// byte that is not inside a pattern and falls back to the nominal end.
func cutPoint(text string, start, end, size int) int {
	lo := max(end-breakSearch, start+size/2)
	hi := min(end+breakSearch, len(text))
	for i := hi - 1; i >= lo; i-- {
		if isBreakByte(text[i]) && !insidePattern(text, i) {
			return i + 1
		}
	}

	cut := runeFloor(text, end)
	if cut <= start {
		cut = runeCeil(text, start+1)
	}
	return cut
}

func isBreakByte(b byte) bool {
	switch b {
	case ' ', '\n', '\t', '\r', '.', '!', '?', ';':
		return true
	}
	return false
}

var boundaryPatterns = []*regexp.Regexp{
	regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`),
	regexp.MustCompile(`https?://\S+`),
	regexp.MustCompile(`\bwww\.\S+`),
	regexp.MustCompile(`\+?1?[\-.\s]?\(?[0-9]{3}\)?[\-.\s]?[0-9]{3}[\-.\s]?[0-9]{4}`),
}

// insidePattern reports whether pos falls inside an email, URL or phone
// number found in a small window around it.
func insidePattern(text string, pos int) bool {
	lo := max(pos-patternWindow, 0)
	hi := min(pos+patternWindow, len(text))
	window := text[lo:hi]
	for _, re := range boundaryPatterns {
		for _, m := range re.FindAllStringIndex(window, -1) {
			if lo+m[0] <= pos && pos < lo+m[1] {
				return true
			}
		}
	}
	return false
}

// runeFloor moves i back to the nearest rune start.
func runeFloor(text string, i int) int {
	for i > 0 && i < len(text) && !utf8.RuneStart(text[i]) {
		i--
	}
	return i
}

// runeCeil moves i forward to the nearest rune start or len(text).
func runeCeil(text string, i int) int {
	for i < len(text) && !utf8.RuneStart(text[i]) {
		i++
	}
	return i
}
