package scans

import (
	"fmt"
	"math"
	"unicode/utf8"
)

// DefaultTokensPerChar converts characters to an approximate provider token count.
const DefaultTokensPerChar = 0.25

// Chunk is a contiguous slice of file content. Start and End are byte offsets.
type Chunk struct {
	Content string
	Start   int
	End     int
	IsLast  bool
}

// Label is the human readable position used in prompts.
func (c Chunk) Label(index, total int) string {
	return fmt.Sprintf("chunk_%d_of_%d", index+1, total)
}

// ChunkContent splits content into slices of at most size bytes. Boundaries are
// moved back to the start of a UTF-8 sequence, so every chunk is valid text
// and the concatenation of all chunks is content again.
func ChunkContent(content string, size int) []Chunk {
	if size <= 0 {
		size = len(content)
	}
	var out []Chunk
	for start := 0; start < len(content); {
		end := start + size
		if end >= len(content) {
			end = len(content)
		} else {
			for end > start && !utf8.RuneStart(content[end]) {
				end--
			}
			if end == start {
				// size is smaller than one rune; take the whole rune.
				_, n := utf8.DecodeRuneInString(content[start:])
				end = start + n
			}
		}
		out = append(out, Chunk{
			Content: content[start:end],
			Start:   start,
			End:     end,
			IsLast:  end == len(content),
		})
		start = end
	}
	return out
}

// CountChunks is len(ChunkContent(content, size)) without keeping the slices.
func CountChunks(content string, size int) int {
	return len(ChunkContent(content, size))
}

// EstimateTokens approximates the provider token count of text.
func EstimateTokens(text string, tokensPerChar float64) int {
	if tokensPerChar <= 0 {
		tokensPerChar = DefaultTokensPerChar
	}
	return int(math.Ceil(float64(utf8.RuneCountInString(text)) * tokensPerChar))
}
