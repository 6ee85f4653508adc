package chunking

import (
	"context"
	"strings"
	"unicode"

	"github.com/fabfab/knowledgebase/internal/domain"
)

// FixedSizeChunker targets each chunk to approximately maxChunkSize tokens,
// snapping the tentative boundary backward to the nearest natural break.
type FixedSizeChunker struct{}

func (FixedSizeChunker) Chunk(ctx context.Context, content string, settings Settings) ([]domain.Chunk, error) {
	return fixedSizeChunks(ctx, content, settings)
}

func fixedSizeChunks(ctx context.Context, content string, settings Settings) ([]domain.Chunk, error) {
	maxChars := charsForTokens(settings.MaxChunkSize)
	if maxChars <= 0 {
		maxChars = 2000
	}

	overlapTokens := settings.Overlap
	if overlapTokens >= settings.MaxChunkSize && settings.MaxChunkSize > 0 {
		overlapTokens = settings.MaxChunkSize / 4
	}
	overlapChars := charsForTokens(overlapTokens)

	var chunks []domain.Chunk
	start := 0
	index := 0
	total := len(content)

	for start < total {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		tentativeEnd := start + maxChars
		isFinal := false
		if tentativeEnd >= total {
			tentativeEnd = total
			isFinal = true
		}

		span := tentativeEnd - start
		window := span / 4
		if window > 100 {
			window = 100
		}

		end := tentativeEnd
		if !isFinal {
			end = snapToBoundary(content, start, tentativeEnd, window)
			if end <= start {
				end = tentativeEnd
			}
		}
		if end >= total {
			isFinal = true
		}

		raw := content[start:end]
		trimmed := strings.TrimSpace(raw)
		tokenCount := estimateTokens(trimmed)

		if trimmed != "" && (tokenCount >= settings.MinChunkSize || isFinal) {
			leading := leadingWhitespace(raw)
			chunks = append(chunks, domain.Chunk{
				Content:     trimmed,
				ChunkIndex:  index,
				TokenCount:  tokenCount,
				StartOffset: start + leading,
				EndOffset:   start + leading + len(trimmed),
			})
			index++
		}

		if end >= total {
			break
		}

		newStart := end - overlapChars
		if newStart <= start {
			newStart = start + 1
		}
		start = newStart
	}

	return chunks, nil
}

// snapToBoundary searches backward from tentativeEnd within window
// characters, in preference order, for: a paragraph break, a single
// newline, a sentence end, or any whitespace. Falls back to tentativeEnd.
func snapToBoundary(content string, start, tentativeEnd, window int) int {
	if window <= 0 {
		return tentativeEnd
	}
	searchStart := tentativeEnd - window
	if searchStart < start {
		searchStart = start
	}
	region := content[searchStart:tentativeEnd]

	if idx := strings.LastIndex(region, "\n\n"); idx >= 0 {
		return searchStart + idx + 2
	}
	if idx := strings.LastIndex(region, "\n"); idx >= 0 {
		return searchStart + idx + 1
	}
	if idx := lastSentenceEnd(region); idx >= 0 {
		return searchStart + idx
	}
	if idx := lastWhitespace(region); idx >= 0 {
		return searchStart + idx
	}
	return tentativeEnd
}

func lastSentenceEnd(region string) int {
	for i := len(region) - 2; i >= 0; i-- {
		if region[i] == '.' && unicode.IsSpace(rune(region[i+1])) {
			return i + 2
		}
	}
	return -1
}

func lastWhitespace(region string) int {
	for i := len(region) - 1; i >= 0; i-- {
		if unicode.IsSpace(rune(region[i])) {
			return i + 1
		}
	}
	return -1
}

func leadingWhitespace(s string) int {
	for i, r := range s {
		if !unicode.IsSpace(r) {
			return i
		}
	}
	return len(s)
}
