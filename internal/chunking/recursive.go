package chunking

import (
	"context"
	"strings"

	"github.com/fabfab/knowledgebase/internal/domain"
)

// RecursiveChunker tries each separator in order, greedily coalescing
// splits until the next split would exceed maxChunkSize, then restarts the
// accumulator seeded with a tail overlap from the previous chunk.
type RecursiveChunker struct{}

func (RecursiveChunker) Chunk(ctx context.Context, content string, settings Settings) ([]domain.Chunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	seps := settings.RecursiveSeparators
	if len(seps) == 0 {
		seps = []string{"\n\n", "\n", ". ", " "}
	}
	maxChars := charsForTokens(settings.MaxChunkSize)
	if maxChars <= 0 {
		maxChars = 2000
	}
	overlapChars := charsForTokens(settings.Overlap)

	pieces := splitRecursive(content, seps, maxChars)
	return coalescePieces(content, pieces, settings.MaxChunkSize, overlapChars, settings.MinChunkSize)
}

// splitRecursive breaks s into pieces no longer than maxChars, trying each
// separator in turn and recursing into the remaining separator suffix when
// a piece produced by the current separator still exceeds maxChars. When no
// separator applies, falls back to a character-count split.
func splitRecursive(s string, seps []string, maxChars int) []string {
	if len(s) <= maxChars {
		return []string{s}
	}
	if len(seps) == 0 {
		return splitByChars(s, maxChars)
	}

	sep := seps[0]
	parts := strings.Split(s, sep)
	if len(parts) == 1 {
		return splitRecursive(s, seps[1:], maxChars)
	}

	var out []string
	for _, p := range parts {
		if p == "" {
			continue
		}
		if len(p) > maxChars {
			out = append(out, splitRecursive(p, seps[1:], maxChars)...)
		} else {
			out = append(out, p)
		}
	}
	return out
}

func splitByChars(s string, maxChars int) []string {
	var out []string
	for start := 0; start < len(s); start += maxChars {
		end := start + maxChars
		if end > len(s) {
			end = len(s)
		}
		out = append(out, s[start:end])
	}
	return out
}

// coalescePieces greedily joins consecutive pieces (in their original
// document order) into chunks of at most maxTokens, carrying forward an
// overlapChars-sized tail from the end of each chunk into the next.
func coalescePieces(content string, pieces []string, maxTokens, overlapChars, minTokens int) ([]domain.Chunk, error) {
	var chunks []domain.Chunk
	cursor := 0
	index := 0

	var acc strings.Builder
	accStart := -1
	var lastTail string

	flush := func(isFinal bool) {
		text := strings.TrimSpace(lastTail + acc.String())
		if text == "" {
			return
		}
		tokenCount := estimateTokens(text)
		if tokenCount < minTokens && !isFinal {
			return
		}
		start := accStart
		if start < 0 {
			start = cursor
		}
		chunks = append(chunks, domain.Chunk{
			Content:     text,
			ChunkIndex:  index,
			TokenCount:  tokenCount,
			StartOffset: start,
			EndOffset:   start + len(text),
		})
		index++
	}

	for i, piece := range pieces {
		pos := strings.Index(content[cursor:], piece)
		pieceStart := cursor
		if pos >= 0 {
			pieceStart = cursor + pos
			cursor = pieceStart + len(piece)
		}

		candidateTokens := estimateTokens(acc.String() + piece)
		if acc.Len() > 0 && candidateTokens > maxTokens {
			flush(false)
			tail := tailOverlap(acc.String(), overlapChars)
			acc.Reset()
			lastTail = tail
			accStart = pieceStart - len(tail)
			if accStart < 0 {
				accStart = pieceStart
			}
		}
		if acc.Len() == 0 && lastTail == "" {
			accStart = pieceStart
		}
		acc.WriteString(piece)

		if i == len(pieces)-1 {
			flush(true)
		}
	}

	return chunks, nil
}

func tailOverlap(s string, overlapChars int) string {
	if overlapChars <= 0 || overlapChars >= len(s) {
		return ""
	}
	return s[len(s)-overlapChars:]
}
