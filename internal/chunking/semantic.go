package chunking

import (
	"context"
	"math"
	"regexp"
	"strings"

	"github.com/fabfab/knowledgebase/internal/domain"
)

// SemanticChunker splits content into sentences, embeds each one, and
// inserts a chunk boundary wherever adjacent-sentence cosine similarity
// drops below semanticThreshold. Oversized resulting chunks fall back to
// FixedSize's character-count split.
type SemanticChunker struct {
	Embedder SentenceEmbedder
	Fallback Chunker
}

var sentenceBoundaryRE = regexp.MustCompile(`[.!?][\s\n]+`)

func (s SemanticChunker) Chunk(ctx context.Context, content string, settings Settings) ([]domain.Chunk, error) {
	sentences := splitSentences(content)
	if len(sentences) == 0 {
		return nil, nil
	}
	if s.Embedder == nil || len(sentences) == 1 {
		return s.splitWithOffsets(ctx, content, sentences, nil, settings)
	}

	texts := make([]string, len(sentences))
	for i, sent := range sentences {
		texts[i] = sent.text
	}
	vectors, err := s.Embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}

	boundaries := make([]bool, len(sentences))
	for i := 1; i < len(sentences); i++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		sim := cosineSimilarity(vectors[i-1], vectors[i])
		boundaries[i] = sim < settings.SemanticThreshold
	}

	return s.splitWithOffsets(ctx, content, sentences, boundaries, settings)
}

type sentenceSpan struct {
	text  string
	start int
	end   int
}

// splitSentences breaks content on '.', '!', '?' followed by whitespace or
// newline, recording each sentence's offset into content.
func splitSentences(content string) []sentenceSpan {
	var spans []sentenceSpan
	locs := sentenceBoundaryRE.FindAllStringIndex(content, -1)
	start := 0
	for _, loc := range locs {
		end := loc[1]
		text := strings.TrimSpace(content[start:end])
		if text != "" {
			spans = append(spans, sentenceSpan{text: text, start: start, end: end})
		}
		start = end
	}
	if start < len(content) {
		text := strings.TrimSpace(content[start:])
		if text != "" {
			spans = append(spans, sentenceSpan{text: text, start: start, end: len(content)})
		}
	}
	return spans
}

func (s SemanticChunker) splitWithOffsets(ctx context.Context, content string, sentences []sentenceSpan, boundaries []bool, settings Settings) ([]domain.Chunk, error) {
	maxChars := charsForTokens(settings.MaxChunkSize)
	if maxChars <= 0 {
		maxChars = 2000
	}

	groupStart := sentences[0].start
	groupEnd := sentences[0].end

	var chunks []domain.Chunk
	index := 0

	emit := func(grpStart, grpEnd int) error {
		text := strings.TrimSpace(content[grpStart:grpEnd])
		if text == "" {
			return nil
		}
		if len(text) > maxChars {
			sub, err := fixedSizeChunks(ctx, text, settings)
			if err != nil {
				return err
			}
			for _, c := range sub {
				if c.TokenCount < settings.MinChunkSize {
					continue
				}
				c.ChunkIndex = index
				c.StartOffset += grpStart
				c.EndOffset += grpStart
				chunks = append(chunks, c)
				index++
			}
			return nil
		}
		tokenCount := estimateTokens(text)
		if tokenCount < settings.MinChunkSize {
			return nil
		}
		chunks = append(chunks, domain.Chunk{
			Content:     text,
			ChunkIndex:  index,
			TokenCount:  tokenCount,
			StartOffset: grpStart,
			EndOffset:   grpEnd,
		})
		index++
		return nil
	}

	for i := 1; i < len(sentences); i++ {
		if boundaries != nil && boundaries[i] {
			if err := emit(groupStart, groupEnd); err != nil {
				return nil, err
			}
			groupStart = sentences[i].start
		}
		groupEnd = sentences[i].end
	}
	if err := emit(groupStart, groupEnd); err != nil {
		return nil, err
	}

	return chunks, nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
