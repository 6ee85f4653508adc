package chunking

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecursiveChunkCoalescesParagraphsUnderBudgetWithDenseIndices(t *testing.T) {
	paragraphs := []string{
		"Para one sentence one. Para one sentence two. Para one sentence three.",
		"Para two sentence one. Para two sentence two. Para two sentence three.",
		"Para three sentence one. Para three sentence two. Para three sentence three.",
	}
	content := strings.Join(paragraphs, "\n\n")
	settings := Settings{MaxChunkSize: 15, Overlap: 0, MinChunkSize: 1}

	chunks, err := RecursiveChunker{}.Chunk(context.Background(), content, settings)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1, "three paragraphs shouldn't coalesce into a single chunk at this budget")

	for i, c := range chunks {
		assert.Equal(t, i, c.ChunkIndex, "chunk indices must be dense and sequential")
		assert.LessOrEqual(t, c.TokenCount, settings.MaxChunkSize, "chunk %d exceeds the token budget", i)
	}
}

func TestRecursiveChunkFallsBackToCharSplitWhenNoSeparatorMatches(t *testing.T) {
	content := strings.Repeat("x", 500)
	settings := Settings{MaxChunkSize: 20, Overlap: 0, MinChunkSize: 1, RecursiveSeparators: []string{"\n\n", "\n", ". ", " "}}

	chunks, err := RecursiveChunker{}.Chunk(context.Background(), content, settings)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1, "a single unbroken run of characters must still be split")

	var rebuilt strings.Builder
	for i, c := range chunks {
		assert.Equal(t, i, c.ChunkIndex)
		rebuilt.WriteString(c.Content)
	}
	assert.Equal(t, content, rebuilt.String())
}

func TestRecursiveChunkDefaultsSeparatorsWhenUnset(t *testing.T) {
	content := "One.\n\nTwo.\n\nThree."
	settings := Settings{MaxChunkSize: 512, Overlap: 0, MinChunkSize: 1}

	chunks, err := RecursiveChunker{}.Chunk(context.Background(), content, settings)
	require.NoError(t, err)
	require.Len(t, chunks, 1, "content well under budget should coalesce into a single chunk")
	assert.Equal(t, "One.\n\nTwo.\n\nThree.", chunks[0].Content)
}

func TestRecursiveChunkHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := RecursiveChunker{}.Chunk(ctx, "some content", Settings{MaxChunkSize: 10})
	assert.Error(t, err)
}
