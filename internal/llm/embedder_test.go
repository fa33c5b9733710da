package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEmbeddings struct {
	dim int
	err error
}

func (f fakeEmbeddings) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, f.dim)
		out[i][0] = float32(i)
	}
	return out, nil
}

func (f fakeEmbeddings) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	v, err := f.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return v[0], nil
}

func TestEmbedBatch(t *testing.T) {
	ctx := context.Background()

	e := NewEmbedderFrom(fakeEmbeddings{dim: 4}, "fake", 4)
	vecs, err := e.EmbedBatch(ctx, []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.Equal(t, float32(2), vecs[2][0])

	empty, err := e.EmbedBatch(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)

	wrongDim := NewEmbedderFrom(fakeEmbeddings{dim: 3}, "fake", 4)
	_, err = wrongDim.EmbedBatch(ctx, []string{"a"})
	assert.ErrorContains(t, err, "dimension mismatch")

	quota := NewEmbedderFrom(fakeEmbeddings{dim: 4, err: errors.New("quota exceeded")}, "fake", 4)
	_, err = quota.EmbedBatch(ctx, []string{"a"})
	assert.ErrorIs(t, err, ErrFatalAPI)
}
