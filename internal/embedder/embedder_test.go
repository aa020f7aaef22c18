package embedder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeHash(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{
			name: "empty string",
			text: "",
			want: "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		},
		{
			name: "simple text",
			text: "hello world",
			want: "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ComputeHash(tt.text))
		})
	}

	assert.Equal(t, ComputeHash("budget"), ComputeHash("budget"))
}

func TestValidateRequest(t *testing.T) {
	assert.NoError(t, ValidateRequest(EmbeddingRequest{Text: "budget"}))
	assert.ErrorIs(t, ValidateRequest(EmbeddingRequest{}), ErrEmptyText)
}

func TestValidateBatchRequest(t *testing.T) {
	tests := []struct {
		name    string
		texts   []string
		wantErr bool
	}{
		{"valid batch", []string{"a", "b"}, false},
		{"empty batch", []string{}, true},
		{"contains empty text", []string{"a", "", "c"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateBatchRequest(BatchEmbeddingRequest{Texts: tt.texts})
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidInput)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCache(t *testing.T) {
	t.Run("basic operations", func(t *testing.T) {
		cache := NewCache(3)

		_, ok := cache.Get("missing")
		assert.False(t, ok)

		cache.Set("h1", &Embedding{Vector: []float32{1, 2, 3}, Dimension: 3, Hash: "h1"})
		got, ok := cache.Get("h1")
		require.True(t, ok)
		assert.Equal(t, "h1", got.Hash)
		assert.Equal(t, 1, cache.Size())
	})

	t.Run("returns copies", func(t *testing.T) {
		cache := NewCache(3)
		cache.Set("h1", &Embedding{Vector: []float32{1, 2, 3}})

		got, _ := cache.Get("h1")
		got.Vector[0] = 99

		again, _ := cache.Get("h1")
		assert.Equal(t, float32(1), again.Vector[0])
	})

	t.Run("lru eviction", func(t *testing.T) {
		cache := NewCache(2)
		cache.Set("h1", &Embedding{Hash: "h1"})
		cache.Set("h2", &Embedding{Hash: "h2"})
		cache.Set("h3", &Embedding{Hash: "h3"})

		assert.Equal(t, 2, cache.Size())
		_, ok := cache.Get("h1")
		assert.False(t, ok, "oldest entry evicted")
		_, ok = cache.Get("h3")
		assert.True(t, ok)
	})

	t.Run("clear", func(t *testing.T) {
		cache := NewCache(10)
		cache.Set("h1", &Embedding{})
		cache.Clear()
		assert.Equal(t, 0, cache.Size())
	})

	t.Run("concurrent access", func(t *testing.T) {
		cache := NewCache(100)
		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(id int) {
				defer wg.Done()
				for j := 0; j < 50; j++ {
					h := ComputeHash(fmt.Sprintf("%d-%d", id, j))
					cache.Set(h, &Embedding{Vector: []float32{float32(id)}, Hash: h})
					cache.Get(h)
				}
			}(i)
		}
		wg.Wait()
		assert.Positive(t, cache.Size())
	})
}

func TestNormalizeVector(t *testing.T) {
	v := NormalizeVector([]float32{3, 4})
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)

	zero := []float32{0, 0}
	assert.Equal(t, zero, NormalizeVector(zero))
}

// scriptedEmbedder returns fixed-size vectors and can fail on a given call.
type scriptedEmbedder struct {
	dim      int
	failCall int // 1-based call number that fails, 0 never
	badDim   int // call number whose vectors have dim+1 entries
	calls    int
	batches  []int
}

func (s *scriptedEmbedder) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	resp, err := s.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: []string{req.Text}})
	if err != nil {
		return nil, err
	}
	return resp.Embeddings[0], nil
}

func (s *scriptedEmbedder) GenerateBatch(_ context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	s.calls++
	s.batches = append(s.batches, len(req.Texts))
	if s.calls == s.failCall {
		return nil, errors.New("upstream unavailable")
	}
	dim := s.dim
	if s.calls == s.badDim {
		dim++
	}
	out := make([]*Embedding, len(req.Texts))
	for i := range out {
		out[i] = &Embedding{Vector: make([]float32, dim), Dimension: dim}
		out[i].Vector[0] = 1
	}
	return &BatchEmbeddingResponse{Embeddings: out}, nil
}

func (s *scriptedEmbedder) Dimension() int   { return s.dim }
func (s *scriptedEmbedder) Provider() string { return "scripted" }
func (s *scriptedEmbedder) Model() string    { return "scripted-v1" }
func (s *scriptedEmbedder) Close() error     { return nil }

func TestEmbedAll(t *testing.T) {
	ctx := context.Background()
	texts := make([]string, 7)
	for i := range texts {
		texts[i] = fmt.Sprintf("text %d", i)
	}

	t.Run("splits into provider batches", func(t *testing.T) {
		emb := &scriptedEmbedder{dim: 4}
		vecs, err := EmbedAll(ctx, emb, texts, 3)
		require.NoError(t, err)
		assert.Len(t, vecs, 7)
		assert.Equal(t, []int{3, 3, 1}, emb.batches)
	})

	t.Run("empty input", func(t *testing.T) {
		emb := &scriptedEmbedder{dim: 4}
		vecs, err := EmbedAll(ctx, emb, nil, 3)
		require.NoError(t, err)
		assert.Empty(t, vecs)
		assert.Zero(t, emb.calls)
	})

	t.Run("failure in later batch returns nothing", func(t *testing.T) {
		emb := &scriptedEmbedder{dim: 4, failCall: 2}
		vecs, err := EmbedAll(ctx, emb, texts, 3)
		assert.ErrorIs(t, err, ErrProviderFailed)
		assert.Nil(t, vecs)
	})

	t.Run("inconsistent dimensions rejected", func(t *testing.T) {
		emb := &scriptedEmbedder{dim: 4, badDim: 2}
		_, err := EmbedAll(ctx, emb, texts, 3)
		assert.ErrorIs(t, err, ErrDimensionMismatch)
		assert.ErrorIs(t, err, ErrProviderFailed)
	})

	t.Run("invalid batch size falls back to default", func(t *testing.T) {
		emb := &scriptedEmbedder{dim: 2}
		_, err := EmbedAll(ctx, emb, texts, 0)
		require.NoError(t, err)
		assert.Equal(t, []int{7}, emb.batches)
	})
}
