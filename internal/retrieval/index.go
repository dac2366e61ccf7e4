package retrieval

import (
	"fmt"
	"log"
	"math"
	"os"
	"sort"
	"strings"
)

// minChunkLen filters out headings and stray lines when chunking the corpus.
const minChunkLen = 50

// Embedder turns a text into a fixed-size vector. Identical text must yield
// an identical vector.
type Embedder interface {
	Embed(text string) ([]float32, error)
}

// Chunk pairs a corpus fragment with its precomputed embedding.
type Chunk struct {
	Text      string
	Embedding []float32
}

// Index is an in-memory nearest-neighbor index over the knowledge file,
// built once at startup and immutable afterwards.
type Index struct {
	embedder Embedder
	chunks   []Chunk
	topK     int
}

// splitChunks splits corpus text into paragraph chunks, dropping fragments
// shorter than minChunkLen.
func splitChunks(text string) []string {
	raw := strings.Split(text, "\n\n")
	var chunks []string
	for _, c := range raw {
		c = strings.TrimSpace(c)
		if len(c) >= minChunkLen {
			chunks = append(chunks, c)
		}
	}
	return chunks
}

// BuildIndex reads the knowledge file and embeds its chunks. A missing file
// is not fatal: retrieval is disabled and every query returns no context.
func BuildIndex(embedder Embedder, path string, topK int) (*Index, error) {
	if topK <= 0 {
		topK = 2
	}
	ix := &Index{embedder: embedder, topK: topK}

	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("Knowledge file not found at %s, retrieval disabled", path)
		return ix, nil
	}

	texts := splitChunks(string(data))
	log.Printf("Indexing %d text chunks from %s", len(texts), path)
	for _, text := range texts {
		emb, err := embedder.Embed(text)
		if err != nil {
			return nil, fmt.Errorf("embed chunk: %w", err)
		}
		ix.chunks = append(ix.chunks, Chunk{Text: text, Embedding: emb})
	}
	return ix, nil
}

// Len returns the number of indexed chunks.
func (ix *Index) Len() int { return len(ix.chunks) }

// Retrieve returns the topK most similar chunks joined by blank lines, or ""
// when the corpus is empty. Results are deterministic for identical queries.
func (ix *Index) Retrieve(query string) (string, error) {
	if len(ix.chunks) == 0 {
		return "", nil
	}
	qEmb, err := ix.embedder.Embed(query)
	if err != nil {
		return "", fmt.Errorf("embed query: %w", err)
	}

	type scored struct {
		idx   int
		score float64
	}
	scores := make([]scored, len(ix.chunks))
	for i, c := range ix.chunks {
		scores[i] = scored{idx: i, score: cosine(qEmb, c.Embedding)}
	}
	// Stable ordering: score descending, corpus position ascending on ties.
	sort.SliceStable(scores, func(a, b int) bool {
		if scores[a].score != scores[b].score {
			return scores[a].score > scores[b].score
		}
		return scores[a].idx < scores[b].idx
	})

	k := ix.topK
	if k > len(scores) {
		k = len(scores)
	}
	parts := make([]string, 0, k)
	for _, s := range scores[:k] {
		parts = append(parts, ix.chunks[s.idx].Text)
	}
	return strings.Join(parts, "\n\n"), nil
}

// cosine returns the cosine similarity of two vectors. Mismatched or zero
// vectors score zero.
func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
