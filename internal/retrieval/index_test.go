package retrieval

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// keywordEmbedder is a deterministic stand-in for the ONNX model: each vector
// dimension counts occurrences of one keyword, so texts sharing keywords get
// closer vectors.
type keywordEmbedder struct{ calls int }

var keywords = []string{"photosynthesis", "plants", "sunlight", "gravity", "planet", "force"}

func (h *keywordEmbedder) Embed(text string) ([]float32, error) {
	h.calls++
	lower := strings.ToLower(text)
	vec := make([]float32, len(keywords))
	for i, kw := range keywords {
		vec[i] = float32(strings.Count(lower, kw))
	}
	return vec, nil
}

type failingEmbedder struct{}

func (failingEmbedder) Embed(string) ([]float32, error) {
	return nil, fmt.Errorf("model unavailable")
}

func writeCorpus(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "syllabus.txt")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write corpus: %v", err)
	}
	return path
}

const photosynthesisChunk = "Photosynthesis is the process by which green plants convert sunlight into chemical energy stored as glucose."
const gravityChunk = "Gravity is the force by which a planet or other body draws objects toward its center, keeping us on the ground."

func TestBuildIndex_ChunksParagraphs(t *testing.T) {
	path := writeCorpus(t, photosynthesisChunk+"\n\nshort\n\n"+gravityChunk+"\n")
	ix, err := BuildIndex(&keywordEmbedder{}, path, 2)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if ix.Len() != 2 {
		t.Fatalf("expected 2 chunks (short fragment dropped), got %d", ix.Len())
	}
}

func TestRetrieve_Deterministic(t *testing.T) {
	path := writeCorpus(t, photosynthesisChunk+"\n\n"+gravityChunk)
	ix, err := BuildIndex(&keywordEmbedder{}, path, 1)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	first, err := ix.Retrieve("what is photosynthesis")
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	for i := 0; i < 5; i++ {
		got, err := ix.Retrieve("what is photosynthesis")
		if err != nil {
			t.Fatalf("retrieve: %v", err)
		}
		if got != first {
			t.Fatalf("retrieval not deterministic: %q vs %q", got, first)
		}
	}
	if !strings.Contains(first, "Photosynthesis") {
		t.Fatalf("expected photosynthesis chunk, got %q", first)
	}
}

func TestRetrieve_EmptyCorpus(t *testing.T) {
	ix, err := BuildIndex(&keywordEmbedder{}, filepath.Join(t.TempDir(), "missing.txt"), 2)
	if err != nil {
		t.Fatalf("build on missing file should not error: %v", err)
	}
	got, err := ix.Retrieve("anything")
	if err != nil {
		t.Fatalf("retrieve on empty corpus should not error: %v", err)
	}
	if got != "" {
		t.Fatalf("expected empty context, got %q", got)
	}
}

func TestRetrieve_TopKJoined(t *testing.T) {
	path := writeCorpus(t, photosynthesisChunk+"\n\n"+gravityChunk)
	ix, err := BuildIndex(&keywordEmbedder{}, path, 2)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	got, err := ix.Retrieve("plants and planets")
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if parts := strings.Split(got, "\n\n"); len(parts) != 2 {
		t.Fatalf("expected 2 joined chunks, got %d: %q", len(parts), got)
	}
}

func TestBuildIndex_EmbedderFailure(t *testing.T) {
	path := writeCorpus(t, photosynthesisChunk)
	if _, err := BuildIndex(failingEmbedder{}, path, 2); err == nil {
		t.Fatalf("expected error from failing embedder")
	}
}

func TestSplitChunks(t *testing.T) {
	got := splitChunks("  " + photosynthesisChunk + "  \n\n\n\ntiny\n\n" + gravityChunk)
	if len(got) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(got))
	}
	if got[0] != photosynthesisChunk {
		t.Fatalf("expected trimmed first chunk, got %q", got[0])
	}
}

func TestCosine(t *testing.T) {
	a := []float32{1, 0}
	b := []float32{1, 0}
	c := []float32{0, 1}
	if s := cosine(a, b); s < 0.999 {
		t.Fatalf("expected identical vectors to score 1, got %f", s)
	}
	if s := cosine(a, c); s > 0.001 {
		t.Fatalf("expected orthogonal vectors to score 0, got %f", s)
	}
	if s := cosine(a, []float32{1}); s != 0 {
		t.Fatalf("expected mismatched lengths to score 0, got %f", s)
	}
}
