package retrieval

import (
	"fmt"
	"math"
	"os"

	tokenizer "github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"
	ort "github.com/yalue/onnxruntime_go"
)

// MiniLMEmbedder computes sentence embeddings with an all-MiniLM-L6-v2 ONNX
// model: token embeddings from the encoder, mean-pooled over the attention
// mask and L2-normalized.
type MiniLMEmbedder struct {
	tok     *tokenizer.Tokenizer
	session *ort.DynamicAdvancedSession
}

// NewMiniLMEmbedder loads the tokenizer and ONNX model. Set
// ONNXRUNTIME_SHARED_LIB to point at libonnxruntime when it is not on the
// default search path.
func NewMiniLMEmbedder(modelPath, tokenizerPath string) (*MiniLMEmbedder, error) {
	tok, err := pretrained.FromFile(tokenizerPath)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer: %w", err)
	}

	if lib := os.Getenv("ONNXRUNTIME_SHARED_LIB"); lib != "" {
		ort.SetSharedLibraryPath(lib)
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("initialize onnxruntime: %w", err)
		}
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("create session options: %w", err)
	}
	defer opts.Destroy()
	if err := opts.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableAll); err != nil {
		return nil, fmt.Errorf("set graph optimization: %w", err)
	}
	if err := opts.SetIntraOpNumThreads(0); err != nil {
		return nil, fmt.Errorf("set thread count: %w", err)
	}

	session, err := ort.NewDynamicAdvancedSession(
		modelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"last_hidden_state"},
		opts,
	)
	if err != nil {
		return nil, fmt.Errorf("create embedding session: %w", err)
	}

	return &MiniLMEmbedder{tok: tok, session: session}, nil
}

// Embed returns the embedding vector for a single text.
func (e *MiniLMEmbedder) Embed(text string) ([]float32, error) {
	input := tokenizer.NewSingleEncodeInput(tokenizer.NewInputSequence(text))
	enc, err := e.tok.Encode(input, true)
	if err != nil {
		return nil, fmt.Errorf("tokenize: %w", err)
	}

	ids := enc.GetIds()
	mask := enc.GetAttentionMask()
	seqLen := len(ids)
	if seqLen == 0 {
		return nil, fmt.Errorf("empty encoding for text")
	}

	inputIds := make([]int64, seqLen)
	attentionMask := make([]int64, seqLen)
	tokenTypeIds := make([]int64, seqLen)
	for i := 0; i < seqLen; i++ {
		inputIds[i] = int64(ids[i])
		attentionMask[i] = int64(mask[i])
	}

	shape := ort.NewShape(1, int64(seqLen))
	inputIdsTensor, err := ort.NewTensor(shape, inputIds)
	if err != nil {
		return nil, fmt.Errorf("create input_ids tensor: %w", err)
	}
	defer inputIdsTensor.Destroy()
	attentionMaskTensor, err := ort.NewTensor(shape, attentionMask)
	if err != nil {
		return nil, fmt.Errorf("create attention_mask tensor: %w", err)
	}
	defer attentionMaskTensor.Destroy()
	tokenTypeIdsTensor, err := ort.NewTensor(shape, tokenTypeIds)
	if err != nil {
		return nil, fmt.Errorf("create token_type_ids tensor: %w", err)
	}
	defer tokenTypeIdsTensor.Destroy()

	outputs := make([]ort.Value, 1)
	err = e.session.Run(
		[]ort.Value{inputIdsTensor, attentionMaskTensor, tokenTypeIdsTensor},
		outputs,
	)
	if err != nil {
		return nil, fmt.Errorf("embedding inference: %w", err)
	}
	defer outputs[0].Destroy()

	outputTensor, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("output tensor is not float32")
	}
	outputShape := outputTensor.GetShape()
	if len(outputShape) != 3 {
		return nil, fmt.Errorf("unexpected output shape %v", outputShape)
	}
	hiddenDim := int(outputShape[2])
	data := outputTensor.GetData()

	return meanPool(data, attentionMask, hiddenDim), nil
}

// meanPool averages token vectors over positions with a non-zero attention
// mask and L2-normalizes the result.
func meanPool(hidden []float32, mask []int64, dim int) []float32 {
	out := make([]float32, dim)
	var n float32
	for pos, m := range mask {
		if m == 0 {
			continue
		}
		base := pos * dim
		for j := 0; j < dim; j++ {
			out[j] += hidden[base+j]
		}
		n++
	}
	if n > 0 {
		for j := range out {
			out[j] /= n
		}
	}
	var norm float64
	for _, v := range out {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for j := range out {
			out[j] *= inv
		}
	}
	return out
}

// Close releases the ONNX session.
func (e *MiniLMEmbedder) Close() {
	if e.session != nil {
		e.session.Destroy()
		e.session = nil
	}
}
