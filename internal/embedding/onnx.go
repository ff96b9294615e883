//go:build onnx

package embedding

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strings"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/engram-ai/engram/internal/domain"
)

const onnxSequenceLen = 128

// ONNXConfig configures the neural embedder.
type ONNXConfig struct {
	// Model is the label requests must carry, e.g. "all-MiniLM-L6-v2".
	Model string
	// ModelPath is the path to the ONNX model file.
	ModelPath string
	// TokenizerPath is the path to the tokenizer.json vocabulary.
	TokenizerPath string
	// Dims is the embedding size the model produces (default 384).
	Dims int
	// SharedLibraryPath optionally points at libonnxruntime; empty uses
	// whatever the runtime already has configured.
	SharedLibraryPath string
}

// ONNX generates embeddings with a local transformer model through ONNX
// Runtime. Unlike Simple its output is model-dependent, but the declared
// dimensionality is fixed per model as the storage contract requires.
type ONNX struct {
	model     string
	session   *ort.DynamicAdvancedSession
	tokenizer *wordpieceTokenizer
	dims      int
}

// NewONNX loads the model and tokenizer and prepares an inference session.
func NewONNX(cfg ONNXConfig) (*ONNX, error) {
	if cfg.ModelPath == "" {
		return nil, domain.Validationf("onnx model path is required")
	}
	if cfg.Dims <= 0 {
		cfg.Dims = 384
	}

	if cfg.SharedLibraryPath != "" {
		ort.SetSharedLibraryPath(cfg.SharedLibraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, domain.EmbeddingErr("initializing onnx runtime", err)
	}

	tokenizer, err := loadWordpieceTokenizer(cfg.TokenizerPath)
	if err != nil {
		return nil, domain.EmbeddingErr("loading tokenizer", err)
	}

	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"last_hidden_state"},
		nil,
	)
	if err != nil {
		return nil, domain.EmbeddingErr("creating onnx session", err)
	}

	return &ONNX{
		model:     cfg.Model,
		session:   session,
		tokenizer: tokenizer,
		dims:      cfg.Dims,
	}, nil
}

// Close releases the inference session.
func (o *ONNX) Close() error {
	return o.session.Destroy()
}

func (o *ONNX) Embed(ctx context.Context, model, text string) ([]float32, error) {
	if err := checkModel(o.model, model); err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, domain.Validationf("text to embed cannot be empty")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tokens := o.tokenizer.encode(text)
	if len(tokens) > onnxSequenceLen-2 {
		tokens = tokens[:onnxSequenceLen-2]
	}

	inputIDs := make([]int64, onnxSequenceLen)
	attentionMask := make([]int64, onnxSequenceLen)
	tokenTypeIDs := make([]int64, onnxSequenceLen)

	inputIDs[0] = o.tokenizer.cls
	attentionMask[0] = 1
	for i, id := range tokens {
		inputIDs[i+1] = id
		attentionMask[i+1] = 1
	}
	inputIDs[len(tokens)+1] = o.tokenizer.sep
	attentionMask[len(tokens)+1] = 1

	shape := ort.NewShape(1, onnxSequenceLen)
	idsTensor, err := ort.NewTensor(shape, inputIDs)
	if err != nil {
		return nil, domain.EmbeddingErr("creating input_ids tensor", err)
	}
	defer idsTensor.Destroy()
	maskTensor, err := ort.NewTensor(shape, attentionMask)
	if err != nil {
		return nil, domain.EmbeddingErr("creating attention_mask tensor", err)
	}
	defer maskTensor.Destroy()
	typeTensor, err := ort.NewTensor(shape, tokenTypeIDs)
	if err != nil {
		return nil, domain.EmbeddingErr("creating token_type_ids tensor", err)
	}
	defer typeTensor.Destroy()

	outputs := []ort.Value{nil}
	if err := o.session.Run([]ort.Value{idsTensor, maskTensor, typeTensor}, outputs); err != nil {
		return nil, domain.EmbeddingErr("onnx inference", err)
	}
	defer func() {
		for _, out := range outputs {
			if out != nil {
				out.Destroy()
			}
		}
	}()

	tensor, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, domain.EmbeddingErr("unexpected onnx output tensor type", nil)
	}

	vec, err := o.pool(tensor.GetData(), tensor.GetShape(), attentionMask)
	if err != nil {
		return nil, err
	}
	l2Normalize(vec)
	return vec, nil
}

func (o *ONNX) Dims(model string) (int, bool) {
	if model != o.model {
		return 0, false
	}
	return o.dims, true
}

// pool reduces the hidden states to one vector: identity when the model
// already pools, attention-masked mean pooling otherwise.
func (o *ONNX) pool(data []float32, shape ort.Shape, mask []int64) ([]float32, error) {
	switch len(shape) {
	case 2:
		if len(data) < o.dims {
			return nil, domain.EmbeddingErr(
				fmt.Sprintf("output dimension mismatch: got %d, want %d", len(data), o.dims), nil)
		}
		out := make([]float32, o.dims)
		copy(out, data[:o.dims])
		return out, nil
	case 3:
		seqLen, hidden := int(shape[1]), int(shape[2])
		if hidden != o.dims {
			return nil, domain.EmbeddingErr(
				fmt.Sprintf("hidden size mismatch: got %d, want %d", hidden, o.dims), nil)
		}
		out := make([]float32, o.dims)
		var count float32
		for pos := 0; pos < seqLen; pos++ {
			if pos < len(mask) && mask[pos] == 0 {
				continue
			}
			count++
			base := pos * hidden
			for i := 0; i < hidden; i++ {
				out[i] += data[base+i]
			}
		}
		if count > 0 {
			for i := range out {
				out[i] /= count
			}
		}
		return out, nil
	default:
		return nil, domain.EmbeddingErr(fmt.Sprintf("unexpected output shape %v", shape), nil)
	}
}

func l2Normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		return
	}
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
}

// wordpieceTokenizer is a minimal BERT-style tokenizer: lowercase, split on
// whitespace/punctuation, then greedy longest-match wordpiece with "##"
// continuation pieces.
type wordpieceTokenizer struct {
	vocab map[string]int64
	cls   int64
	sep   int64
	unk   int64
}

func loadWordpieceTokenizer(path string) (*wordpieceTokenizer, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading tokenizer file: %w", err)
	}

	var spec struct {
		Model struct {
			Vocab map[string]int64 `json:"vocab"`
		} `json:"model"`
	}
	if err := json.Unmarshal(raw, &spec); err != nil {
		return nil, fmt.Errorf("parsing tokenizer file: %w", err)
	}
	if len(spec.Model.Vocab) == 0 {
		return nil, fmt.Errorf("tokenizer file %s has no vocabulary", path)
	}

	t := &wordpieceTokenizer{vocab: spec.Model.Vocab}
	lookup := func(token string, fallback int64) int64 {
		if id, ok := spec.Model.Vocab[token]; ok {
			return id
		}
		return fallback
	}
	t.cls = lookup("[CLS]", 101)
	t.sep = lookup("[SEP]", 102)
	t.unk = lookup("[UNK]", 100)
	return t, nil
}

func (t *wordpieceTokenizer) encode(text string) []int64 {
	var ids []int64
	for _, word := range tokenize(strings.ToLower(text)) {
		ids = append(ids, t.encodeWord(word)...)
	}
	return ids
}

func (t *wordpieceTokenizer) encodeWord(word string) []int64 {
	var pieces []int64
	runes := []rune(word)
	start := 0
	for start < len(runes) {
		end := len(runes)
		var match int64 = -1
		for end > start {
			candidate := string(runes[start:end])
			if start > 0 {
				candidate = "##" + candidate
			}
			if id, ok := t.vocab[candidate]; ok {
				match = id
				break
			}
			end--
		}
		if match < 0 {
			return []int64{t.unk}
		}
		pieces = append(pieces, match)
		start = end
	}
	return pieces
}
