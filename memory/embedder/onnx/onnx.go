//go:build onnx

package onnx

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/becomeliminal/nim-recall/core"
	"github.com/becomeliminal/nim-recall/logging"
	"github.com/becomeliminal/nim-recall/memory"
)

// DefaultDimensions is the output size of all-MiniLM-L6-v2.
const DefaultDimensions = 384

// Config configures the ONNX embedder.
type Config struct {
	// ModelPath is the path to the ONNX model file.
	ModelPath string

	// TokenizerPath is the path to the tokenizer.json file.
	TokenizerPath string

	// LibraryPath is the onnxruntime shared library. Empty uses the
	// platform default search path.
	LibraryPath string

	// Dimensions is the embedding vector size (default: 384).
	Dimensions int

	// MaxLength is the padded sequence length (default: 128).
	MaxLength int
}

// Embedder generates embeddings using ONNX Runtime.
type Embedder struct {
	mu         sync.Mutex
	session    *ort.DynamicAdvancedSession
	tokenizer  *Tokenizer
	inputNames []string
	dimensions int
	maxLen     int
	logger     *slog.Logger
}

var _ memory.Embedder = (*Embedder)(nil)

// inputOrder maps BERT input names to their slot in Tokenizer.Encode output.
var inputOrder = map[string]int{
	"input_ids":      0,
	"attention_mask": 1,
	"token_type_ids": 2,
}

var initOnce struct {
	sync.Once
	err error
}

// New loads the model and tokenizer.
func New(cfg Config, logger *slog.Logger) (*Embedder, error) {
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("ModelPath is required")
	}
	if cfg.Dimensions == 0 {
		cfg.Dimensions = DefaultDimensions
	}
	if cfg.MaxLength == 0 {
		cfg.MaxLength = DefaultMaxLength
	}
	logger = logging.OrNop(logger).With("component", "embedder.onnx")

	initOnce.Do(func() {
		if cfg.LibraryPath != "" {
			ort.SetSharedLibraryPath(cfg.LibraryPath)
		}
		initOnce.err = ort.InitializeEnvironment()
	})
	if initOnce.err != nil {
		return nil, fmt.Errorf("initialize ONNX runtime: %w", initOnce.err)
	}

	tokenizer, err := LoadTokenizer(cfg.TokenizerPath)
	if err != nil {
		return nil, err
	}

	inputs, outputs, err := ort.GetInputOutputInfo(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("inspect model: %w", err)
	}
	inputNames := make([]string, 0, len(inputs))
	for _, in := range inputs {
		if _, ok := inputOrder[in.Name]; !ok {
			return nil, fmt.Errorf("model input %q is not supported", in.Name)
		}
		inputNames = append(inputNames, in.Name)
	}
	if len(outputs) == 0 {
		return nil, fmt.Errorf("model %s has no outputs", cfg.ModelPath)
	}
	outputNames := []string{outputs[0].Name}
	logger.Info("onnx model loaded", "path", cfg.ModelPath, "inputs", inputNames, "output", outputNames[0])

	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath, inputNames, outputNames, nil)
	if err != nil {
		return nil, fmt.Errorf("create ONNX session: %w", err)
	}

	return &Embedder{
		session:    session,
		tokenizer:  tokenizer,
		inputNames: inputNames,
		dimensions: cfg.Dimensions,
		maxLen:     cfg.MaxLength,
		logger:     logger,
	}, nil
}

// Embed implements memory.Embedder.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	emb, err := e.embed(text)
	if err != nil {
		return nil, core.Unavailable(core.ErrEmbeddingUnavailable, err)
	}
	return emb, nil
}

func (e *Embedder) embed(text string) ([]float32, error) {
	inputIDs, attentionMask, tokenTypeIDs := e.tokenizer.Encode(text, e.maxLen)
	shape := ort.NewShape(1, int64(e.maxLen))

	encoded := [...][]int64{inputIDs, attentionMask, tokenTypeIDs}

	var inputs []ort.Value
	for _, name := range e.inputNames {
		tensor, err := ort.NewTensor(shape, encoded[inputOrder[name]])
		if err != nil {
			return nil, fmt.Errorf("create input tensor: %w", err)
		}
		defer tensor.Destroy()
		inputs = append(inputs, tensor)
	}

	outputs := []ort.Value{nil}
	e.mu.Lock()
	err := e.session.Run(inputs, outputs)
	e.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("ONNX inference failed: %w", err)
	}
	defer func() {
		for _, output := range outputs {
			if output != nil {
				output.Destroy()
			}
		}
	}()

	out, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected output tensor type %T", outputs[0])
	}
	return Pool(out.GetData(), out.GetShape(), attentionMask, e.dimensions)
}

// Dimensions implements memory.Embedder.
func (e *Embedder) Dimensions() int {
	return e.dimensions
}

// Close releases ONNX resources.
func (e *Embedder) Close() error {
	if e.session != nil {
		return e.session.Destroy()
	}
	return nil
}
