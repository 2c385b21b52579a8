//go:build onnx

package cli

import (
	"log/slog"

	"github.com/m-mizutani/goerr/v2"

	"github.com/becomeliminal/nim-recall/config"
	"github.com/becomeliminal/nim-recall/memory"
	"github.com/becomeliminal/nim-recall/memory/embedder/onnx"
)

func newONNXEmbedder(ec config.EmbeddingConfig, logger *slog.Logger) (memory.Embedder, func() error, error) {
	emb, err := onnx.New(onnx.Config{
		ModelPath:     ec.ONNXModel,
		TokenizerPath: ec.ONNXTokenizer,
		LibraryPath:   ec.ONNXLibrary,
		Dimensions:    ec.Dimensions,
	}, logger)
	if err != nil {
		return nil, nil, goerr.Wrap(err, "failed to load onnx embedder", goerr.V("model", ec.ONNXModel))
	}
	return emb, emb.Close, nil
}
