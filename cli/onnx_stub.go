//go:build !onnx

package cli

import (
	"log/slog"

	"github.com/m-mizutani/goerr/v2"

	"github.com/becomeliminal/nim-recall/config"
	"github.com/becomeliminal/nim-recall/memory"
)

func newONNXEmbedder(config.EmbeddingConfig, *slog.Logger) (memory.Embedder, func() error, error) {
	return nil, nil, goerr.New("onnx embedding requires a build with -tags onnx")
}
