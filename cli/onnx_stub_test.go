//go:build !onnx

package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestONNXRequiresBuildTag(t *testing.T) {
	cfg := writeConfig(t, "")
	cfg = rewrite(t, cfg, "provider: mock", "provider: onnx\n  onnx_model: m.onnx\n  onnx_tokenizer: tokenizer.json")

	_, err := run(t, "--config", cfg, "memory", "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "-tags onnx")
}
