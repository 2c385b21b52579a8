package cli

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, extra string) string {
	t.Helper()
	dir := t.TempDir()
	body := "data_dir: " + filepath.Join(dir, "data") + "\n" +
		"embedding:\n  provider: mock\n  dimensions: 256\n" + extra
	path := filepath.Join(dir, "nim-recall.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func rewrite(t *testing.T, path, old, repl string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte(strings.Replace(string(data), old, repl, 1)), 0o600))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := newApp(&out, io.Discard).Run(context.Background(), append([]string{"nim-recall"}, args...))
	return out.String(), err
}

func TestMemoryCommands(t *testing.T) {
	cfg := writeConfig(t, "")

	out, err := run(t, "--config", cfg, "memory", "list")
	require.NoError(t, err)
	assert.Equal(t, "No memories.\n", out)

	out, err = run(t, "--config", cfg, "memory", "add", "user", "likes", "green", "tea")
	require.NoError(t, err)
	fields := strings.Fields(out)
	require.Len(t, fields, 2)
	assert.Equal(t, "added", fields[0])
	id := fields[1]

	out, err = run(t, "--config", cfg, "memory", "add", "user likes green tea")
	require.NoError(t, err)
	assert.Equal(t, "merged "+id+"\n", out)

	out, err = run(t, "--config", cfg, "memory", "list")
	require.NoError(t, err)
	assert.Contains(t, out, id)
	assert.Contains(t, out, "user likes green tea")

	out, err = run(t, "--config", cfg, "memory", "search", "green", "tea")
	require.NoError(t, err)
	assert.Contains(t, out, "1. [")
	assert.Contains(t, out, "user likes green tea")

	out, err = run(t, "--config", cfg, "memory", "forget", id)
	require.NoError(t, err)
	assert.Equal(t, "forgot "+id+"\n", out)

	out, err = run(t, "--config", cfg, "memory", "list")
	require.NoError(t, err)
	assert.Equal(t, "No memories.\n", out)
}

func TestMemoryCommands_ChromemStore(t *testing.T) {
	cfg := writeConfig(t, "memory:\n  store: chromem\n")

	_, err := run(t, "--config", cfg, "memory", "add", "user owns a cat")
	require.NoError(t, err)
	out, err := run(t, "--config", cfg, "memory", "search", "cat")
	require.NoError(t, err)
	assert.Contains(t, out, "user owns a cat")
}

func TestMemoryCommands_Errors(t *testing.T) {
	cfg := writeConfig(t, "")

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"search without query", []string{"memory", "search"}, "query is required"},
		{"add without text", []string{"memory", "add", "  "}, "text is required"},
		{"forget without id", []string{"memory", "forget"}, "id is required"},
		{"forget unknown id", []string{"memory", "forget", "nope"}, "not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, append([]string{"--config", cfg}, tt.args...)...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestChat_RequiresAPIKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	cfg := writeConfig(t, "")

	_, err := run(t, "--config", cfg, "chat")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api key is required")
}

func TestInvalidConfig(t *testing.T) {
	cfg := writeConfig(t, "memory:\n  merge_mode: shuffle\n")

	_, err := run(t, "--config", cfg, "memory", "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown merge mode")
}
