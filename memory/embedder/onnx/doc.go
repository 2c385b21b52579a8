// Package onnx embeds text locally with ONNX Runtime. The tokenizer and
// pooling helpers build without cgo; the Embedder itself needs -tags onnx.
package onnx
