//go:build !cgo

package embedding

import (
	"context"
	"errors"
)

var errNoCgo = errors.New("local embedder requires cgo and the onnxruntime library")

// LocalEmbedder is unavailable without cgo.
type LocalEmbedder struct{}

// NewLocalEmbedder always fails when built without cgo.
func NewLocalEmbedder(_ string, _, _ int) (*LocalEmbedder, error) {
	return nil, errNoCgo
}

func (e *LocalEmbedder) Embed(context.Context, string) ([]float32, error) { return nil, errNoCgo }

func (e *LocalEmbedder) EmbedBatch(context.Context, []string) ([][]float32, error) {
	return nil, errNoCgo
}

func (e *LocalEmbedder) Dimensions() int { return 0 }

func (e *LocalEmbedder) Close() error { return nil }
