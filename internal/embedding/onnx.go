//go:build cgo
// +build cgo

package embedding

import (
	"context"
	"fmt"
	"image"
	"path/filepath"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// ONNXEmbedder runs a ViT image model (DINOv2) through ONNX Runtime and mean-pools its
// last hidden state. It requires CGO and the onnxruntime shared library.
type ONNXEmbedder struct {
	cfg     ONNXConfig
	tokens  int
	session *ort.AdvancedSession
	// Pre-allocated tensors for Run(); we update input data and read output.
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	mu           sync.Mutex
}

// NewONNXEmbedder creates an ONNX embedder. InitializeEnvironment is called if not already done.
func NewONNXEmbedder(cfg ONNXConfig) (*ONNXEmbedder, error) {
	cfg = cfg.withDefaults()
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("failed to initialize ONNX runtime: %w", err)
	}

	tokens := TokenCount(cfg.InputSize, cfg.PatchSize)
	inputData := make([]float32, 3*cfg.InputSize*cfg.InputSize)
	inputTensor, err := ort.NewTensor(ort.NewShape(1, 3, int64(cfg.InputSize), int64(cfg.InputSize)), inputData)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s tensor: %w", cfg.InputName, err)
	}
	outputData := make([]float32, tokens*cfg.Dimensions)
	outputTensor, err := ort.NewTensor(ort.NewShape(1, int64(tokens), int64(cfg.Dimensions)), outputData)
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("failed to create %s tensor: %w", cfg.OutputName, err)
	}

	session, err := ort.NewAdvancedSession(
		cfg.ModelPath,
		[]string{cfg.InputName},
		[]string{cfg.OutputName},
		[]ort.ArbitraryTensor{inputTensor},
		[]ort.ArbitraryTensor{outputTensor},
		nil,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &ONNXEmbedder{
		cfg:          cfg,
		tokens:       tokens,
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
	}, nil
}

// Embed preprocesses img, runs one forward pass and mean-pools the hidden state.
func (e *ONNXEmbedder) Embed(ctx context.Context, img image.Image) ([]float32, error) {
	model := filepath.Base(e.cfg.ModelPath)
	pixels, err := Preprocess(img, e.cfg.ResizeShortest, e.cfg.InputSize)
	if err != nil {
		return nil, &ModelInferenceError{Op: "preprocess image", Model: model, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return nil, &ModelInferenceError{Op: "embed image", Model: model, Err: err}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session == nil {
		return nil, &ModelInferenceError{Op: "embed image", Model: model, Err: fmt.Errorf("embedder is closed")}
	}
	copy(e.inputTensor.GetData(), pixels)
	if err := e.session.Run(); err != nil {
		return nil, &ModelInferenceError{Op: "run inference", Model: model, Err: err}
	}

	emb, err := MeanPool(e.outputTensor.GetData(), e.tokens, e.cfg.Dimensions)
	if err != nil {
		return nil, &ModelInferenceError{Op: "pool hidden state", Model: model, Err: err}
	}
	return emb, nil
}

// Dimensions returns the embedding dimension.
func (e *ONNXEmbedder) Dimensions() int {
	return e.cfg.Dimensions
}

// Close destroys the session and tensors.
func (e *ONNXEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var err error
	if e.session != nil {
		err = e.session.Destroy()
		e.session = nil
	}
	if e.inputTensor != nil {
		_ = e.inputTensor.Destroy()
		e.inputTensor = nil
	}
	if e.outputTensor != nil {
		_ = e.outputTensor.Destroy()
		e.outputTensor = nil
	}
	return err
}
