package inference

import (
	"context"
	"fmt"
	"slices"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

var (
	envMu      sync.Mutex
	envStarted bool
)

// InitONNX loads the ONNX Runtime shared library and creates the process wide
// environment. Calling it again after a successful start is a no-op.
func InitONNX(sharedLibraryPath string) error {
	envMu.Lock()
	defer envMu.Unlock()
	if envStarted {
		return nil
	}
	if sharedLibraryPath != "" {
		ort.SetSharedLibraryPath(sharedLibraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize ONNX environment: %w", err)
	}
	envStarted = true
	return nil
}

// ShutdownONNX tears the environment down. Every ONNXModel must be closed first.
func ShutdownONNX() error {
	envMu.Lock()
	defer envMu.Unlock()
	if !envStarted {
		return nil
	}
	envStarted = false
	return ort.DestroyEnvironment()
}

// ModelSpec describes an ONNX graph with one input and one output.
type ModelSpec struct {
	Name        string
	Path        string
	InputName   string
	OutputName  string
	InputShape  []int64
	OutputShape []int64
}

// ONNXModel owns one session with preallocated tensors. Run calls share those
// tensors, so they are serialised.
type ONNXModel struct {
	mu     sync.Mutex
	spec   ModelSpec
	sess   *ort.AdvancedSession
	input  *ort.Tensor[float32]
	output *ort.Tensor[float32]
}

// NewONNXModel opens the model at spec.Path. InitONNX must have succeeded.
func NewONNXModel(spec ModelSpec) (*ONNXModel, error) {
	input, err := ort.NewEmptyTensor[float32](ort.NewShape(spec.InputShape...))
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor for %s: %w", spec.Name, err)
	}

	output, err := ort.NewEmptyTensor[float32](ort.NewShape(spec.OutputShape...))
	if err != nil {
		input.Destroy()
		return nil, fmt.Errorf("failed to create output tensor for %s: %w", spec.Name, err)
	}

	sess, err := ort.NewAdvancedSession(spec.Path,
		[]string{spec.InputName}, []string{spec.OutputName},
		[]ort.ArbitraryTensor{input}, []ort.ArbitraryTensor{output},
		nil)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("failed to create ONNX session for %s: %w", spec.Name, err)
	}

	return &ONNXModel{spec: spec, sess: sess, input: input, output: output}, nil
}

// Predict copies input into the session, runs it and returns a copy of the output.
func (m *ONNXModel) Predict(ctx context.Context, input *Tensor) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := input.Validate(); err != nil {
		return nil, err
	}
	if !slices.Equal(input.Shape, m.spec.InputShape) {
		return nil, fmt.Errorf("%s expects input shape %v, got %v", m.spec.Name, m.spec.InputShape, input.Shape)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	copy(m.input.GetData(), input.Data)
	if err := m.sess.Run(); err != nil {
		return nil, fmt.Errorf("%s inference failed: %w", m.spec.Name, err)
	}
	return append([]float32(nil), m.output.GetData()...), nil
}

// Close releases the session and its tensors.
func (m *ONNXModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if m.sess != nil {
		keep(m.sess.Destroy())
		m.sess = nil
	}
	if m.input != nil {
		keep(m.input.Destroy())
		m.input = nil
	}
	if m.output != nil {
		keep(m.output.Destroy())
		m.output = nil
	}
	return firstErr
}
