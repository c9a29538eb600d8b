package model

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// Server runs an exported sketch graph through onnxruntime. The graph
// takes a named "input" tensor and produces raw logits on "output".
//
// The session binds one input and one output tensor for its whole lifetime,
// so Predict holds a mutex around copy, run and read.
type Server struct {
	mu           sync.Mutex
	session      *ort.AdvancedSession
	Metadata     Metadata
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
}

// NewONNXServer loads the graph at modelPath. libPath points at the
// onnxruntime shared library; empty uses the platform default.
func NewONNXServer(modelPath, metadataPath, libPath string) (*Server, error) {
	metaFile, err := os.ReadFile(metadataPath)
	if err != nil {
		return nil, loadErrorf(metadataPath, err, "read metadata")
	}

	var metadata Metadata
	if err := json.Unmarshal(metaFile, &metadata); err != nil {
		return nil, loadErrorf(metadataPath, err, "parse metadata")
	}
	if err := metadata.validate(); err != nil {
		return nil, loadErrorf(metadataPath, err, "invalid metadata")
	}

	if libPath != "" {
		ort.SetSharedLibraryPath(libPath)
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, loadErrorf(modelPath, err, "initialize ONNX environment")
		}
	}

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(metadata.InputShape...))
	if err != nil {
		return nil, loadErrorf(modelPath, err, "create input tensor")
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(metadata.OutputShape...))
	if err != nil {
		inputTensor.Destroy()
		return nil, loadErrorf(modelPath, err, "create output tensor")
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"input"}, []string{"output"},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, loadErrorf(modelPath, err, "create ONNX session")
	}

	return &Server{
		session:      session,
		Metadata:     metadata,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
	}, nil
}

// Predict classifies a normalized tensor.
func (s *Server) Predict(inputData []float32) (*PredictionResult, error) {
	if len(inputData) != InputSize {
		return nil, &ShapeError{
			Stage: "classifier input",
			Want:  shapeString(InputSize),
			Got:   shapeString(len(inputData)),
		}
	}

	s.mu.Lock()
	copy(s.inputTensor.GetData(), inputData)
	if err := s.session.Run(); err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("inference failed: %w", err)
	}
	outputData := s.outputTensor.GetData()
	logits := make([]float64, len(outputData))
	for i, v := range outputData {
		logits[i] = float64(v)
	}
	s.mu.Unlock()

	return newPredictionResult(logits)
}

func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inputTensor != nil {
		s.inputTensor.Destroy()
		s.inputTensor = nil
	}
	if s.outputTensor != nil {
		s.outputTensor.Destroy()
		s.outputTensor = nil
	}
	if s.session != nil {
		s.session.Destroy()
		s.session = nil
	}
	ort.DestroyEnvironment()
}

// validate checks that the exported graph lines up with the sketch
// pipeline: 784 inputs, 10 outputs, classes in label-table order.
func (m Metadata) validate() error {
	if got := product64(m.InputShape); got != InputSize {
		return fmt.Errorf("input_shape %v has %d elements, want %d", m.InputShape, got, InputSize)
	}
	if got := product64(m.OutputShape); got != NumClasses {
		return fmt.Errorf("output_shape %v has %d elements, want %d", m.OutputShape, got, NumClasses)
	}
	if m.ImageSize != 0 && m.ImageSize != ImageSize {
		return fmt.Errorf("image_size %d, want %d", m.ImageSize, ImageSize)
	}
	if len(m.Classes) != NumClasses {
		return fmt.Errorf("expected %d classes, got %d", NumClasses, len(m.Classes))
	}
	for i, name := range m.Classes {
		if name != Labels[i].Name {
			return fmt.Errorf("class %d is %q, label table has %q", i, name, Labels[i].Name)
		}
	}
	return nil
}

func product64(dims []int64) int {
	if len(dims) == 0 {
		return 0
	}
	n := 1
	for _, d := range dims {
		n *= int(d)
	}
	return n
}
