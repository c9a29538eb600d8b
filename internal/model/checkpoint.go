package model

import (
	"bufio"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"
)

// CheckpointVersion is the only checkpoint layout this package reads.
const CheckpointVersion = 1

// DefaultBatchNormEps matches the epsilon the networks were trained with.
const DefaultBatchNormEps = 1e-5

// Tensor is a dense row-major array.
type Tensor struct {
	Shape []int     `json:"shape"`
	Data  []float64 `json:"data"`
}

// Checkpoint holds the hyperparameters and named parameters of a trained
// sketch network.
type Checkpoint struct {
	Version      int               `json:"version"`
	InputSize    int               `json:"input_size"`
	OutputSize   int               `json:"output_size"`
	HiddenLayers []int             `json:"hidden_layers"`
	Dropout      *float64          `json:"dropout"`
	BatchNormEps *float64          `json:"batch_norm_eps,omitempty"`
	StateDict    map[string]Tensor `json:"state_dict"`
}

// NewCheckpoint returns a checkpoint for SketchTopology with every
// parameter zero-filled.
func NewCheckpoint(inputSize int, hidden []int, outputSize int, dropout float64) (*Checkpoint, error) {
	t, err := SketchTopology(inputSize, hidden, outputSize, dropout)
	if err != nil {
		return nil, err
	}
	c := &Checkpoint{
		Version:      CheckpointVersion,
		InputSize:    inputSize,
		OutputSize:   outputSize,
		HiddenLayers: slices.Clone(hidden),
		Dropout:      &dropout,
		StateDict:    make(map[string]Tensor),
	}
	for _, p := range t.Params() {
		c.StateDict[p.Name] = Tensor{
			Shape: slices.Clone(p.Shape),
			Data:  make([]float64, product(p.Shape)),
		}
	}
	return c, nil
}

// LoadCheckpointFile reads a checkpoint from disk. Gzip-compressed files
// are detected by their magic bytes.
func LoadCheckpointFile(path string) (*Checkpoint, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, loadErrorf(path, err, "open checkpoint")
	}
	defer f.Close()

	return readCheckpoint(path, f)
}

// LoadCheckpoint reads and validates a checkpoint from r.
func LoadCheckpoint(r io.Reader) (*Checkpoint, error) {
	return readCheckpoint("checkpoint", r)
}

func readCheckpoint(source string, r io.Reader) (*Checkpoint, error) {
	br := bufio.NewReader(r)
	magic, _ := br.Peek(2)

	var src io.Reader = br
	if len(magic) == 2 && magic[0] == 0x1f && magic[1] == 0x8b {
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, loadErrorf(source, err, "open gzip stream")
		}
		defer zr.Close()
		src = zr
	}

	var c Checkpoint
	if err := json.NewDecoder(src).Decode(&c); err != nil {
		return nil, loadErrorf(source, err, "parse checkpoint")
	}
	if err := c.validate(source); err != nil {
		return nil, err
	}
	return &c, nil
}

// WriteCheckpoint serializes c as JSON.
func WriteCheckpoint(w io.Writer, c *Checkpoint) error {
	enc := json.NewEncoder(w)
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}
	return nil
}

// WriteCheckpointFile writes c to path, gzip-compressing it when compress
// is set.
func WriteCheckpointFile(path string, c *Checkpoint, compress bool) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create checkpoint file: %w", err)
	}

	var w io.Writer = f
	var zw *gzip.Writer
	if compress {
		zw = gzip.NewWriter(f)
		w = zw
	}
	if err := WriteCheckpoint(w, c); err != nil {
		f.Close()
		return err
	}
	if zw != nil {
		if err := zw.Close(); err != nil {
			f.Close()
			return fmt.Errorf("failed to flush gzip stream: %w", err)
		}
	}
	return f.Close()
}

// Topology builds the sketch topology declared by the checkpoint's
// hyperparameters.
func (c *Checkpoint) Topology() (Topology, error) {
	if c.Dropout == nil {
		return Topology{}, fmt.Errorf("dropout not set")
	}
	return SketchTopology(c.InputSize, c.HiddenLayers, c.OutputSize, *c.Dropout)
}

// Eps returns the batch-norm epsilon, falling back to DefaultBatchNormEps.
func (c *Checkpoint) Eps() float64 {
	if c.BatchNormEps == nil {
		return DefaultBatchNormEps
	}
	return *c.BatchNormEps
}

// Tensor looks up a parameter and checks its shape.
func (c *Checkpoint) Tensor(name string, shape []int) (Tensor, error) {
	t, ok := c.StateDict[name]
	if !ok {
		return Tensor{}, fmt.Errorf("missing tensor %q", name)
	}
	if !slices.Equal(t.Shape, shape) {
		return Tensor{}, fmt.Errorf("tensor %q: expected shape %v, got %v", name, shape, t.Shape)
	}
	if len(t.Data) != product(shape) {
		return Tensor{}, fmt.Errorf("tensor %q: shape %v needs %d values, got %d",
			name, shape, product(shape), len(t.Data))
	}
	return t, nil
}

func (c *Checkpoint) validate(source string) error {
	if c.Version != CheckpointVersion {
		return loadErrorf(source, nil, "unsupported checkpoint version %d", c.Version)
	}
	if c.InputSize == 0 {
		return loadErrorf(source, nil, "missing input_size")
	}
	if c.OutputSize == 0 {
		return loadErrorf(source, nil, "missing output_size")
	}
	if c.InputSize != InputSize {
		return loadErrorf(source, nil, "input_size %d, want %d", c.InputSize, InputSize)
	}
	if c.OutputSize != NumClasses {
		return loadErrorf(source, nil, "output_size %d, want %d", c.OutputSize, NumClasses)
	}
	if c.HiddenLayers == nil {
		return loadErrorf(source, nil, "missing hidden_layers")
	}
	if c.Dropout == nil {
		return loadErrorf(source, nil, "missing dropout")
	}
	if c.Eps() <= 0 {
		return loadErrorf(source, nil, "batch_norm_eps must be positive, got %v", c.Eps())
	}
	if c.StateDict == nil {
		return loadErrorf(source, nil, "missing state_dict")
	}

	t, err := c.Topology()
	if err != nil {
		return loadErrorf(source, err, "invalid topology")
	}
	for _, p := range t.Params() {
		if _, err := c.Tensor(p.Name, p.Shape); err != nil {
			return loadErrorf(source, err, "invalid state_dict")
		}
	}
	return nil
}

func product(dims []int) int {
	n := 1
	for _, d := range dims {
		n *= d
	}
	return n
}
