package model

import (
	"fmt"
	"strings"
)

// LayerKind identifies the transform a layer applies.
type LayerKind int

const (
	Dense LayerKind = iota
	BatchNorm
	ReLU
	Dropout
)

func (k LayerKind) String() string {
	switch k {
	case Dense:
		return "dense"
	case BatchNorm:
		return "batchnorm"
	case ReLU:
		return "relu"
	case Dropout:
		return "dropout"
	default:
		return fmt.Sprintf("LayerKind(%d)", int(k))
	}
}

// LayerSpec is one entry of a declarative topology. In and Out are feature
// counts; for element-wise layers they are equal. P is the dropout
// probability and is only meaningful for Dropout.
type LayerSpec struct {
	Kind LayerKind
	Name string
	In   int
	Out  int
	P    float64
}

// Param names a tensor a layer needs from the checkpoint.
type Param struct {
	Name  string
	Shape []int
}

// Params lists the tensors this layer reads, using the checkpoint's
// "<layer>.<field>" naming.
func (l LayerSpec) Params() []Param {
	switch l.Kind {
	case Dense:
		return []Param{
			{Name: l.Name + ".weight", Shape: []int{l.Out, l.In}},
			{Name: l.Name + ".bias", Shape: []int{l.Out}},
		}
	case BatchNorm:
		return []Param{
			{Name: l.Name + ".weight", Shape: []int{l.Out}},
			{Name: l.Name + ".bias", Shape: []int{l.Out}},
			{Name: l.Name + ".running_mean", Shape: []int{l.Out}},
			{Name: l.Name + ".running_var", Shape: []int{l.Out}},
		}
	default:
		return nil
	}
}

// Topology is an ordered layer sequence consumed by Build.
type Topology struct {
	Layers []LayerSpec
}

// SketchTopology returns the layer sequence the sketch checkpoints are
// trained with:
//
//	fc1 relu1 fc2 bn2 relu2 dropout fc3 bn3 relu3 logits
func SketchTopology(inputSize int, hidden []int, outputSize int, dropout float64) (Topology, error) {
	if len(hidden) != 3 {
		return Topology{}, fmt.Errorf("expected 3 hidden layer sizes, got %d", len(hidden))
	}
	h0, h1, h2 := hidden[0], hidden[1], hidden[2]

	t := Topology{Layers: []LayerSpec{
		{Kind: Dense, Name: "fc1", In: inputSize, Out: h0},
		{Kind: ReLU, Name: "relu1", In: h0, Out: h0},
		{Kind: Dense, Name: "fc2", In: h0, Out: h1},
		{Kind: BatchNorm, Name: "bn2", In: h1, Out: h1},
		{Kind: ReLU, Name: "relu2", In: h1, Out: h1},
		{Kind: Dropout, Name: "dropout", In: h1, Out: h1, P: dropout},
		{Kind: Dense, Name: "fc3", In: h1, Out: h2},
		{Kind: BatchNorm, Name: "bn3", In: h2, Out: h2},
		{Kind: ReLU, Name: "relu3", In: h2, Out: h2},
		{Kind: Dense, Name: "logits", In: h2, Out: outputSize},
	}}
	if err := t.Validate(); err != nil {
		return Topology{}, err
	}
	return t, nil
}

// InputSize is the feature count of the first layer.
func (t Topology) InputSize() int {
	if len(t.Layers) == 0 {
		return 0
	}
	return t.Layers[0].In
}

// OutputSize is the feature count of the last layer.
func (t Topology) OutputSize() int {
	if len(t.Layers) == 0 {
		return 0
	}
	return t.Layers[len(t.Layers)-1].Out
}

// Params lists every tensor the topology needs, in layer order.
func (t Topology) Params() []Param {
	var params []Param
	for _, l := range t.Layers {
		params = append(params, l.Params()...)
	}
	return params
}

// Validate checks that sizes are positive, names are unique and each
// layer's input matches the previous layer's output.
func (t Topology) Validate() error {
	if len(t.Layers) == 0 {
		return fmt.Errorf("topology has no layers")
	}
	seen := make(map[string]bool, len(t.Layers))
	for i, l := range t.Layers {
		if l.Name == "" {
			return fmt.Errorf("layer %d: missing name", i)
		}
		if seen[l.Name] {
			return fmt.Errorf("layer %d: duplicate name %q", i, l.Name)
		}
		seen[l.Name] = true

		if l.In <= 0 || l.Out <= 0 {
			return fmt.Errorf("layer %s: sizes must be positive, got %d->%d", l.Name, l.In, l.Out)
		}
		switch l.Kind {
		case Dense:
		case BatchNorm, ReLU:
			if l.In != l.Out {
				return fmt.Errorf("layer %s: %s must preserve size, got %d->%d", l.Name, l.Kind, l.In, l.Out)
			}
		case Dropout:
			if l.In != l.Out {
				return fmt.Errorf("layer %s: dropout must preserve size, got %d->%d", l.Name, l.In, l.Out)
			}
			if l.P < 0 || l.P >= 1 {
				return fmt.Errorf("layer %s: dropout probability %v out of range [0,1)", l.Name, l.P)
			}
		default:
			return fmt.Errorf("layer %s: unknown kind %s", l.Name, l.Kind)
		}
		if i > 0 && t.Layers[i-1].Out != l.In {
			return fmt.Errorf("layer %s: input size %d does not match previous output %d",
				l.Name, l.In, t.Layers[i-1].Out)
		}
	}
	return nil
}

func (t Topology) String() string {
	parts := make([]string, len(t.Layers))
	for i, l := range t.Layers {
		switch l.Kind {
		case Dense:
			parts[i] = fmt.Sprintf("%s(%d->%d)", l.Name, l.In, l.Out)
		case Dropout:
			parts[i] = fmt.Sprintf("%s(p=%g)", l.Name, l.P)
		default:
			parts[i] = l.Name
		}
	}
	return strings.Join(parts, " ")
}

func shapeString(dims ...int) string {
	return fmt.Sprint(dims)
}
