package model

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/mat"
)

// op is one compiled inference step. It returns a new vector or mutates x
// in place; x is always owned by the current call.
type op interface {
	apply(x *mat.VecDense) *mat.VecDense
}

type denseOp struct {
	weight *mat.Dense
	bias   *mat.VecDense
}

func (d denseOp) apply(x *mat.VecDense) *mat.VecDense {
	rows, _ := d.weight.Dims()
	out := mat.NewVecDense(rows, nil)
	out.MulVec(d.weight, x)
	out.AddVec(out, d.bias)
	return out
}

// batchNormOp applies inference-mode batch normalization folded into a
// per-feature scale and shift.
type batchNormOp struct {
	scale *mat.VecDense
	shift *mat.VecDense
}

func (b batchNormOp) apply(x *mat.VecDense) *mat.VecDense {
	x.MulElemVec(x, b.scale)
	x.AddVec(x, b.shift)
	return x
}

type reluOp struct{}

func (reluOp) apply(x *mat.VecDense) *mat.VecDense {
	raw := x.RawVector()
	for i := 0; i < raw.N; i++ {
		if raw.Data[i*raw.Inc] < 0 {
			raw.Data[i*raw.Inc] = 0
		}
	}
	return x
}

// Network is a compiled, read-only feed-forward classifier. Predict is safe
// for concurrent use: parameters are never written after Build and every
// call works on its own activation vectors.
type Network struct {
	topology Topology
	ops      []op
}

// Load reads a checkpoint file and builds the sketch network it declares.
func Load(path string) (*Network, error) {
	c, err := LoadCheckpointFile(path)
	if err != nil {
		return nil, err
	}
	t, err := c.Topology()
	if err != nil {
		return nil, loadErrorf(path, err, "invalid topology")
	}
	n, err := Build(t, c)
	if err != nil {
		var le *LoadError
		if errors.As(err, &le) {
			le.Source = path
		}
		return nil, err
	}
	return n, nil
}

// Build compiles t against the parameters in c. Dropout layers compile to
// nothing: the inference path never applies them.
func Build(t Topology, c *Checkpoint) (*Network, error) {
	if err := t.Validate(); err != nil {
		return nil, loadErrorf("checkpoint", err, "invalid topology")
	}
	if c.InputSize != t.InputSize() {
		return nil, loadErrorf("checkpoint", nil, "input_size %d does not match topology input %d",
			c.InputSize, t.InputSize())
	}
	if c.OutputSize != t.OutputSize() {
		return nil, loadErrorf("checkpoint", nil, "output_size %d does not match topology output %d",
			c.OutputSize, t.OutputSize())
	}

	ops := make([]op, 0, len(t.Layers))
	for _, l := range t.Layers {
		switch l.Kind {
		case Dense:
			w, err := c.Tensor(l.Name+".weight", []int{l.Out, l.In})
			if err != nil {
				return nil, loadErrorf("checkpoint", err, "layer %s", l.Name)
			}
			b, err := c.Tensor(l.Name+".bias", []int{l.Out})
			if err != nil {
				return nil, loadErrorf("checkpoint", err, "layer %s", l.Name)
			}
			ops = append(ops, denseOp{
				weight: mat.NewDense(l.Out, l.In, slices.Clone(w.Data)),
				bias:   mat.NewVecDense(l.Out, slices.Clone(b.Data)),
			})
		case BatchNorm:
			bn, err := foldBatchNorm(c, l)
			if err != nil {
				return nil, loadErrorf("checkpoint", err, "layer %s", l.Name)
			}
			ops = append(ops, bn)
		case ReLU:
			ops = append(ops, reluOp{})
		case Dropout:
		default:
			return nil, loadErrorf("checkpoint", nil, "layer %s: unsupported kind %s", l.Name, l.Kind)
		}
	}

	return &Network{topology: t, ops: ops}, nil
}

func foldBatchNorm(c *Checkpoint, l LayerSpec) (batchNormOp, error) {
	shape := []int{l.Out}
	var tensors [4]Tensor
	for i, field := range []string{"weight", "bias", "running_mean", "running_var"} {
		t, err := c.Tensor(l.Name+"."+field, shape)
		if err != nil {
			return batchNormOp{}, err
		}
		tensors[i] = t
	}
	gamma, beta, mean, variance := tensors[0].Data, tensors[1].Data, tensors[2].Data, tensors[3].Data

	eps := c.Eps()
	scale := make([]float64, l.Out)
	shift := make([]float64, l.Out)
	for i := range scale {
		if variance[i] < 0 {
			return batchNormOp{}, fmt.Errorf("running_var[%d] is negative: %v", i, variance[i])
		}
		scale[i] = gamma[i] / math.Sqrt(variance[i]+eps)
		shift[i] = beta[i] - mean[i]*scale[i]
	}
	return batchNormOp{
		scale: mat.NewVecDense(l.Out, scale),
		shift: mat.NewVecDense(l.Out, shift),
	}, nil
}

// Topology returns the layer sequence the network was built from.
func (n *Network) Topology() Topology {
	return n.topology
}

// Logits runs the forward pass and returns the raw output scores.
func (n *Network) Logits(x []float32) ([]float64, error) {
	if len(x) != n.topology.InputSize() {
		return nil, &ShapeError{
			Stage: "classifier input",
			Want:  shapeString(n.topology.InputSize()),
			Got:   shapeString(len(x)),
		}
	}

	in := make([]float64, len(x))
	for i, v := range x {
		in[i] = float64(v)
	}
	v := mat.NewVecDense(len(in), in)
	for _, o := range n.ops {
		v = o.apply(v)
	}

	out := make([]float64, v.Len())
	for i := range out {
		out[i] = v.AtVec(i)
	}
	return out, nil
}

// Predict classifies a normalized tensor.
func (n *Network) Predict(x []float32) (*PredictionResult, error) {
	logits, err := n.Logits(x)
	if err != nil {
		return nil, err
	}
	return newPredictionResult(logits)
}
