package model

import (
	"math"
	"math/rand"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomInput(rng *rand.Rand) []float32 {
	x := make([]float32, InputSize)
	for i := range x {
		x[i] = rng.Float32()
	}
	return x
}

func randomCheckpoint(t *testing.T, seed int64) *Checkpoint {
	t.Helper()
	c, err := NewCheckpoint(InputSize, sketchHidden, NumClasses, 0.2)
	require.NoError(t, err)

	topo, err := c.Topology()
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(seed))
	for _, p := range topo.Params() {
		tensor := c.StateDict[p.Name]
		for i := range tensor.Data {
			tensor.Data[i] = rng.NormFloat64() * 0.1
		}
		if filepath.Ext(p.Name) == ".running_var" {
			for i := range tensor.Data {
				tensor.Data[i] = 0.5 + rng.Float64()
			}
		}
	}
	return c
}

func buildSketch(t *testing.T, c *Checkpoint) *Network {
	t.Helper()
	topo, err := c.Topology()
	require.NoError(t, err)
	n, err := Build(topo, c)
	require.NoError(t, err)
	return n
}

func TestPredictFinalBiasDominates(t *testing.T) {
	c, err := NewCheckpoint(InputSize, sketchHidden, NumClasses, 0.2)
	require.NoError(t, err)
	copy(c.StateDict["logits.bias"].Data, []float64{0, 0, 0, 0, 0, 0, 0, 0, 0, 5})

	n := buildSketch(t, c)
	rng := rand.New(rand.NewSource(1))

	for _, x := range [][]float32{make([]float32, InputSize), randomInput(rng)} {
		result, err := n.Predict(x)
		require.NoError(t, err)
		assert.Equal(t, 9, result.Index)
		assert.Equal(t, "sword", result.Label)

		want := math.Exp(5) / (9 + math.Exp(5))
		assert.InDelta(t, want, result.Probabilities[9], 1e-9)
		for i := 0; i < 9; i++ {
			assert.Less(t, result.Probabilities[i], 0.01)
		}
	}
}

func TestPredictProbabilitySimplex(t *testing.T) {
	n := buildSketch(t, randomCheckpoint(t, 42))
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 20; i++ {
		result, err := n.Predict(randomInput(rng))
		require.NoError(t, err)
		require.Len(t, result.Probabilities, NumClasses)

		var sum float64
		for _, p := range result.Probabilities {
			assert.GreaterOrEqual(t, p, 0.0)
			sum += p
		}
		assert.InDelta(t, 1.0, sum, 1e-6)
		assert.Equal(t, Argmax(result.Probabilities), result.Index)
		assert.Equal(t, Labels[result.Index].Name, result.Label)
	}
}

func TestPredictShapeError(t *testing.T) {
	n := buildSketch(t, randomCheckpoint(t, 1))
	for _, size := range []int{0, 783, 785, 28} {
		_, err := n.Predict(make([]float32, size))
		assert.ErrorIs(t, err, ErrShape)
	}
}

// tinyCheckpoint builds parameters for a hand-checkable two-feature network.
func tinyCheckpoint(dropout float64) (Topology, *Checkpoint) {
	topo := Topology{Layers: []LayerSpec{
		{Kind: Dense, Name: "fc", In: 2, Out: 2},
		{Kind: BatchNorm, Name: "bn", In: 2, Out: 2},
		{Kind: ReLU, Name: "relu", In: 2, Out: 2},
		{Kind: Dropout, Name: "drop", In: 2, Out: 2, P: dropout},
		{Kind: Dense, Name: "out", In: 2, Out: 2},
	}}
	eps := 0.0
	c := &Checkpoint{
		Version:      CheckpointVersion,
		InputSize:    2,
		OutputSize:   2,
		BatchNormEps: &eps,
		StateDict: map[string]Tensor{
			"fc.weight":       {Shape: []int{2, 2}, Data: []float64{1, 2, 3, 4}},
			"fc.bias":         {Shape: []int{2}, Data: []float64{1, -20}},
			"bn.weight":       {Shape: []int{2}, Data: []float64{2, 1}},
			"bn.bias":         {Shape: []int{2}, Data: []float64{0.5, 0}},
			"bn.running_mean": {Shape: []int{2}, Data: []float64{1, 0}},
			"bn.running_var":  {Shape: []int{2}, Data: []float64{4, 1}},
			"out.weight":      {Shape: []int{2, 2}, Data: []float64{1, 0, -1, 1}},
			"out.bias":        {Shape: []int{2}, Data: []float64{0, 10}},
		},
	}
	return topo, c
}

func TestLogitsHandComputed(t *testing.T) {
	topo, c := tinyCheckpoint(0.5)
	n, err := Build(topo, c)
	require.NoError(t, err)

	// fc:   [1*1+2*1+1, 3*1+4*1-20] = [4, -13]
	// bn:   [(4-1)/2*2+0.5, (-13-0)/1*1+0] = [3.5, -13]
	// relu: [3.5, 0]
	// out:  [3.5, -3.5+10] = [3.5, 6.5]
	logits, err := n.Logits([]float32{1, 1})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{3.5, 6.5}, logits, 1e-12)
}

func TestDropoutNeverApplied(t *testing.T) {
	x := []float32{1, 1}
	var outputs [][]float64
	for _, p := range []float64{0, 0.5, 0.99} {
		topo, c := tinyCheckpoint(p)
		n, err := Build(topo, c)
		require.NoError(t, err)
		for i := 0; i < 5; i++ {
			logits, err := n.Logits(x)
			require.NoError(t, err)
			outputs = append(outputs, logits)
		}
	}
	for _, o := range outputs[1:] {
		assert.Equal(t, outputs[0], o)
	}
}

func TestBuildRejectsBadParameters(t *testing.T) {
	t.Run("negative running variance", func(t *testing.T) {
		topo, c := tinyCheckpoint(0)
		c.StateDict["bn.running_var"] = Tensor{Shape: []int{2}, Data: []float64{1, -1}}
		n, err := Build(topo, c)
		assert.Nil(t, n)
		assert.ErrorIs(t, err, ErrLoad)
	})

	t.Run("declared sizes disagree with topology", func(t *testing.T) {
		topo, c := tinyCheckpoint(0)
		c.InputSize = 3
		_, err := Build(topo, c)
		assert.ErrorIs(t, err, ErrLoad)
	})

	t.Run("missing dense bias", func(t *testing.T) {
		topo, c := tinyCheckpoint(0)
		delete(c.StateDict, "out.bias")
		_, err := Build(topo, c)
		require.ErrorIs(t, err, ErrLoad)
		assert.Contains(t, err.Error(), "out.bias")
	})
}

func TestBuildCopiesParameters(t *testing.T) {
	topo, c := tinyCheckpoint(0)
	n, err := Build(topo, c)
	require.NoError(t, err)
	before, err := n.Logits([]float32{1, 1})
	require.NoError(t, err)

	c.StateDict["out.bias"].Data[0] = 1000
	after, err := n.Logits([]float32{1, 1})
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestPredictConcurrent(t *testing.T) {
	n := buildSketch(t, randomCheckpoint(t, 3))
	x := randomInput(rand.New(rand.NewSource(5)))
	want, err := n.Predict(x)
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]*PredictionResult, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = n.Predict(x)
		}(i)
	}
	wg.Wait()

	for _, r := range results {
		require.NotNil(t, r)
		assert.Equal(t, want, r)
	}
}

func TestLoad(t *testing.T) {
	c := randomCheckpoint(t, 9)
	path := filepath.Join(t.TempDir(), "sketch_model.json")
	require.NoError(t, WriteCheckpointFile(path, c, false))

	n, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, InputSize, n.Topology().InputSize())

	fromMemory := buildSketch(t, c)
	x := randomInput(rand.New(rand.NewSource(11)))
	a, err := n.Logits(x)
	require.NoError(t, err)
	b, err := fromMemory.Logits(x)
	require.NoError(t, err)
	assert.Equal(t, b, a)
}

func TestLoadReportsPath(t *testing.T) {
	c := randomCheckpoint(t, 9)
	c.StateDict["bn2.running_var"].Data[0] = -1
	path := filepath.Join(t.TempDir(), "broken.json")
	require.NoError(t, WriteCheckpointFile(path, c, false))

	_, err := Load(path)
	require.ErrorIs(t, err, ErrLoad)
	assert.Contains(t, err.Error(), path)
}

func TestLoadRejectsForeignSizes(t *testing.T) {
	tests := []struct {
		name   string
		in     int
		out    int
		reason string
	}{
		{name: "five classes", in: InputSize, out: 5, reason: "output_size 5, want 10"},
		{name: "small input", in: 100, out: NumClasses, reason: "input_size 100, want 784"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewCheckpoint(tt.in, sketchHidden, tt.out, 0.2)
			require.NoError(t, err)
			path := filepath.Join(t.TempDir(), "foreign.json")
			require.NoError(t, WriteCheckpointFile(path, c, false))

			n, err := Load(path)
			assert.Nil(t, n)
			require.ErrorIs(t, err, ErrLoad)
			assert.Contains(t, err.Error(), tt.reason)
			assert.Contains(t, err.Error(), path)
		})
	}
}
