package pipeline

import (
	"encoding/base64"
	"errors"
	"image/color"
	"testing"

	"github.com/Brownie44l1/sketch-api/internal/model"
	"github.com/Brownie44l1/sketch-api/internal/sketch"
	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingClassifier struct {
	inputs [][]float32
	err    error
}

func (c *recordingClassifier) Predict(x []float32) (*model.PredictionResult, error) {
	c.inputs = append(c.inputs, x)
	if c.err != nil {
		return nil, c.err
	}
	probs := make([]float64, model.NumClasses)
	probs[4] = 1
	return &model.PredictionResult{Index: 4, Label: "pear", Probabilities: probs}, nil
}

func swordNetwork(t *testing.T) *model.Network {
	t.Helper()
	c, err := model.NewCheckpoint(model.InputSize, []int{128, 64, 32}, model.NumClasses, 0.2)
	require.NoError(t, err)
	c.StateDict["logits.bias"].Data[9] = 5

	topo, err := c.Topology()
	require.NoError(t, err)
	n, err := model.Build(topo, c)
	require.NoError(t, err)
	return n
}

func squarePayload(t *testing.T) string {
	t.Helper()
	img := imaging.New(280, 280, color.NRGBA{})
	for y := 100; y < 150; y++ {
		for x := 100; x < 150; x++ {
			img.SetNRGBA(x, y, color.NRGBA{A: 255})
		}
	}
	payload, err := sketch.Encode(img)
	require.NoError(t, err)
	return payload
}

func TestClassify(t *testing.T) {
	p := New(swordNetwork(t))

	result, err := p.Classify(squarePayload(t))
	require.NoError(t, err)
	assert.Equal(t, 9, result.Index)
	assert.Equal(t, "sword", result.Label)
	assert.Equal(t, model.Argmax(result.Probabilities), result.Index)
	assert.Equal(t, model.Labels[result.Index].Name, result.Label)

	var sum float64
	for _, v := range result.Probabilities {
		assert.GreaterOrEqual(t, v, 0.0)
		sum += v
	}
	assert.InDelta(t, 1.0, sum, 1e-6)
}

func TestClassifyFilledSquareReachesClassifierFullyInked(t *testing.T) {
	rec := &recordingClassifier{}
	p := New(rec)

	result, err := p.Classify(squarePayload(t))
	require.NoError(t, err)
	assert.Equal(t, "pear", result.Label)

	require.Len(t, rec.inputs, 1)
	require.Len(t, rec.inputs[0], model.InputSize)
	for _, v := range rec.inputs[0] {
		require.InDelta(t, 1.0, v, 1e-6)
	}
}

func TestClassifyBlankCanvas(t *testing.T) {
	rec := &recordingClassifier{}
	p := New(rec)

	payload, err := sketch.Encode(imaging.New(280, 280, color.NRGBA{}))
	require.NoError(t, err)

	_, err = p.Classify(payload)
	require.NoError(t, err)
	require.Len(t, rec.inputs, 1)
	for _, v := range rec.inputs[0] {
		require.InDelta(t, 0.0, v, 1e-6)
	}
}

func TestTensorIdempotent(t *testing.T) {
	p := New(&recordingClassifier{})
	img := imaging.New(200, 120, color.NRGBA{})
	for x := 10; x < 190; x++ {
		img.SetNRGBA(x, 60+x%7, color.NRGBA{R: 30, G: 30, B: 30, A: 200})
	}
	payload, err := sketch.Encode(img)
	require.NoError(t, err)

	a, err := p.Tensor(payload)
	require.NoError(t, err)
	b, err := p.Tensor(payload)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestWithContract(t *testing.T) {
	rec := &recordingClassifier{}
	c := sketch.QuickDraw
	c.Scale = 2
	c.Offset = -1
	p := New(rec, WithContract(c))

	_, err := p.Classify(squarePayload(t))
	require.NoError(t, err)
	assert.InDelta(t, 1.0, rec.inputs[0][0], 1e-6)

	payload, err := sketch.Encode(imaging.New(10, 10, color.NRGBA{}))
	require.NoError(t, err)
	x, err := p.Tensor(payload)
	require.NoError(t, err)
	assert.InDelta(t, -1.0, x[0], 1e-6)
}

func TestClassifyErrors(t *testing.T) {
	t.Run("bad payload", func(t *testing.T) {
		rec := &recordingClassifier{}
		_, err := New(rec).Classify("%%%")
		require.ErrorIs(t, err, sketch.ErrDecode)
		assert.Equal(t, StageDecode, StageOf(err))
		assert.Empty(t, rec.inputs)
	})

	t.Run("not an image", func(t *testing.T) {
		_, err := New(&recordingClassifier{}).ClassifyBytes([]byte("GIF89a?"))
		require.ErrorIs(t, err, sketch.ErrDecode)
		assert.Equal(t, StageDecode, StageOf(err))
	})

	t.Run("classifier failure", func(t *testing.T) {
		boom := errors.New("boom")
		_, err := New(&recordingClassifier{err: boom}).Classify(squarePayload(t))
		require.ErrorIs(t, err, boom)
		assert.Equal(t, StagePredict, StageOf(err))
	})

	t.Run("tensor shape", func(t *testing.T) {
		_, err := New(swordNetwork(t)).ClassifyTensor(make([]float32, 12))
		require.ErrorIs(t, err, model.ErrShape)
		assert.Equal(t, StagePredict, StageOf(err))
	})

	t.Run("no stage", func(t *testing.T) {
		assert.Equal(t, Stage(""), StageOf(errors.New("other")))
	})
}

func TestClassifyBytes(t *testing.T) {
	payload := squarePayload(t)
	data, err := base64.StdEncoding.DecodeString(sketch.RestoreAlphabet(payload))
	require.NoError(t, err)

	p := New(swordNetwork(t))
	fromBytes, err := p.ClassifyBytes(data)
	require.NoError(t, err)
	fromPayload, err := p.Classify(payload)
	require.NoError(t, err)
	assert.Equal(t, fromPayload, fromBytes)
}
