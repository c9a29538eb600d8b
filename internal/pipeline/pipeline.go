// Package pipeline composes decoding, cropping, normalization and
// classification into a single call per sketch.
package pipeline

import (
	"errors"
	"fmt"
	"image"

	"github.com/Brownie44l1/sketch-api/internal/model"
	"github.com/Brownie44l1/sketch-api/internal/sketch"
	"go.uber.org/zap"
)

// Classifier runs the forward pass on a normalized tensor. Implementations
// must be safe for concurrent use.
type Classifier interface {
	Predict(x []float32) (*model.PredictionResult, error)
}

// Stage names a pipeline step in errors and metrics.
type Stage string

const (
	StageDecode     Stage = "decode"
	StagePreprocess Stage = "preprocess"
	StageNormalize  Stage = "normalize"
	StagePredict    Stage = "predict"
)

// StageError wraps the failure of one step.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// StageOf reports which step produced err, or "" if none did.
func StageOf(err error) Stage {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}

// Pipeline holds the process-wide classifier and the preprocessing
// contract. It has no per-request state.
type Pipeline struct {
	classifier Classifier
	contract   sketch.Contract
	logger     *zap.SugaredLogger
}

type Option func(*Pipeline)

// WithContract overrides sketch.QuickDraw.
func WithContract(c sketch.Contract) Option {
	return func(p *Pipeline) { p.contract = c }
}

func WithLogger(logger *zap.SugaredLogger) Option {
	return func(p *Pipeline) { p.logger = logger }
}

func New(classifier Classifier, opts ...Option) *Pipeline {
	p := &Pipeline{
		classifier: classifier,
		contract:   sketch.QuickDraw,
		logger:     zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Classify runs a URL-safe payload through every stage.
func (p *Pipeline) Classify(payload string) (*model.PredictionResult, error) {
	img, err := sketch.Decode(payload)
	if err != nil {
		return nil, &StageError{Stage: StageDecode, Err: err}
	}
	return p.classifyImage(img)
}

// ClassifyBytes runs raw image file contents through every stage.
func (p *Pipeline) ClassifyBytes(data []byte) (*model.PredictionResult, error) {
	img, err := sketch.DecodeBytes(data)
	if err != nil {
		return nil, &StageError{Stage: StageDecode, Err: err}
	}
	return p.classifyImage(img)
}

// ClassifyTensor skips preprocessing for callers that already hold a
// normalized tensor.
func (p *Pipeline) ClassifyTensor(x []float32) (*model.PredictionResult, error) {
	result, err := p.classifier.Predict(x)
	if err != nil {
		return nil, &StageError{Stage: StagePredict, Err: err}
	}
	return result, nil
}

// Tensor decodes and preprocesses a payload without classifying it.
func (p *Pipeline) Tensor(payload string) ([]float32, error) {
	img, err := sketch.Decode(payload)
	if err != nil {
		return nil, &StageError{Stage: StageDecode, Err: err}
	}
	return p.tensor(img)
}

func (p *Pipeline) tensor(img *image.NRGBA) ([]float32, error) {
	if _, ok := sketch.ContentBounds(img); !ok {
		p.logger.Debugf("blank %dx%d canvas, using full image", img.Bounds().Dx(), img.Bounds().Dy())
	}

	cropped, err := sketch.CropAndResize(img)
	if err != nil {
		return nil, &StageError{Stage: StagePreprocess, Err: err}
	}
	x, err := sketch.Normalize(cropped, p.contract)
	if err != nil {
		return nil, &StageError{Stage: StageNormalize, Err: err}
	}
	return x, nil
}

func (p *Pipeline) classifyImage(img *image.NRGBA) (*model.PredictionResult, error) {
	x, err := p.tensor(img)
	if err != nil {
		return nil, err
	}
	result, err := p.ClassifyTensor(x)
	if err != nil {
		return nil, err
	}
	p.logger.Debugf("This is a %s (%.3f)", result.Label, result.Confidence())
	return result, nil
}
