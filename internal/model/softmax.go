package model

import "math"

// Softmax converts logits to a probability distribution. The max logit is
// subtracted before exponentiating so large scores cannot overflow.
func Softmax(logits []float64) []float64 {
	if len(logits) == 0 {
		return nil
	}
	maxVal := logits[0]
	for _, v := range logits[1:] {
		if v > maxVal {
			maxVal = v
		}
	}

	probs := make([]float64, len(logits))
	var sum float64
	for i, v := range logits {
		probs[i] = math.Exp(v - maxVal)
		sum += probs[i]
	}
	for i := range probs {
		probs[i] /= sum
	}
	return probs
}

// Argmax returns the index of the largest value, the first one on ties.
func Argmax(values []float64) int {
	maxIdx := 0
	for i, v := range values {
		if v > values[maxIdx] {
			maxIdx = i
		}
	}
	return maxIdx
}

func newPredictionResult(logits []float64) (*PredictionResult, error) {
	if len(logits) != NumClasses {
		return nil, &ShapeError{
			Stage: "classifier output",
			Want:  shapeString(NumClasses),
			Got:   shapeString(len(logits)),
		}
	}

	probs := Softmax(logits)
	idx := Argmax(probs)
	name, _ := LabelName(idx)

	return &PredictionResult{
		Index:         idx,
		Label:         name,
		Probabilities: probs,
	}, nil
}
