package model

// ImageSize is the side length of the square grid the network was trained on.
const ImageSize = 28

const (
	InputSize  = ImageSize * ImageSize
	NumClasses = 10
)

// Label is one entry of the fixed class table.
type Label struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
}

// Labels maps output positions to class names. Probability vectors are
// always reported in this order.
var Labels = [NumClasses]Label{
	{0, "cannon"},
	{1, "eye"},
	{2, "face"},
	{3, "nail"},
	{4, "pear"},
	{5, "piano"},
	{6, "radio"},
	{7, "spider"},
	{8, "star"},
	{9, "sword"},
}

// LabelName returns the display name for a class index.
func LabelName(index int) (string, bool) {
	if index < 0 || index >= NumClasses {
		return "", false
	}
	return Labels[index].Name, true
}

// Metadata describes an exported ONNX graph.
type Metadata struct {
	InputShape  []int64  `json:"input_shape"`
	OutputShape []int64  `json:"output_shape"`
	Classes     []string `json:"classes"`
	ImageSize   int      `json:"image_size"`
}

type PredictionRequest struct {
	Image []float32 `json:"image"`
}

// PredictionResult is the ranked output of one forward pass.
type PredictionResult struct {
	Index         int       `json:"index"`
	Label         string    `json:"label"`
	Probabilities []float64 `json:"probabilities"`
}

// Confidence is the probability assigned to the predicted class.
func (r *PredictionResult) Confidence() float64 {
	return r.Probabilities[r.Index]
}
