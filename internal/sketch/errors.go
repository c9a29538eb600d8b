package sketch

import "errors"

// ErrDecode is matched by every payload rejected by the decoder.
var ErrDecode = errors.New("invalid sketch payload")

// DecodeError describes why a payload could not be turned into an image.
// It is scoped to one request.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	msg := "decode sketch: " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DecodeError) Unwrap() error { return e.Err }

func (e *DecodeError) Is(target error) bool { return target == ErrDecode }
