package transcode

import (
	"errors"
	"fmt"
)

// ErrAborted reports that the encoder subprocess was killed by cancellation
// and the transcoder cleaned up its own paths.
var ErrAborted = errors.New("transcode aborted")

// ErrNoOutput reports a zero-segment result despite a clean encoder exit.
var ErrNoOutput = errors.New("encoder produced no output segments")

type ErrEncodingFailed struct {
	error
}

func NewErrEncodingFailed(message string) *ErrEncodingFailed {
	return &ErrEncodingFailed{fmt.Errorf("encoding failed: %s", message)}
}
