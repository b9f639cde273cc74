package crf

import "errors"

var (
	// ErrConfig reports an invalid CRF configuration.
	ErrConfig = errors.New("crf: invalid configuration")
	// ErrShape reports inputs whose dimensions disagree with each other or with the CRF.
	ErrShape = errors.New("crf: shape mismatch")
	// ErrLength reports a sequence length outside [1, T]. Empty sequences
	// have no path under the start/end convention and are always rejected.
	ErrLength = errors.New("crf: invalid sequence length")
)
