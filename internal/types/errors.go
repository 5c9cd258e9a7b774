package types

import "errors"

var (
	// ErrModelLoad means the detection cascade could not be loaded.
	ErrModelLoad = errors.New("failed to load detection model")
	// ErrDecode means the source media could not be opened or decoded.
	ErrDecode = errors.New("failed to decode source media")
	// ErrInvalidEffect means the effect name is not blur or pixelate.
	ErrInvalidEffect = errors.New("invalid effect")
	// ErrEncode means the output could not be written.
	ErrEncode = errors.New("failed to encode output media")
	// ErrInvalidParameter means a named parameter could not be converted.
	ErrInvalidParameter = errors.New("invalid parameter")
)
