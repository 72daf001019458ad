package protocol

import (
	"errors"
	"fmt"
)

// Codec errors
var (
	ErrUnknownKind   = errors.New("unknown envelope type")
	ErrMissingBody   = errors.New("envelope body missing")
	ErrKindMismatch  = errors.New("envelope body does not match its type")
	ErrMissingAck    = errors.New("ack envelope without ack")
	ErrInvalidIntent = errors.New("invalid intent")
	ErrUnknownIntent = errors.New("unknown intent type")
)

// EncodeError is returned by Encode when an envelope cannot be represented
// on the wire.
type EncodeError struct {
	Kind Kind
	Err  error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("protocol: encode %q envelope: %v", e.Kind, e.Err)
}

func (e *EncodeError) Unwrap() error {
	return e.Err
}

// DecodeError is returned by Decode for malformed frames. Size is the length
// of the rejected frame.
type DecodeError struct {
	Size int
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("protocol: decode %d byte frame: %v", e.Size, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// IsDecodeError reports whether err is or wraps a *DecodeError.
func IsDecodeError(err error) bool {
	var target *DecodeError
	return errors.As(err, &target)
}
