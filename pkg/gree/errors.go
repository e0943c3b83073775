package gree

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrConfiguration reports API misuse, such as sending a pack without a
	// cipher or supplying a key without a cipher. It is never retried.
	ErrConfiguration = errors.New("configuration error")

	// ErrNotBound is returned when no session key is available and one
	// cannot be negotiated, usually because the device info is unknown.
	ErrNotBound = errors.New("device not bound")

	// ErrTimeout is the transport level timeout returned by Protocol.
	ErrTimeout = errors.New("timed out")

	// ErrDeviceTimeout is returned by Device operations when the unit did not
	// answer in time. It is safe to retry.
	ErrDeviceTimeout = errors.New("device timed out")

	ErrDecryption      = errors.New("decryption failed")
	ErrParse           = errors.New("malformed packet")
	ErrConnectionLost  = errors.New("connection lost")
	ErrUnknownResponse = errors.New("unknown response type")
	ErrInvalidProperty = errors.New("invalid property")
	ErrOutOfRange      = errors.New("value out of range")
)

// deviceTimeout converts a lower level timeout into ErrDeviceTimeout while
// keeping the original cause in the chain.
func deviceTimeout(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrDeviceTimeout) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrDeviceTimeout, err)
}

func isTimeout(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}
