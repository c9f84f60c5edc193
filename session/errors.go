package session

import (
	"errors"
	"fmt"
)

type ErrorKind int

const (
	ConfigError ErrorKind = iota + 1
	ConnectionError
	TransportError
	DownstreamError
	DeviceError
)

func (k ErrorKind) String() string {
	switch k {
	case ConfigError:
		return "config"
	case ConnectionError:
		return "connection"
	case TransportError:
		return "transport"
	case DownstreamError:
		return "downstream"
	case DeviceError:
		return "device"
	}
	return "unknown"
}

// ErrLivenessLost is reported when consecutive keepalives find the stream
// closed.
var ErrLivenessLost = errors.New("transcription stream stopped accepting keepalives")

type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s error: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

func newError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}
