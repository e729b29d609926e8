package recognize

import (
	"errors"

	"github.com/harunnryd/dgstream/pkg/errorsx"
)

var (
	// ErrClosed is returned by writes on a session that has been stopped or closed.
	ErrClosed = errorsx.Wrap(errors.New("recognize: session closed"), errorsx.ReasonRecognizeClosed)
	// ErrInputClosed is returned by writes after CloseWrite.
	ErrInputClosed = errorsx.Wrap(errors.New("recognize: write after CloseWrite"), errorsx.ReasonRecognizeClosed)
)

// ConnectionError is an underlying transport failure.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	msg := "recognize: connection error"
	if e.Op != "" {
		msg = "recognize: " + e.Op + " failed"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConnectionError) Unwrap() error { return e.Err }

func (e *ConnectionError) ReasonCode() errorsx.ReasonCode {
	if e.Op == "send" {
		return errorsx.ReasonRecognizeSend
	}
	return errorsx.ReasonRecognizeConnect
}

// ProtocolError is a malformed or unrecognized inbound frame. Raw holds the
// offending frame payload.
type ProtocolError struct {
	Msg string
	Raw []byte
	Err error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return e.Msg + " " + e.Err.Error()
	}
	return e.Msg
}

func (e *ProtocolError) Unwrap() error { return e.Err }

func (e *ProtocolError) ReasonCode() errorsx.ReasonCode { return errorsx.ReasonRecognizeProtocol }

// ServiceError is an application-level error reported by the service inside
// an otherwise well-formed message.
type ServiceError struct {
	Msg string
	Raw []byte
}

func (e *ServiceError) Error() string { return e.Msg }

func (e *ServiceError) ReasonCode() errorsx.ReasonCode { return errorsx.ReasonRecognizeService }

// RawFrame returns the inbound frame attached to a protocol or service error.
func RawFrame(err error) []byte {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe.Raw
	}
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Raw
	}
	return nil
}
