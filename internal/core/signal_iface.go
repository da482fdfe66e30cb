package core

import "errors"

//go:generate mockgen -destination=./mocks/signal_mock.go -package=mocks . SignalConnection

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

// Frame is one encoded control-plane envelope, newline excluded.
type Frame []byte

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	// TrySend queues f without blocking. It returns ErrBackpressure when the
	// outbound queue is full and ErrConnClosed after Close.
	TrySend(Frame) error
	Close()
}
