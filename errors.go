package chanz

import "errors"

var (
	// ErrChannelClosed is returned by Send when every Receiver is closed and
	// by Recv when the queue is drained and every Sender is closed.
	ErrChannelClosed = errors.New("chanz: channel closed")

	// ErrChannelFull is returned by TrySend when a bounded queue has no room.
	ErrChannelFull = errors.New("chanz: channel full")

	// ErrChannelEmpty is returned by TryRecv when nothing is queued.
	ErrChannelEmpty = errors.New("chanz: channel empty")

	// ErrInvalidCapacity is returned by NewBounded for a negative capacity.
	ErrInvalidCapacity = errors.New("chanz: capacity must be >= 0")

	// ErrPropagationDecode reports a carrier that holds propagation fields
	// which do not decode into a valid span context.
	ErrPropagationDecode = errors.New("chanz: cannot decode propagated span context")
)
