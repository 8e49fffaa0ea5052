package tbms

import "errors"

var (
	// ErrRxNotReady is raised when the transport calls SetRx while
	// RxAvailable is false. This is a contract violation by the
	// embedder (see the transport contract), not a runtime condition.
	ErrRxNotReady = errors.New("tbms: SetRx called while RxAvailable is false")

	// ErrRxBufferFull is raised when the transport delivers more bytes
	// than the session buffer can hold for the current exchange.
	ErrRxBufferFull = errors.New("tbms: receive buffer exhausted mid-exchange")

	// ErrNoFreeSlot is returned internally when address assignment
	// cannot find an empty module slot to assign to the next board.
	ErrNoFreeSlot = errors.New("tbms: no free module slot available")
)
