package transport

import "errors"

var (
	ErrNoLinkChosen    = errors.New("transport: no link chosen")
	ErrLinkUnavailable = errors.New("transport: link unavailable")
	ErrLinkLost        = errors.New("transport: link lost")
	ErrNotOpen         = errors.New("transport: link not open")
	ErrAlreadyOpen     = errors.New("transport: link already open")
	ErrLineTooLong     = errors.New("transport: line exceeds maximum length")
	ErrSendQueueFull   = errors.New("transport: send queue full")
	ErrWriteTimeout    = errors.New("transport: write timed out")
)
