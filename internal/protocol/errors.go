package protocol

import "errors"

var (
	ErrMissingContentLength = errors.New("protocol: header missing Content-Length")
	ErrInvalidContentLength = errors.New("protocol: invalid Content-Length value")
	ErrHeaderTooLarge       = errors.New("protocol: header too large")
	ErrBodyTooLarge         = errors.New("protocol: body too large")
	ErrTruncated            = errors.New("protocol: truncated frame")
	ErrInvalidBody          = errors.New("protocol: invalid message body")
)
