package protocol

import "errors"

var (
	ErrEncoding = errors.New("protocol: malformed call arguments")
	ErrDecode   = errors.New("protocol: cannot decode response")
	ErrFrame    = errors.New("protocol: malformed request frame")
)

// RemoteError is an 'F' response. Message is the bridge's diagnostic text verbatim.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return "protocol: remote failure: " + e.Message
}
