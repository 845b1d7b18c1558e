package kongsberg

import (
	"errors"
	"fmt"
)

// Common errors returned while framing or decoding datagrams
var (
	ErrTruncated   = errors.New("truncated datagram")
	ErrMissingSTX  = errors.New("datagram does not start with STX")
	ErrWrongType   = errors.New("datagram type does not match decoder")
	ErrReaderClose = errors.New("reader is closed")
)

// FormatError reports a corrupt or truncated frame. It is fatal for the file
// being decoded and identifies the file and the byte offset of the frame.
type FormatError struct {
	Path   string
	Offset int64
	Reason string
	Err    error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("%s: offset %d: %s", e.Path, e.Offset, e.Reason)
}

func (e *FormatError) Unwrap() error {
	return e.Err
}
