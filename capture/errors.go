package capture

import "github.com/pkg/errors"

// MalformedCaptureError is fatal: the block stream contained an unparseable
// or truncated record. PcapIndex is the position that record takes in the
// packet sequence: one past the last packet returned.
type MalformedCaptureError struct {
	PcapIndex uint64
	cause     error
}

func (e *MalformedCaptureError) Error() string {
	return errors.Wrapf(e.cause, "malformed capture at record %d", e.PcapIndex).Error()
}

func (e *MalformedCaptureError) Unwrap() error { return e.cause }

func malformed(pcapIndex uint64, cause error) *MalformedCaptureError {
	return &MalformedCaptureError{PcapIndex: pcapIndex, cause: cause}
}
