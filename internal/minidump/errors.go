package minidump

import "errors"

// Sentinel error kinds per spec §7. Components wrap these with fmt.Errorf
// so callers can still errors.Is/errors.As across package boundaries,
// mirroring how the teacher's cmd.ExitCodeError is unwrapped in main.go.
var (
	// ErrMalformedDump is fatal for the whole analysis pass: the file's
	// signature, directory, or a stream's bounds are invalid.
	ErrMalformedDump = errors.New("minidump: malformed dump")

	// ErrMalformedStream is local-recoverable: the one affected signal is
	// disabled but the pass continues.
	ErrMalformedStream = errors.New("minidump: malformed stream")
)
