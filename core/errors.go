package core

import (
	"errors"
	"fmt"
)

// ErrCorrupted marks on-disk data that failed a structural check.
var ErrCorrupted = errors.New("catalog data is corrupted")

// ErrUnsupportedVersion marks a file whose magic is outside SupportedMagics.
var ErrUnsupportedVersion = errors.New("unsupported catalog version")

// ErrCeilingTooLow is returned when the scan cache ceiling is configured
// below the permitted minimum. It is a configuration error and fails fast.
var ErrCeilingTooLow = errors.New("scan cache ceiling below minimum")

// FormatError is a fatal per-file codec failure: bad magic, truncated
// header, size mismatch or an absurd entry count. It aborts the operation
// touching that file but not the whole run.
type FormatError struct {
	File string
	What string
	Got  any
	Want any
	err  error // optional sentinel to satisfy errors.Is
}

func (e *FormatError) Error() string {
	if e.Want != nil {
		return fmt.Sprintf("format error in %s: %s: got %v, want %v", e.File, e.What, e.Got, e.Want)
	}
	return fmt.Sprintf("format error in %s: %s: got %v", e.File, e.What, e.Got)
}

func (e *FormatError) Unwrap() error {
	return e.err
}

// NewFormatError reports a structural mismatch in a specific file.
func NewFormatError(file, what string, got, want any) *FormatError {
	return &FormatError{File: file, What: what, Got: got, Want: want, err: ErrCorrupted}
}

// NewUnsupportedVersionError names both the found magic and the supported set.
func NewUnsupportedVersionError(file string, got uint32, supported []uint32) *FormatError {
	want := make([]string, len(supported))
	for i, m := range supported {
		want[i] = fmt.Sprintf("0x%08x", m)
	}
	return &FormatError{
		File: file,
		What: "magic",
		Got:  fmt.Sprintf("0x%08x", got),
		Want: want,
		err:  ErrUnsupportedVersion,
	}
}

// IsFormatError checks if an error is a FormatError.
func IsFormatError(err error) bool {
	var fe *FormatError
	return errors.As(err, &fe)
}
