package bvh

import "fmt"

// FormatError is returned for any file that cannot be read or does not follow
// the hierarchy/motion layout. No partial motion accompanies it.
type FormatError struct {
	Path string
	Line int // 1-based, 0 when not tied to a line
	Msg  string
	Err  error
}

func (e *FormatError) Error() string {
	s := "bvh: " + e.Path
	if e.Line > 0 {
		s += fmt.Sprintf(":%d", e.Line)
	}
	s += ": " + e.Msg
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *FormatError) Unwrap() error {
	return e.Err
}
