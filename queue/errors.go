package queue

import (
	"errors"
	"fmt"
	"strings"

	"github.com/qri-io/jsonschema"
)

// Business rule rejections. They leave the queue unchanged.
var (
	ErrQueueClosed  = errors.New("the queue is closed")
	ErrDoubleAdd    = errors.New("student already has an open question")
	ErrDoubleAnswer = errors.New("CA is already answering a question")
)

// IsRejection reports whether err is an expected business rule rejection
// rather than a failure.
func IsRejection(err error) bool {
	return errors.Is(err, ErrQueueClosed) || errors.Is(err, ErrDoubleAdd) || errors.Is(err, ErrDoubleAnswer)
}

// ValidationError reports malformed or disallowed input. It is returned
// before any transaction is opened.
type ValidationError struct {
	Op     string
	Errs   []jsonschema.KeyError
	Reason string
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "invalid input to %s", e.Op)
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	for i, ke := range e.Errs {
		if i == 0 && e.Reason == "" {
			b.WriteString(": ")
		} else {
			b.WriteString("; ")
		}
		b.WriteString(ke.Error())
	}
	return b.String()
}
