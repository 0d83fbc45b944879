package provider

import (
	"errors"
	"fmt"
)

var ErrRateLimited = errors.New("lookup rate limit exceeded")

// RejectedError is a well-formed response in which the provider reports the
// lookup itself failed (for example an invalid access key).
type RejectedError struct {
	Code int
	Info string
}

func (e *RejectedError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("provider rejected lookup (code %d): %s", e.Code, e.Info)
	}
	return fmt.Sprintf("provider rejected lookup: %s", e.Info)
}

func IsRejected(err error) bool {
	var rejected *RejectedError
	return errors.As(err, &rejected)
}
