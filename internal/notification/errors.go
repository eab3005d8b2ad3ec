package notification

import (
	"errors"
	"fmt"
)

var (
	ErrTaskNotFound   = errors.New("notification task not found")
	ErrStatusConflict = errors.New("notification task status changed concurrently")
	ErrNoRecipient    = errors.New("no recipient address on file")
)

// TransientError marks a send failure worth retrying: timeouts, rate limits,
// provider 5xx.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("transient: %v", e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks a send failure that will not succeed on retry, such
// as an invalid address or a rejected request.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return fmt.Sprintf("permanent: %v", e.Err) }
func (e *PermanentError) Unwrap() error { return e.Err }

func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err carries a PermanentError. Unclassified
// errors are treated as transient by the orchestrator.
func IsPermanent(err error) bool {
	var perm *PermanentError
	return errors.As(err, &perm)
}

// classifyStatus maps a provider HTTP status to a send error: 429 and 5xx
// are transient, other 4xx permanent.
func classifyStatus(provider string, status int, detail string) error {
	if status >= 200 && status < 300 {
		return nil
	}
	err := fmt.Errorf("%s returned status %d: %s", provider, status, detail)
	if status == 429 || status >= 500 {
		return Transient(err)
	}
	return Permanent(err)
}
