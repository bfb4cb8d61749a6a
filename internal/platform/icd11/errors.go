package icd11

import "fmt"

// AuthenticationError reports a failed client-credentials exchange. Callers
// treat it the same as having no token.
type AuthenticationError struct {
	Err error
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("icd11 authentication failed: %v", e.Err)
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// RemoteUnavailableError covers transport failures, timeouts and non-success
// HTTP statuses from the search endpoint. StatusCode is zero when no response
// was received.
type RemoteUnavailableError struct {
	StatusCode int
	Err        error
}

func (e *RemoteUnavailableError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("icd11 search unavailable: status %d", e.StatusCode)
	}
	return fmt.Sprintf("icd11 search unavailable: %v", e.Err)
}

func (e *RemoteUnavailableError) Unwrap() error { return e.Err }

// RemoteProtocolError means the search endpoint answered but the payload did
// not match the expected shape.
type RemoteProtocolError struct {
	Err error
}

func (e *RemoteProtocolError) Error() string {
	return fmt.Sprintf("icd11 search returned an unreadable payload: %v", e.Err)
}

func (e *RemoteProtocolError) Unwrap() error { return e.Err }
