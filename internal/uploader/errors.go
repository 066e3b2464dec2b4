package uploader

import "fmt"

// NetworkError marks a transient chunk transmission failure. The
// transmitter retries these up to the policy's attempt cap before
// surfacing the last one.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error: %v", e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}
