package ai

import "fmt"

// AIRequestError reports a failed call to the generative model: transport
// failure, empty content or content that does not validate.
type AIRequestError struct {
	Op  string
	Err error
}

func (e *AIRequestError) Error() string {
	return fmt.Sprintf("Failed to %s: %v", e.Op, e.Err)
}

func (e *AIRequestError) Unwrap() error {
	return e.Err
}
