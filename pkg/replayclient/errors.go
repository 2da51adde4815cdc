package replayclient

import "fmt"

// APIError is a non-200 response from the replay buffer API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("replayclient: server returned status %d", e.Status)
	}
	return fmt.Sprintf("replayclient: server returned status %d: %s", e.Status, e.Message)
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	apiErr, ok := err.(*APIError)
	return ok && apiErr.Status == 404
}
