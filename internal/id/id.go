package id

import "github.com/google/uuid"

// New returns a random identifier for requests and staged objects.
func New() string {
	return uuid.NewString()
}
