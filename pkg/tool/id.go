package tool

import "github.com/google/uuid"

func GenerateUUIDV7() string {
	return uuid.Must(uuid.NewV7()).String()
}

// NewToken returns a random opaque token, used as a lock owner marker.
func NewToken() string {
	return uuid.NewString()
}
