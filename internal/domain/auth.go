package domain

import "time"

// TokenPair is returned to clients after a successful sign-in.
type TokenPair struct {
	AccessToken string
	ExpiresAt   time.Time
}
