package model

import "time"

// Credential is a bearer token with its expiry. It is replaced wholesale on refresh.
type Credential struct {
	Token     string
	ExpiresAt time.Time
}

// FreshAt reports whether the credential may still be used at now given skew.
func (c *Credential) FreshAt(now time.Time, skew time.Duration) bool {
	return c != nil && c.Token != "" && now.Before(c.ExpiresAt.Add(-skew))
}
