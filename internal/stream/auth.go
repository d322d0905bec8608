package stream

import (
	"crypto/subtle"
	"time"
)

// Authenticator admits or rejects a subscriber by its token.
type Authenticator interface {
	Authenticate(token string) error
}

// TokenAuth admits subscribers presenting a shared token. An empty token
// admits everyone.
type TokenAuth struct {
	Token string
}

func (a TokenAuth) Authenticate(token string) error {
	if a.Token == "" {
		return nil
	}
	if subtle.ConstantTimeCompare([]byte(a.Token), []byte(token)) != 1 {
		return ErrUnauthorized
	}
	return nil
}

// Config is shared by both feeds.
type Config struct {
	// Interval between pushes to one subscriber. Zero means 30 Hz.
	Interval time.Duration
	Auth     Authenticator
}

const defaultInterval = time.Second / 30

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = defaultInterval
	}
	if c.Auth == nil {
		c.Auth = TokenAuth{}
	}
	return c
}
