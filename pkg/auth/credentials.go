// Package auth holds logon authentication strategies.
package auth

import (
	"errors"
	"fmt"
	"sync"

	"github.com/luxfi/log"
	"golang.org/x/crypto/bcrypt"
)

// ErrEmptyPassword is returned when registering a blank password
var ErrEmptyPassword = errors.New("empty password")

type credential struct {
	username string
	hash     []byte
}

// Credentials authenticates logons against bcrypt hashed passwords, keyed
// by the counterparty's SenderCompID. Comp ids without an entry are
// refused unless AllowUnknown is set.
type Credentials struct {
	mu      sync.RWMutex
	entries map[string]credential
	cost    int
	logger  log.Logger

	AllowUnknown bool
}

// NewCredentials creates a new credential table. A cost of zero uses
// bcrypt.DefaultCost.
func NewCredentials(cost int, logger log.Logger) *Credentials {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	if logger == nil {
		logger = log.Root().New("module", "auth")
	}
	return &Credentials{
		entries: make(map[string]credential),
		cost:    cost,
		logger:  logger,
	}
}

// Add registers username and password for senderCompID
func (c *Credentials) Add(senderCompID, username, password string) error {
	if password == "" {
		return ErrEmptyPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), c.cost)
	if err != nil {
		return fmt.Errorf("hash password for %s: %w", senderCompID, err)
	}
	c.AddHash(senderCompID, username, hash)
	return nil
}

// AddHash registers an already hashed password
func (c *Credentials) AddHash(senderCompID, username string, hash []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[senderCompID] = credential{username: username, hash: hash}
}

// Remove drops the entry for senderCompID
func (c *Credentials) Remove(senderCompID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, senderCompID)
}

// Authenticate implements session.AuthenticationStrategy
func (c *Credentials) Authenticate(senderCompID, username, password string) bool {
	c.mu.RLock()
	entry, ok := c.entries[senderCompID]
	c.mu.RUnlock()

	if !ok {
		if !c.AllowUnknown {
			c.logger.Warn("Logon from unknown comp id", "senderCompID", senderCompID)
		}
		return c.AllowUnknown
	}
	if entry.username != username {
		c.logger.Warn("Logon with wrong username", "senderCompID", senderCompID, "username", username)
		return false
	}
	if err := bcrypt.CompareHashAndPassword(entry.hash, []byte(password)); err != nil {
		c.logger.Warn("Logon with wrong password", "senderCompID", senderCompID)
		return false
	}
	return true
}
