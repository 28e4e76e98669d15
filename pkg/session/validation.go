package session

import (
	"github.com/luxfi/fixgateway/pkg/codec"
)

// ValidationStrategy is consulted for every inbound header after the
// begin string and comp id checks. Implementations may panic; the parser
// treats a panic as a failed validation.
type ValidationStrategy interface {
	Validate(header *codec.HeaderDecoder) bool
	RejectReason() codec.RejectReason
	InvalidTagID() int
}

// NoValidation accepts every header
type NoValidation struct{}

func (NoValidation) Validate(*codec.HeaderDecoder) bool { return true }
func (NoValidation) RejectReason() codec.RejectReason   { return codec.NoRejectReason }
func (NoValidation) InvalidTagID() int                  { return codec.MissingInt }

type compIDValidation struct {
	allowed map[string]struct{}
	tag     int
	value   func(*codec.HeaderDecoder) []byte
	failed  bool
}

func newCompIDValidation(tag int, value func(*codec.HeaderDecoder) []byte, allowed []string) *compIDValidation {
	v := &compIDValidation{
		allowed: make(map[string]struct{}, len(allowed)),
		tag:     tag,
		value:   value,
	}
	for _, id := range allowed {
		v.allowed[id] = struct{}{}
	}
	return v
}

func (v *compIDValidation) Validate(header *codec.HeaderDecoder) bool {
	_, ok := v.allowed[string(v.value(header))]
	v.failed = !ok
	return ok
}

func (v *compIDValidation) RejectReason() codec.RejectReason {
	if v.failed {
		return codec.RejectCompIDProblem
	}
	return codec.NoRejectReason
}

func (v *compIDValidation) InvalidTagID() int {
	if v.failed {
		return v.tag
	}
	return codec.MissingInt
}

// TargetCompIDValidation only accepts messages addressed to one of our comp ids
func TargetCompIDValidation(allowed ...string) ValidationStrategy {
	return newCompIDValidation(int(codec.TagTargetCompID), (*codec.HeaderDecoder).TargetCompID, allowed)
}

// SenderCompIDValidation only accepts messages from known counterparties
func SenderCompIDValidation(allowed ...string) ValidationStrategy {
	return newCompIDValidation(int(codec.TagSenderCompID), (*codec.HeaderDecoder).SenderCompID, allowed)
}

// CompositeValidation runs strategies in order and reports the first failure
type CompositeValidation struct {
	strategies []ValidationStrategy
	failed     ValidationStrategy
}

// NewCompositeValidation creates a new composite validation strategy
func NewCompositeValidation(strategies ...ValidationStrategy) *CompositeValidation {
	return &CompositeValidation{strategies: strategies}
}

func (c *CompositeValidation) Validate(header *codec.HeaderDecoder) bool {
	c.failed = nil
	for _, s := range c.strategies {
		if !s.Validate(header) {
			c.failed = s
			return false
		}
	}
	return true
}

func (c *CompositeValidation) RejectReason() codec.RejectReason {
	if c.failed == nil {
		return codec.NoRejectReason
	}
	return c.failed.RejectReason()
}

func (c *CompositeValidation) InvalidTagID() int {
	if c.failed == nil {
		return codec.MissingInt
	}
	return c.failed.InvalidTagID()
}

// AuthenticationStrategy decides whether a logon's credentials are accepted
type AuthenticationStrategy interface {
	Authenticate(senderCompID, username, password string) bool
}

// AuthenticationFunc adapts a function to AuthenticationStrategy
type AuthenticationFunc func(senderCompID, username, password string) bool

func (f AuthenticationFunc) Authenticate(senderCompID, username, password string) bool {
	return f(senderCompID, username, password)
}

// NoAuthentication accepts every logon
var NoAuthentication AuthenticationStrategy = AuthenticationFunc(func(string, string, string) bool {
	return true
})
