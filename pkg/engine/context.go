package engine

import (
	"fmt"

	"github.com/luxfi/fixgateway/pkg/codec"
	"github.com/luxfi/fixgateway/pkg/session"
)

// UnknownSequenceIndex is the sequence index of a context that has never
// been reset
const UnknownSequenceIndex = session.UnknownSequenceIndex

// SessionState is the part of a live session a context is refreshed from
type SessionState interface {
	SequenceIndex() int
	LastLogonTime() int64
	LastSequenceResetTime() int64
}

// SessionContext is the persistent identity of one counterparty session.
// It survives restarts; only the registry creates or resets it.
type SessionContext struct {
	sessionID int64
	key       session.CompositeKey
	contexts  *SessionContexts

	sequenceIndex         int
	lastLogonTime         int64
	lastSequenceResetTime int64
	lastDictionary        *codec.Dictionary
}

func newSessionContext(sessionID int64, key session.CompositeKey, contexts *SessionContexts) *SessionContext {
	return &SessionContext{
		sessionID:             sessionID,
		key:                   key,
		contexts:              contexts,
		sequenceIndex:         UnknownSequenceIndex,
		lastLogonTime:         session.Unknown,
		lastSequenceResetTime: session.Unknown,
	}
}

func (c *SessionContext) SessionID() int64                     { return c.sessionID }
func (c *SessionContext) Key() session.CompositeKey            { return c.key }
func (c *SessionContext) SequenceIndex() int                   { return c.sequenceIndex }
func (c *SessionContext) LastLogonTime() int64                 { return c.lastLogonTime }
func (c *SessionContext) LastSequenceResetTime() int64         { return c.lastSequenceResetTime }
func (c *SessionContext) LastFixDictionary() *codec.Dictionary { return c.lastDictionary }

// OnLogon binds dict for this connection and stamps the logon time. A
// requested reset, or the first ever logon, also starts a new sequence.
func (c *SessionContext) OnLogon(resetSeqNum bool, time int64, dict *codec.Dictionary) {
	c.lastDictionary = dict
	c.lastLogonTime = time
	if resetSeqNum || c.sequenceIndex == UnknownSequenceIndex {
		c.OnSequenceReset(time)
		return
	}
	c.save()
}

// OnSequenceReset starts a new sequence. It is the only way the sequence
// index advances.
func (c *SessionContext) OnSequenceReset(time int64) {
	c.lastSequenceResetTime = time
	c.sequenceIndex++
	c.save()
}

// UpdateFrom copies the sequence index and timestamps of a live session
func (c *SessionContext) UpdateFrom(s SessionState) {
	c.sequenceIndex = s.SequenceIndex()
	c.lastLogonTime = s.LastLogonTime()
	c.lastSequenceResetTime = s.LastSequenceResetTime()
}

// UpdateAndSaveFrom is UpdateFrom followed by a save
func (c *SessionContext) UpdateAndSaveFrom(s SessionState) {
	c.UpdateFrom(s)
	c.save()
}

// the dictionary is saved with the record but never changes mid connection
func (c *SessionContext) save() {
	if c.contexts != nil {
		c.contexts.persist(c)
	}
}

// Equal reports whether both contexts name the same session
func (c *SessionContext) Equal(other *SessionContext) bool {
	if c == nil || other == nil {
		return c == other
	}
	return c.sessionID == other.sessionID
}

func (c *SessionContext) String() string {
	return fmt.Sprintf("SessionContext{sessionID=%d, sequenceIndex=%d}", c.sessionID, c.sequenceIndex)
}
