package engine

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/luxfi/database"
	"github.com/luxfi/log"

	"github.com/luxfi/fixgateway/pkg/codec"
	"github.com/luxfi/fixgateway/pkg/session"
)

// LowestValidSessionID is the first session id handed out
const LowestValidSessionID int64 = 1

var (
	// ErrDuplicateSession is returned by OnLogon when the key is already
	// bound to an active connection
	ErrDuplicateSession = errors.New("duplicate session")
	// ErrCorruptRecord is reported for stored contexts that fail their checksum
	ErrCorruptRecord = errors.New("corrupt session context record")
	// ErrSessionsActive is returned when resetting while sessions are logged on
	ErrSessionsActive = errors.New("cannot reset session contexts while sessions are active")
)

var contextPrefix = []byte("session-contexts/")

const (
	checksumSize     = 8
	fixedRecordSize  = 4 + 8 + 8
	contextKeyLength = 8
)

// SessionContextsConfig for a SessionContexts registry
type SessionContextsConfig struct {
	DB           database.Database
	IDStrategy   session.IDStrategy
	ErrorHandler session.ErrorHandler
	Logger       log.Logger
}

// SessionContexts allocates and persists a SessionContext per composite key.
// Records are loaded once at startup; later changes are written through
// synchronously.
type SessionContexts struct {
	db           database.Database
	idStrategy   session.IDStrategy
	errorHandler session.ErrorHandler
	logger       log.Logger

	mu       sync.Mutex
	contexts map[session.CompositeKey]*SessionContext
	active   map[int64]struct{}
	nextID   int64
}

// NewSessionContexts creates a new registry and loads the saved contexts.
// Corrupt records are reported to the error handler and skipped.
func NewSessionContexts(config SessionContextsConfig) (*SessionContexts, error) {
	if config.IDStrategy == nil {
		config.IDStrategy = session.SenderAndTarget{}
	}
	if config.Logger == nil {
		config.Logger = log.Root().New("module", "contexts")
	}
	if config.ErrorHandler == nil {
		config.ErrorHandler = session.LogErrors(config.Logger)
	}

	s := &SessionContexts{
		db:           config.DB,
		idStrategy:   config.IDStrategy,
		errorHandler: config.ErrorHandler,
		logger:       config.Logger,
		contexts:     make(map[session.CompositeKey]*SessionContext),
		active:       make(map[int64]struct{}),
		nextID:       LowestValidSessionID,
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	s.logger.Info("Loaded session contexts", "count", len(s.contexts), "nextSessionID", s.nextID)
	return s, nil
}

func (s *SessionContexts) load() error {
	it := s.db.NewIteratorWithPrefix(contextPrefix)
	defer it.Release()

	for it.Next() {
		sessionID, ok := sessionIDOf(it.Key())
		if !ok {
			s.errorHandler.OnError(fmt.Errorf("%w: bad key %x", ErrCorruptRecord, it.Key()))
			continue
		}
		// never reuse an id, even one whose record is unreadable
		if sessionID >= s.nextID {
			s.nextID = sessionID + 1
		}

		ctx, err := s.decode(sessionID, it.Value())
		if err != nil {
			s.errorHandler.OnError(err)
			continue
		}
		s.contexts[ctx.key] = ctx
	}
	if err := it.Error(); err != nil {
		return fmt.Errorf("load session contexts: %w", err)
	}
	return nil
}

// OnLogon returns the context for key, allocating one on first use. It
// returns ErrDuplicateSession while another connection holds the key.
func (s *SessionContexts) OnLogon(key session.CompositeKey, dict *codec.Dictionary) (*SessionContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ctx, ok := s.contexts[key]; ok {
		if _, active := s.active[ctx.sessionID]; active {
			s.logger.Warn("Duplicate session", "key", key, "sessionID", ctx.sessionID)
			return nil, fmt.Errorf("%w: %s", ErrDuplicateSession, key)
		}
		s.active[ctx.sessionID] = struct{}{}
		return ctx, nil
	}

	ctx := newSessionContext(s.nextID, key, s)
	ctx.lastDictionary = dict
	s.nextID++
	s.contexts[key] = ctx
	s.active[ctx.sessionID] = struct{}{}
	s.write(ctx)

	s.logger.Info("Allocated session context", "key", key, "sessionID", ctx.sessionID)
	return ctx, nil
}

// OnDisconnect releases the session so its key may log on again
func (s *SessionContexts) OnDisconnect(sessionID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, sessionID)
}

// IsActive reports whether sessionID is bound to a connection
func (s *SessionContexts) IsActive(sessionID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.active[sessionID]
	return ok
}

// LookupSessionID finds the session id allocated to key
func (s *SessionContexts) LookupSessionID(key session.CompositeKey) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ctx, ok := s.contexts[key]
	if !ok {
		return 0, false
	}
	return ctx.sessionID, true
}

// All returns every context ordered by session id
func (s *SessionContexts) All() []*SessionContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sorted()
}

func (s *SessionContexts) sorted() []*SessionContext {
	all := make([]*SessionContext, 0, len(s.contexts))
	for _, ctx := range s.contexts {
		all = append(all, ctx)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].sessionID < all[j].sessionID })
	return all
}

// Reset wipes every context and restarts id allocation. When backupPath is
// set the old records are copied there first.
func (s *SessionContexts) Reset(backupPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.active) > 0 {
		return fmt.Errorf("%w: %d logged on", ErrSessionsActive, len(s.active))
	}
	if backupPath != "" {
		if err := s.backup(backupPath); err != nil {
			return err
		}
	}

	it := s.db.NewIteratorWithPrefix(contextPrefix)
	defer it.Release()
	batch := s.db.NewBatch()
	for it.Next() {
		if err := batch.Delete(append([]byte(nil), it.Key()...)); err != nil {
			return fmt.Errorf("reset session contexts: %w", err)
		}
	}
	if err := it.Error(); err != nil {
		return fmt.Errorf("reset session contexts: %w", err)
	}
	if err := batch.Write(); err != nil {
		return fmt.Errorf("reset session contexts: %w", err)
	}

	s.logger.Info("Session contexts reset", "count", len(s.contexts), "backup", backupPath)
	s.contexts = make(map[session.CompositeKey]*SessionContext)
	s.nextID = LowestValidSessionID
	return nil
}

// backup writes length prefixed key/value pairs of every record
func (s *SessionContexts) backup(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create session context backup: %w", err)
	}
	w := bufio.NewWriter(f)
	for _, ctx := range s.sorted() {
		for _, part := range [][]byte{contextKey(ctx.sessionID), s.encode(ctx)} {
			w.Write(binary.AppendUvarint(nil, uint64(len(part))))
			w.Write(part)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("write session context backup: %w", err)
	}
	return f.Close()
}

// persist saves ctx, reporting failures to the error handler
func (s *SessionContexts) persist(ctx *SessionContext) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.write(ctx)
}

func (s *SessionContexts) write(ctx *SessionContext) {
	if err := s.db.Put(contextKey(ctx.sessionID), s.encode(ctx)); err != nil {
		s.errorHandler.OnError(fmt.Errorf("save session context %d: %w", ctx.sessionID, err))
	}
}

func contextKey(sessionID int64) []byte {
	key := make([]byte, len(contextPrefix), len(contextPrefix)+contextKeyLength)
	copy(key, contextPrefix)
	return binary.BigEndian.AppendUint64(key, uint64(sessionID))
}

func sessionIDOf(key []byte) (int64, bool) {
	if len(key) != len(contextPrefix)+contextKeyLength {
		return 0, false
	}
	return int64(binary.BigEndian.Uint64(key[len(contextPrefix):])), true
}

// Record layout, big endian: checksum(8) sequenceIndex(4) lastLogonTime(8)
// lastSequenceResetTime(8) dictionary(uvarint length + name) key(rest).
// The checksum is xxhash64 of everything after it.
func (s *SessionContexts) encode(ctx *SessionContext) []byte {
	dictName := ""
	if ctx.lastDictionary != nil {
		dictName = ctx.lastDictionary.Name()
	}
	savedKey := s.idStrategy.Save(ctx.key)

	out := make([]byte, checksumSize, checksumSize+fixedRecordSize+1+len(dictName)+len(savedKey))
	out = binary.BigEndian.AppendUint32(out, uint32(int32(ctx.sequenceIndex)))
	out = binary.BigEndian.AppendUint64(out, uint64(ctx.lastLogonTime))
	out = binary.BigEndian.AppendUint64(out, uint64(ctx.lastSequenceResetTime))
	out = binary.AppendUvarint(out, uint64(len(dictName)))
	out = append(out, dictName...)
	out = append(out, savedKey...)

	binary.BigEndian.PutUint64(out, xxhash.Sum64(out[checksumSize:]))
	return out
}

func (s *SessionContexts) decode(sessionID int64, value []byte) (*SessionContext, error) {
	if len(value) < checksumSize+fixedRecordSize {
		return nil, fmt.Errorf("%w: session %d has %d bytes", ErrCorruptRecord, sessionID, len(value))
	}
	body := value[checksumSize:]
	if binary.BigEndian.Uint64(value) != xxhash.Sum64(body) {
		return nil, fmt.Errorf("%w: session %d checksum mismatch", ErrCorruptRecord, sessionID)
	}

	ctx := &SessionContext{
		sessionID:             sessionID,
		contexts:              s,
		sequenceIndex:         int(int32(binary.BigEndian.Uint32(body))),
		lastLogonTime:         int64(binary.BigEndian.Uint64(body[4:])),
		lastSequenceResetTime: int64(binary.BigEndian.Uint64(body[12:])),
	}
	rest := body[fixedRecordSize:]

	n, read := binary.Uvarint(rest)
	if read <= 0 || uint64(len(rest)-read) < n {
		return nil, fmt.Errorf("%w: session %d dictionary", ErrCorruptRecord, sessionID)
	}
	if name := string(rest[read : read+int(n)]); name != "" {
		// an unknown dictionary is rebound at the next logon
		ctx.lastDictionary, _ = codec.LookupDictionary(name)
	}

	key, err := s.idStrategy.Load(rest[read+int(n):])
	if err != nil {
		return nil, fmt.Errorf("%w: session %d: %v", ErrCorruptRecord, sessionID, err)
	}
	ctx.key = key
	return ctx, nil
}
