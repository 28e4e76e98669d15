// Package sequence records the last sequence number seen on each session.
//
// Two indexes exist per engine, one for received and one for sent messages.
// Each keeps a single record per session under its own key prefix.
package sequence

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/luxfi/database"
	"github.com/luxfi/log"
)

// UnknownSession is returned for sessions with no saved record
const UnknownSession = -1

const recordSize = 8

// ErrCorruptRecord is returned when a stored record has the wrong size
var ErrCorruptRecord = errors.New("corrupt sequence number record")

// Config for an Index
type Config struct {
	DB database.Database
	// Prefix separates this index from others sharing the database
	Prefix string
	Logger log.Logger
}

// Index is a sequence number index backed by a key value database
type Index struct {
	db     database.Database
	prefix []byte
	logger log.Logger

	mu sync.RWMutex
	// last saved value per session, avoids rereading on every lookup
	cache map[int64]int
}

// NewIndex creates a new sequence number index
func NewIndex(config Config) *Index {
	if config.Logger == nil {
		config.Logger = log.Root().New("module", "sequence")
	}
	return &Index{
		db:     config.DB,
		prefix: []byte(config.Prefix + "/"),
		logger: config.Logger.New("index", config.Prefix),
		cache:  make(map[int64]int),
	}
}

func (i *Index) key(sessionID int64) []byte {
	key := make([]byte, len(i.prefix), len(i.prefix)+8)
	copy(key, i.prefix)
	return binary.BigEndian.AppendUint64(key, uint64(sessionID))
}

// SaveRecord stores seqNum as the last sequence number of sessionID
func (i *Index) SaveRecord(sessionID int64, seqNum int) error {
	value := make([]byte, recordSize)
	binary.BigEndian.PutUint64(value, uint64(int64(seqNum)))

	i.mu.Lock()
	defer i.mu.Unlock()

	if err := i.db.Put(i.key(sessionID), value); err != nil {
		return fmt.Errorf("save sequence number of session %d: %w", sessionID, err)
	}
	i.cache[sessionID] = seqNum
	return nil
}

// LastKnownSequenceNumber returns the saved sequence number of sessionID,
// or UnknownSession if none was saved
func (i *Index) LastKnownSequenceNumber(sessionID int64) (int, error) {
	i.mu.RLock()
	seqNum, ok := i.cache[sessionID]
	i.mu.RUnlock()
	if ok {
		return seqNum, nil
	}

	value, err := i.db.Get(i.key(sessionID))
	if errors.Is(err, database.ErrNotFound) {
		return UnknownSession, nil
	}
	if err != nil {
		return UnknownSession, fmt.Errorf("load sequence number of session %d: %w", sessionID, err)
	}
	if len(value) != recordSize {
		return UnknownSession, fmt.Errorf("%w: session %d has %d bytes", ErrCorruptRecord, sessionID, len(value))
	}

	seqNum = int(int64(binary.BigEndian.Uint64(value)))
	i.mu.Lock()
	i.cache[sessionID] = seqNum
	i.mu.Unlock()
	return seqNum, nil
}

// ResetSequenceNumbers removes every record of this index
func (i *Index) ResetSequenceNumbers() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	it := i.db.NewIteratorWithPrefix(i.prefix)
	defer it.Release()

	batch := i.db.NewBatch()
	count := 0
	for it.Next() {
		// iterator keys are only valid until the next call
		key := append([]byte(nil), it.Key()...)
		if err := batch.Delete(key); err != nil {
			return err
		}
		count++
	}
	if err := it.Error(); err != nil {
		return fmt.Errorf("scan sequence numbers: %w", err)
	}
	if err := batch.Write(); err != nil {
		return fmt.Errorf("reset sequence numbers: %w", err)
	}

	i.cache = make(map[int64]int)
	i.logger.Info("Sequence numbers reset", "records", count)
	return nil
}
