package sequence

import (
	"testing"

	"github.com/luxfi/database"
	"github.com/luxfi/database/manager"
	"github.com/luxfi/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) database.Database {
	t.Helper()
	db, err := manager.NewManager(t.TempDir(), nil).New(manager.DefaultMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func testLogger() log.Logger {
	level, _ := log.ToLevel("debug")
	return log.NewTestLogger(level)
}

func TestIndex_SaveAndLoad(t *testing.T) {
	db := newTestDB(t)
	index := NewIndex(Config{DB: db, Prefix: "received", Logger: testLogger()})

	seqNum, err := index.LastKnownSequenceNumber(1)
	require.NoError(t, err)
	assert.Equal(t, UnknownSession, seqNum)

	require.NoError(t, index.SaveRecord(1, 10))
	require.NoError(t, index.SaveRecord(1, 11))
	require.NoError(t, index.SaveRecord(2, 3))

	reopened := NewIndex(Config{DB: db, Prefix: "received", Logger: testLogger()})
	seqNum, err = reopened.LastKnownSequenceNumber(1)
	require.NoError(t, err)
	assert.Equal(t, 11, seqNum)

	seqNum, err = reopened.LastKnownSequenceNumber(2)
	require.NoError(t, err)
	assert.Equal(t, 3, seqNum)
}

func TestIndex_PrefixesAreIndependent(t *testing.T) {
	db := newTestDB(t)
	received := NewIndex(Config{DB: db, Prefix: "received", Logger: testLogger()})
	sent := NewIndex(Config{DB: db, Prefix: "sent", Logger: testLogger()})

	require.NoError(t, received.SaveRecord(1, 5))
	require.NoError(t, sent.SaveRecord(1, 8))

	require.NoError(t, received.ResetSequenceNumbers())

	seqNum, err := received.LastKnownSequenceNumber(1)
	require.NoError(t, err)
	assert.Equal(t, UnknownSession, seqNum)

	seqNum, err = sent.LastKnownSequenceNumber(1)
	require.NoError(t, err)
	assert.Equal(t, 8, seqNum)
}

func TestIndex_CorruptRecord(t *testing.T) {
	db := newTestDB(t)
	index := NewIndex(Config{DB: db, Prefix: "sent", Logger: testLogger()})
	require.NoError(t, db.Put(index.key(4), []byte{1, 2, 3}))

	_, err := index.LastKnownSequenceNumber(4)
	assert.ErrorIs(t, err, ErrCorruptRecord)
}
