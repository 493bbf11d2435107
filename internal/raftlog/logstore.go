package raftlog

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/hashicorp/raft"
)

// errKeyNotFound matches the exact error text raft's own BoltStore uses;
// raft.NewRaft checks err.Error() == "not found" to distinguish an unset
// stable-store key from a real I/O failure during startup.
var errKeyNotFound = errors.New("not found")

// LogStore adapts internal/stores/kv's SQLite connection to raft.LogStore
// and raft.StableStore, with a persisted layout (`log/<u64 be
// index>`, `meta/*`) expressed here as dedicated tables on the same
// connection rather than key-prefixed rows, since raft.Log carries
// structured fields (Term, Type, AppendedAt) beyond a flat byte value.
type LogStore struct {
	db *sql.DB
}

// NewLogStore creates the raft_log and raft_stable tables if absent.
func NewLogStore(db *sql.DB) (*LogStore, error) {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS raft_log (
			idx         INTEGER PRIMARY KEY,
			term        INTEGER NOT NULL,
			log_type    INTEGER NOT NULL,
			data        BLOB,
			extensions  BLOB,
			appended_at INTEGER NOT NULL
		)`); err != nil {
		return nil, fmt.Errorf("raftlog: creating raft_log table: %w", err)
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS raft_stable (
			key   TEXT PRIMARY KEY,
			value BLOB NOT NULL
		)`); err != nil {
		return nil, fmt.Errorf("raftlog: creating raft_stable table: %w", err)
	}
	return &LogStore{db: db}, nil
}

func (s *LogStore) FirstIndex() (uint64, error) {
	var idx uint64
	err := s.db.QueryRow(`SELECT COALESCE(MIN(idx), 0) FROM raft_log`).Scan(&idx)
	if err != nil {
		return 0, fmt.Errorf("raftlog: first index: %w", err)
	}
	return idx, nil
}

func (s *LogStore) LastIndex() (uint64, error) {
	var idx uint64
	err := s.db.QueryRow(`SELECT COALESCE(MAX(idx), 0) FROM raft_log`).Scan(&idx)
	if err != nil {
		return 0, fmt.Errorf("raftlog: last index: %w", err)
	}
	return idx, nil
}

func (s *LogStore) GetLog(index uint64, log *raft.Log) error {
	var term uint64
	var logType uint8
	var data, extensions []byte
	var appendedAtUnixNano int64
	err := s.db.QueryRow(`SELECT term, log_type, data, extensions, appended_at FROM raft_log WHERE idx = ?`, index).
		Scan(&term, &logType, &data, &extensions, &appendedAtUnixNano)
	if err == sql.ErrNoRows {
		return raft.ErrLogNotFound
	}
	if err != nil {
		return fmt.Errorf("raftlog: get log %d: %w", index, err)
	}
	log.Index = index
	log.Term = term
	log.Type = raft.LogType(logType)
	log.Data = data
	log.Extensions = extensions
	return nil
}

func (s *LogStore) StoreLog(log *raft.Log) error {
	return s.StoreLogs([]*raft.Log{log})
}

func (s *LogStore) StoreLogs(logs []*raft.Log) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("raftlog: store logs begin: %w", err)
	}
	defer tx.Rollback()

	for _, log := range logs {
		if _, err := tx.Exec(`
			INSERT INTO raft_log(idx, term, log_type, data, extensions, appended_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(idx) DO UPDATE SET term = excluded.term, log_type = excluded.log_type,
				data = excluded.data, extensions = excluded.extensions, appended_at = excluded.appended_at
		`, log.Index, log.Term, uint8(log.Type), log.Data, log.Extensions, log.AppendedAt.UnixNano()); err != nil {
			return fmt.Errorf("raftlog: store log %d: %w", log.Index, err)
		}
	}
	return tx.Commit()
}

func (s *LogStore) DeleteRange(min, max uint64) error {
	if _, err := s.db.Exec(`DELETE FROM raft_log WHERE idx >= ? AND idx <= ?`, min, max); err != nil {
		return fmt.Errorf("raftlog: delete range [%d,%d]: %w", min, max, err)
	}
	return nil
}

func (s *LogStore) Set(key []byte, val []byte) error {
	_, err := s.db.Exec(`INSERT INTO raft_stable(key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, val)
	if err != nil {
		return fmt.Errorf("raftlog: stable set: %w", err)
	}
	return nil
}

func (s *LogStore) Get(key []byte) ([]byte, error) {
	var v []byte
	err := s.db.QueryRow(`SELECT value FROM raft_stable WHERE key = ?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return nil, errKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("raftlog: stable get: %w", err)
	}
	return v, nil
}

func (s *LogStore) SetUint64(key []byte, val uint64) error {
	return s.Set(key, uint64ToBytes(val))
}

func (s *LogStore) GetUint64(key []byte) (uint64, error) {
	v, err := s.Get(key)
	if err != nil {
		return 0, err
	}
	return bytesToUint64(v), nil
}

func uint64ToBytes(v uint64) []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
	return b
}

func bytesToUint64(b []byte) uint64 {
	var v uint64
	for i := 0; i < len(b) && i < 8; i++ {
		v |= uint64(b[i]) << (8 * i)
	}
	return v
}

var _ raft.LogStore = (*LogStore)(nil)
var _ raft.StableStore = (*LogStore)(nil)
