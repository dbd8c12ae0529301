package cache

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

var sqliteInstances atomic.Int64

// SQLiteCache keeps entries in a private in-memory SQLite database.
// Eviction order follows a monotonic access sequence rather than wall clock
// time, so entries touched within the same clock tick are still ordered.
type SQLiteCache struct {
	db        *sql.DB
	mutex     sync.Mutex
	capacity  int64
	itemLimit int64
	size      int64
	count     int
	seq       int64
	counters  counters
}

// NewSQLiteCache opens a new in-memory database that is not shared with any
// other SQLiteCache instance.
func NewSQLiteCache(capacity, itemLimit int64) (*SQLiteCache, error) {
	capacity, itemLimit = normalizeLimits(capacity, itemLimit)
	dsn := fmt.Sprintf("file:cacheproxy-%d?mode=memory&cache=shared", sqliteInstances.Add(1))
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// the database lives as long as its connection does
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	statements := []string{
		`CREATE TABLE IF NOT EXISTS cache (
			key TEXT PRIMARY KEY,
			payload BLOB,
			size INTEGER NOT NULL,
			touched_at INTEGER NOT NULL,
			seq INTEGER NOT NULL
		)`,
		"CREATE INDEX IF NOT EXISTS seq_idx ON cache (seq)",
	}
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, err
		}
	}
	return &SQLiteCache{
		db:        db,
		capacity:  capacity,
		itemLimit: itemLimit,
	}, nil
}

func (s *SQLiteCache) Lookup(key string) ([]byte, bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	var payload []byte
	err := s.db.QueryRow("SELECT payload FROM cache WHERE key = ?", key).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		s.counters.misses.Add(1)
		return nil, false, nil
	} else if err != nil {
		return nil, false, err
	}
	s.seq++
	if _, err := s.db.Exec("UPDATE cache SET touched_at = ?, seq = ? WHERE key = ?",
		time.Now().UnixNano(), s.seq, key); err != nil {
		return nil, false, err
	}
	s.counters.hits.Add(1)
	return payload, true, nil
}

func (s *SQLiteCache) Insert(key string, payload []byte) error {
	size := int64(len(payload))
	if size > s.itemLimit {
		s.counters.rejected.Add(1)
		return fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrItemTooLarge, size, s.itemLimit)
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var previous int64
	existed := true
	err = tx.QueryRow("SELECT size FROM cache WHERE key = ?", key).Scan(&previous)
	if errors.Is(err, sql.ErrNoRows) {
		existed = false
	} else if err != nil {
		return err
	}

	s.seq++
	if _, err := tx.Exec(`INSERT OR REPLACE INTO cache
		(key, payload, size, touched_at, seq) VALUES (?, ?, ?, ?, ?)`,
		key, payload, size, time.Now().UnixNano(), s.seq); err != nil {
		return err
	}

	total := s.size + size - previous
	count := s.count
	if !existed {
		count++
	}
	evicted := make([]int, 0)
	for total > s.capacity {
		var victim string
		var victimSize int64
		if err := tx.QueryRow("SELECT key, size FROM cache ORDER BY seq ASC LIMIT 1").
			Scan(&victim, &victimSize); err != nil {
			return err
		}
		if _, err := tx.Exec("DELETE FROM cache WHERE key = ?", victim); err != nil {
			return err
		}
		total -= victimSize
		count--
		evicted = append(evicted, int(victimSize))
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	s.size = total
	s.count = count
	for _, n := range evicted {
		s.counters.evicted(n)
	}
	return nil
}

func (s *SQLiteCache) Purge(key string) (bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	var size int64
	err := s.db.QueryRow("SELECT size FROM cache WHERE key = ?", key).Scan(&size)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	} else if err != nil {
		return false, err
	}
	if _, err := s.db.Exec("DELETE FROM cache WHERE key = ?", key); err != nil {
		return false, err
	}
	s.size -= size
	s.count--
	return true, nil
}

func (s *SQLiteCache) Clear() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if _, err := s.db.Exec("DELETE FROM cache"); err != nil {
		return err
	}
	s.size = 0
	s.count = 0
	return nil
}

func (s *SQLiteCache) Entries() ([]EntryInfo, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	entries := make([]EntryInfo, 0, s.count)
	rows, err := s.db.Query("SELECT key, size, touched_at FROM cache ORDER BY seq DESC")
	if err != nil {
		return entries, err
	}
	defer rows.Close()
	for rows.Next() {
		var entry EntryInfo
		var touched int64
		if err := rows.Scan(&entry.Key, &entry.Size, &touched); err != nil {
			return entries, err
		}
		entry.LastAccess = time.Unix(0, touched)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s *SQLiteCache) Stats() Stats {
	s.mutex.Lock()
	stats := Stats{
		Entries:   s.count,
		Bytes:     s.size,
		Capacity:  s.capacity,
		ItemLimit: s.itemLimit,
	}
	s.mutex.Unlock()
	s.counters.fill(&stats)
	return stats
}

func (s *SQLiteCache) Close() error {
	return s.db.Close()
}
