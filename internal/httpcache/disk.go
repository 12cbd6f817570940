package httpcache

import (
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrDatabaseLocked is returned by OpenDiskCache when another Engine
// already holds the exclusive lock row for this storage path.
var ErrDatabaseLocked = fmt.Errorf("httpcache: storage path already in use by another engine")

// DiskCache is the DISK/DISK_NO_HTTP backend: a sqlite database storing
// validator-keyed entries, following the same sql.Open DSN shape (WAL,
// busy_timeout) and embedded-migrations-via-iofs pattern as the teacher's
// configuration database, repurposed to a cache schema.
//
// noHTTP, when true, implements DISK_NO_HTTP: Store still persists a row
// (validators, headers, timing) for introspection, but with no body, and
// Lookup never reports a hit — a stale entry with no body can't ever
// satisfy a request on its own (a 304 from the origin would leave nothing
// to serve), so this mode behaves as disabled for request-serving
// purposes while still recording what would have been cached.
type DiskCache struct {
	conn    *sql.DB
	owner   string
	noHTTP  bool
	maxSize int64

	mu        sync.Mutex // single-writer-per-key: serializes Store/Invalidate
	hits      int64
	misses    int64
	evictions int64
}

// OpenDiskCache opens or creates the sqlite-backed cache at dir, running
// migrations and acquiring the directory's exclusive lock row. A second
// OpenDiskCache against the same dir fails with ErrDatabaseLocked.
func OpenDiskCache(dir string, maxSize int64, noHTTP bool) (*DiskCache, error) {
	if dir == "" {
		return nil, fmt.Errorf("httpcache: disk cache requires a storage path")
	}
	if maxSize <= 0 {
		maxSize = 256 << 20
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("httpcache: create storage dir: %w", err)
	}

	dbPath := filepath.Join(dir, "httpcache.db")
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", dbPath)
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("httpcache: open database: %w", err)
	}
	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(time.Hour)

	dc := &DiskCache{conn: conn, noHTTP: noHTTP, maxSize: maxSize, owner: uuid.NewString()}

	if err := dc.runMigrations(); err != nil {
		conn.Close()
		return nil, err
	}
	if err := dc.acquireLock(); err != nil {
		conn.Close()
		return nil, err
	}
	return dc, nil
}

func (c *DiskCache) runMigrations() error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("httpcache: migration source: %w", err)
	}
	dbDriver, err := sqlite.WithInstance(c.conn, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("httpcache: migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", dbDriver)
	if err != nil {
		return fmt.Errorf("httpcache: migrator: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("httpcache: run migrations: %w", err)
	}
	return nil
}

// acquireLock claims the single engine_lock row for this storage
// directory. A second Engine pointed at the same directory fails this
// insert against the existing row's PRIMARY KEY, satisfying "refuse
// second Engine on the same directory."
func (c *DiskCache) acquireLock() error {
	_, err := c.conn.Exec(`INSERT INTO engine_lock (id, owner, acquired_at) VALUES (1, ?, ?)`,
		c.owner, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseLocked, err)
	}
	return nil
}

// variantHash identifies one Vary-distinguished row under key: the primary
// key alone isn't unique once a response's Vary header fans a URL out into
// multiple stored variants, so the row identity folds in the variant's own
// Vary snapshot.
func variantHash(key Key, vary map[string]string) string {
	h := sha256.New()
	h.Write([]byte(key.Method))
	h.Write([]byte{0})
	h.Write([]byte(key.URL))
	for _, name := range sortedKeys(vary) {
		h.Write([]byte{0})
		h.Write([]byte(name))
		h.Write([]byte{'='})
		h.Write([]byte(vary[name]))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func sortedKeys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1] > out[j]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

// Lookup scans every row stored under key's (method, url), the same
// two-level design as MemoryCache: Vary match can't be pushed into the SQL
// WHERE clause since the relevant header set differs per stored variant.
func (c *DiskCache) Lookup(key Key, reqHeader http.Header) (*Entry, bool) {
	if c.noHTTP {
		return nil, false
	}

	rows, err := c.conn.Query(`SELECT vary_json, status_code, header_json, body,
		etag, last_modified, freshness_lifetime_seconds, stale_while_revalidate_seconds, stored_at
		FROM cache_entries WHERE method = ? AND url = ?`, key.Method, key.URL)
	if err != nil {
		c.mu.Lock()
		c.misses++
		c.mu.Unlock()
		return nil, false
	}
	defer rows.Close()

	for rows.Next() {
		var (
			varyJSON, headerJSON, etag, lastModified string
			statusCode                                int
			body                                      []byte
			freshSec, swrSec, storedAt                int64
		)
		if err := rows.Scan(&varyJSON, &statusCode, &headerJSON, &body,
			&etag, &lastModified, &freshSec, &swrSec, &storedAt); err != nil {
			continue
		}

		var vary map[string]string
		_ = json.Unmarshal([]byte(varyJSON), &vary)

		if !VaryMatches(&Entry{Vary: vary}, reqHeader) {
			continue
		}

		var header http.Header
		_ = json.Unmarshal([]byte(headerJSON), &header)

		entry := &Entry{
			Key:                  key,
			StatusCode:           statusCode,
			Header:               header,
			Body:                 body,
			Vary:                 vary,
			Validators:           Validators{ETag: etag, LastModified: lastModified},
			FreshnessLifetime:    time.Duration(freshSec) * time.Second,
			StaleWhileRevalidate: time.Duration(swrSec) * time.Second,
			StoredAt:             time.Unix(storedAt, 0),
		}
		c.mu.Lock()
		c.hits++
		c.mu.Unlock()
		return entry, true
	}

	c.mu.Lock()
	c.misses++
	c.mu.Unlock()
	return nil, false
}

func (c *DiskCache) Store(entry *Entry) error {
	varyJSON, err := json.Marshal(entry.Vary)
	if err != nil {
		return fmt.Errorf("httpcache: encode vary: %w", err)
	}
	headerJSON, err := json.Marshal(entry.Header)
	if err != nil {
		return fmt.Errorf("httpcache: encode headers: %w", err)
	}
	body := entry.Body
	if c.noHTTP {
		body = nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	_, err = c.conn.Exec(`INSERT INTO cache_entries
		(key_hash, method, url, vary_json, status_code, header_json, body, etag, last_modified,
		 freshness_lifetime_seconds, stale_while_revalidate_seconds, stored_at, size_bytes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key_hash) DO UPDATE SET
			method = excluded.method, url = excluded.url, vary_json = excluded.vary_json,
			status_code = excluded.status_code, header_json = excluded.header_json,
			body = excluded.body, etag = excluded.etag, last_modified = excluded.last_modified,
			freshness_lifetime_seconds = excluded.freshness_lifetime_seconds,
			stale_while_revalidate_seconds = excluded.stale_while_revalidate_seconds,
			stored_at = excluded.stored_at, size_bytes = excluded.size_bytes`,
		variantHash(entry.Key, entry.Vary), entry.Key.Method, entry.Key.URL, string(varyJSON), entry.StatusCode,
		string(headerJSON), body, entry.Validators.ETag, entry.Validators.LastModified,
		int64(entry.FreshnessLifetime/time.Second), int64(entry.StaleWhileRevalidate/time.Second),
		entry.StoredAt.Unix(), entry.Size())
	if err != nil {
		return fmt.Errorf("httpcache: store entry: %w", err)
	}
	return c.evictLocked()
}

func (c *DiskCache) Invalidate(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = c.conn.Exec(`DELETE FROM cache_entries WHERE method = ? AND url = ?`, key.Method, key.URL)
}

// evictLocked drops least-recently-stored rows until the total stored
// size budget is satisfied, a simple approximation of LRU using
// insertion/update recency (stored_at) since sqlite has no cheap
// equivalent of an in-memory list's O(1) move-to-back on read).
func (c *DiskCache) evictLocked() error {
	var total int64
	if err := c.conn.QueryRow(`SELECT COALESCE(SUM(size_bytes), 0) FROM cache_entries`).Scan(&total); err != nil {
		return fmt.Errorf("httpcache: measure cache size: %w", err)
	}
	for total > c.maxSize {
		var hash string
		var size int64
		err := c.conn.QueryRow(`SELECT key_hash, size_bytes FROM cache_entries ORDER BY stored_at ASC LIMIT 1`).Scan(&hash, &size)
		if err != nil {
			break
		}
		if _, err := c.conn.Exec(`DELETE FROM cache_entries WHERE key_hash = ?`, hash); err != nil {
			return fmt.Errorf("httpcache: evict entry: %w", err)
		}
		total -= size
		c.evictions++
	}
	return nil
}

func (c *DiskCache) Stats() Stats {
	c.mu.Lock()
	hits, misses, evictions := c.hits, c.misses, c.evictions
	c.mu.Unlock()

	var entries, bytes int64
	_ = c.conn.QueryRow(`SELECT COUNT(*), COALESCE(SUM(size_bytes), 0) FROM cache_entries`).Scan(&entries, &bytes)
	return Stats{Hits: hits, Misses: misses, Evictions: evictions, Bytes: bytes, Entries: entries}
}

func (c *DiskCache) Close() error {
	_, _ = c.conn.Exec(`DELETE FROM engine_lock WHERE owner = ?`, c.owner)
	return c.conn.Close()
}
