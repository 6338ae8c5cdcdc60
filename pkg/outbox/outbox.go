// Package outbox persists writes made while offline and replays them when a
// background sync fires.
//
// Items are kept per sync tag and replayed in the order they were queued.
// A replay that fails on the network or with a server error stops the flush
// for that tag so later items never overtake earlier ones.
package outbox

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schema string

// ErrNotFound is returned when an item does not exist.
var ErrNotFound = errors.New("outbox item not found")

var (
	// Enqueued tracks queued writes by tag
	Enqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sw_outbox_enqueued_total",
			Help: "Total number of writes queued for background sync",
		},
		[]string{"tag"},
	)

	// Replayed tracks replay outcomes by tag
	Replayed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sw_outbox_replayed_total",
			Help: "Total number of queued writes replayed by outcome",
		},
		[]string{"tag", "outcome"}, // "sent", "rejected", "deferred"
	)
)

// Item is one deferred write.
type Item struct {
	ID        string      `json:"id"`
	Tag       string      `json:"tag"`
	Method    string      `json:"method"`
	URL       string      `json:"url"`
	Header    http.Header `json:"headers,omitempty"`
	Body      []byte      `json:"body,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	Attempts  int         `json:"attempts"`
	LastError string      `json:"last_error,omitempty"`
}

// claimLease is how long a flusher owns an item it is replaying. An expired
// claim (a crashed flusher) can be taken over.
const claimLease = 2 * time.Minute

// Outbox is a SQLite-backed queue of deferred writes.
type Outbox struct {
	db     *sql.DB
	logger zerolog.Logger
	now    func() time.Time

	mu       sync.Mutex
	flushing map[string]*sync.Mutex
}

// Open opens the outbox database at path and applies the schema.
// The special path ":memory:" opens a private in-memory database.
func Open(path string, logger zerolog.Logger) (*Outbox, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("outbox path is required")
	}

	dsn := ":memory:"
	if path != ":memory:" {
		dsn = filepath.Clean(path) + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// An in-memory database lives in a single connection
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Outbox{
		db:       db,
		logger:   logger,
		now:      time.Now,
		flushing: make(map[string]*sync.Mutex),
	}, nil
}

// Close releases the database.
func (o *Outbox) Close() error {
	if o == nil || o.db == nil {
		return nil
	}
	return o.db.Close()
}

// Ping checks the database connection.
func (o *Outbox) Ping(ctx context.Context) error {
	return o.db.PingContext(ctx)
}

// Enqueue validates and stores item. It assigns the ID and creation time and
// returns the ID.
func (o *Outbox) Enqueue(ctx context.Context, item Item) (string, error) {
	item.Tag = strings.TrimSpace(item.Tag)
	item.Method = strings.ToUpper(strings.TrimSpace(item.Method))
	if item.Tag == "" {
		return "", fmt.Errorf("tag is required")
	}
	if item.Method == "" {
		item.Method = http.MethodPost
	}
	u, err := url.Parse(item.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("absolute http(s) url is required (got %q)", item.URL)
	}

	item.ID = uuid.NewString()
	item.CreatedAt = o.now().UTC()

	header := item.Header
	if header == nil {
		header = http.Header{}
	}
	headerJSON, err := json.Marshal(header)
	if err != nil {
		return "", fmt.Errorf("encode header: %w", err)
	}

	_, err = o.db.ExecContext(ctx, `
INSERT INTO outbox_items (id, tag, method, url, header, body, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
`,
		item.ID,
		item.Tag,
		item.Method,
		item.URL,
		string(headerJSON),
		item.Body,
		item.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return "", fmt.Errorf("enqueue: %w", err)
	}

	Enqueued.WithLabelValues(item.Tag).Inc()
	o.logger.Info().
		Str("tag", item.Tag).
		Str("id", item.ID).
		Str("method", item.Method).
		Str("url", item.URL).
		Msg("Queued write for background sync")
	return item.ID, nil
}

// Pending lists the queued items of tag, oldest first.
func (o *Outbox) Pending(ctx context.Context, tag string) ([]Item, error) {
	rows, err := o.db.QueryContext(ctx, `
SELECT id, tag, method, url, header, body, created_at, attempts, last_error
FROM outbox_items
WHERE tag = ?
ORDER BY seq ASC
`, tag)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var item Item
		var headerJSON string
		var createdAt int64
		if err := rows.Scan(
			&item.ID,
			&item.Tag,
			&item.Method,
			&item.URL,
			&headerJSON,
			&item.Body,
			&createdAt,
			&item.Attempts,
			&item.LastError,
		); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		if err := json.Unmarshal([]byte(headerJSON), &item.Header); err != nil {
			return nil, fmt.Errorf("decode header of %s: %w", item.ID, err)
		}
		item.CreatedAt = time.UnixMilli(createdAt).UTC()
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate items: %w", err)
	}
	return items, nil
}

// Tags lists tags that have pending items.
func (o *Outbox) Tags(ctx context.Context) ([]string, error) {
	rows, err := o.db.QueryContext(ctx, `SELECT DISTINCT tag FROM outbox_items ORDER BY tag`)
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	defer rows.Close()

	var tags []string
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}

// Delete removes an item.
func (o *Outbox) Delete(ctx context.Context, id string) error {
	res, err := o.db.ExecContext(ctx, `DELETE FROM outbox_items WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// tagLock returns the mutex serializing flushes of tag in this process.
func (o *Outbox) tagLock(tag string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	l, ok := o.flushing[tag]
	if !ok {
		l = &sync.Mutex{}
		o.flushing[tag] = l
	}
	return l
}

// claim takes ownership of an item for replay. It reports false when another
// flusher, possibly in another process, holds a live claim.
func (o *Outbox) claim(ctx context.Context, id string) (bool, error) {
	now := o.now()
	res, err := o.db.ExecContext(ctx, `
UPDATE outbox_items SET claimed_until = ? WHERE id = ? AND claimed_until <= ?
`, now.Add(claimLease).UnixMilli(), id, now.UnixMilli())
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", id, err)
	}
	return n == 1, nil
}

// recordFailure counts a failed replay and releases the claim.
func (o *Outbox) recordFailure(ctx context.Context, id string, cause error) error {
	_, err := o.db.ExecContext(ctx, `
UPDATE outbox_items SET attempts = attempts + 1, last_error = ?, claimed_until = 0 WHERE id = ?
`, cause.Error(), id)
	if err != nil {
		return fmt.Errorf("record failure of %s: %w", id, err)
	}
	return nil
}
