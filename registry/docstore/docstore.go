// Package docstore implements the registry adapter over a SQL document
// store. The registry bucket holds current documents; the meta bucket is a
// write log polled to synthesise change events.
package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	// database drivers
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/nmoshub/queryd/log"
	"github.com/nmoshub/queryd/registry"
	"github.com/nmoshub/queryd/resource"
)

// supported database/sql driver names
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

const (
	defaultBucket       = "registry"
	defaultMetaBucket   = "meta"
	defaultPollInterval = 5 * time.Second
	defaultReplayWindow = 15 * time.Minute
)

var (
	errUnknownDriver     = errors.New("unknown document store driver")
	errNoDatabase        = errors.New("no database provided")
	errInvalidBucketName = errors.New("invalid bucket name")
)

// Settings configures the adapter. Bucket names map onto table names and
// default to "registry" and "meta".
type Settings struct {
	Driver       string
	Host         string
	Port         int
	Username     string
	Password     string
	Database     string
	SSLMode      string
	Bucket       string
	MetaBucket   string
	PollInterval time.Duration
	ReplayWindow time.Duration
}

// Store is a SQL-backed registry adapter. It satisfies registry.Adapter.
// Next must be driven by a single goroutine; Snapshot may be called
// concurrently.
type Store struct {
	db           *sql.DB
	driver       string
	bucket       string
	metaBucket   string
	pollInterval time.Duration
	cursor       int64
	known        map[string]resource.Document
}

// New connects to the configured database and ensures the buckets exist
func New(s *Settings) (*Store, error) {
	if s == nil {
		return nil, registry.ErrNilSettings
	}
	if s.Database == "" {
		return nil, errNoDatabase
	}

	bucket := s.Bucket
	if bucket == "" {
		bucket = defaultBucket
	}
	metaBucket := s.MetaBucket
	if metaBucket == "" {
		metaBucket = defaultMetaBucket
	}
	if !validBucketName(bucket) || !validBucketName(metaBucket) {
		return nil, errInvalidBucketName
	}

	var db *sql.DB
	var err error
	switch s.Driver {
	case DriverPostgres:
		sslMode := s.SSLMode
		if sslMode == "" {
			sslMode = "disable"
		}
		dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			s.Host,
			s.Port,
			s.Username,
			s.Password,
			s.Database,
			sslMode)
		db, err = sql.Open(DriverPostgres, dsn)
		if err != nil {
			return nil, err
		}
		if err = db.Ping(); err != nil {
			db.Close()
			return nil, err
		}
		db.SetMaxOpenConns(2)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(time.Hour)
	case DriverSQLite:
		db, err = sql.Open(DriverSQLite, s.Database)
		if err != nil {
			return nil, err
		}
		db.SetMaxOpenConns(1)
	default:
		return nil, fmt.Errorf("%w: %q", errUnknownDriver, s.Driver)
	}

	pollInterval := s.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	replayWindow := s.ReplayWindow
	if replayWindow <= 0 {
		replayWindow = defaultReplayWindow
	}

	store := &Store{
		db:           db,
		driver:       s.Driver,
		bucket:       bucket,
		metaBucket:   metaBucket,
		pollInterval: pollInterval,
		cursor:       time.Now().Add(-replayWindow).UnixNano(),
		known:        make(map[string]resource.Document),
	}
	if err := store.createBuckets(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func validBucketName(name string) bool {
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z',
			r >= 'A' && r <= 'Z',
			r >= '0' && r <= '9',
			r == '_':
		default:
			return false
		}
	}
	return name != ""
}

func (s *Store) createBuckets() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS ` + s.bucket + ` (
	id            TEXT PRIMARY KEY NOT NULL,
	resource_type TEXT NOT NULL,
	api_version   TEXT NOT NULL DEFAULT 'v1.0',
	document      TEXT NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS ` + s.metaBucket + ` (
	id            TEXT PRIMARY KEY NOT NULL,
	resource_type TEXT NOT NULL,
	last_updated  BIGINT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS ` + s.metaBucket + `_last_updated ON ` + s.metaBucket + ` (last_updated);`,
	}
	for i := range queries {
		if _, err := s.db.Exec(queries[i]); err != nil {
			return err
		}
	}
	return nil
}

// bind rewrites ? placeholders into the $n form postgres expects
func (s *Store) bind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$")
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Snapshot returns every current document, optionally restricted to one
// collection
func (s *Store) Snapshot(ctx context.Context, typeToken string) ([]resource.Document, error) {
	query := "SELECT id, document FROM " + s.bucket
	var args []any
	if typeToken != "" {
		query += " WHERE resource_type = ?"
		args = append(args, typeToken)
	}
	query += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, s.bind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	docs := make([]resource.Document, 0, 32)
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, err
		}
		var doc resource.Document
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			log.Warnf(log.DatabaseMgr, "Discarding undecodable document %s", id)
			continue
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// Next polls the meta bucket for writes newer than the cursor and returns
// them as change events. It blocks between empty polls until the context is
// cancelled.
func (s *Store) Next(ctx context.Context) ([]registry.Event, error) {
	for {
		events, err := s.poll(ctx)
		if err != nil {
			return nil, err
		}
		if len(events) > 0 {
			return events, nil
		}
		timer := time.NewTimer(s.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

type metaRow struct {
	id        string
	typeToken string
}

func (s *Store) poll(ctx context.Context) ([]registry.Event, error) {
	pollStart := time.Now().UnixNano()

	rows, err := s.db.QueryContext(ctx,
		s.bind("SELECT id, resource_type FROM "+s.metaBucket+" WHERE last_updated > ? ORDER BY last_updated, id"),
		s.cursor)
	if err != nil {
		return nil, err
	}
	var changed []metaRow
	for rows.Next() {
		var row metaRow
		if err := rows.Scan(&row.id, &row.typeToken); err != nil {
			rows.Close()
			return nil, err
		}
		changed = append(changed, row)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	events := make([]registry.Event, 0, len(changed))
	for i := range changed {
		ev, err := s.eventFor(ctx, changed[i])
		if err != nil {
			return nil, err
		}
		if ev != nil {
			events = append(events, *ev)
		}
	}
	s.cursor = pollStart
	return events, nil
}

// eventFor resolves one write-log entry against the registry bucket; a
// present row is a set, a missing row a delete
func (s *Store) eventFor(ctx context.Context, row metaRow) (*registry.Event, error) {
	pre, seen := s.known[row.id]
	if !seen {
		pre = resource.Document{}
	}

	var raw string
	err := s.db.QueryRowContext(ctx,
		s.bind("SELECT document FROM "+s.bucket+" WHERE id = ?"),
		row.id).Scan(&raw)
	switch {
	case err == nil:
		var post resource.Document
		if uErr := json.Unmarshal([]byte(raw), &post); uErr != nil {
			log.Warnf(log.DatabaseMgr, "Discarding undecodable document %s", row.id)
			return nil, nil
		}
		s.known[row.id] = post
		return &registry.Event{
			Action: registry.ActionSet,
			Type:   row.typeToken,
			ID:     row.id,
			Pre:    pre,
			Post:   post,
		}, nil
	case errors.Is(err, sql.ErrNoRows):
		delete(s.known, row.id)
		return &registry.Event{
			Action: registry.ActionDelete,
			Type:   row.typeToken,
			ID:     row.id,
			Pre:    pre,
		}, nil
	default:
		return nil, err
	}
}

// Close releases the database connection
func (s *Store) Close() error {
	return s.db.Close()
}
