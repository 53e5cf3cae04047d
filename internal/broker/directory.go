package broker

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

// Directory persists the broker's username registry and a best-effort
// connection audit trail: which username registered, from which replica,
// and when. It never stores ciphertext or identity key material — the
// broker relays opaque payloads and never needs to understand them.
// Narrowed to two tables: current registrations and their event history.
type Directory struct {
	db *sql.DB
}

// NewDirectory opens a pooled Postgres connection and verifies it.
func NewDirectory(connStr string) (*Directory, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("broker: opening postgres: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("broker: pinging postgres: %w", err)
	}

	return &Directory{db: db}, nil
}

// Close closes the underlying connection pool.
func (d *Directory) Close() error {
	return d.db.Close()
}

// EnsureSchema creates the registrations and registration_events tables if
// they do not already exist. The broker is stateless by design; these tables
// are an audit trail only, never authoritative for delivery.
func (d *Directory) EnsureSchema() error {
	const ddl = `
		CREATE TABLE IF NOT EXISTS registrations (
			username    TEXT PRIMARY KEY,
			replica_id  TEXT NOT NULL,
			registered_at TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS registration_events (
			id            UUID PRIMARY KEY,
			username      TEXT NOT NULL,
			replica_id    TEXT NOT NULL,
			registered_at TIMESTAMPTZ NOT NULL
		)`
	if _, err := d.db.Exec(ddl); err != nil {
		return fmt.Errorf("broker: creating registrations tables: %w", err)
	}
	return nil
}

// RecordRegistration upserts the current-state audit row for username
// connecting to replicaID at now, and appends an immutable event row keyed
// by a fresh random ID, so reconnect history survives the upsert above.
func (d *Directory) RecordRegistration(username, replicaID string, now time.Time) error {
	const upsert = `
		INSERT INTO registrations (username, replica_id, registered_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (username) DO UPDATE
		SET replica_id = EXCLUDED.replica_id, registered_at = EXCLUDED.registered_at`
	if _, err := d.db.Exec(upsert, username, replicaID, now); err != nil {
		return fmt.Errorf("broker: recording registration for %s: %w", username, err)
	}

	const event = `
		INSERT INTO registration_events (id, username, replica_id, registered_at)
		VALUES ($1, $2, $3, $4)`
	if _, err := d.db.Exec(event, uuid.New().String(), username, replicaID, now); err != nil {
		return fmt.Errorf("broker: appending registration event for %s: %w", username, err)
	}
	return nil
}

// KnownUsernames lists every username that has ever registered, in
// ascending order.
func (d *Directory) KnownUsernames() ([]string, error) {
	rows, err := d.db.Query(`SELECT username FROM registrations ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("broker: listing usernames: %w", err)
	}
	defer rows.Close()

	var usernames []string
	for rows.Next() {
		var username string
		if err := rows.Scan(&username); err != nil {
			return nil, fmt.Errorf("broker: scanning username: %w", err)
		}
		usernames = append(usernames, username)
	}
	return usernames, rows.Err()
}
