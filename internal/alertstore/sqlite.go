//go:build sqlite
// +build sqlite

package alertstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "github.com/TheGrinnerWx/Eas-Discord-posting-bot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(opts Options, log logx.Logger) (Store, error) {
	if strings.TrimSpace(opts.SQLitePath) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := opts.SQLitePath
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if opts.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", opts.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) LoadDelivered() (map[string]struct{}, error) {
	rows, err := s.db.Query(`SELECT identifier FROM delivered`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = struct{}{}
	}
	return ids, rows.Err()
}

func (s *sqliteStore) SaveDelivered(ids map[string]struct{}) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339)
	for id := range ids {
		if _, err := tx.Exec(
			`INSERT INTO delivered(identifier, delivered_at) VALUES(?,?)
			 ON CONFLICT(identifier) DO NOTHING`,
			id, now,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) LoadTenants() (map[string]TenantConfig, error) {
	rows, err := s.db.Query(`SELECT guild_id, alert_channel_id, COALESCE(log_channel_id, '') FROM tenants`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tenants := make(map[string]TenantConfig)
	for rows.Next() {
		var guildID string
		var tc TenantConfig
		if err := rows.Scan(&guildID, &tc.AlertChannelID, &tc.LogChannelID); err != nil {
			return nil, err
		}
		tenants[guildID] = tc
	}
	return tenants, rows.Err()
}

func (s *sqliteStore) SaveTenants(tenants map[string]TenantConfig) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM tenants`); err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	for guildID, tc := range tenants {
		var logCh any
		if tc.LogChannelID != "" {
			logCh = tc.LogChannelID
		}
		if _, err := tx.Exec(
			`INSERT INTO tenants(guild_id, alert_channel_id, log_channel_id, updated_at) VALUES(?,?,?,?)`,
			guildID, tc.AlertChannelID, logCh, now,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
