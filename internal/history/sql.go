package history

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"github.com/go-sql-driver/mysql"

	"github.com/comigor/triage-go/internal/logger"
)

// dialect holds the statements that differ between drivers.
type dialect struct {
	driver string
	schema []string
	upsert string
}

var sqliteDialect = dialect{
	driver: "sqlite",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL,
			agent TEXT NOT NULL,
			message TEXT NOT NULL,
			role TEXT NOT NULL,
			created_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_user ON conversations (user_id, created_at);`,
		`CREATE TABLE IF NOT EXISTS code_submissions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL,
			code TEXT NOT NULL,
			stdout TEXT NOT NULL,
			stderr TEXT NOT NULL,
			exit_code INTEGER NOT NULL,
			created_at DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS progress (
			user_id INTEGER NOT NULL,
			module TEXT NOT NULL,
			topic TEXT NOT NULL,
			mastery INTEGER NOT NULL DEFAULT 0,
			updated_at DATETIME NOT NULL,
			PRIMARY KEY (user_id, module, topic)
		);`,
	},
	upsert: `INSERT INTO progress (user_id, module, topic, mastery, updated_at) VALUES (?,?,?,?,?)
		ON CONFLICT (user_id, module, topic) DO UPDATE SET mastery = MIN(progress.mastery + ?, ?), updated_at = excluded.updated_at;`,
}

var mysqlDialect = dialect{
	driver: "mysql",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			user_id BIGINT NOT NULL,
			agent VARCHAR(64) NOT NULL,
			message MEDIUMTEXT NOT NULL,
			role VARCHAR(16) NOT NULL,
			created_at DATETIME(6) NOT NULL,
			INDEX idx_conversations_user (user_id, created_at)
		);`,
		`CREATE TABLE IF NOT EXISTS code_submissions (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			user_id BIGINT NOT NULL,
			code MEDIUMTEXT NOT NULL,
			stdout MEDIUMTEXT NOT NULL,
			stderr MEDIUMTEXT NOT NULL,
			exit_code INT NOT NULL,
			created_at DATETIME(6) NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS progress (
			user_id BIGINT NOT NULL,
			module VARCHAR(128) NOT NULL,
			topic VARCHAR(128) NOT NULL,
			mastery INT NOT NULL DEFAULT 0,
			updated_at DATETIME(6) NOT NULL,
			PRIMARY KEY (user_id, module, topic)
		);`,
	},
	upsert: `INSERT INTO progress (user_id, module, topic, mastery, updated_at) VALUES (?,?,?,?,?)
		ON DUPLICATE KEY UPDATE mastery = LEAST(mastery + ?, ?), updated_at = VALUES(updated_at);`,
}

// PoolOptions bounds the connection pool shared by all requests.
type PoolOptions struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// SQLStore is a Store backed by database/sql.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	now     func() time.Time
}

// Open connects to driver ("sqlite" or "mysql"), verifies the connection and
// creates missing tables. For sqlite, dsn is a file path.
func Open(ctx context.Context, driver, dsn string, pool PoolOptions) (*SQLStore, error) {
	var d dialect
	switch driver {
	case "sqlite":
		d = sqliteDialect
		dsn = sqliteDSN(dsn)
	case "mysql":
		d = mysqlDialect
		var err error
		if dsn, err = mysqlDSN(dsn); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}

	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if pool.MaxOpenConns > 0 {
		db.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		db.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}

	s := &SQLStore{db: db, dialect: d, now: func() time.Time { return time.Now().UTC() }}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	logger.L.Info("conversation store initialized", "driver", driver)
	return s, nil
}

func sqliteDSN(path string) string {
	if strings.HasPrefix(path, "file:") || strings.Contains(path, "?") {
		return path
	}
	return "file:" + path + "?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)"
}

// mysqlDSN makes DATETIME columns scan into time.Time, in UTC.
func mysqlDSN(dsn string) (string, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("parse mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	return cfg.FormatDSN(), nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	for _, stmt := range s.dialect.schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) stamp(t time.Time) time.Time {
	if t.IsZero() {
		return s.now()
	}
	return t.UTC()
}

func (s *SQLStore) AppendConversation(ctx context.Context, rec ConversationRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (user_id, agent, message, role, created_at) VALUES (?,?,?,?,?);`,
		rec.UserID, rec.Agent, rec.Message, string(rec.Role), s.stamp(rec.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}
	return nil
}

func (s *SQLStore) AppendCodeSubmission(ctx context.Context, sub CodeSubmission) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO code_submissions (user_id, code, stdout, stderr, exit_code, created_at) VALUES (?,?,?,?,?,?);`,
		sub.UserID, sub.Code, sub.Stdout, sub.Stderr, sub.ExitCode, s.stamp(sub.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert code submission: %w", err)
	}
	return nil
}

func (s *SQLStore) RecordLearning(ctx context.Context, userID int64, module, topic string) error {
	_, err := s.db.ExecContext(ctx, s.dialect.upsert,
		userID, module, topic, nextMastery(0), s.now(),
		MasteryStep, MaxMastery)
	if err != nil {
		return fmt.Errorf("record learning: %w", err)
	}
	return nil
}

func (s *SQLStore) Progress(ctx context.Context, userID int64) ([]Progress, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT module, topic, mastery FROM progress WHERE user_id = ? ORDER BY module, topic;`, userID)
	if err != nil {
		return nil, s.readErr(ctx, "query progress", err)
	}
	defer rows.Close()

	out := []Progress{}
	for rows.Next() {
		p := Progress{UserID: userID}
		if err := rows.Scan(&p.Module, &p.Topic, &p.Mastery); err != nil {
			return nil, fmt.Errorf("scan progress: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, s.readErr(ctx, "iterate progress", err)
	}
	return out, nil
}

func (s *SQLStore) Conversations(ctx context.Context, userID int64, limit int) ([]ConversationRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, agent, message, role, created_at FROM conversations WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ?;`,
		userID, ClampLimit(limit))
	if err != nil {
		return nil, s.readErr(ctx, "query conversations", err)
	}
	defer rows.Close()

	out := []ConversationRecord{}
	for rows.Next() {
		var (
			rec  ConversationRecord
			role string
		)
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.Agent, &rec.Message, &role, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		rec.Role = Role(role)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, s.readErr(ctx, "iterate conversations", err)
	}
	return out, nil
}

// readErr tags err with ErrUnavailable when the database no longer answers a
// ping, so callers can tell an outage from a bad query.
func (s *SQLStore) readErr(ctx context.Context, op string, err error) error {
	if perr := s.db.PingContext(ctx); perr != nil {
		return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (s *SQLStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
