package datastore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/NicolasHaas/parley/pkg/model"
)

const dbTimeLayout = "2006-01-02 15:04:05"

var (
	// ErrGroupNotFound is returned when a membership change names an unarchived group.
	ErrGroupNotFound = errors.New("datastore: group not found")
	ErrPollNoGroup   = errors.New("datastore: poll result has no group")
)

type DB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type baseProvider struct {
	DB
}

func (p *baseProvider) ZeroTime() time.Time {
	return time.Time{}
}

func (p *baseProvider) Close() error {
	return nil
}

type nonTxProvider struct {
	baseProvider
}

type txProvider struct {
	baseProvider
	tx *sql.Tx
}

func (c *txProvider) Rollback() error {
	return c.tx.Rollback()
}

func (c *txProvider) Commit() error {
	return c.tx.Commit()
}

// ProviderFactory hands out archive providers backed by one SQLite database.
type ProviderFactory struct {
	DB *sql.DB
}

func (sf ProviderFactory) NonTx() DataStore {
	return &nonTxProvider{
		baseProvider: baseProvider{
			DB: sf.DB,
		},
	}
}

func (sf ProviderFactory) Tx(ctx context.Context) (DataStoreTx, error) {
	tx, err := sf.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("datastore: begin: %w", err)
	}

	return &txProvider{
		baseProvider: baseProvider{
			DB: tx,
		},
		tx: tx,
	}, nil
}

// NewProviderFactory opens (or creates) a SQLite database and runs migrations.
func NewProviderFactory(dbPath string) (*ProviderFactory, error) {
	DB, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("datastore: open DB: %w", err)
	}

	ctx := context.Background()

	// Enable WAL mode for better concurrent read performance
	if _, err := DB.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = DB.Close()
		return nil, fmt.Errorf("datastore: set WAL: %w", err)
	}
	if _, err := DB.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
		_ = DB.Close()
		return nil, fmt.Errorf("datastore: enable FK: %w", err)
	}
	// Set busy timeout to avoid "database is locked" under concurrency
	if _, err := DB.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = DB.Close()
		return nil, fmt.Errorf("datastore: set busy_timeout: %w", err)
	}

	s := &ProviderFactory{DB: DB}
	if err := s.migrate(); err != nil {
		_ = DB.Close()
		return nil, fmt.Errorf("datastore: migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *ProviderFactory) Close() error {
	return s.DB.Close()
}

func (s *ProviderFactory) migrate() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS users (
		name         TEXT    PRIMARY KEY CHECK(length(name) > 0 AND length(name) <= 32),
		last_user_id INTEGER NOT NULL DEFAULT 0,
		connections  INTEGER NOT NULL DEFAULT 0,
		first_seen   TEXT    NOT NULL DEFAULT (datetime('now')),
		last_seen    TEXT    NOT NULL DEFAULT (datetime('now'))
	);

	CREATE TABLE IF NOT EXISTS chat_groups (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		name       TEXT    NOT NULL CHECK(length(name) > 0 AND length(name) <= 32),
		creator    TEXT    NOT NULL DEFAULT '',
		created_at TEXT    NOT NULL DEFAULT (datetime('now'))
	);

	CREATE TABLE IF NOT EXISTS group_members (
		group_id  INTEGER NOT NULL REFERENCES chat_groups(id) ON DELETE CASCADE,
		member    TEXT    NOT NULL,
		position  INTEGER NOT NULL DEFAULT 0,
		joined_at TEXT    NOT NULL DEFAULT (datetime('now')),
		left_at   TEXT
	);

	CREATE TABLE IF NOT EXISTS poll_results (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		group_name  TEXT    NOT NULL,
		question    TEXT    NOT NULL DEFAULT '',
		yes_votes   INTEGER NOT NULL DEFAULT 0,
		no_votes    INTEGER NOT NULL DEFAULT 0,
		reason      TEXT    NOT NULL DEFAULT '',
		started_at  TEXT    NOT NULL DEFAULT (datetime('now')),
		resolved_at TEXT    NOT NULL DEFAULT (datetime('now'))
	);
	`
	ctx := context.Background()
	if err := s.ensureSchemaMigrations(ctx); err != nil {
		return err
	}
	currentVersion, err := s.getSchemaVersion(ctx)
	if err != nil {
		return err
	}

	migrations := []struct {
		version      int
		statements   []string
		ignoreErrors bool
	}{
		{
			version:    1,
			statements: []string{schema},
		},
		{
			version: 2,
			statements: []string{
				"CREATE INDEX IF NOT EXISTS idx_group_members_group ON group_members(group_id)",
				"CREATE INDEX IF NOT EXISTS idx_poll_results_group ON poll_results(group_name)",
			},
			ignoreErrors: true,
		},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		for _, stmt := range m.statements {
			if err := s.execMigration(ctx, stmt, m.ignoreErrors); err != nil {
				return err
			}
		}
		if err := s.setSchemaVersion(ctx, m.version); err != nil {
			return err
		}
	}
	return nil
}

func (s *ProviderFactory) ensureSchemaMigrations(ctx context.Context) error {
	if _, err := s.DB.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER NOT NULL)"); err != nil {
		return fmt.Errorf("datastore: create schema_migrations: %w", err)
	}
	var count int
	if err := s.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		return fmt.Errorf("datastore: check schema_migrations: %w", err)
	}
	if count == 0 {
		if _, err := s.DB.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (0)"); err != nil {
			return fmt.Errorf("datastore: init schema_migrations: %w", err)
		}
	}
	return nil
}

func (s *ProviderFactory) getSchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := s.DB.QueryRowContext(ctx, "SELECT version FROM schema_migrations LIMIT 1").Scan(&version); err != nil {
		return 0, fmt.Errorf("datastore: read schema version: %w", err)
	}
	return version, nil
}

func (s *ProviderFactory) setSchemaVersion(ctx context.Context, version int) error {
	if _, err := s.DB.ExecContext(ctx, "UPDATE schema_migrations SET version = ?", version); err != nil {
		return fmt.Errorf("datastore: update schema version: %w", err)
	}
	return nil
}

func (s *ProviderFactory) execMigration(ctx context.Context, stmt string, ignoreErrors bool) error {
	if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
		if ignoreErrors {
			return nil
		}
		return fmt.Errorf("datastore: migrate: %w", err)
	}
	return nil
}

func formatDBTime(t time.Time) string {
	return t.UTC().Format(dbTimeLayout)
}

func parseDBTime(value string) (time.Time, error) {
	return time.ParseInLocation(dbTimeLayout, value, time.UTC)
}

// ---- Users ----

// UpsertUser archives a sighting of name. A connected sighting bumps the
// connection count and last_seen; a provisioning sighting only inserts.
func (s *baseProvider) UpsertUser(id model.UserID, name string, connected bool, at time.Time) error {
	if err := model.ValidateName(name); err != nil {
		return fmt.Errorf("datastore: upsert user: %w", err)
	}
	connections := 0
	if connected {
		connections = 1
	}
	ts := formatDBTime(at)
	_, err := s.ExecContext(context.Background(), `
		INSERT INTO users (name, last_user_id, connections, first_seen, last_seen)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			last_user_id = excluded.last_user_id,
			connections  = users.connections + excluded.connections,
			last_seen    = CASE WHEN excluded.connections > 0 THEN excluded.last_seen ELSE users.last_seen END`,
		name, int64(id), connections, ts, ts)
	if err != nil {
		return fmt.Errorf("datastore: upsert user: %w", err)
	}
	return nil
}

func scanUser(sc interface{ Scan(...any) error }) (model.User, error) {
	var u model.User
	var id int64
	var firstSeen, lastSeen string
	if err := sc.Scan(&u.Name, &id, &u.Connections, &firstSeen, &lastSeen); err != nil {
		return u, err
	}
	u.ID = model.UserID(id)
	var err error
	if u.FirstSeen, err = parseDBTime(firstSeen); err != nil {
		return u, err
	}
	if u.LastSeen, err = parseDBTime(lastSeen); err != nil {
		return u, err
	}
	return u, nil
}

// GetUser retrieves a user by name. It returns nil when the name was never seen.
func (s *baseProvider) GetUser(name string) (*model.User, error) {
	row := s.QueryRowContext(context.Background(),
		"SELECT name, last_user_id, connections, first_seen, last_seen FROM users WHERE name = ?", name)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("datastore: get user: %w", err)
	}
	return &u, nil
}

// ListUsers returns all users ordered by name.
func (s *baseProvider) ListUsers() ([]model.User, error) {
	rows, err := s.QueryContext(context.Background(),
		"SELECT name, last_user_id, connections, first_seen, last_seen FROM users ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("datastore: list users: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var users []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("datastore: scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// ---- Groups ----

// CreateGroup archives a group and its initial members. Run it inside Tx so
// the group never appears without its members.
func (s *baseProvider) CreateGroup(group *model.GroupRecord) error {
	if err := model.ValidateName(group.Name); err != nil {
		return fmt.Errorf("datastore: create group: %w", err)
	}
	if group.CreatedAt.IsZero() {
		group.CreatedAt = time.Now().UTC()
	}
	ctx := context.Background()
	ts := formatDBTime(group.CreatedAt)

	res, err := s.ExecContext(ctx,
		"INSERT INTO chat_groups (name, creator, created_at) VALUES (?, ?, ?)",
		group.Name, group.Creator, ts)
	if err != nil {
		return fmt.Errorf("datastore: create group: %w", err)
	}
	group.ID, _ = res.LastInsertId()

	for i, member := range group.Members {
		if _, err := s.ExecContext(ctx,
			"INSERT INTO group_members (group_id, member, position, joined_at) VALUES (?, ?, ?, ?)",
			group.ID, member, i, ts); err != nil {
			return fmt.Errorf("datastore: create group member: %w", err)
		}
	}
	return nil
}

// latestGroupID returns the id of the most recent group archived under name.
func (s *baseProvider) latestGroupID(ctx context.Context, name string) (int64, error) {
	var id int64
	err := s.QueryRowContext(ctx, "SELECT id FROM chat_groups WHERE name = ? ORDER BY id DESC LIMIT 1", name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s", ErrGroupNotFound, name)
	}
	return id, err
}

// AddGroupMember appends member to the latest group archived under group.
func (s *baseProvider) AddGroupMember(group, member string, at time.Time) error {
	ctx := context.Background()
	id, err := s.latestGroupID(ctx, group)
	if err != nil {
		return fmt.Errorf("datastore: add group member: %w", err)
	}
	_, err = s.ExecContext(ctx, `
		INSERT INTO group_members (group_id, member, position, joined_at)
		VALUES (?, ?, (SELECT COALESCE(MAX(position), -1) + 1 FROM group_members WHERE group_id = ?), ?)`,
		id, member, id, formatDBTime(at))
	if err != nil {
		return fmt.Errorf("datastore: add group member: %w", err)
	}
	return nil
}

// RemoveGroupMember marks member as having left the latest group archived under group.
func (s *baseProvider) RemoveGroupMember(group, member string, at time.Time) error {
	ctx := context.Background()
	id, err := s.latestGroupID(ctx, group)
	if err != nil {
		return fmt.Errorf("datastore: remove group member: %w", err)
	}
	_, err = s.ExecContext(ctx,
		"UPDATE group_members SET left_at = ? WHERE group_id = ? AND member = ? AND left_at IS NULL",
		formatDBTime(at), id, member)
	if err != nil {
		return fmt.Errorf("datastore: remove group member: %w", err)
	}
	return nil
}

// ListGroups returns all archived groups with their current members.
func (s *baseProvider) ListGroups() ([]model.GroupRecord, error) {
	ctx := context.Background()
	rows, err := s.QueryContext(ctx, "SELECT id, name, creator, created_at FROM chat_groups ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("datastore: list groups: %w", err)
	}

	var groups []model.GroupRecord
	for rows.Next() {
		var g model.GroupRecord
		var createdAt string
		if err := rows.Scan(&g.ID, &g.Name, &g.Creator, &createdAt); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("datastore: scan group: %w", err)
		}
		parsed, err := parseDBTime(createdAt)
		if err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("datastore: scan group: %w", err)
		}
		g.CreatedAt = parsed
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("datastore: list groups: %w", err)
	}
	_ = rows.Close()

	for i := range groups {
		members, err := s.listMembers(ctx, groups[i].ID)
		if err != nil {
			return nil, err
		}
		groups[i].Members = members
	}
	return groups, nil
}

func (s *baseProvider) listMembers(ctx context.Context, groupID int64) ([]string, error) {
	rows, err := s.QueryContext(ctx,
		"SELECT member FROM group_members WHERE group_id = ? AND left_at IS NULL ORDER BY position", groupID)
	if err != nil {
		return nil, fmt.Errorf("datastore: list group members: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var members []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, fmt.Errorf("datastore: scan group member: %w", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// ---- Poll results ----

func (s *baseProvider) CreatePollResult(result *model.PollResult) error {
	if result.Group == "" {
		return ErrPollNoGroup
	}
	res, err := s.ExecContext(context.Background(),
		"INSERT INTO poll_results (group_name, question, yes_votes, no_votes, reason, started_at, resolved_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		result.Group, result.Question, result.Yes, result.No, string(result.Reason),
		formatDBTime(result.StartedAt), formatDBTime(result.ResolvedAt))
	if err != nil {
		return fmt.Errorf("datastore: create poll result: %w", err)
	}
	result.ID, _ = res.LastInsertId()
	return nil
}

// ListPollResults returns poll outcomes, newest first.
func (s *baseProvider) ListPollResults(filters model.PollFilters) ([]model.PollResult, error) {
	query := `
		SELECT id, group_name, question, yes_votes, no_votes, reason, started_at, resolved_at
		FROM poll_results
		WHERE (? IS NULL OR group_name = ?)
		ORDER BY id DESC
		LIMIT COALESCE(?, 100)
		OFFSET COALESCE(?, 0)
	`

	rows, err := s.QueryContext(
		context.Background(),
		query,
		filters.LimitToGroup, filters.LimitToGroup,
		filters.PageSize,
		filters.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("datastore: list poll results: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var results []model.PollResult
	for rows.Next() {
		var r model.PollResult
		var reason, startedAt, resolvedAt string
		if err := rows.Scan(&r.ID, &r.Group, &r.Question, &r.Yes, &r.No, &reason, &startedAt, &resolvedAt); err != nil {
			return nil, fmt.Errorf("datastore: scan poll result: %w", err)
		}
		r.Reason = model.ResolveReason(reason)
		if r.StartedAt, err = parseDBTime(startedAt); err != nil {
			return nil, fmt.Errorf("datastore: scan poll result: %w", err)
		}
		if r.ResolvedAt, err = parseDBTime(resolvedAt); err != nil {
			return nil, fmt.Errorf("datastore: scan poll result: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
