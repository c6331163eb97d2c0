/*
Package sqlite provides a SQLite-backed implementation of ledger.Store.

PURPOSE:
  Embedded persistence for single-node deployments and integration tests.
  The same SQL patterns apply to PostgreSQL (see store/postgres) - only
  dialect details differ.

CAS IMPLEMENTATION:
  Every conditional update is a single UPDATE with the observed value in
  the WHERE clause; RowsAffected()==0 plus an existence probe
  distinguishes a lost race from a missing row. Balance and rating swaps
  additionally insert a keyed row into entries inside the same
  transaction; a primary-key collision there means the effect was
  already applied and surfaces as ErrDuplicateRecord with nothing
  written.

DECIMAL COLUMNS:
  balance_hours, duration_hours, and rating are stored as TEXT produced
  by decimal.String(). All writes go through this adapter, and
  decimal round-trips its own String() output byte-for-byte, so the
  value-equality WHERE clause on balance_hours is stable.

NAMING:
  Columns are snake_case; this file owns the entire mapping to the
  camelCase logical model. Nothing above the Store interface sees a
  snake_case name.

WAL MODE:
  The database is opened with WAL so readers don't block the writer.

SEE ALSO:
  - ledger/store.go: interface definitions and the CAS contract
  - ledger/store/memory.go: in-memory implementation for unit tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/timeshare/ledger-engine/ledger"
)

// Store implements ledger.Store on SQLite.
type Store struct {
	db *sql.DB
}

// New opens (and migrates) a SQLite store. Use ":memory:" for tests.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single writer at a time keeps SQLITE_BUSY out of the CAS path.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS profiles (
		id            TEXT PRIMARY KEY,
		name          TEXT NOT NULL,
		email         TEXT NOT NULL UNIQUE COLLATE NOCASE,
		phone         TEXT NOT NULL DEFAULT '',
		bio           TEXT NOT NULL DEFAULT '',
		avatar        TEXT NOT NULL DEFAULT '',
		balance_hours TEXT NOT NULL,
		rating        TEXT NOT NULL DEFAULT '0',
		review_count  INTEGER NOT NULL DEFAULT 0,
		is_admin      INTEGER NOT NULL DEFAULT 0,
		created_at    INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS entries (
		id         TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		profile_id TEXT NOT NULL,
		kind       TEXT NOT NULL,
		amount     TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_entries_session ON entries(session_id);

	CREATE TABLE IF NOT EXISTS skills (
		id          TEXT PRIMARY KEY,
		profile_id  TEXT NOT NULL REFERENCES profiles(id),
		name        TEXT NOT NULL,
		category    TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		position    INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_skills_profile ON skills(profile_id);

	CREATE TABLE IF NOT EXISTS sessions (
		id             TEXT PRIMARY KEY,
		requester_id   TEXT NOT NULL REFERENCES profiles(id),
		provider_id    TEXT NOT NULL REFERENCES profiles(id),
		skill_id       TEXT NOT NULL,
		skill_name     TEXT NOT NULL,
		duration_hours TEXT NOT NULL,
		status         TEXT NOT NULL,
		created_at     INTEGER NOT NULL,
		updated_at     INTEGER NOT NULL,
		scheduled_at   INTEGER,
		rating         TEXT,
		review         TEXT NOT NULL DEFAULT '',
		settled_at     INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_requester ON sessions(requester_id);
	CREATE INDEX IF NOT EXISTS idx_sessions_provider ON sessions(provider_id);
	CREATE INDEX IF NOT EXISTS idx_sessions_unsettled ON sessions(status, settled_at);

	CREATE TABLE IF NOT EXISTS invitations (
		id         TEXT PRIMARY KEY,
		contact    TEXT NOT NULL COLLATE NOCASE,
		invited_by TEXT NOT NULL,
		status     TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_invitations_contact ON invitations(contact, status);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// PROFILES
// =============================================================================

func (s *Store) CreateProfile(ctx context.Context, p ledger.Profile) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ledger.NewStoreError("create profile", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO profiles (id, name, email, phone, bio, avatar, balance_hours, rating, review_count, is_admin, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(p.ID), p.Name, ledger.NormalizeContact(p.Email), p.Phone, p.Bio, p.Avatar,
		p.Balance.String(), p.Rating.String(), p.ReviewCount, boolToInt(p.IsAdmin), p.CreatedAt.UnixMilli())
	if err != nil {
		if isUniqueViolation(err) {
			return ledger.ErrDuplicateRecord
		}
		return ledger.NewStoreError("create profile", err)
	}

	if err := replaceSkills(ctx, tx, p.ID, p.Skills); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return ledger.NewStoreError("create profile", err)
	}
	return nil
}

func (s *Store) GetProfile(ctx context.Context, id ledger.ProfileID) (*ledger.Profile, error) {
	return s.getProfileWhere(ctx, "id = ?", string(id))
}

func (s *Store) FindProfileByContact(ctx context.Context, contact string) (*ledger.Profile, error) {
	contact = ledger.NormalizeContact(contact)
	return s.getProfileWhere(ctx, "(lower(email) = ? OR (phone <> '' AND lower(phone) = ?))", contact, contact)
}

func (s *Store) getProfileWhere(ctx context.Context, where string, args ...any) (*ledger.Profile, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, email, phone, bio, avatar, balance_hours, rating, review_count, is_admin, created_at
		FROM profiles WHERE `+where, args...)

	p, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrProfileNotFound
	}
	if err != nil {
		return nil, ledger.NewStoreError("get profile", err)
	}

	skills, err := s.loadSkills(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	p.Skills = skills
	return p, nil
}

func (s *Store) ListProfiles(ctx context.Context) ([]ledger.Profile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, email, phone, bio, avatar, balance_hours, rating, review_count, is_admin, created_at
		FROM profiles ORDER BY id`)
	if err != nil {
		return nil, ledger.NewStoreError("list profiles", err)
	}
	defer rows.Close()

	var profiles []ledger.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, ledger.NewStoreError("list profiles", err)
		}
		profiles = append(profiles, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, ledger.NewStoreError("list profiles", err)
	}

	if err := s.attachSkills(ctx, profiles); err != nil {
		return nil, err
	}
	return profiles, nil
}

func (s *Store) UpdateProfileFields(ctx context.Context, id ledger.ProfileID, update ledger.ProfileUpdate) (*ledger.Profile, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, ledger.NewStoreError("update profile", err)
	}
	defer tx.Rollback()

	var sets []string
	var args []any
	add := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}
	if update.Name != nil {
		add("name", *update.Name)
	}
	if update.Phone != nil {
		add("phone", *update.Phone)
	}
	if update.Bio != nil {
		add("bio", *update.Bio)
	}
	if update.Avatar != nil {
		add("avatar", *update.Avatar)
	}

	if len(sets) > 0 {
		args = append(args, string(id))
		res, err := tx.ExecContext(ctx, "UPDATE profiles SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
		if err != nil {
			return nil, ledger.NewStoreError("update profile", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil, ledger.ErrProfileNotFound
		}
	}

	if update.Skills != nil {
		if _, err := tx.ExecContext(ctx, `DELETE FROM skills WHERE profile_id = ?`, string(id)); err != nil {
			return nil, ledger.NewStoreError("update profile skills", err)
		}
		if err := replaceSkills(ctx, tx, id, *update.Skills); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, ledger.NewStoreError("update profile", err)
	}
	return s.GetProfile(ctx, id)
}

func (s *Store) SwapBalance(ctx context.Context, id ledger.ProfileID, observed, next ledger.Hours, entry ledger.BalanceEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ledger.NewStoreError("swap balance", err)
	}
	defer tx.Rollback()

	if err := insertEntry(ctx, tx, entry); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE profiles SET balance_hours = ? WHERE id = ? AND balance_hours = ?`,
		next.String(), string(id), observed.String())
	if err != nil {
		return ledger.NewStoreError("swap balance", err)
	}
	if err := txSwapResult(ctx, tx, res, "profiles", string(id), ledger.ErrProfileNotFound); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return ledger.NewStoreError("swap balance", err)
	}
	return nil
}

func (s *Store) SwapRating(ctx context.Context, id ledger.ProfileID, observedCount int, rating decimal.Decimal, count int, entry ledger.BalanceEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ledger.NewStoreError("swap rating", err)
	}
	defer tx.Rollback()

	if err := insertEntry(ctx, tx, entry); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE profiles SET rating = ?, review_count = ? WHERE id = ? AND review_count = ?`,
		rating.String(), count, string(id), observedCount)
	if err != nil {
		return ledger.NewStoreError("swap rating", err)
	}
	if err := txSwapResult(ctx, tx, res, "profiles", string(id), ledger.ErrProfileNotFound); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return ledger.NewStoreError("swap rating", err)
	}
	return nil
}

func (s *Store) GetEntry(ctx context.Context, id ledger.EntryID) (*ledger.BalanceEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, session_id, profile_id, kind, amount, created_at FROM entries WHERE id = ?`,
		string(id))

	var e ledger.BalanceEntry
	var amount string
	var createdAt int64
	err := row.Scan(&e.ID, &e.SessionID, &e.ProfileID, &e.Kind, &amount, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrEntryNotFound
	}
	if err != nil {
		return nil, ledger.NewStoreError("get entry", err)
	}
	e.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("bad entry amount %q: %w", amount, err)
	}
	e.CreatedAt = time.UnixMilli(createdAt)
	return &e, nil
}

// insertEntry records an idempotency entry inside tx. A primary-key
// collision means the guarded effect was already applied.
func insertEntry(ctx context.Context, tx *sql.Tx, entry ledger.BalanceEntry) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO entries (id, session_id, profile_id, kind, amount, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		string(entry.ID), string(entry.SessionID), string(entry.ProfileID),
		string(entry.Kind), entry.Amount.String(), entry.CreatedAt.UnixMilli())
	if err != nil {
		if isUniqueViolation(err) {
			return ledger.ErrDuplicateRecord
		}
		return ledger.NewStoreError("record entry", err)
	}
	return nil
}

// =============================================================================
// SESSIONS
// =============================================================================

func (s *Store) CreateSession(ctx context.Context, sess ledger.Session) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, requester_id, provider_id, skill_id, skill_name, duration_hours, status, created_at, updated_at, scheduled_at, rating, review, settled_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(sess.ID), string(sess.RequesterID), string(sess.ProviderID),
		string(sess.SkillID), sess.SkillName, sess.Duration.String(), string(sess.Status),
		sess.CreatedAt.UnixMilli(), sess.UpdatedAt.UnixMilli(), timePtrToMillis(sess.ScheduledAt),
		decimalPtrToString(sess.Rating), sess.Review, timePtrToMillis(sess.SettledAt))
	if err != nil {
		if isUniqueViolation(err) {
			return ledger.ErrDuplicateRecord
		}
		return ledger.NewStoreError("create session", err)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, id ledger.SessionID) (*ledger.Session, error) {
	row := s.db.QueryRowContext(ctx, sessionSelect+` WHERE id = ?`, string(id))
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrSessionNotFound
	}
	if err != nil {
		return nil, ledger.NewStoreError("get session", err)
	}
	return sess, nil
}

func (s *Store) ListSessions(ctx context.Context, filter ledger.SessionFilter) ([]ledger.Session, error) {
	query := sessionSelect
	var conds []string
	var args []any
	if filter.Participant != nil {
		conds = append(conds, "(requester_id = ? OR provider_id = ?)")
		args = append(args, string(*filter.Participant), string(*filter.Participant))
	}
	if filter.Status != nil {
		conds = append(conds, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC"

	return s.querySessions(ctx, query, args...)
}

func (s *Store) SwapSessionStatus(ctx context.Context, id ledger.SessionID, from, to ledger.SessionStatus, outcome *ledger.SessionOutcome) error {
	var res sql.Result
	var err error
	now := time.Now().UnixMilli()
	if outcome != nil {
		res, err = s.db.ExecContext(ctx,
			`UPDATE sessions SET status = ?, updated_at = ?, rating = ?, review = ? WHERE id = ? AND status = ?`,
			string(to), now, outcome.Rating.String(), outcome.Review, string(id), string(from))
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE sessions SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
			string(to), now, string(id), string(from))
	}
	if err != nil {
		return ledger.NewStoreError("swap session status", err)
	}
	return s.swapResult(ctx, res, "sessions", string(id), ledger.ErrSessionNotFound)
}

func (s *Store) MarkSessionSettled(ctx context.Context, id ledger.SessionID, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET settled_at = ? WHERE id = ? AND settled_at IS NULL`,
		at.UnixMilli(), string(id))
	if err != nil {
		return ledger.NewStoreError("mark session settled", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Already settled is a no-op; only a missing row is an error.
		if exists, err := s.rowExists(ctx, "sessions", string(id)); err != nil {
			return err
		} else if !exists {
			return ledger.ErrSessionNotFound
		}
	}
	return nil
}

func (s *Store) ListUnsettledSessions(ctx context.Context, cutoff time.Time) ([]ledger.Session, error) {
	return s.querySessions(ctx,
		sessionSelect+` WHERE status IN (?, ?) AND settled_at IS NULL AND updated_at <= ? ORDER BY updated_at`,
		string(ledger.SessionCompleted), string(ledger.SessionCancelled), cutoff.UnixMilli())
}

// =============================================================================
// INVITATIONS
// =============================================================================

func (s *Store) CreateInvitation(ctx context.Context, inv ledger.Invitation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO invitations (id, contact, invited_by, status, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		string(inv.ID), ledger.NormalizeContact(inv.Contact), string(inv.InvitedBy),
		string(inv.Status), inv.CreatedAt.UnixMilli())
	if err != nil {
		if isUniqueViolation(err) {
			return ledger.ErrDuplicateRecord
		}
		return ledger.NewStoreError("create invitation", err)
	}
	return nil
}

func (s *Store) GetInvitation(ctx context.Context, id ledger.InvitationID) (*ledger.Invitation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, contact, invited_by, status, created_at FROM invitations WHERE id = ?`, string(id))
	inv, err := scanInvitation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrInvitationNotFound
	}
	if err != nil {
		return nil, ledger.NewStoreError("get invitation", err)
	}
	return inv, nil
}

func (s *Store) FindPendingInvitation(ctx context.Context, contact string) (*ledger.Invitation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, contact, invited_by, status, created_at FROM invitations
		WHERE lower(contact) = ? AND status = ? ORDER BY created_at LIMIT 1`,
		ledger.NormalizeContact(contact), string(ledger.InvitationPending))
	inv, err := scanInvitation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrInvitationNotFound
	}
	if err != nil {
		return nil, ledger.NewStoreError("find pending invitation", err)
	}
	return inv, nil
}

func (s *Store) ListInvitations(ctx context.Context, filter ledger.InvitationFilter) ([]ledger.Invitation, error) {
	query := `SELECT id, contact, invited_by, status, created_at FROM invitations`
	var conds []string
	var args []any
	if filter.InvitedBy != nil {
		conds = append(conds, "invited_by = ?")
		args = append(args, string(*filter.InvitedBy))
	}
	if filter.Status != nil {
		conds = append(conds, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, ledger.NewStoreError("list invitations", err)
	}
	defer rows.Close()

	var invs []ledger.Invitation
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, ledger.NewStoreError("list invitations", err)
		}
		invs = append(invs, *inv)
	}
	if err := rows.Err(); err != nil {
		return nil, ledger.NewStoreError("list invitations", err)
	}
	return invs, nil
}

func (s *Store) SwapInvitationStatus(ctx context.Context, id ledger.InvitationID, from, to ledger.InvitationStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE invitations SET status = ? WHERE id = ? AND status = ?`,
		string(to), string(id), string(from))
	if err != nil {
		return ledger.NewStoreError("swap invitation status", err)
	}
	return s.swapResult(ctx, res, "invitations", string(id), ledger.ErrInvitationNotFound)
}

// =============================================================================
// SCAN HELPERS
// =============================================================================

const sessionSelect = `
	SELECT id, requester_id, provider_id, skill_id, skill_name, duration_hours,
	       status, created_at, updated_at, scheduled_at, rating, review, settled_at
	FROM sessions`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(r rowScanner) (*ledger.Profile, error) {
	var p ledger.Profile
	var balance, rating string
	var isAdmin int
	var createdAt int64
	err := r.Scan(&p.ID, &p.Name, &p.Email, &p.Phone, &p.Bio, &p.Avatar,
		&balance, &rating, &p.ReviewCount, &isAdmin, &createdAt)
	if err != nil {
		return nil, err
	}
	p.Balance = ledger.ParseHours(balance)
	p.Rating, err = decimal.NewFromString(rating)
	if err != nil {
		return nil, fmt.Errorf("bad rating %q: %w", rating, err)
	}
	p.IsAdmin = isAdmin != 0
	p.CreatedAt = time.UnixMilli(createdAt)
	return &p, nil
}

func scanSession(r rowScanner) (*ledger.Session, error) {
	var sess ledger.Session
	var duration string
	var rating sql.NullString
	var createdAt, updatedAt int64
	var scheduledAt, settledAt sql.NullInt64
	err := r.Scan(&sess.ID, &sess.RequesterID, &sess.ProviderID, &sess.SkillID, &sess.SkillName,
		&duration, &sess.Status, &createdAt, &updatedAt, &scheduledAt, &rating, &sess.Review, &settledAt)
	if err != nil {
		return nil, err
	}
	sess.Duration = ledger.ParseHours(duration)
	sess.CreatedAt = time.UnixMilli(createdAt)
	sess.UpdatedAt = time.UnixMilli(updatedAt)
	if scheduledAt.Valid {
		t := time.UnixMilli(scheduledAt.Int64)
		sess.ScheduledAt = &t
	}
	if settledAt.Valid {
		t := time.UnixMilli(settledAt.Int64)
		sess.SettledAt = &t
	}
	if rating.Valid {
		d, err := decimal.NewFromString(rating.String)
		if err != nil {
			return nil, fmt.Errorf("bad rating %q: %w", rating.String, err)
		}
		sess.Rating = &d
	}
	return &sess, nil
}

func scanInvitation(r rowScanner) (*ledger.Invitation, error) {
	var inv ledger.Invitation
	var createdAt int64
	err := r.Scan(&inv.ID, &inv.Contact, &inv.InvitedBy, &inv.Status, &createdAt)
	if err != nil {
		return nil, err
	}
	inv.CreatedAt = time.UnixMilli(createdAt)
	return &inv, nil
}

func (s *Store) querySessions(ctx context.Context, query string, args ...any) ([]ledger.Session, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, ledger.NewStoreError("list sessions", err)
	}
	defer rows.Close()

	var sessions []ledger.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, ledger.NewStoreError("list sessions", err)
		}
		sessions = append(sessions, *sess)
	}
	if err := rows.Err(); err != nil {
		return nil, ledger.NewStoreError("list sessions", err)
	}
	return sessions, nil
}

func (s *Store) loadSkills(ctx context.Context, id ledger.ProfileID) ([]ledger.Skill, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, category, description FROM skills WHERE profile_id = ? ORDER BY position`, string(id))
	if err != nil {
		return nil, ledger.NewStoreError("load skills", err)
	}
	defer rows.Close()

	var skills []ledger.Skill
	for rows.Next() {
		var sk ledger.Skill
		if err := rows.Scan(&sk.ID, &sk.Name, &sk.Category, &sk.Description); err != nil {
			return nil, ledger.NewStoreError("load skills", err)
		}
		skills = append(skills, sk)
	}
	return skills, rows.Err()
}

func (s *Store) attachSkills(ctx context.Context, profiles []ledger.Profile) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT profile_id, id, name, category, description FROM skills ORDER BY profile_id, position`)
	if err != nil {
		return ledger.NewStoreError("load skills", err)
	}
	defer rows.Close()

	byProfile := make(map[ledger.ProfileID][]ledger.Skill)
	for rows.Next() {
		var pid ledger.ProfileID
		var sk ledger.Skill
		if err := rows.Scan(&pid, &sk.ID, &sk.Name, &sk.Category, &sk.Description); err != nil {
			return ledger.NewStoreError("load skills", err)
		}
		byProfile[pid] = append(byProfile[pid], sk)
	}
	if err := rows.Err(); err != nil {
		return ledger.NewStoreError("load skills", err)
	}

	for i := range profiles {
		profiles[i].Skills = byProfile[profiles[i].ID]
	}
	return nil
}

func replaceSkills(ctx context.Context, tx *sql.Tx, id ledger.ProfileID, skills []ledger.Skill) error {
	for i, sk := range skills {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO skills (id, profile_id, name, category, description, position)
			VALUES (?, ?, ?, ?, ?, ?)`,
			string(sk.ID), string(id), sk.Name, sk.Category, sk.Description, i)
		if err != nil {
			return ledger.NewStoreError("insert skill", err)
		}
	}
	return nil
}

// swapResult turns RowsAffected()==0 into not-found or a lost CAS race.
func (s *Store) swapResult(ctx context.Context, res sql.Result, table, id string, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return ledger.NewStoreError("swap "+table, err)
	}
	if n > 0 {
		return nil
	}
	exists, err := s.rowExists(ctx, table, id)
	if err != nil {
		return err
	}
	if !exists {
		return notFound
	}
	return ledger.ErrConcurrentModification
}

// txSwapResult is swapResult inside an open transaction. The existence
// probe must run on tx: the pool holds a single connection and a probe
// through s.db would wait on it forever.
func txSwapResult(ctx context.Context, tx *sql.Tx, res sql.Result, table, id string, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return ledger.NewStoreError("swap "+table, err)
	}
	if n > 0 {
		return nil
	}
	var one int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM `+table+` WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound
	}
	if err != nil {
		return ledger.NewStoreError("probe "+table, err)
	}
	return ledger.ErrConcurrentModification
}

func (s *Store) rowExists(ctx context.Context, table, id string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM `+table+` WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, ledger.NewStoreError("probe "+table, err)
	}
	return true, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func timePtrToMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func decimalPtrToString(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
