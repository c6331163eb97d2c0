/*
Package postgres provides a PostgreSQL-backed implementation of
ledger.Store using a pgx connection pool.

PURPOSE:
  Production persistence. Mirrors the SQLite adapter's schema and CAS
  approach (conditional UPDATE, rows-affected check); the pool makes it
  safe for many concurrent request handlers across processes, which is
  exactly the deployment the engine's CAS contract is designed for.

DECIMAL COLUMNS:
  balance_hours, duration_hours, and rating are NUMERIC. Values cross the
  wire as text (decimal.String() on the way in, ::text casts on the way
  out); the CAS WHERE clause compares NUMERIC to NUMERIC, so equality is
  by value, not by lexical representation.

SEE ALSO:
  - ledger/store.go: interface definitions and the CAS contract
  - store/sqlite: the embedded counterpart
*/
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/timeshare/ledger-engine/ledger"
)

// Store implements ledger.Store on PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// PoolConfig tunes the pgx connection pool.
type PoolConfig struct {
	MaxConns int32
	MinConns int32
}

// New connects, verifies the database is reachable, and migrates.
func New(ctx context.Context, dsn string, cfg PoolConfig) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = cfg.MinConns
	}
	poolConfig.MaxConnLifetime = 1 * time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database unreachable: %w", err)
	}

	store := &Store{pool: pool}
	if err := store.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return store, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS profiles (
		id            TEXT PRIMARY KEY,
		name          TEXT NOT NULL,
		email         TEXT NOT NULL,
		phone         TEXT NOT NULL DEFAULT '',
		bio           TEXT NOT NULL DEFAULT '',
		avatar        TEXT NOT NULL DEFAULT '',
		balance_hours NUMERIC NOT NULL,
		rating        NUMERIC NOT NULL DEFAULT 0,
		review_count  INTEGER NOT NULL DEFAULT 0,
		is_admin      BOOLEAN NOT NULL DEFAULT FALSE,
		created_at    BIGINT NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_profiles_email ON profiles(lower(email));

	CREATE TABLE IF NOT EXISTS entries (
		id         TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		profile_id TEXT NOT NULL,
		kind       TEXT NOT NULL,
		amount     NUMERIC NOT NULL,
		created_at BIGINT NOT NULL
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
		duration_hours NUMERIC NOT NULL,
		status         TEXT NOT NULL,
		created_at     BIGINT NOT NULL,
		updated_at     BIGINT NOT NULL,
		scheduled_at   BIGINT,
		rating         NUMERIC,
		review         TEXT NOT NULL DEFAULT '',
		settled_at     BIGINT
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_requester ON sessions(requester_id);
	CREATE INDEX IF NOT EXISTS idx_sessions_provider ON sessions(provider_id);
	CREATE INDEX IF NOT EXISTS idx_sessions_unsettled ON sessions(status, settled_at);

	CREATE TABLE IF NOT EXISTS invitations (
		id         TEXT PRIMARY KEY,
		contact    TEXT NOT NULL,
		invited_by TEXT NOT NULL,
		status     TEXT NOT NULL,
		created_at BIGINT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_invitations_contact ON invitations(lower(contact), status);
	`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// =============================================================================
// PROFILES
// =============================================================================

func (s *Store) CreateProfile(ctx context.Context, p ledger.Profile) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return ledger.NewStoreError("create profile", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO profiles (id, name, email, phone, bio, avatar, balance_hours, rating, review_count, is_admin, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8::numeric, $9, $10, $11)`,
		string(p.ID), p.Name, ledger.NormalizeContact(p.Email), p.Phone, p.Bio, p.Avatar,
		p.Balance.String(), p.Rating.String(), p.ReviewCount, p.IsAdmin, p.CreatedAt.UnixMilli())
	if err != nil {
		if isUniqueViolation(err) {
			return ledger.ErrDuplicateRecord
		}
		return ledger.NewStoreError("create profile", err)
	}

	for i, sk := range p.Skills {
		if err := insertSkill(ctx, tx, p.ID, sk, i); err != nil {
			return err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return ledger.NewStoreError("create profile", err)
	}
	return nil
}

const profileSelect = `
	SELECT id, name, email, phone, bio, avatar, balance_hours::text, rating::text, review_count, is_admin, created_at
	FROM profiles`

func (s *Store) GetProfile(ctx context.Context, id ledger.ProfileID) (*ledger.Profile, error) {
	return s.getProfileWhere(ctx, `WHERE id = $1`, string(id))
}

func (s *Store) FindProfileByContact(ctx context.Context, contact string) (*ledger.Profile, error) {
	contact = ledger.NormalizeContact(contact)
	return s.getProfileWhere(ctx, `WHERE lower(email) = $1 OR (phone <> '' AND lower(phone) = $1)`, contact)
}

func (s *Store) getProfileWhere(ctx context.Context, where string, args ...any) (*ledger.Profile, error) {
	row := s.pool.QueryRow(ctx, profileSelect+" "+where, args...)
	p, err := scanProfile(row)
	if errors.Is(err, pgx.ErrNoRows) {
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
	rows, err := s.pool.Query(ctx, profileSelect+` ORDER BY id`)
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
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, ledger.NewStoreError("update profile", err)
	}
	defer tx.Rollback(ctx)

	var sets []string
	var args []any
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
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
		query := fmt.Sprintf("UPDATE profiles SET %s WHERE id = $%d", strings.Join(sets, ", "), len(args))
		tag, err := tx.Exec(ctx, query, args...)
		if err != nil {
			return nil, ledger.NewStoreError("update profile", err)
		}
		if tag.RowsAffected() == 0 {
			return nil, ledger.ErrProfileNotFound
		}
	}

	if update.Skills != nil {
		if _, err := tx.Exec(ctx, `DELETE FROM skills WHERE profile_id = $1`, string(id)); err != nil {
			return nil, ledger.NewStoreError("update profile skills", err)
		}
		for i, sk := range *update.Skills {
			if err := insertSkill(ctx, tx, id, sk, i); err != nil {
				return nil, err
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, ledger.NewStoreError("update profile", err)
	}
	return s.GetProfile(ctx, id)
}

func (s *Store) SwapBalance(ctx context.Context, id ledger.ProfileID, observed, next ledger.Hours, entry ledger.BalanceEntry) error {
	return s.entrySwap(ctx, "swap balance", entry, string(id),
		`UPDATE profiles SET balance_hours = $1::numeric WHERE id = $2 AND balance_hours = $3::numeric`,
		next.String(), string(id), observed.String())
}

func (s *Store) SwapRating(ctx context.Context, id ledger.ProfileID, observedCount int, rating decimal.Decimal, count int, entry ledger.BalanceEntry) error {
	return s.entrySwap(ctx, "swap rating", entry, string(id),
		`UPDATE profiles SET rating = $1::numeric, review_count = $2 WHERE id = $3 AND review_count = $4`,
		rating.String(), count, string(id), observedCount)
}

// entrySwap runs a conditional profile update and the idempotency-entry
// insert in one transaction. An entry-id collision rolls back and
// reports ErrDuplicateRecord: the effect was already applied.
func (s *Store) entrySwap(ctx context.Context, op string, entry ledger.BalanceEntry, profileID, query string, args ...any) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return ledger.NewStoreError(op, err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO entries (id, session_id, profile_id, kind, amount, created_at)
		VALUES ($1, $2, $3, $4, $5::numeric, $6)`,
		string(entry.ID), string(entry.SessionID), string(entry.ProfileID),
		string(entry.Kind), entry.Amount.String(), entry.CreatedAt.UnixMilli())
	if err != nil {
		if isUniqueViolation(err) {
			return ledger.ErrDuplicateRecord
		}
		return ledger.NewStoreError("record entry", err)
	}

	tag, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return ledger.NewStoreError(op, err)
	}
	if tag.RowsAffected() == 0 {
		var one int
		err = tx.QueryRow(ctx, `SELECT 1 FROM profiles WHERE id = $1`, profileID).Scan(&one)
		if errors.Is(err, pgx.ErrNoRows) {
			return ledger.ErrProfileNotFound
		}
		if err != nil {
			return ledger.NewStoreError("probe profiles", err)
		}
		return ledger.ErrConcurrentModification
	}
	if err := tx.Commit(ctx); err != nil {
		return ledger.NewStoreError(op, err)
	}
	return nil
}

func (s *Store) GetEntry(ctx context.Context, id ledger.EntryID) (*ledger.BalanceEntry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, session_id, profile_id, kind, amount::text, created_at FROM entries WHERE id = $1`,
		string(id))

	var e ledger.BalanceEntry
	var entryID, sessionID, profileID, kind, amount string
	var createdAt int64
	err := row.Scan(&entryID, &sessionID, &profileID, &kind, &amount, &createdAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ledger.ErrEntryNotFound
	}
	if err != nil {
		return nil, ledger.NewStoreError("get entry", err)
	}
	e.ID = ledger.EntryID(entryID)
	e.SessionID = ledger.SessionID(sessionID)
	e.ProfileID = ledger.ProfileID(profileID)
	e.Kind = ledger.EntryKind(kind)
	e.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("bad entry amount %q: %w", amount, err)
	}
	e.CreatedAt = time.UnixMilli(createdAt)
	return &e, nil
}

// =============================================================================
// SESSIONS
// =============================================================================

const sessionSelect = `
	SELECT id, requester_id, provider_id, skill_id, skill_name, duration_hours::text,
	       status, created_at, updated_at, scheduled_at, rating::text, review, settled_at
	FROM sessions`

func (s *Store) CreateSession(ctx context.Context, sess ledger.Session) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sessions (id, requester_id, provider_id, skill_id, skill_name, duration_hours, status, created_at, updated_at, scheduled_at, rating, review, settled_at)
		VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8, $9, $10, $11::numeric, $12, $13)`,
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
	row := s.pool.QueryRow(ctx, sessionSelect+` WHERE id = $1`, string(id))
	sess, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
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
		args = append(args, string(*filter.Participant))
		conds = append(conds, fmt.Sprintf("(requester_id = $%d OR provider_id = $%d)", len(args), len(args)))
	}
	if filter.Status != nil {
		args = append(args, string(*filter.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC"

	return s.querySessions(ctx, query, args...)
}

func (s *Store) SwapSessionStatus(ctx context.Context, id ledger.SessionID, from, to ledger.SessionStatus, outcome *ledger.SessionOutcome) error {
	var tag pgconn.CommandTag
	var err error
	now := time.Now().UnixMilli()
	if outcome != nil {
		tag, err = s.pool.Exec(ctx,
			`UPDATE sessions SET status = $1, updated_at = $2, rating = $3::numeric, review = $4 WHERE id = $5 AND status = $6`,
			string(to), now, outcome.Rating.String(), outcome.Review, string(id), string(from))
	} else {
		tag, err = s.pool.Exec(ctx,
			`UPDATE sessions SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`,
			string(to), now, string(id), string(from))
	}
	if err != nil {
		return ledger.NewStoreError("swap session status", err)
	}
	return s.swapResult(ctx, tag, "sessions", string(id), ledger.ErrSessionNotFound)
}

func (s *Store) MarkSessionSettled(ctx context.Context, id ledger.SessionID, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sessions SET settled_at = $1 WHERE id = $2 AND settled_at IS NULL`,
		at.UnixMilli(), string(id))
	if err != nil {
		return ledger.NewStoreError("mark session settled", err)
	}
	if tag.RowsAffected() == 0 {
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
		sessionSelect+` WHERE status = ANY($1) AND settled_at IS NULL AND updated_at <= $2 ORDER BY updated_at`,
		[]string{string(ledger.SessionCompleted), string(ledger.SessionCancelled)}, cutoff.UnixMilli())
}

// =============================================================================
// INVITATIONS
// =============================================================================

func (s *Store) CreateInvitation(ctx context.Context, inv ledger.Invitation) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO invitations (id, contact, invited_by, status, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
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
	row := s.pool.QueryRow(ctx,
		`SELECT id, contact, invited_by, status, created_at FROM invitations WHERE id = $1`, string(id))
	inv, err := scanInvitation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ledger.ErrInvitationNotFound
	}
	if err != nil {
		return nil, ledger.NewStoreError("get invitation", err)
	}
	return inv, nil
}

func (s *Store) FindPendingInvitation(ctx context.Context, contact string) (*ledger.Invitation, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, contact, invited_by, status, created_at FROM invitations
		WHERE lower(contact) = $1 AND status = $2 ORDER BY created_at LIMIT 1`,
		ledger.NormalizeContact(contact), string(ledger.InvitationPending))
	inv, err := scanInvitation(row)
	if errors.Is(err, pgx.ErrNoRows) {
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
		args = append(args, string(*filter.InvitedBy))
		conds = append(conds, fmt.Sprintf("invited_by = $%d", len(args)))
	}
	if filter.Status != nil {
		args = append(args, string(*filter.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.pool.Query(ctx, query, args...)
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
	tag, err := s.pool.Exec(ctx,
		`UPDATE invitations SET status = $1 WHERE id = $2 AND status = $3`,
		string(to), string(id), string(from))
	if err != nil {
		return ledger.NewStoreError("swap invitation status", err)
	}
	return s.swapResult(ctx, tag, "invitations", string(id), ledger.ErrInvitationNotFound)
}

// =============================================================================
// SCAN HELPERS
// =============================================================================

func scanProfile(row pgx.Row) (*ledger.Profile, error) {
	var p ledger.Profile
	var id string
	var balance, rating string
	var createdAt int64
	err := row.Scan(&id, &p.Name, &p.Email, &p.Phone, &p.Bio, &p.Avatar,
		&balance, &rating, &p.ReviewCount, &p.IsAdmin, &createdAt)
	if err != nil {
		return nil, err
	}
	p.ID = ledger.ProfileID(id)
	p.Balance = ledger.ParseHours(balance)
	p.Rating, err = decimal.NewFromString(rating)
	if err != nil {
		return nil, fmt.Errorf("bad rating %q: %w", rating, err)
	}
	p.CreatedAt = time.UnixMilli(createdAt)
	return &p, nil
}

func scanSession(row pgx.Row) (*ledger.Session, error) {
	var sess ledger.Session
	var id, requester, provider, skillID, status, duration string
	var rating *string
	var createdAt, updatedAt int64
	var scheduledAt, settledAt *int64
	err := row.Scan(&id, &requester, &provider, &skillID, &sess.SkillName,
		&duration, &status, &createdAt, &updatedAt, &scheduledAt, &rating, &sess.Review, &settledAt)
	if err != nil {
		return nil, err
	}
	sess.ID = ledger.SessionID(id)
	sess.RequesterID = ledger.ProfileID(requester)
	sess.ProviderID = ledger.ProfileID(provider)
	sess.SkillID = ledger.SkillID(skillID)
	sess.Status = ledger.SessionStatus(status)
	sess.Duration = ledger.ParseHours(duration)
	sess.CreatedAt = time.UnixMilli(createdAt)
	sess.UpdatedAt = time.UnixMilli(updatedAt)
	if scheduledAt != nil {
		t := time.UnixMilli(*scheduledAt)
		sess.ScheduledAt = &t
	}
	if settledAt != nil {
		t := time.UnixMilli(*settledAt)
		sess.SettledAt = &t
	}
	if rating != nil {
		d, err := decimal.NewFromString(*rating)
		if err != nil {
			return nil, fmt.Errorf("bad rating %q: %w", *rating, err)
		}
		sess.Rating = &d
	}
	return &sess, nil
}

func scanInvitation(row pgx.Row) (*ledger.Invitation, error) {
	var inv ledger.Invitation
	var id, invitedBy, status string
	var createdAt int64
	err := row.Scan(&id, &inv.Contact, &invitedBy, &status, &createdAt)
	if err != nil {
		return nil, err
	}
	inv.ID = ledger.InvitationID(id)
	inv.InvitedBy = ledger.ProfileID(invitedBy)
	inv.Status = ledger.InvitationStatus(status)
	inv.CreatedAt = time.UnixMilli(createdAt)
	return &inv, nil
}

func (s *Store) querySessions(ctx context.Context, query string, args ...any) ([]ledger.Session, error) {
	rows, err := s.pool.Query(ctx, query, args...)
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
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, category, description FROM skills WHERE profile_id = $1 ORDER BY position`, string(id))
	if err != nil {
		return nil, ledger.NewStoreError("load skills", err)
	}
	defer rows.Close()

	var skills []ledger.Skill
	for rows.Next() {
		var skID string
		var sk ledger.Skill
		if err := rows.Scan(&skID, &sk.Name, &sk.Category, &sk.Description); err != nil {
			return nil, ledger.NewStoreError("load skills", err)
		}
		sk.ID = ledger.SkillID(skID)
		skills = append(skills, sk)
	}
	return skills, rows.Err()
}

func (s *Store) attachSkills(ctx context.Context, profiles []ledger.Profile) error {
	rows, err := s.pool.Query(ctx,
		`SELECT profile_id, id, name, category, description FROM skills ORDER BY profile_id, position`)
	if err != nil {
		return ledger.NewStoreError("load skills", err)
	}
	defer rows.Close()

	byProfile := make(map[ledger.ProfileID][]ledger.Skill)
	for rows.Next() {
		var pid, skID string
		var sk ledger.Skill
		if err := rows.Scan(&pid, &skID, &sk.Name, &sk.Category, &sk.Description); err != nil {
			return ledger.NewStoreError("load skills", err)
		}
		sk.ID = ledger.SkillID(skID)
		byProfile[ledger.ProfileID(pid)] = append(byProfile[ledger.ProfileID(pid)], sk)
	}
	if err := rows.Err(); err != nil {
		return ledger.NewStoreError("load skills", err)
	}

	for i := range profiles {
		profiles[i].Skills = byProfile[profiles[i].ID]
	}
	return nil
}

func insertSkill(ctx context.Context, tx pgx.Tx, id ledger.ProfileID, sk ledger.Skill, position int) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO skills (id, profile_id, name, category, description, position)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		string(sk.ID), string(id), sk.Name, sk.Category, sk.Description, position)
	if err != nil {
		return ledger.NewStoreError("insert skill", err)
	}
	return nil
}

// swapResult turns RowsAffected()==0 into not-found or a lost CAS race.
func (s *Store) swapResult(ctx context.Context, tag pgconn.CommandTag, table, id string, notFound error) error {
	if tag.RowsAffected() > 0 {
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

func (s *Store) rowExists(ctx context.Context, table, id string) (bool, error) {
	var one int
	err := s.pool.QueryRow(ctx, `SELECT 1 FROM `+table+` WHERE id = $1`, id).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, ledger.NewStoreError("probe "+table, err)
	}
	return true, nil
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
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
