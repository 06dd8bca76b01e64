// internal/database/postgres.go
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"gator-clubs/internal/models"
	"gator-clubs/internal/utils"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

// PostgresDB represents a PostgreSQL database connection
type PostgresDB struct {
	pgQueries
	DB  *sqlx.DB
	log *zap.Logger
}

// NewPostgresDB creates a new PostgreSQL database connection
func NewPostgresDB(connectionString string, logger *zap.Logger) (*PostgresDB, error) {
	db, err := sqlx.Connect("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	logger.Info("connected to PostgreSQL")

	return &PostgresDB{
		pgQueries: pgQueries{q: db},
		DB:        db,
		log:       logger,
	}, nil
}

// Close closes the database connection
func (p *PostgresDB) Close(ctx context.Context) error {
	p.log.Info("closing PostgreSQL connection")
	return p.DB.Close()
}

// InitializeTables creates all necessary tables if they don't exist
func (p *PostgresDB) InitializeTables(ctx context.Context) error {
	statements := []struct {
		name string
		sql  string
	}{
		{"communities", `
			CREATE TABLE IF NOT EXISTS communities (
				id UUID PRIMARY KEY,
				name VARCHAR(100) UNIQUE NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				visibility VARCHAR(16) NOT NULL,
				type VARCHAR(32) NOT NULL,
				location_name VARCHAR(200) NOT NULL DEFAULT '',
				latitude DOUBLE PRECISION,
				longitude DOUBLE PRECISION,
				radius_km DOUBLE PRECISION NOT NULL DEFAULT 5,
				created_by UUID NOT NULL,
				member_count INTEGER NOT NULL DEFAULT 0,
				post_count INTEGER NOT NULL DEFAULT 0,
				created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
				tags TEXT[] NOT NULL DEFAULT '{}'
			)`},
		{"subclubs", `
			CREATE TABLE IF NOT EXISTS subclubs (
				id UUID PRIMARY KEY,
				community_id UUID REFERENCES communities(id),
				seeking_community BOOLEAN NOT NULL DEFAULT FALSE,
				name VARCHAR(100) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				visibility VARCHAR(16) NOT NULL,
				type VARCHAR(32) NOT NULL DEFAULT '',
				location_name VARCHAR(200) NOT NULL DEFAULT '',
				latitude DOUBLE PRECISION,
				longitude DOUBLE PRECISION,
				radius_km DOUBLE PRECISION NOT NULL DEFAULT 0,
				created_by UUID NOT NULL,
				member_count INTEGER NOT NULL DEFAULT 0,
				post_count INTEGER NOT NULL DEFAULT 0,
				created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
				tags TEXT[] NOT NULL DEFAULT '{}'
			)`},
		{"memberships", `
			CREATE TABLE IF NOT EXISTS memberships (
				subject_type VARCHAR(16) NOT NULL,
				subject_id UUID NOT NULL,
				user_id UUID NOT NULL,
				role VARCHAR(16) NOT NULL,
				joined_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
				PRIMARY KEY (subject_type, subject_id, user_id)
			)`},
		{"join_requests", `
			CREATE TABLE IF NOT EXISTS join_requests (
				id UUID PRIMARY KEY,
				subject_type VARCHAR(16) NOT NULL,
				subject_id UUID NOT NULL,
				user_id UUID NOT NULL,
				message TEXT NOT NULL DEFAULT '',
				status VARCHAR(16) NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
				resolved_at TIMESTAMP WITH TIME ZONE,
				resolved_by UUID
			)`},
		{"join_requests pending index", `
			CREATE UNIQUE INDEX IF NOT EXISTS join_requests_one_pending
			ON join_requests (subject_type, subject_id, user_id)
			WHERE status = 'pending'`},
		{"post_activity", `
			CREATE TABLE IF NOT EXISTS post_activity (
				id UUID PRIMARY KEY,
				community_id UUID NOT NULL REFERENCES communities(id),
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			)`},
		{"post_activity index", `
			CREATE INDEX IF NOT EXISTS post_activity_created_at ON post_activity (created_at)`},
	}

	for _, stmt := range statements {
		if _, err := p.DB.ExecContext(ctx, stmt.sql); err != nil {
			return fmt.Errorf("failed to create %s: %w", stmt.name, err)
		}
	}
	return nil
}

// InTx runs fn inside a single SQL transaction.
func (p *PostgresDB) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := p.DB.BeginTxx(ctx, nil)
	if err != nil {
		return utils.NewAppError(utils.ErrDatabase, "failed to begin transaction", err)
	}

	if err := fn(ctx, &pgQueries{q: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			p.log.Error("rollback failed", zap.Error(rbErr))
		}
		return err
	}
	if err := ctx.Err(); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return utils.NewAppError(utils.ErrDatabase, "failed to commit transaction", err)
	}
	return nil
}

// ListCommunities fetches every community, newest first.
func (p *PostgresDB) ListCommunities(ctx context.Context) ([]*models.Community, error) {
	var rows []communityRow
	err := sqlx.SelectContext(ctx, p.q, &rows, `SELECT `+communityColumns+` FROM communities ORDER BY created_at DESC`)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrDatabase, "failed to query all communities", err)
	}
	out := make([]*models.Community, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].model())
	}
	return out, nil
}

func (p *PostgresDB) CountCommunities(ctx context.Context) (int, error) {
	var n int
	if err := sqlx.GetContext(ctx, p.q, &n, `SELECT COUNT(*) FROM communities`); err != nil {
		return 0, utils.NewAppError(utils.ErrDatabase, "failed to count communities", err)
	}
	return n, nil
}

// RecordPost stores one post activity row and bumps post_count.
func (p *PostgresDB) RecordPost(ctx context.Context, communityID uuid.UUID, at time.Time) error {
	return p.InTx(ctx, func(ctx context.Context, tx Tx) error {
		q := tx.(*pgQueries).q
		result, err := q.ExecContext(ctx, `UPDATE communities SET post_count = post_count + 1 WHERE id = $1`, communityID)
		if err != nil {
			return utils.NewAppError(utils.ErrDatabase, "failed to update post count", err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return utils.NewNotFoundError("community", communityID)
		}
		_, err = q.ExecContext(ctx,
			`INSERT INTO post_activity (id, community_id, created_at) VALUES ($1, $2, $3)`,
			uuid.New(), communityID, at)
		if err != nil {
			return utils.NewAppError(utils.ErrDatabase, "failed to record post activity", err)
		}
		return nil
	})
}

func (p *PostgresDB) PostCountsSince(ctx context.Context, since time.Time) (map[uuid.UUID]int, error) {
	var rows []struct {
		CommunityID uuid.UUID `db:"community_id"`
		Posts       int       `db:"posts"`
	}
	err := sqlx.SelectContext(ctx, p.q, &rows,
		`SELECT community_id, COUNT(*) AS posts FROM post_activity WHERE created_at >= $1 GROUP BY community_id`, since)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrDatabase, "failed to count recent posts", err)
	}
	counts := make(map[uuid.UUID]int, len(rows))
	for _, r := range rows {
		counts[r.CommunityID] = r.Posts
	}
	return counts, nil
}

// pgQueries runs statements against either the pool or an open transaction.
type pgQueries struct {
	q sqlx.ExtContext
}

const communityColumns = `id, name, description, visibility, type, location_name, latitude, longitude,
	radius_km, created_by, member_count, post_count, created_at, tags`

const subclubColumns = `id, community_id, seeking_community, name, description, visibility, type,
	location_name, latitude, longitude, radius_km, created_by, member_count, post_count, created_at, tags`

type communityRow struct {
	models.Community
	Tags pq.StringArray `db:"tags"`
}

func (r *communityRow) model() *models.Community {
	c := r.Community
	c.Tags = []string(r.Tags)
	return &c
}

type subclubRow struct {
	models.SubClub
	Tags pq.StringArray `db:"tags"`
}

func (r *subclubRow) model() *models.SubClub {
	s := r.SubClub
	s.Tags = []string(r.Tags)
	return &s
}

type membershipRow struct {
	SubjectType string    `db:"subject_type"`
	SubjectID   uuid.UUID `db:"subject_id"`
	UserID      uuid.UUID `db:"user_id"`
	Role        string    `db:"role"`
	JoinedAt    time.Time `db:"joined_at"`
}

func (r *membershipRow) model() *models.Membership {
	return &models.Membership{
		Subject:  models.SubjectRef{Type: models.SubjectType(r.SubjectType), ID: r.SubjectID},
		UserID:   r.UserID,
		Role:     models.Role(r.Role),
		JoinedAt: r.JoinedAt,
	}
}

type joinRequestRow struct {
	ID          uuid.UUID     `db:"id"`
	SubjectType string        `db:"subject_type"`
	SubjectID   uuid.UUID     `db:"subject_id"`
	UserID      uuid.UUID     `db:"user_id"`
	Message     string        `db:"message"`
	Status      string        `db:"status"`
	CreatedAt   time.Time     `db:"created_at"`
	ResolvedAt  *time.Time    `db:"resolved_at"`
	ResolvedBy  uuid.NullUUID `db:"resolved_by"`
}

func (r *joinRequestRow) model() *models.JoinRequest {
	jr := &models.JoinRequest{
		ID:         r.ID,
		Subject:    models.SubjectRef{Type: models.SubjectType(r.SubjectType), ID: r.SubjectID},
		UserID:     r.UserID,
		Message:    r.Message,
		Status:     models.JoinRequestStatus(r.Status),
		CreatedAt:  r.CreatedAt,
		ResolvedAt: r.ResolvedAt,
	}
	if r.ResolvedBy.Valid {
		by := r.ResolvedBy.UUID
		jr.ResolvedBy = &by
	}
	return jr
}

const joinRequestColumns = `id, subject_type, subject_id, user_id, message, status, created_at, resolved_at, resolved_by`

func (p *pgQueries) GetCommunity(ctx context.Context, id uuid.UUID) (*models.Community, error) {
	var row communityRow
	err := sqlx.GetContext(ctx, p.q, &row, `SELECT `+communityColumns+` FROM communities WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, utils.NewNotFoundError("community", id)
		}
		return nil, utils.NewAppError(utils.ErrDatabase, "failed to query community by id", err)
	}
	return row.model(), nil
}

func (p *pgQueries) GetSubClub(ctx context.Context, id uuid.UUID) (*models.SubClub, error) {
	var row subclubRow
	err := sqlx.GetContext(ctx, p.q, &row, `SELECT `+subclubColumns+` FROM subclubs WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, utils.NewNotFoundError("sub-club", id)
		}
		return nil, utils.NewAppError(utils.ErrDatabase, "failed to query sub-club by id", err)
	}
	return row.model(), nil
}

func (p *pgQueries) GetJoinRequest(ctx context.Context, id uuid.UUID) (*models.JoinRequest, error) {
	var row joinRequestRow
	err := sqlx.GetContext(ctx, p.q, &row, `SELECT `+joinRequestColumns+` FROM join_requests WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, utils.NewNotFoundError("join request", id)
		}
		return nil, utils.NewAppError(utils.ErrDatabase, "failed to query join request", err)
	}
	return row.model(), nil
}

func (p *pgQueries) GetMembership(ctx context.Context, subject models.SubjectRef, userID uuid.UUID) (*models.Membership, error) {
	var row membershipRow
	err := sqlx.GetContext(ctx, p.q, &row,
		`SELECT subject_type, subject_id, user_id, role, joined_at FROM memberships
		WHERE subject_type = $1 AND subject_id = $2 AND user_id = $3`,
		string(subject.Type), subject.ID, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, utils.NewAppError(utils.ErrDatabase, "failed to query membership", err)
	}
	return row.model(), nil
}

func (p *pgQueries) GetPendingRequest(ctx context.Context, subject models.SubjectRef, userID uuid.UUID) (*models.JoinRequest, error) {
	var row joinRequestRow
	err := sqlx.GetContext(ctx, p.q, &row,
		`SELECT `+joinRequestColumns+` FROM join_requests
		WHERE subject_type = $1 AND subject_id = $2 AND user_id = $3 AND status = 'pending'`,
		string(subject.Type), subject.ID, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, utils.NewAppError(utils.ErrDatabase, "failed to query pending join request", err)
	}
	return row.model(), nil
}

func (p *pgQueries) ListMembers(ctx context.Context, subject models.SubjectRef) ([]*models.Membership, error) {
	var rows []membershipRow
	err := sqlx.SelectContext(ctx, p.q, &rows,
		`SELECT subject_type, subject_id, user_id, role, joined_at FROM memberships
		WHERE subject_type = $1 AND subject_id = $2 ORDER BY joined_at ASC, user_id ASC`,
		string(subject.Type), subject.ID)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrDatabase, "failed to query members", err)
	}
	out := make([]*models.Membership, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].model())
	}
	return out, nil
}

func (p *pgQueries) ListPendingRequests(ctx context.Context, subject models.SubjectRef) ([]*models.JoinRequest, error) {
	var rows []joinRequestRow
	err := sqlx.SelectContext(ctx, p.q, &rows,
		`SELECT `+joinRequestColumns+` FROM join_requests
		WHERE subject_type = $1 AND subject_id = $2 AND status = 'pending'
		ORDER BY created_at ASC, id ASC`,
		string(subject.Type), subject.ID)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrDatabase, "failed to query pending join requests", err)
	}
	out := make([]*models.JoinRequest, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].model())
	}
	return out, nil
}

func subjectTable(subject models.SubjectRef) (string, error) {
	switch subject.Type {
	case models.SubjectCommunity:
		return "communities", nil
	case models.SubjectSubClub:
		return "subclubs", nil
	}
	return "", utils.NewInvalidInputError("unknown subject type " + string(subject.Type))
}

// LockSubject takes a row lock on the subject until the transaction ends.
func (p *pgQueries) LockSubject(ctx context.Context, subject models.SubjectRef) error {
	table, err := subjectTable(subject)
	if err != nil {
		return err
	}
	var id uuid.UUID
	err = sqlx.GetContext(ctx, p.q, &id, `SELECT id FROM `+table+` WHERE id = $1 FOR UPDATE`, subject.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return utils.NewNotFoundError(string(subject.Type), subject.ID)
		}
		return utils.NewAppError(utils.ErrDatabase, "failed to lock subject", err)
	}
	return nil
}

func (p *pgQueries) InsertCommunity(ctx context.Context, c *models.Community) error {
	row := communityRow{Community: *c, Tags: pq.StringArray(c.Tags)}
	if row.Tags == nil {
		row.Tags = pq.StringArray{}
	}
	_, err := sqlx.NamedExecContext(ctx, p.q, `
		INSERT INTO communities (`+communityColumns+`)
		VALUES (:id, :name, :description, :visibility, :type, :location_name, :latitude, :longitude,
			:radius_km, :created_by, :member_count, :post_count, :created_at, :tags)`, row)
	if err != nil {
		return mapWriteError(err, "failed to create community")
	}
	return nil
}

func (p *pgQueries) InsertSubClub(ctx context.Context, s *models.SubClub) error {
	row := subclubRow{SubClub: *s, Tags: pq.StringArray(s.Tags)}
	if row.Tags == nil {
		row.Tags = pq.StringArray{}
	}
	_, err := sqlx.NamedExecContext(ctx, p.q, `
		INSERT INTO subclubs (`+subclubColumns+`)
		VALUES (:id, :community_id, :seeking_community, :name, :description, :visibility, :type,
			:location_name, :latitude, :longitude, :radius_km, :created_by, :member_count, :post_count,
			:created_at, :tags)`, row)
	if err != nil {
		return mapWriteError(err, "failed to create sub-club")
	}
	return nil
}

// SaveMembership inserts the row or updates its role.
func (p *pgQueries) SaveMembership(ctx context.Context, m *models.Membership) error {
	_, err := p.q.ExecContext(ctx, `
		INSERT INTO memberships (subject_type, subject_id, user_id, role, joined_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (subject_type, subject_id, user_id) DO UPDATE SET role = EXCLUDED.role`,
		string(m.Subject.Type), m.Subject.ID, m.UserID, string(m.Role), m.JoinedAt)
	if err != nil {
		return mapWriteError(err, "failed to save membership")
	}
	return nil
}

func (p *pgQueries) DeleteMembership(ctx context.Context, subject models.SubjectRef, userID uuid.UUID) error {
	_, err := p.q.ExecContext(ctx,
		`DELETE FROM memberships WHERE subject_type = $1 AND subject_id = $2 AND user_id = $3`,
		string(subject.Type), subject.ID, userID)
	if err != nil {
		return utils.NewAppError(utils.ErrDatabase, "failed to delete membership", err)
	}
	return nil
}

func (p *pgQueries) InsertJoinRequest(ctx context.Context, jr *models.JoinRequest) error {
	_, err := p.q.ExecContext(ctx, `
		INSERT INTO join_requests (`+joinRequestColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		jr.ID, string(jr.Subject.Type), jr.Subject.ID, jr.UserID, jr.Message, string(jr.Status),
		jr.CreatedAt, jr.ResolvedAt, nullUUID(jr.ResolvedBy))
	if err != nil {
		return mapWriteError(err, "failed to create join request")
	}
	return nil
}

func (p *pgQueries) UpdateJoinRequest(ctx context.Context, jr *models.JoinRequest) error {
	result, err := p.q.ExecContext(ctx,
		`UPDATE join_requests SET status = $1, resolved_at = $2, resolved_by = $3 WHERE id = $4`,
		string(jr.Status), jr.ResolvedAt, nullUUID(jr.ResolvedBy), jr.ID)
	if err != nil {
		return mapWriteError(err, "failed to update join request")
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return utils.NewNotFoundError("join request", jr.ID)
	}
	return nil
}

func (p *pgQueries) RecountMembers(ctx context.Context, subject models.SubjectRef) (int, error) {
	table, err := subjectTable(subject)
	if err != nil {
		return 0, err
	}
	var count int
	err = sqlx.GetContext(ctx, p.q, &count, `
		UPDATE `+table+` SET member_count = (
			SELECT COUNT(*) FROM memberships WHERE subject_type = $1 AND subject_id = $2
		) WHERE id = $2 RETURNING member_count`,
		string(subject.Type), subject.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, utils.NewNotFoundError(string(subject.Type), subject.ID)
		}
		return 0, utils.NewAppError(utils.ErrDatabase, "failed to recount members", err)
	}
	return count, nil
}

func nullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}

// mapWriteError turns constraint violations into CONFLICT and everything else into a database error.
func mapWriteError(err error, message string) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
		return utils.NewAppError(utils.ErrConflict, fmt.Sprintf("%s: duplicate %s", message, pqErr.Constraint), err)
	}
	return utils.NewAppError(utils.ErrDatabase, message, err)
}
