package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// uniqueViolation is the Postgres SQLSTATE for a unique constraint breach.
const uniqueViolation = "23505"

// Postgres is the production Store, backed by a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to dsn, applies pending migrations, and verifies the
// connection with a ping.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	if err := migrateUp(dsn); err != nil {
		return nil, fmt.Errorf("migrating schema: %w", err)
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) GetRoom(ctx context.Context, code string) (Room, error) {
	var r Room
	err := p.pool.QueryRow(ctx,
		`SELECT code, admin_id, status, created_at FROM rooms WHERE code = $1`,
		code,
	).Scan(&r.Code, &r.AdminID, &r.Status, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Room{}, ErrRoomNotFound
	}
	if err != nil {
		return Room{}, fmt.Errorf("querying room %s: %w", code, err)
	}

	rows, err := p.pool.Query(ctx,
		`SELECT user_id FROM room_members WHERE room_code = $1 ORDER BY user_id`,
		code,
	)
	if err != nil {
		return Room{}, fmt.Errorf("querying members of %s: %w", code, err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return Room{}, fmt.Errorf("scanning member row: %w", err)
		}
		r.MemberIDs = append(r.MemberIDs, id)
	}
	if err := rows.Err(); err != nil {
		return Room{}, fmt.Errorf("reading member rows: %w", err)
	}
	return r, nil
}

func (p *Postgres) CreateRoom(ctx context.Context, code, adminID string) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO rooms (code, admin_id, status) VALUES ($1, $2, $3)`,
		code, adminID, RoomStatusActive,
	)
	if isUniqueViolation(err) {
		return ErrRoomExists
	}
	if err != nil {
		return fmt.Errorf("inserting room %s: %w", code, err)
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO room_members (room_code, user_id) VALUES ($1, $2)`,
		code, adminID,
	)
	if err != nil {
		return fmt.Errorf("inserting admin membership: %w", err)
	}
	return tx.Commit(ctx)
}

func (p *Postgres) AddMember(ctx context.Context, code, userID string) error {
	if _, err := p.roomExists(ctx, code); err != nil {
		return err
	}
	_, err := p.pool.Exec(ctx,
		`INSERT INTO room_members (room_code, user_id) VALUES ($1, $2)`,
		code, userID,
	)
	if isUniqueViolation(err) {
		return ErrAlreadyMember
	}
	if err != nil {
		return fmt.Errorf("inserting membership: %w", err)
	}
	return nil
}

func (p *Postgres) RemoveMember(ctx context.Context, code, userID string) error {
	tag, err := p.pool.Exec(ctx,
		`DELETE FROM room_members WHERE room_code = $1 AND user_id = $2`,
		code, userID,
	)
	if err != nil {
		return fmt.Errorf("deleting membership: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotMember
	}
	return nil
}

func (p *Postgres) SetOnline(ctx context.Context, user User, roomCode string, online bool) error {
	var room *string
	if roomCode != "" {
		room = &roomCode
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO user_profiles (user_id, display_name, is_google, room_code, is_online, last_seen)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (user_id) DO UPDATE SET
			display_name = CASE WHEN EXCLUDED.display_name <> '' THEN EXCLUDED.display_name ELSE user_profiles.display_name END,
			is_google = EXCLUDED.is_google,
			room_code = EXCLUDED.room_code,
			is_online = EXCLUDED.is_online,
			last_seen = now()`,
		user.ID, user.DisplayName, user.Google, room, online,
	)
	if err != nil {
		return fmt.Errorf("upserting profile %s: %w", user.ID, err)
	}
	return nil
}

func (p *Postgres) Profile(ctx context.Context, userID string) (Profile, error) {
	var (
		prof Profile
		room *string
		seen *time.Time
	)
	err := p.pool.QueryRow(ctx,
		`SELECT user_id, display_name, is_google, room_code, is_online, last_seen
		 FROM user_profiles WHERE user_id = $1`,
		userID,
	).Scan(&prof.UserID, &prof.DisplayName, &prof.Google, &room, &prof.Online, &seen)
	if errors.Is(err, pgx.ErrNoRows) {
		return Profile{}, ErrProfileNotFound
	}
	if err != nil {
		return Profile{}, fmt.Errorf("querying profile %s: %w", userID, err)
	}
	if room != nil {
		prof.RoomCode = *room
	}
	if seen != nil {
		prof.LastSeen = *seen
	}
	return prof, nil
}

func (p *Postgres) ListOnline(ctx context.Context, roomCode string) ([]Profile, error) {
	query := `SELECT user_id, display_name, is_google, room_code, is_online, last_seen
		 FROM user_profiles WHERE is_online ORDER BY user_id`
	args := []any{}
	if roomCode != "" {
		query = `SELECT user_id, display_name, is_google, room_code, is_online, last_seen
			 FROM user_profiles WHERE is_online AND room_code = $1 ORDER BY user_id`
		args = append(args, roomCode)
	}

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying online profiles: %w", err)
	}
	defer rows.Close()

	var out []Profile
	for rows.Next() {
		var (
			prof Profile
			room *string
			seen *time.Time
		)
		if err := rows.Scan(&prof.UserID, &prof.DisplayName, &prof.Google, &room, &prof.Online, &seen); err != nil {
			return nil, fmt.Errorf("scanning profile row: %w", err)
		}
		if room != nil {
			prof.RoomCode = *room
		}
		if seen != nil {
			prof.LastSeen = *seen
		}
		out = append(out, prof)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading profile rows: %w", err)
	}
	return out, nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func (p *Postgres) roomExists(ctx context.Context, code string) (bool, error) {
	var one int
	err := p.pool.QueryRow(ctx, `SELECT 1 FROM rooms WHERE code = $1`, code).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, ErrRoomNotFound
	}
	if err != nil {
		return false, fmt.Errorf("checking room %s: %w", code, err)
	}
	return true, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
