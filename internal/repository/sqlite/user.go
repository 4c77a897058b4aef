package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/ecoloop/internal/apperror"
	"github.com/sakif/ecoloop/internal/model"
	"github.com/sakif/ecoloop/internal/repository"
)

var _ repository.UserRepository = (*DB)(nil)

const userColumns = `id, name, email, phone, password_hash, github_id, eco_points, suspended, role,
	interests, latitude, longitude, reset_token_hash, reset_token_expires, created_at, updated_at`

func scanUser(rs rowScanner) (*model.User, error) {
	var (
		u           model.User
		githubID    sql.NullInt64
		suspended   int
		role        string
		interests   string
		lat, lng    sql.NullFloat64
		resetHash   sql.NullString
		resetExpiry sql.NullTime
	)
	err := rs.Scan(
		&u.ID, &u.Name, &u.Email, &u.Phone, &u.PasswordHash, &githubID,
		&u.EcoPoints, &suspended, &role, &interests, &lat, &lng,
		&resetHash, &resetExpiry, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if githubID.Valid {
		id := githubID.Int64
		u.GitHubID = &id
	}
	u.Suspended = suspended == 1
	u.Role = model.Role(role)
	if err := json.Unmarshal([]byte(interests), &u.Interests); err != nil {
		return nil, fmt.Errorf("decoding interests: %w", err)
	}
	if u.Interests == nil {
		u.Interests = []string{}
	}
	u.Location = scanPoint(lat, lng)
	u.ResetTokenHash = resetHash.String
	if resetExpiry.Valid {
		t := resetExpiry.Time
		u.ResetTokenExpires = &t
	}
	return &u, nil
}

func encodeInterests(in []string) (string, error) {
	if in == nil {
		in = []string{}
	}
	b, err := json.Marshal(in)
	if err != nil {
		return "", fmt.Errorf("encoding interests: %w", err)
	}
	return string(b), nil
}

// CreateUser inserts a new user. A duplicate email or GitHub id is a conflict.
func (db *DB) CreateUser(ctx context.Context, user *model.User) error {
	user.ID = xid.New().String()
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now
	if user.Role == "" {
		user.Role = model.RoleUser
	}
	if user.Interests == nil {
		user.Interests = []string{}
	}

	interests, err := encodeInterests(user.Interests)
	if err != nil {
		return fmt.Errorf("sqlite: creating user: %w", err)
	}
	lat, lng := pointArgs(user.Location)

	var githubID sql.NullInt64
	if user.GitHubID != nil {
		githubID = sql.NullInt64{Int64: *user.GitHubID, Valid: true}
	}

	_, err = db.conn.ExecContext(ctx,
		`INSERT INTO users (id, name, email, phone, password_hash, github_id, eco_points,
			suspended, role, interests, latitude, longitude, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID, user.Name, user.Email, user.Phone, user.PasswordHash, githubID,
		user.EcoPoints, boolToInt(user.Suspended), string(user.Role), interests,
		lat, lng, user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.ConflictMessage("an account with this email already exists")
		}
		return fmt.Errorf("sqlite: creating user: %w", err)
	}
	return nil
}

func (db *DB) getUser(ctx context.Context, where string, arg any) (*model.User, error) {
	return scanUser(db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE `+where, arg))
}

// GetUserByID retrieves a user by internal ID.
func (db *DB) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	u, err := db.getUser(ctx, "id = ?", id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", id)
		}
		return nil, fmt.Errorf("sqlite: getting user %s: %w", id, err)
	}
	return u, nil
}

// GetUserByEmail matches case-insensitively.
func (db *DB) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	u, err := db.getUser(ctx, "email = ?", email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFoundMessage("no account with that email")
		}
		return nil, fmt.Errorf("sqlite: getting user by email: %w", err)
	}
	return u, nil
}

func (db *DB) GetUserByGitHubID(ctx context.Context, githubID int64) (*model.User, error) {
	u, err := db.getUser(ctx, "github_id = ?", githubID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", fmt.Sprintf("github:%d", githubID))
		}
		return nil, fmt.Errorf("sqlite: getting user by github id %d: %w", githubID, err)
	}
	return u, nil
}

// LinkGitHub attaches a GitHub account to an existing user.
func (db *DB) LinkGitHub(ctx context.Context, userID string, githubID int64) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE users SET github_id = ?, updated_at = ? WHERE id = ?`,
		githubID, time.Now().UTC(), userID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.ConflictMessage("this GitHub account is linked to another user")
		}
		return fmt.Errorf("sqlite: linking github for user %s: %w", userID, err)
	}
	return expectOne(res, apperror.NotFound("user", userID))
}

// UpdateProfile writes the non-nil fields of upd.
func (db *DB) UpdateProfile(ctx context.Context, id string, upd model.ProfileUpdate) (*model.User, error) {
	sets := []string{"updated_at = ?"}
	args := []any{time.Now().UTC()}

	if upd.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *upd.Name)
	}
	if upd.Phone != nil {
		sets = append(sets, "phone = ?")
		args = append(args, *upd.Phone)
	}
	if upd.Interests != nil {
		interests, err := encodeInterests(upd.Interests)
		if err != nil {
			return nil, fmt.Errorf("sqlite: updating profile %s: %w", id, err)
		}
		sets = append(sets, "interests = ?")
		args = append(args, interests)
	}
	if upd.Location != nil {
		sets = append(sets, "latitude = ?", "longitude = ?")
		args = append(args, upd.Location.Lat, upd.Location.Lng)
	}
	args = append(args, id)

	res, err := db.conn.ExecContext(ctx,
		`UPDATE users SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: updating profile %s: %w", id, err)
	}
	if err := expectOne(res, apperror.NotFound("user", id)); err != nil {
		return nil, err
	}
	return db.GetUserByID(ctx, id)
}

func (db *DB) SetResetToken(ctx context.Context, userID, tokenHash string, expires time.Time) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE users SET reset_token_hash = ?, reset_token_expires = ?, updated_at = ? WHERE id = ?`,
		tokenHash, expires.UTC(), time.Now().UTC(), userID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: storing reset token for %s: %w", userID, err)
	}
	return expectOne(res, apperror.NotFound("user", userID))
}

// ResetPassword consumes the token in the same statement that sets the new
// password, so a token can be used at most once even under concurrent use.
func (db *DB) ResetPassword(ctx context.Context, tokenHash, passwordHash string, now time.Time) (string, error) {
	var userID string
	err := db.conn.QueryRowContext(ctx,
		`UPDATE users
		 SET password_hash = ?, reset_token_hash = NULL, reset_token_expires = NULL, updated_at = ?
		 WHERE reset_token_hash = ? AND reset_token_expires > ?
		 RETURNING id`,
		passwordHash, now.UTC(), tokenHash, now.UTC(),
	).Scan(&userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", apperror.NotFoundMessage("reset link is invalid or has expired")
		}
		return "", fmt.Errorf("sqlite: resetting password: %w", err)
	}
	return userID, nil
}

// AddPoints is a single relative update, safe under concurrent awards.
func (db *DB) AddPoints(ctx context.Context, userID string, delta int) error {
	return addPoints(ctx, db.conn, userID, delta)
}

func addPoints(ctx context.Context, ex execer, userID string, delta int) error {
	if delta == 0 {
		return nil
	}
	res, err := ex.ExecContext(ctx,
		`UPDATE users SET eco_points = eco_points + ? WHERE id = ?`, delta, userID)
	if err != nil {
		return fmt.Errorf("sqlite: adding %d points to %s: %w", delta, userID, err)
	}
	return expectOne(res, apperror.NotFound("user", userID))
}

// TopByPoints orders by points, then account age, then id, so equal scores
// have a stable order.
func (db *DB) TopByPoints(ctx context.Context, limit int) ([]model.User, error) {
	return db.queryUsers(ctx,
		`SELECT `+userColumns+` FROM users
		 ORDER BY eco_points DESC, created_at ASC, id ASC
		 LIMIT ?`, limit)
}

func (db *DB) CountWithMorePoints(ctx context.Context, points int) (int, error) {
	var n int
	if err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM users WHERE eco_points > ?`, points,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: counting users above %d points: %w", points, err)
	}
	return n, nil
}

func (db *DB) ListUsers(ctx context.Context) ([]model.User, error) {
	return db.queryUsers(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at DESC, id DESC`)
}

func (db *DB) SetSuspended(ctx context.Context, id string, suspended bool) (*model.User, error) {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE users SET suspended = ?, updated_at = ? WHERE id = ?`,
		boolToInt(suspended), time.Now().UTC(), id)
	if err != nil {
		return nil, fmt.Errorf("sqlite: suspending user %s: %w", id, err)
	}
	if err := expectOne(res, apperror.NotFound("user", id)); err != nil {
		return nil, err
	}
	return db.GetUserByID(ctx, id)
}

func (db *DB) SetRole(ctx context.Context, id string, role model.Role) (*model.User, error) {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE users SET role = ?, updated_at = ? WHERE id = ?`,
		string(role), time.Now().UTC(), id)
	if err != nil {
		return nil, fmt.Errorf("sqlite: setting role of %s: %w", id, err)
	}
	if err := expectOne(res, apperror.NotFound("user", id)); err != nil {
		return nil, err
	}
	return db.GetUserByID(ctx, id)
}

func (db *DB) queryUsers(ctx context.Context, query string, args ...any) ([]model.User, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing users: %w", err)
	}
	defer rows.Close()

	users := make([]model.User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning user row: %w", err)
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating users: %w", err)
	}
	return users, nil
}

// expectOne returns notFound when res touched no rows.
func expectOne(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}
