package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/lms/internal/apperror"
	"github.com/sakif/lms/internal/model"
	"github.com/sakif/lms/internal/repository"
)

// compile-time check that *UserDB implements repository.UserRepository
var _ repository.UserRepository = (*UserDB)(nil)

// UserDB is the credential store.
type UserDB struct {
	conn *sql.DB
}

const userColumns = `id, name, email, password_hash, auth_provider, google_id, github_id,
	avatar_public_id, avatar_url, role, is_verified, phone,
	reset_token_hash, reset_token_expires_at, created_at, updated_at`

// providerColumn maps an external provider to its id column. Only values
// from this map are interpolated into SQL.
var providerColumn = map[model.AuthProvider]string{
	model.ProviderGoogle: "google_id",
	model.ProviderGitHub: "github_id",
}

func columnFor(p model.AuthProvider) (string, error) {
	col, ok := providerColumn[p]
	if !ok {
		return "", apperror.ValidationFailed("provider", fmt.Sprintf("unsupported provider %q", p))
	}
	return col, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*model.User, error) {
	var (
		u                                  model.User
		password, googleID, githubID, hash sql.NullString
		expiresAt                          sql.NullInt64
	)
	err := row.Scan(
		&u.ID, &u.Name, &u.Email, &password, &u.AuthProvider, &googleID, &githubID,
		&u.AvatarPublicID, &u.AvatarURL, &u.Role, &u.IsVerified, &u.Phone,
		&hash, &expiresAt, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	u.PasswordHash = password.String
	u.GoogleID = googleID.String
	u.GitHubID = githubID.String
	u.ResetTokenHash = hash.String
	if expiresAt.Valid {
		t := time.UnixMilli(expiresAt.Int64).UTC()
		u.ResetTokenExpiresAt = &t
	}
	return &u, nil
}

// conflictMessage turns a UNIQUE failure on users into a client message.
func conflictMessage(driverMsg string) string {
	switch {
	case strings.Contains(driverMsg, "users.email"):
		return "an account with this email already exists"
	case strings.Contains(driverMsg, "users.google_id"), strings.Contains(driverMsg, "users.github_id"):
		return "this provider account is already linked to another user"
	}
	return "duplicate value"
}

// =========================================================================
// CREATE / READ
// =========================================================================

// Create inserts a new user, assigning ID and timestamps in place.
func (u *UserDB) Create(ctx context.Context, user *model.User) error {
	now := time.Now().UTC()
	user.ID = xid.New().String()
	user.CreatedAt = now
	user.UpdatedAt = now
	if user.Role == "" {
		user.Role = model.RoleUser
	}
	if user.AuthProvider == "" {
		user.AuthProvider = model.ProviderLocal
	}

	_, err := u.conn.ExecContext(ctx,
		`INSERT INTO users (id, name, email, password_hash, auth_provider, google_id, github_id,
			avatar_public_id, avatar_url, role, is_verified, phone, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID, user.Name, user.Email, nullString(user.PasswordHash), user.AuthProvider,
		nullString(user.GoogleID), nullString(user.GitHubID),
		user.AvatarPublicID, user.AvatarURL, user.Role, user.IsVerified, user.Phone,
		user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		if msg, ok := uniqueViolation(err); ok {
			return apperror.Conflict(conflictMessage(msg))
		}
		return fmt.Errorf("sqlite: inserting user %s: %w", user.Email, err)
	}
	return nil
}

// GetUserByID retrieves a user with its entitlement set.
func (u *UserDB) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	user, err := scanUser(u.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", id)
		}
		return nil, fmt.Errorf("sqlite: getting user %s: %w", id, err)
	}
	if err := u.loadEntitlements(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

func (u *UserDB) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	user, err := scanUser(u.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = ?`, email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", email)
		}
		return nil, fmt.Errorf("sqlite: getting user by email: %w", err)
	}
	if err := u.loadEntitlements(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

func (u *UserDB) loadEntitlements(ctx context.Context, user *model.User) error {
	rows, err := u.conn.QueryContext(ctx,
		`SELECT course_id FROM user_courses WHERE user_id = ? ORDER BY created_at, course_id`, user.ID)
	if err != nil {
		return fmt.Errorf("sqlite: listing entitlements of %s: %w", user.ID, err)
	}
	defer rows.Close()

	user.Entitlements = []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return fmt.Errorf("sqlite: scanning entitlement: %w", err)
		}
		user.Entitlements = append(user.Entitlements, id)
	}
	return rows.Err()
}

// =========================================================================
// OAUTH IDENTIFIERS
// =========================================================================

func (u *UserDB) FindByProviderOrEmail(ctx context.Context, provider model.AuthProvider, providerID, email string) (*model.User, error) {
	col, err := columnFor(provider)
	if err != nil {
		return nil, err
	}

	// A provider-id match sorts first, so it wins over a different row
	// that only shares the email.
	user, err := scanUser(u.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users
		 WHERE `+col+` = ? OR email = ?
		 ORDER BY (`+col+` IS NOT NULL AND `+col+` = ?) DESC
		 LIMIT 1`,
		providerID, email, providerID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", email)
		}
		return nil, fmt.Errorf("sqlite: finding user by %s or email: %w", col, err)
	}
	if err := u.loadEntitlements(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

func (u *UserDB) SetProviderID(ctx context.Context, userID string, provider model.AuthProvider, providerID string, onlyIfEmpty bool) error {
	col, err := columnFor(provider)
	if err != nil {
		return err
	}

	query := `UPDATE users SET ` + col + ` = ?, updated_at = ? WHERE id = ?`
	if onlyIfEmpty {
		query += ` AND ` + col + ` IS NULL`
	}
	res, err := u.conn.ExecContext(ctx, query, providerID, time.Now().UTC(), userID)
	if err != nil {
		if msg, ok := uniqueViolation(err); ok {
			return apperror.Conflict(conflictMessage(msg))
		}
		return fmt.Errorf("sqlite: linking %s for user %s: %w", provider, userID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if n == 0 && !onlyIfEmpty {
		return apperror.NotFound("user", userID)
	}
	return nil
}

// UnsetProviderID clears the provider column in a single conditional
// UPDATE. The WHERE clause carries the lock-out guard: the row must keep a
// password or another provider id. When the provider was the account's
// origin, auth_provider moves to local (if a password exists) or to the
// remaining provider.
func (u *UserDB) UnsetProviderID(ctx context.Context, userID string, provider model.AuthProvider) error {
	col, err := columnFor(provider)
	if err != nil {
		return err
	}
	otherCols := make([]string, 0, len(providerColumn)-1)
	otherCases := make([]string, 0, len(providerColumn)-1)
	for p, c := range providerColumn {
		if p == provider {
			continue
		}
		otherCols = append(otherCols, c+" IS NOT NULL")
		otherCases = append(otherCases, fmt.Sprintf("WHEN %s IS NOT NULL THEN '%s'", c, p))
	}

	query := `UPDATE users SET ` + col + ` = NULL, updated_at = ?,
		auth_provider = CASE
			WHEN auth_provider <> ? THEN auth_provider
			WHEN password_hash IS NOT NULL THEN 'local'
			` + strings.Join(otherCases, "\n\t\t\t") + `
			ELSE auth_provider END
		WHERE id = ? AND ` + col + ` IS NOT NULL
		  AND (password_hash IS NOT NULL OR ` + strings.Join(otherCols, " OR ") + `)`

	res, err := u.conn.ExecContext(ctx, query, time.Now().UTC(), provider, userID)
	if err != nil {
		return fmt.Errorf("sqlite: unlinking %s for user %s: %w", provider, userID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if n == 1 {
		return nil
	}

	// Nothing changed: work out why for the caller.
	user, err := u.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if user.ProviderID(provider) == "" {
		return apperror.ValidationFailed("provider", fmt.Sprintf("%s is not linked to this account", provider))
	}
	return apperror.ValidationFailed("provider",
		"cannot unlink the only sign-in method; set a password or link another provider first")
}

// =========================================================================
// PROFILE AND PASSWORD
// =========================================================================

func (u *UserDB) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	return u.execOne(ctx, userID,
		`UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?`,
		passwordHash, time.Now().UTC(), userID)
}

func (u *UserDB) UpdateProfile(ctx context.Context, userID, name, phone string) error {
	return u.execOne(ctx, userID,
		`UPDATE users SET name = ?, phone = ?, updated_at = ? WHERE id = ?`,
		name, phone, time.Now().UTC(), userID)
}

func (u *UserDB) SetRole(ctx context.Context, email string, role model.Role) error {
	return u.execOne(ctx, email,
		`UPDATE users SET role = ?, updated_at = ? WHERE email = ?`,
		role, time.Now().UTC(), email)
}

// =========================================================================
// PASSWORD RESET
// =========================================================================

func (u *UserDB) SetResetToken(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error {
	return u.execOne(ctx, userID,
		`UPDATE users SET reset_token_hash = ?, reset_token_expires_at = ?, updated_at = ? WHERE id = ?`,
		tokenHash, expiresAt.UnixMilli(), time.Now().UTC(), userID)
}

func (u *UserDB) ClearResetToken(ctx context.Context, userID string) error {
	return u.execOne(ctx, userID,
		`UPDATE users SET reset_token_hash = NULL, reset_token_expires_at = NULL, updated_at = ? WHERE id = ?`,
		time.Now().UTC(), userID)
}

func (u *UserDB) GetByResetTokenHash(ctx context.Context, tokenHash string, now time.Time) (*model.User, error) {
	user, err := scanUser(u.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE reset_token_hash = ? AND reset_token_expires_at > ?`,
		tokenHash, now.UnixMilli()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("reset token", "(redacted)")
		}
		return nil, fmt.Errorf("sqlite: finding user by reset token: %w", err)
	}
	return user, nil
}

func (u *UserDB) ResetPassword(ctx context.Context, userID, tokenHash, passwordHash string) error {
	return u.execOne(ctx, userID,
		`UPDATE users SET password_hash = ?, reset_token_hash = NULL, reset_token_expires_at = NULL, updated_at = ?
		 WHERE id = ? AND reset_token_hash = ?`,
		passwordHash, time.Now().UTC(), userID, tokenHash)
}

// =========================================================================
// ENTITLEMENTS
// =========================================================================

// AddEntitlement is INSERT OR IGNORE on the (user_id, course_id) primary
// key: concurrent grants of the same course leave exactly one row.
func (u *UserDB) AddEntitlement(ctx context.Context, userID, courseID string) (bool, error) {
	res, err := u.conn.ExecContext(ctx,
		`INSERT OR IGNORE INTO user_courses (user_id, course_id, created_at) VALUES (?, ?, ?)`,
		userID, courseID, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("sqlite: granting course %s to user %s: %w", courseID, userID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	return n == 1, nil
}

func (u *UserDB) ListEntitledCourses(ctx context.Context, userID string) ([]model.Course, error) {
	rows, err := u.conn.QueryContext(ctx,
		`SELECT c.id, c.title, c.price, c.created_at
		 FROM user_courses uc JOIN courses c ON c.id = uc.course_id
		 WHERE uc.user_id = ?
		 ORDER BY uc.created_at, c.id`, userID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing courses of %s: %w", userID, err)
	}
	defer rows.Close()

	courses := []model.Course{}
	for rows.Next() {
		var c model.Course
		if err := rows.Scan(&c.ID, &c.Title, &c.Price, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scanning course: %w", err)
		}
		courses = append(courses, c)
	}
	return courses, rows.Err()
}

// execOne runs a single-row UPDATE and maps zero affected rows to NotFound.
func (u *UserDB) execOne(ctx context.Context, key, query string, args ...any) error {
	res, err := u.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("sqlite: updating user %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if n == 0 {
		return apperror.NotFound("user", key)
	}
	return nil
}
