package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Store is the persistence surface the service layer programs against.
// WithTx yields a Store bound to a single transaction; the cascade and
// reindex sequences run through it so a project's derived state is written
// atomically.
type Store interface {
	// users
	CreateUser(ctx context.Context, user User) error
	GetUserByEmail(ctx context.Context, email string) (User, error)
	GetUserByID(ctx context.Context, userID string) (User, error)
	UpdateUserVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error
	VerifyUserEmail(ctx context.Context, token string) error
	UpdateUserPassword(ctx context.Context, userID, passwordHash string) error
	CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error
	GetPasswordReset(ctx context.Context, token string) (string, error)
	MarkPasswordResetUsed(ctx context.Context, token string) error

	// refresh sessions (postgres fallback when Redis is not configured)
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error

	// projects
	InsertProject(ctx context.Context, project Project) error
	GetProject(ctx context.Context, projectID string) (Project, error)
	ListProjectsByOwner(ctx context.Context, userID string) ([]Project, error)
	UpdateProject(ctx context.Context, project Project) error
	DeleteProject(ctx context.Context, projectID string) error
	StepCounts(ctx context.Context, projectID string) (StepCounts, error)

	// steps
	InsertStep(ctx context.Context, step Step) error
	GetStep(ctx context.Context, stepID string) (Step, error)
	ListStepsByProject(ctx context.Context, projectID string) ([]Step, error)
	StepCount(ctx context.Context, projectID string) (int, error)
	UpdateStepContent(ctx context.Context, stepID, title string, description *string) error
	UpdateStepState(ctx context.Context, stepID string, isCompleted, isUnlocked bool) error
	UpdateStepOrder(ctx context.Context, stepID string, order int) error
	DeleteStep(ctx context.Context, stepID string) error

	// subtasks
	InsertSubtask(ctx context.Context, subtask Subtask) error
	GetSubtask(ctx context.Context, subtaskID string) (Subtask, error)
	ListSubtasksByStep(ctx context.Context, stepID string) ([]Subtask, error)
	SubtaskCount(ctx context.Context, stepID string) (int, error)
	UpdateSubtask(ctx context.Context, subtaskID, title string, isCompleted bool) error
	SetSubtaskCompleted(ctx context.Context, subtaskID string, isCompleted bool) error
	UpdateSubtaskOrder(ctx context.Context, subtaskID string, order int) error
	DeleteSubtask(ctx context.Context, subtaskID string) error

	// project members
	InsertMember(ctx context.Context, member ProjectMember) error
	GetMembership(ctx context.Context, projectID, userID string) (*ProjectMember, error)
	ListMembers(ctx context.Context, projectID string) ([]MemberDetails, error)
	ListMembershipsByUser(ctx context.Context, userID string) ([]ProjectMember, error)
	UpdateMemberPermission(ctx context.Context, projectID, userID, permission string) error
	DeleteMember(ctx context.Context, projectID, userID string) error

	// invitations
	InsertInvitation(ctx context.Context, invitation Invitation) error
	GetInvitationByToken(ctx context.Context, token string) (Invitation, error)
	GetInvitationByID(ctx context.Context, invitationID string) (Invitation, error)
	UpdateInvitationStatus(ctx context.Context, invitationID, status string) error
	MarkInvitationAccepted(ctx context.Context, invitationID, userID string, at time.Time) error
	ListInvitationsByProject(ctx context.Context, projectID string) ([]Invitation, error)

	WithTx(ctx context.Context, fn func(tx Store) error) error
	Ping(ctx context.Context) error
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type PostgresStore struct {
	db *sql.DB
	q  querier
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, q: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// WithTx runs fn against a Store bound to one transaction. A nested call
// reuses the ambient transaction rather than opening a second one.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(tx Store) error) error {
	if _, nested := s.q.(*sql.Tx); nested {
		return fn(s)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&PostgresStore{db: s.db, q: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// users

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO users (id, display_name, email, password_hash, is_email_verified, verification_token)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, user.ID, user.DisplayName, user.Email, user.PasswordHash, user.IsEmailVerified, user.VerificationToken)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.q.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, is_email_verified, created_at
		FROM users
		WHERE email = $1
	`, email).Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.IsEmailVerified, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.q.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, is_email_verified, created_at
		FROM users
		WHERE id = $1
	`, userID).Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.IsEmailVerified, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) UpdateUserVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.q.ExecContext(ctx, `
		UPDATE users
		SET verification_token=$2, verification_expires_at=$3, updated_at=NOW()
		WHERE id=$1
	`, userID, token, expiresAt)
	if err != nil {
		return fmt.Errorf("update verification token: %w", err)
	}
	return nil
}

func (s *PostgresStore) VerifyUserEmail(ctx context.Context, token string) error {
	result, err := s.q.ExecContext(ctx, `
		UPDATE users
		SET is_email_verified=TRUE, verification_token='', verification_expires_at=NULL, updated_at=NOW()
		WHERE verification_token=$1
			AND verification_token <> ''
			AND (verification_expires_at IS NULL OR verification_expires_at > NOW())
	`, token)
	if err != nil {
		return fmt.Errorf("verify email: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("verify email rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	_, err := s.q.ExecContext(ctx, `UPDATE users SET password_hash=$2, updated_at=NOW() WHERE id=$1`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO password_resets (token, user_id, expires_at)
		VALUES ($1, $2, $3)
	`, token, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("create password reset: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPasswordReset(ctx context.Context, token string) (string, error) {
	var userID string
	err := s.q.QueryRowContext(ctx, `
		SELECT user_id FROM password_resets
		WHERE token=$1 AND used_at IS NULL AND expires_at > NOW()
	`, token).Scan(&userID)
	if err != nil {
		return "", err
	}
	return userID, nil
}

func (s *PostgresStore) MarkPasswordResetUsed(ctx context.Context, token string) error {
	_, err := s.q.ExecContext(ctx, `UPDATE password_resets SET used_at=NOW() WHERE token=$1`, token)
	if err != nil {
		return fmt.Errorf("mark password reset used: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// refresh sessions

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	const query = `
		SELECT u.id, u.display_name, u.email
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`
	var user User
	err := s.q.QueryRowContext(ctx, query, tokenHash).Scan(&user.ID, &user.DisplayName, &user.Email)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.q.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// projects

func (s *PostgresStore) InsertProject(ctx context.Context, project Project) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO projects (id, name, description, link, color, owner_user_id)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, project.ID, project.Name, project.Description, project.Link, project.Color, project.OwnerUserID)
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetProject(ctx context.Context, projectID string) (Project, error) {
	var item Project
	err := s.q.QueryRowContext(ctx, `
		SELECT id, name, description, link, color, owner_user_id, created_at, updated_at
		FROM projects
		WHERE id=$1
	`, projectID).Scan(&item.ID, &item.Name, &item.Description, &item.Link, &item.Color, &item.OwnerUserID, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Project{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListProjectsByOwner(ctx context.Context, userID string) ([]Project, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, name, description, link, color, owner_user_id, created_at, updated_at
		FROM projects
		WHERE owner_user_id=$1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	items := make([]Project, 0)
	for rows.Next() {
		var item Project
		if err := rows.Scan(&item.ID, &item.Name, &item.Description, &item.Link, &item.Color, &item.OwnerUserID, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate projects: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateProject(ctx context.Context, project Project) error {
	_, err := s.q.ExecContext(ctx, `
		UPDATE projects
		SET name=$2, description=$3, link=$4, color=$5, updated_at=NOW()
		WHERE id=$1
	`, project.ID, project.Name, project.Description, project.Link, project.Color)
	if err != nil {
		return fmt.Errorf("update project: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteProject(ctx context.Context, projectID string) error {
	// Steps, subtasks, members, and invitations go with it via FK cascade.
	_, err := s.q.ExecContext(ctx, `DELETE FROM projects WHERE id=$1`, projectID)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	return nil
}

func (s *PostgresStore) StepCounts(ctx context.Context, projectID string) (StepCounts, error) {
	var counts StepCounts
	err := s.q.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE is_completed)
		FROM steps
		WHERE project_id=$1
	`, projectID).Scan(&counts.Total, &counts.Completed)
	if err != nil {
		return StepCounts{}, fmt.Errorf("step counts: %w", err)
	}
	return counts, nil
}

// ---------------------------------------------------------------------------
// steps

func (s *PostgresStore) InsertStep(ctx context.Context, step Step) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO steps (id, project_id, title, description, ord, is_completed, is_unlocked)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, step.ID, step.ProjectID, step.Title, step.Description, step.Order, step.IsCompleted, step.IsUnlocked)
	if err != nil {
		return fmt.Errorf("insert step: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetStep(ctx context.Context, stepID string) (Step, error) {
	var item Step
	err := s.q.QueryRowContext(ctx, `
		SELECT id, project_id, title, description, ord, is_completed, is_unlocked, created_at
		FROM steps
		WHERE id=$1
	`, stepID).Scan(&item.ID, &item.ProjectID, &item.Title, &item.Description, &item.Order, &item.IsCompleted, &item.IsUnlocked, &item.CreatedAt)
	if err != nil {
		return Step{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListStepsByProject(ctx context.Context, projectID string) ([]Step, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, project_id, title, description, ord, is_completed, is_unlocked, created_at
		FROM steps
		WHERE project_id=$1
		ORDER BY ord
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	defer rows.Close()

	items := make([]Step, 0)
	for rows.Next() {
		var item Step
		if err := rows.Scan(&item.ID, &item.ProjectID, &item.Title, &item.Description, &item.Order, &item.IsCompleted, &item.IsUnlocked, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate steps: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) StepCount(ctx context.Context, projectID string) (int, error) {
	var count int
	err := s.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM steps WHERE project_id=$1`, projectID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("step count: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) UpdateStepContent(ctx context.Context, stepID, title string, description *string) error {
	_, err := s.q.ExecContext(ctx, `UPDATE steps SET title=$2, description=$3 WHERE id=$1`, stepID, title, description)
	if err != nil {
		return fmt.Errorf("update step content: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateStepState(ctx context.Context, stepID string, isCompleted, isUnlocked bool) error {
	_, err := s.q.ExecContext(ctx, `UPDATE steps SET is_completed=$2, is_unlocked=$3 WHERE id=$1`, stepID, isCompleted, isUnlocked)
	if err != nil {
		return fmt.Errorf("update step state: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateStepOrder(ctx context.Context, stepID string, order int) error {
	_, err := s.q.ExecContext(ctx, `UPDATE steps SET ord=$2 WHERE id=$1`, stepID, order)
	if err != nil {
		return fmt.Errorf("update step order: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteStep(ctx context.Context, stepID string) error {
	_, err := s.q.ExecContext(ctx, `DELETE FROM steps WHERE id=$1`, stepID)
	if err != nil {
		return fmt.Errorf("delete step: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// subtasks

func (s *PostgresStore) InsertSubtask(ctx context.Context, subtask Subtask) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO subtasks (id, step_id, title, is_completed, ord)
		VALUES ($1, $2, $3, $4, $5)
	`, subtask.ID, subtask.StepID, subtask.Title, subtask.IsCompleted, subtask.Order)
	if err != nil {
		return fmt.Errorf("insert subtask: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetSubtask(ctx context.Context, subtaskID string) (Subtask, error) {
	var item Subtask
	err := s.q.QueryRowContext(ctx, `
		SELECT id, step_id, title, is_completed, ord, created_at
		FROM subtasks
		WHERE id=$1
	`, subtaskID).Scan(&item.ID, &item.StepID, &item.Title, &item.IsCompleted, &item.Order, &item.CreatedAt)
	if err != nil {
		return Subtask{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListSubtasksByStep(ctx context.Context, stepID string) ([]Subtask, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, step_id, title, is_completed, ord, created_at
		FROM subtasks
		WHERE step_id=$1
		ORDER BY ord
	`, stepID)
	if err != nil {
		return nil, fmt.Errorf("list subtasks: %w", err)
	}
	defer rows.Close()

	items := make([]Subtask, 0)
	for rows.Next() {
		var item Subtask
		if err := rows.Scan(&item.ID, &item.StepID, &item.Title, &item.IsCompleted, &item.Order, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan subtask: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subtasks: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) SubtaskCount(ctx context.Context, stepID string) (int, error) {
	var count int
	err := s.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM subtasks WHERE step_id=$1`, stepID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("subtask count: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) UpdateSubtask(ctx context.Context, subtaskID, title string, isCompleted bool) error {
	_, err := s.q.ExecContext(ctx, `UPDATE subtasks SET title=$2, is_completed=$3 WHERE id=$1`, subtaskID, title, isCompleted)
	if err != nil {
		return fmt.Errorf("update subtask: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetSubtaskCompleted(ctx context.Context, subtaskID string, isCompleted bool) error {
	_, err := s.q.ExecContext(ctx, `UPDATE subtasks SET is_completed=$2 WHERE id=$1`, subtaskID, isCompleted)
	if err != nil {
		return fmt.Errorf("set subtask completed: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateSubtaskOrder(ctx context.Context, subtaskID string, order int) error {
	_, err := s.q.ExecContext(ctx, `UPDATE subtasks SET ord=$2 WHERE id=$1`, subtaskID, order)
	if err != nil {
		return fmt.Errorf("update subtask order: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteSubtask(ctx context.Context, subtaskID string) error {
	_, err := s.q.ExecContext(ctx, `DELETE FROM subtasks WHERE id=$1`, subtaskID)
	if err != nil {
		return fmt.Errorf("delete subtask: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// project members

func (s *PostgresStore) InsertMember(ctx context.Context, member ProjectMember) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO project_members (id, project_id, user_id, permission, added_at, added_by)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, member.ID, member.ProjectID, member.UserID, member.Permission, member.AddedAt, member.AddedBy)
	if err != nil {
		return fmt.Errorf("insert member: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetMembership(ctx context.Context, projectID, userID string) (*ProjectMember, error) {
	var item ProjectMember
	err := s.q.QueryRowContext(ctx, `
		SELECT id, project_id, user_id, permission, added_at, added_by
		FROM project_members
		WHERE project_id=$1 AND user_id=$2
	`, projectID, userID).Scan(&item.ID, &item.ProjectID, &item.UserID, &item.Permission, &item.AddedAt, &item.AddedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get membership: %w", err)
	}
	return &item, nil
}

func (s *PostgresStore) ListMembers(ctx context.Context, projectID string) ([]MemberDetails, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT pm.id, pm.project_id, pm.user_id, pm.permission, pm.added_at, pm.added_by,
			u.display_name, u.email
		FROM project_members pm
		JOIN users u ON u.id = pm.user_id
		WHERE pm.project_id=$1
		ORDER BY pm.added_at
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	items := make([]MemberDetails, 0)
	for rows.Next() {
		var item MemberDetails
		if err := rows.Scan(&item.ID, &item.ProjectID, &item.UserID, &item.Permission, &item.AddedAt, &item.AddedBy, &item.UserName, &item.UserEmail); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate members: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListMembershipsByUser(ctx context.Context, userID string) ([]ProjectMember, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, project_id, user_id, permission, added_at, added_by
		FROM project_members
		WHERE user_id=$1
		ORDER BY added_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list memberships: %w", err)
	}
	defer rows.Close()

	items := make([]ProjectMember, 0)
	for rows.Next() {
		var item ProjectMember
		if err := rows.Scan(&item.ID, &item.ProjectID, &item.UserID, &item.Permission, &item.AddedAt, &item.AddedBy); err != nil {
			return nil, fmt.Errorf("scan membership: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memberships: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateMemberPermission(ctx context.Context, projectID, userID, permission string) error {
	_, err := s.q.ExecContext(ctx, `
		UPDATE project_members SET permission=$3 WHERE project_id=$1 AND user_id=$2
	`, projectID, userID, permission)
	if err != nil {
		return fmt.Errorf("update member permission: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteMember(ctx context.Context, projectID, userID string) error {
	_, err := s.q.ExecContext(ctx, `DELETE FROM project_members WHERE project_id=$1 AND user_id=$2`, projectID, userID)
	if err != nil {
		return fmt.Errorf("delete member: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// invitations

func (s *PostgresStore) InsertInvitation(ctx context.Context, invitation Invitation) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO invitations (id, project_id, invited_by, permission, token, expires_at, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, invitation.ID, invitation.ProjectID, invitation.InvitedBy, invitation.Permission, invitation.Token, invitation.ExpiresAt, invitation.Status)
	if err != nil {
		return fmt.Errorf("insert invitation: %w", err)
	}
	return nil
}

const invitationColumns = `id, project_id, invited_by, permission, token, expires_at, status, accepted_by, accepted_at, created_at`

func (s *PostgresStore) scanInvitation(row *sql.Row) (Invitation, error) {
	var item Invitation
	err := row.Scan(&item.ID, &item.ProjectID, &item.InvitedBy, &item.Permission, &item.Token,
		&item.ExpiresAt, &item.Status, &item.AcceptedBy, &item.AcceptedAt, &item.CreatedAt)
	if err != nil {
		return Invitation{}, err
	}
	return item, nil
}

func (s *PostgresStore) GetInvitationByToken(ctx context.Context, token string) (Invitation, error) {
	return s.scanInvitation(s.q.QueryRowContext(ctx,
		`SELECT `+invitationColumns+` FROM invitations WHERE token=$1`, token))
}

func (s *PostgresStore) GetInvitationByID(ctx context.Context, invitationID string) (Invitation, error) {
	return s.scanInvitation(s.q.QueryRowContext(ctx,
		`SELECT `+invitationColumns+` FROM invitations WHERE id=$1`, invitationID))
}

func (s *PostgresStore) UpdateInvitationStatus(ctx context.Context, invitationID, status string) error {
	_, err := s.q.ExecContext(ctx, `UPDATE invitations SET status=$2 WHERE id=$1`, invitationID, status)
	if err != nil {
		return fmt.Errorf("update invitation status: %w", err)
	}
	return nil
}

func (s *PostgresStore) MarkInvitationAccepted(ctx context.Context, invitationID, userID string, at time.Time) error {
	_, err := s.q.ExecContext(ctx, `
		UPDATE invitations SET status='accepted', accepted_by=$2, accepted_at=$3 WHERE id=$1
	`, invitationID, userID, at)
	if err != nil {
		return fmt.Errorf("mark invitation accepted: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListInvitationsByProject(ctx context.Context, projectID string) ([]Invitation, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+invitationColumns+`
		FROM invitations
		WHERE project_id=$1
		ORDER BY created_at DESC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list invitations: %w", err)
	}
	defer rows.Close()

	items := make([]Invitation, 0)
	for rows.Next() {
		var item Invitation
		if err := rows.Scan(&item.ID, &item.ProjectID, &item.InvitedBy, &item.Permission, &item.Token,
			&item.ExpiresAt, &item.Status, &item.AcceptedBy, &item.AcceptedAt, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan invitation: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate invitations: %w", err)
	}
	return items, nil
}
