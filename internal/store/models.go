package store

import "time"

type User struct {
	ID                    string
	DisplayName           string
	Email                 string
	PasswordHash          string
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

type Project struct {
	ID          string
	Name        string
	Description *string
	Link        *string
	Color       string
	OwnerUserID string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Step struct {
	ID          string
	ProjectID   string
	Title       string
	Description *string
	Order       int
	IsCompleted bool
	IsUnlocked  bool
	CreatedAt   time.Time
}

type Subtask struct {
	ID          string
	StepID      string
	Title       string
	IsCompleted bool
	Order       int
	CreatedAt   time.Time
}

type ProjectMember struct {
	ID         string
	ProjectID  string
	UserID     string
	Permission string
	AddedAt    time.Time
	AddedBy    string
}

// MemberDetails joins user display fields onto a membership row for API
// responses.
type MemberDetails struct {
	ProjectMember
	UserName  string
	UserEmail *string
}

type Invitation struct {
	ID         string
	ProjectID  string
	InvitedBy  string
	Permission string
	Token      string
	ExpiresAt  time.Time
	Status     string
	AcceptedBy *string
	AcceptedAt *time.Time
	CreatedAt  time.Time
}

// StepCounts is the per-project aggregate the progress computation reads.
type StepCounts struct {
	Total     int
	Completed int
}
