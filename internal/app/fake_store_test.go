package app

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"stride/api/internal/store"
)

// fakeStore is an in-memory store.Store used by the service tests. WithTx
// hands back the same instance; the tests only care about the sequencing of
// writes, not isolation.
type fakeStore struct {
	users       map[string]store.User
	projects    map[string]store.Project
	steps       map[string]store.Step
	subtasks    map[string]store.Subtask
	members     map[string]store.ProjectMember
	invitations map[string]store.Invitation
	refresh     map[string]refreshRow
}

type refreshRow struct {
	userID    string
	expiresAt time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:       map[string]store.User{},
		projects:    map[string]store.Project{},
		steps:       map[string]store.Step{},
		subtasks:    map[string]store.Subtask{},
		members:     map[string]store.ProjectMember{},
		invitations: map[string]store.Invitation{},
		refresh:     map[string]refreshRow{},
	}
}

func (f *fakeStore) WithTx(ctx context.Context, fn func(tx store.Store) error) error {
	return fn(f)
}

func (f *fakeStore) Ping(ctx context.Context) error { return nil }

// users

func (f *fakeStore) CreateUser(_ context.Context, user store.User) error {
	f.users[user.ID] = user
	return nil
}

func (f *fakeStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	for _, user := range f.users {
		if user.Email == email {
			return user, nil
		}
	}
	return store.User{}, sql.ErrNoRows
}

func (f *fakeStore) GetUserByID(_ context.Context, userID string) (store.User, error) {
	user, ok := f.users[userID]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (f *fakeStore) UpdateUserVerificationToken(_ context.Context, userID, token string, _ time.Time) error {
	user := f.users[userID]
	user.VerificationToken = token
	f.users[userID] = user
	return nil
}

func (f *fakeStore) VerifyUserEmail(_ context.Context, token string) error {
	for id, user := range f.users {
		if user.VerificationToken == token && token != "" {
			user.IsEmailVerified = true
			user.VerificationToken = ""
			f.users[id] = user
			return nil
		}
	}
	return sql.ErrNoRows
}

func (f *fakeStore) UpdateUserPassword(_ context.Context, userID, passwordHash string) error {
	user := f.users[userID]
	user.PasswordHash = passwordHash
	f.users[userID] = user
	return nil
}

func (f *fakeStore) CreatePasswordReset(context.Context, string, string, time.Time) error {
	return nil
}

func (f *fakeStore) GetPasswordReset(context.Context, string) (string, error) {
	return "", sql.ErrNoRows
}

func (f *fakeStore) MarkPasswordResetUsed(context.Context, string) error { return nil }

// refresh sessions

func (f *fakeStore) SaveRefreshSession(_ context.Context, tokenHash, userID string, expiresAt time.Time) error {
	f.refresh[tokenHash] = refreshRow{userID: userID, expiresAt: expiresAt}
	return nil
}

func (f *fakeStore) LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error) {
	row, ok := f.refresh[tokenHash]
	if !ok || row.expiresAt.Before(time.Now()) {
		return store.User{}, sql.ErrNoRows
	}
	return f.GetUserByID(ctx, row.userID)
}

func (f *fakeStore) RevokeRefreshSession(_ context.Context, tokenHash string) error {
	delete(f.refresh, tokenHash)
	return nil
}

// projects

func (f *fakeStore) InsertProject(_ context.Context, project store.Project) error {
	f.projects[project.ID] = project
	return nil
}

func (f *fakeStore) GetProject(_ context.Context, projectID string) (store.Project, error) {
	project, ok := f.projects[projectID]
	if !ok {
		return store.Project{}, sql.ErrNoRows
	}
	return project, nil
}

func (f *fakeStore) ListProjectsByOwner(_ context.Context, userID string) ([]store.Project, error) {
	items := make([]store.Project, 0)
	for _, project := range f.projects {
		if project.OwnerUserID == userID {
			items = append(items, project)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (f *fakeStore) UpdateProject(_ context.Context, project store.Project) error {
	if _, ok := f.projects[project.ID]; !ok {
		return fmt.Errorf("update missing project %s", project.ID)
	}
	f.projects[project.ID] = project
	return nil
}

func (f *fakeStore) DeleteProject(_ context.Context, projectID string) error {
	delete(f.projects, projectID)
	for id, step := range f.steps {
		if step.ProjectID == projectID {
			for subID, subtask := range f.subtasks {
				if subtask.StepID == id {
					delete(f.subtasks, subID)
				}
			}
			delete(f.steps, id)
		}
	}
	for id, member := range f.members {
		if member.ProjectID == projectID {
			delete(f.members, id)
		}
	}
	for id, invitation := range f.invitations {
		if invitation.ProjectID == projectID {
			delete(f.invitations, id)
		}
	}
	return nil
}

func (f *fakeStore) StepCounts(ctx context.Context, projectID string) (store.StepCounts, error) {
	steps, _ := f.ListStepsByProject(ctx, projectID)
	counts := store.StepCounts{Total: len(steps)}
	for _, step := range steps {
		if step.IsCompleted {
			counts.Completed++
		}
	}
	return counts, nil
}

// steps

func (f *fakeStore) InsertStep(_ context.Context, step store.Step) error {
	f.steps[step.ID] = step
	return nil
}

func (f *fakeStore) GetStep(_ context.Context, stepID string) (store.Step, error) {
	step, ok := f.steps[stepID]
	if !ok {
		return store.Step{}, sql.ErrNoRows
	}
	return step, nil
}

func (f *fakeStore) ListStepsByProject(_ context.Context, projectID string) ([]store.Step, error) {
	items := make([]store.Step, 0)
	for _, step := range f.steps {
		if step.ProjectID == projectID {
			items = append(items, step)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Order < items[j].Order })
	return items, nil
}

func (f *fakeStore) StepCount(ctx context.Context, projectID string) (int, error) {
	steps, _ := f.ListStepsByProject(ctx, projectID)
	return len(steps), nil
}

func (f *fakeStore) UpdateStepContent(_ context.Context, stepID, title string, description *string) error {
	step, ok := f.steps[stepID]
	if !ok {
		return fmt.Errorf("update missing step %s", stepID)
	}
	step.Title = title
	step.Description = description
	f.steps[stepID] = step
	return nil
}

func (f *fakeStore) UpdateStepState(_ context.Context, stepID string, isCompleted, isUnlocked bool) error {
	step, ok := f.steps[stepID]
	if !ok {
		return fmt.Errorf("update missing step %s", stepID)
	}
	step.IsCompleted = isCompleted
	step.IsUnlocked = isUnlocked
	f.steps[stepID] = step
	return nil
}

func (f *fakeStore) UpdateStepOrder(_ context.Context, stepID string, order int) error {
	step, ok := f.steps[stepID]
	if !ok {
		return fmt.Errorf("update missing step %s", stepID)
	}
	step.Order = order
	f.steps[stepID] = step
	return nil
}

func (f *fakeStore) DeleteStep(_ context.Context, stepID string) error {
	delete(f.steps, stepID)
	for id, subtask := range f.subtasks {
		if subtask.StepID == stepID {
			delete(f.subtasks, id)
		}
	}
	return nil
}

// subtasks

func (f *fakeStore) InsertSubtask(_ context.Context, subtask store.Subtask) error {
	f.subtasks[subtask.ID] = subtask
	return nil
}

func (f *fakeStore) GetSubtask(_ context.Context, subtaskID string) (store.Subtask, error) {
	subtask, ok := f.subtasks[subtaskID]
	if !ok {
		return store.Subtask{}, sql.ErrNoRows
	}
	return subtask, nil
}

func (f *fakeStore) ListSubtasksByStep(_ context.Context, stepID string) ([]store.Subtask, error) {
	items := make([]store.Subtask, 0)
	for _, subtask := range f.subtasks {
		if subtask.StepID == stepID {
			items = append(items, subtask)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Order < items[j].Order })
	return items, nil
}

func (f *fakeStore) SubtaskCount(ctx context.Context, stepID string) (int, error) {
	subtasks, _ := f.ListSubtasksByStep(ctx, stepID)
	return len(subtasks), nil
}

func (f *fakeStore) UpdateSubtask(_ context.Context, subtaskID, title string, isCompleted bool) error {
	subtask, ok := f.subtasks[subtaskID]
	if !ok {
		return fmt.Errorf("update missing subtask %s", subtaskID)
	}
	subtask.Title = title
	subtask.IsCompleted = isCompleted
	f.subtasks[subtaskID] = subtask
	return nil
}

func (f *fakeStore) SetSubtaskCompleted(_ context.Context, subtaskID string, isCompleted bool) error {
	subtask, ok := f.subtasks[subtaskID]
	if !ok {
		return fmt.Errorf("toggle missing subtask %s", subtaskID)
	}
	subtask.IsCompleted = isCompleted
	f.subtasks[subtaskID] = subtask
	return nil
}

func (f *fakeStore) UpdateSubtaskOrder(_ context.Context, subtaskID string, order int) error {
	subtask, ok := f.subtasks[subtaskID]
	if !ok {
		return fmt.Errorf("reorder missing subtask %s", subtaskID)
	}
	subtask.Order = order
	f.subtasks[subtaskID] = subtask
	return nil
}

func (f *fakeStore) DeleteSubtask(_ context.Context, subtaskID string) error {
	delete(f.subtasks, subtaskID)
	return nil
}

// project members

func (f *fakeStore) InsertMember(_ context.Context, member store.ProjectMember) error {
	f.members[member.ID] = member
	return nil
}

func (f *fakeStore) GetMembership(_ context.Context, projectID, userID string) (*store.ProjectMember, error) {
	for _, member := range f.members {
		if member.ProjectID == projectID && member.UserID == userID {
			m := member
			return &m, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) ListMembers(_ context.Context, projectID string) ([]store.MemberDetails, error) {
	items := make([]store.MemberDetails, 0)
	for _, member := range f.members {
		if member.ProjectID != projectID {
			continue
		}
		details := store.MemberDetails{ProjectMember: member}
		if user, ok := f.users[member.UserID]; ok {
			details.UserName = user.DisplayName
			email := user.Email
			details.UserEmail = &email
		}
		items = append(items, details)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (f *fakeStore) ListMembershipsByUser(_ context.Context, userID string) ([]store.ProjectMember, error) {
	items := make([]store.ProjectMember, 0)
	for _, member := range f.members {
		if member.UserID == userID {
			items = append(items, member)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (f *fakeStore) UpdateMemberPermission(_ context.Context, projectID, userID, permission string) error {
	for id, member := range f.members {
		if member.ProjectID == projectID && member.UserID == userID {
			member.Permission = permission
			f.members[id] = member
			return nil
		}
	}
	return fmt.Errorf("update missing membership %s/%s", projectID, userID)
}

func (f *fakeStore) DeleteMember(_ context.Context, projectID, userID string) error {
	for id, member := range f.members {
		if member.ProjectID == projectID && member.UserID == userID {
			delete(f.members, id)
		}
	}
	return nil
}

// invitations

func (f *fakeStore) InsertInvitation(_ context.Context, invitation store.Invitation) error {
	f.invitations[invitation.ID] = invitation
	return nil
}

func (f *fakeStore) GetInvitationByToken(_ context.Context, token string) (store.Invitation, error) {
	for _, invitation := range f.invitations {
		if invitation.Token == token {
			return invitation, nil
		}
	}
	return store.Invitation{}, sql.ErrNoRows
}

func (f *fakeStore) GetInvitationByID(_ context.Context, invitationID string) (store.Invitation, error) {
	invitation, ok := f.invitations[invitationID]
	if !ok {
		return store.Invitation{}, sql.ErrNoRows
	}
	return invitation, nil
}

func (f *fakeStore) UpdateInvitationStatus(_ context.Context, invitationID, status string) error {
	invitation, ok := f.invitations[invitationID]
	if !ok {
		return fmt.Errorf("update missing invitation %s", invitationID)
	}
	invitation.Status = status
	f.invitations[invitationID] = invitation
	return nil
}

func (f *fakeStore) MarkInvitationAccepted(_ context.Context, invitationID, userID string, at time.Time) error {
	invitation, ok := f.invitations[invitationID]
	if !ok {
		return fmt.Errorf("accept missing invitation %s", invitationID)
	}
	invitation.Status = "accepted"
	invitation.AcceptedBy = &userID
	invitation.AcceptedAt = &at
	f.invitations[invitationID] = invitation
	return nil
}

func (f *fakeStore) ListInvitationsByProject(_ context.Context, projectID string) ([]store.Invitation, error) {
	items := make([]store.Invitation, 0)
	for _, invitation := range f.invitations {
		if invitation.ProjectID == projectID {
			items = append(items, invitation)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}
