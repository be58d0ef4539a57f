package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"stride/api/internal/config"
	"stride/api/internal/invite"
	"stride/api/internal/store"
)

func newTestService(f *fakeStore) *Service {
	cfg := config.Config{
		JWTSecret:  "test-secret",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 7 * 24 * time.Hour,
		AppBaseURL: "http://localhost:5173",
	}
	return New(cfg, f, zerolog.Nop())
}

func seedUser(f *fakeStore, id, name string) Session {
	f.users[id] = store.User{
		ID:              id,
		DisplayName:     name,
		Email:           id + "@example.com",
		IsEmailVerified: true,
	}
	return Session{UserID: id, UserName: name}
}

func seedMember(f *fakeStore, projectID, userID, permission string) {
	f.members["mem-"+projectID+"-"+userID] = store.ProjectMember{
		ID:         "mem-" + projectID + "-" + userID,
		ProjectID:  projectID,
		UserID:     userID,
		Permission: permission,
		AddedAt:    time.Now(),
	}
}

func mustProject(t *testing.T, svc *Service, session Session, name string) string {
	t.Helper()
	payload, err := svc.CreateProject(context.Background(), session, ProjectInput{Name: name})
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	return payload["id"].(string)
}

func mustStep(t *testing.T, svc *Service, session Session, projectID, title string) string {
	t.Helper()
	payload, err := svc.CreateStep(context.Background(), session, projectID, StepInput{Title: title})
	if err != nil {
		t.Fatalf("CreateStep %q: %v", title, err)
	}
	return payload["id"].(string)
}

func mustSubtask(t *testing.T, svc *Service, session Session, stepID, title string) string {
	t.Helper()
	payload, err := svc.CreateSubtask(context.Background(), session, stepID, title)
	if err != nil {
		t.Fatalf("CreateSubtask %q: %v", title, err)
	}
	return payload["id"].(string)
}

func mustToggle(t *testing.T, svc *Service, session Session, subtaskID string) {
	t.Helper()
	if _, err := svc.ToggleSubtask(context.Background(), session, subtaskID); err != nil {
		t.Fatalf("ToggleSubtask %s: %v", subtaskID, err)
	}
}

func stepState(t *testing.T, f *fakeStore, stepID string) store.Step {
	t.Helper()
	step, ok := f.steps[stepID]
	if !ok {
		t.Fatalf("step %s missing", stepID)
	}
	return step
}

func wantDomainError(t *testing.T, err error, status int, code string) {
	t.Helper()
	var derr *DomainError
	if !errors.As(err, &derr) {
		t.Fatalf("expected domain error %d %s, got %v", status, code, err)
	}
	if derr.Status != status || derr.Code != code {
		t.Fatalf("expected %d %s, got %d %s", status, code, derr.Status, derr.Code)
	}
}

func TestStepSequencing(t *testing.T) {
	f := newFakeStore()
	svc := newTestService(f)
	owner := seedUser(f, "user_owner", "Olive Owner")
	ctx := context.Background()

	projectID := mustProject(t, svc, owner, "Garden shed")
	first := mustStep(t, svc, owner, projectID, "Foundation")
	second := mustStep(t, svc, owner, projectID, "Framing")
	third := mustStep(t, svc, owner, projectID, "Roof")

	steps, err := svc.ListSteps(ctx, owner, projectID)
	if err != nil {
		t.Fatalf("ListSteps: %v", err)
	}
	if len(steps) != 3 {
		t.Fatalf("expected 3 steps, got %d", len(steps))
	}
	for i, id := range []string{first, second, third} {
		if steps[i]["id"] != id {
			t.Fatalf("step %d: expected %s, got %v", i, id, steps[i]["id"])
		}
		if steps[i]["order"] != i {
			t.Fatalf("step %d: expected order %d, got %v", i, i, steps[i]["order"])
		}
	}
	if !stepState(t, f, first).IsUnlocked {
		t.Fatal("first step should start unlocked")
	}
	if stepState(t, f, second).IsUnlocked || stepState(t, f, third).IsUnlocked {
		t.Fatal("later steps should start locked")
	}
}

func TestCascadeForwardAndBackward(t *testing.T) {
	f := newFakeStore()
	svc := newTestService(f)
	owner := seedUser(f, "user_owner", "Olive Owner")

	projectID := mustProject(t, svc, owner, "Launch")
	first := mustStep(t, svc, owner, projectID, "Design")
	second := mustStep(t, svc, owner, projectID, "Build")
	third := mustStep(t, svc, owner, projectID, "Ship")

	a := mustSubtask(t, svc, owner, first, "wireframes")
	b := mustSubtask(t, svc, owner, first, "mockups")
	c := mustSubtask(t, svc, owner, second, "backend")

	// Completing half the subtasks changes nothing.
	mustToggle(t, svc, owner, a)
	if stepState(t, f, first).IsCompleted {
		t.Fatal("step should not complete with an incomplete subtask left")
	}
	if stepState(t, f, second).IsUnlocked {
		t.Fatal("second step should still be locked")
	}

	// Completing the last subtask completes the step and unlocks order+1 only.
	mustToggle(t, svc, owner, b)
	if !stepState(t, f, first).IsCompleted {
		t.Fatal("first step should be completed")
	}
	if !stepState(t, f, second).IsUnlocked {
		t.Fatal("second step should be unlocked")
	}
	if stepState(t, f, third).IsUnlocked {
		t.Fatal("third step should stay locked")
	}

	mustToggle(t, svc, owner, c)
	if !stepState(t, f, second).IsCompleted {
		t.Fatal("second step should be completed")
	}
	if !stepState(t, f, third).IsUnlocked {
		t.Fatal("third step should be unlocked")
	}

	// Unchecking a subtask on the first step regresses it and locks and
	// uncompletes everything after it, including the completed second step.
	mustToggle(t, svc, owner, a)
	if stepState(t, f, first).IsCompleted {
		t.Fatal("first step should have regressed")
	}
	if !stepState(t, f, first).IsUnlocked {
		t.Fatal("regressed step keeps its unlock")
	}
	for _, id := range []string{second, third} {
		step := stepState(t, f, id)
		if step.IsCompleted || step.IsUnlocked {
			t.Fatalf("step %s should be locked and uncompleted, got completed=%v unlocked=%v",
				id, step.IsCompleted, step.IsUnlocked)
		}
	}
}

func TestCreateSubtaskRegressesCompletedStep(t *testing.T) {
	f := newFakeStore()
	svc := newTestService(f)
	owner := seedUser(f, "user_owner", "Olive Owner")

	projectID := mustProject(t, svc, owner, "Launch")
	first := mustStep(t, svc, owner, projectID, "Design")
	second := mustStep(t, svc, owner, projectID, "Build")

	a := mustSubtask(t, svc, owner, first, "wireframes")
	mustToggle(t, svc, owner, a)
	if !stepState(t, f, first).IsCompleted || !stepState(t, f, second).IsUnlocked {
		t.Fatal("setup: first step should be completed and second unlocked")
	}

	mustSubtask(t, svc, owner, first, "late addition")
	if stepState(t, f, first).IsCompleted {
		t.Fatal("adding an incomplete subtask should regress the step")
	}
	if stepState(t, f, second).IsUnlocked {
		t.Fatal("regression should re-lock the second step")
	}
}

func TestDeleteSubtaskReindexAndCompletion(t *testing.T) {
	f := newFakeStore()
	svc := newTestService(f)
	owner := seedUser(f, "user_owner", "Olive Owner")
	ctx := context.Background()

	projectID := mustProject(t, svc, owner, "Launch")
	first := mustStep(t, svc, owner, projectID, "Design")
	second := mustStep(t, svc, owner, projectID, "Build")

	a := mustSubtask(t, svc, owner, first, "done one")
	b := mustSubtask(t, svc, owner, first, "straggler")
	c := mustSubtask(t, svc, owner, first, "done two")
	mustToggle(t, svc, owner, a)
	mustToggle(t, svc, owner, c)

	// Deleting the only incomplete subtask completes the step and unlocks the
	// next one.
	if err := svc.DeleteSubtask(ctx, owner, b); err != nil {
		t.Fatalf("DeleteSubtask: %v", err)
	}
	if !stepState(t, f, first).IsCompleted {
		t.Fatal("step should complete once its last incomplete subtask is gone")
	}
	if !stepState(t, f, second).IsUnlocked {
		t.Fatal("next step should unlock")
	}

	subtasks, err := svc.ListSubtasks(ctx, owner, first)
	if err != nil {
		t.Fatalf("ListSubtasks: %v", err)
	}
	if len(subtasks) != 2 {
		t.Fatalf("expected 2 subtasks, got %d", len(subtasks))
	}
	for i, sub := range subtasks {
		if sub["order"] != i {
			t.Fatalf("subtask %d: expected dense order %d, got %v", i, i, sub["order"])
		}
	}
}

func TestDeleteStepReindexKeepsSequenceStartable(t *testing.T) {
	f := newFakeStore()
	svc := newTestService(f)
	owner := seedUser(f, "user_owner", "Olive Owner")
	ctx := context.Background()

	projectID := mustProject(t, svc, owner, "Launch")
	first := mustStep(t, svc, owner, projectID, "Design")
	second := mustStep(t, svc, owner, projectID, "Build")
	third := mustStep(t, svc, owner, projectID, "Ship")

	// Removing the middle step closes the order gap.
	if err := svc.DeleteStep(ctx, owner, second); err != nil {
		t.Fatalf("DeleteStep: %v", err)
	}
	if got := stepState(t, f, first).Order; got != 0 {
		t.Fatalf("first step order: expected 0, got %d", got)
	}
	if got := stepState(t, f, third).Order; got != 1 {
		t.Fatalf("third step order: expected 1, got %d", got)
	}

	// Removing the only unlocked step unlocks the new first step so the
	// sequence stays startable.
	if err := svc.DeleteStep(ctx, owner, first); err != nil {
		t.Fatalf("DeleteStep: %v", err)
	}
	remaining := stepState(t, f, third)
	if remaining.Order != 0 || !remaining.IsUnlocked {
		t.Fatalf("remaining step should be first and unlocked, got order=%d unlocked=%v",
			remaining.Order, remaining.IsUnlocked)
	}
}

func TestProjectProgress(t *testing.T) {
	f := newFakeStore()
	svc := newTestService(f)
	owner := seedUser(f, "user_owner", "Olive Owner")
	ctx := context.Background()

	projectID := mustProject(t, svc, owner, "Launch")
	first := mustStep(t, svc, owner, projectID, "Design")
	mustStep(t, svc, owner, projectID, "Build")
	mustStep(t, svc, owner, projectID, "Ship")

	payload, err := svc.GetProject(ctx, owner, projectID)
	if err != nil {
		t.Fatalf("GetProject: %v", err)
	}
	if payload["progress"] != 0 {
		t.Fatalf("expected progress 0, got %v", payload["progress"])
	}

	a := mustSubtask(t, svc, owner, first, "only task")
	mustToggle(t, svc, owner, a)

	payload, err = svc.GetProject(ctx, owner, projectID)
	if err != nil {
		t.Fatalf("GetProject: %v", err)
	}
	if payload["progress"] != 33 {
		t.Fatalf("expected progress 33 for 1/3 steps, got %v", payload["progress"])
	}
	if payload["role"] != "owner" {
		t.Fatalf("expected role owner, got %v", payload["role"])
	}
}

func TestPermissionGating(t *testing.T) {
	f := newFakeStore()
	svc := newTestService(f)
	owner := seedUser(f, "user_owner", "Olive Owner")
	viewer := seedUser(f, "user_viewer", "Vic Viewer")
	editor := seedUser(f, "user_editor", "Ed Editor")
	stranger := seedUser(f, "user_stranger", "Sam Stranger")
	ctx := context.Background()

	projectID := mustProject(t, svc, owner, "Launch")
	stepID := mustStep(t, svc, owner, projectID, "Design")
	seedMember(f, projectID, viewer.UserID, "view")
	seedMember(f, projectID, editor.UserID, "modify")

	// view: read yes, write no
	if steps, err := svc.ListSteps(ctx, viewer, projectID); err != nil || len(steps) != 1 {
		t.Fatalf("viewer should read steps, got %d err=%v", len(steps), err)
	}
	_, err := svc.CreateStep(ctx, viewer, projectID, StepInput{Title: "nope"})
	wantDomainError(t, err, 403, "FORBIDDEN")
	_, err = svc.CreateSubtask(ctx, viewer, stepID, "nope")
	wantDomainError(t, err, 403, "FORBIDDEN")

	// modify: write yes, manage no
	if _, err := svc.CreateStep(ctx, editor, projectID, StepInput{Title: "Build"}); err != nil {
		t.Fatalf("editor should create steps: %v", err)
	}
	if err := svc.DeleteProject(ctx, editor, projectID); err == nil {
		t.Fatal("editor should not delete the project")
	}
	_, err = svc.CreateInvitation(ctx, editor, projectID, CreateInvitationInput{Permission: "view"})
	wantDomainError(t, err, 403, "FORBIDDEN")

	// stranger: reads come back empty, never 403, so existence is not leaked
	payload, err := svc.GetProject(ctx, stranger, projectID)
	if err != nil || payload != nil {
		t.Fatalf("stranger GetProject should be nil/nil, got %v err=%v", payload, err)
	}
	if steps, err := svc.ListSteps(ctx, stranger, projectID); err != nil || len(steps) != 0 {
		t.Fatalf("stranger should see no steps, got %d err=%v", len(steps), err)
	}
	if invitations, err := svc.ListInvitations(ctx, viewer, projectID); err != nil || len(invitations) != 0 {
		t.Fatalf("non-owner should see no invitations, got %d err=%v", len(invitations), err)
	}
}

func TestInvitationRoundTrip(t *testing.T) {
	f := newFakeStore()
	svc := newTestService(f)
	owner := seedUser(f, "user_owner", "Olive Owner")
	guest := seedUser(f, "user_guest", "Gwen Guest")
	ctx := context.Background()

	projectID := mustProject(t, svc, owner, "Launch")

	created, err := svc.CreateInvitation(ctx, owner, projectID, CreateInvitationInput{Permission: "modify"})
	if err != nil {
		t.Fatalf("CreateInvitation: %v", err)
	}
	token := created["token"].(string)
	if created["status"] != "pending" {
		t.Fatalf("expected pending, got %v", created["status"])
	}

	// Details are public and never carry the raw token back out.
	details, err := svc.GetInvitationDetails(ctx, token)
	if err != nil {
		t.Fatalf("GetInvitationDetails: %v", err)
	}
	if details["projectName"] != "Launch" || details["inviterName"] != "Olive Owner" {
		t.Fatalf("unexpected details: %v", details)
	}
	if _, ok := details["token"]; ok {
		t.Fatal("details should not echo the token")
	}

	accepted, err := svc.AcceptInvitation(ctx, guest, token)
	if err != nil {
		t.Fatalf("AcceptInvitation: %v", err)
	}
	if accepted["projectId"] != projectID {
		t.Fatalf("expected projectId %s, got %v", projectID, accepted["projectId"])
	}

	membership, err := f.GetMembership(ctx, projectID, guest.UserID)
	if err != nil || membership == nil {
		t.Fatalf("expected membership after accept, got %v err=%v", membership, err)
	}
	if membership.Permission != "modify" {
		t.Fatalf("expected modify permission, got %s", membership.Permission)
	}
	if membership.AddedBy != owner.UserID {
		t.Fatalf("AddedBy should be the inviter, got %s", membership.AddedBy)
	}

	// The guest can now write.
	if _, err := svc.CreateStep(ctx, guest, projectID, StepInput{Title: "Design"}); err != nil {
		t.Fatalf("accepted guest should create steps: %v", err)
	}

	// Second accept hits the not-pending guard before anything else.
	_, err = svc.AcceptInvitation(ctx, guest, token)
	wantDomainError(t, err, 409, "INVITATION_NOT_PENDING")
}

func TestAcceptInvitationConflicts(t *testing.T) {
	f := newFakeStore()
	svc := newTestService(f)
	owner := seedUser(f, "user_owner", "Olive Owner")
	guest := seedUser(f, "user_guest", "Gwen Guest")
	ctx := context.Background()

	projectID := mustProject(t, svc, owner, "Launch")
	seedMember(f, projectID, guest.UserID, "view")

	created, err := svc.CreateInvitation(ctx, owner, projectID, CreateInvitationInput{Permission: "modify"})
	if err != nil {
		t.Fatalf("CreateInvitation: %v", err)
	}
	token := created["token"].(string)

	_, err = svc.AcceptInvitation(ctx, guest, token)
	wantDomainError(t, err, 409, "ALREADY_MEMBER")

	_, err = svc.AcceptInvitation(ctx, owner, token)
	wantDomainError(t, err, 409, "PROJECT_OWNER")

	_, err = svc.AcceptInvitation(ctx, guest, "tok_unknown")
	wantDomainError(t, err, 404, "NOT_FOUND")
}

func TestAcceptInvitationExpiryPersisted(t *testing.T) {
	f := newFakeStore()
	svc := newTestService(f)
	owner := seedUser(f, "user_owner", "Olive Owner")
	guest := seedUser(f, "user_guest", "Gwen Guest")
	ctx := context.Background()

	projectID := mustProject(t, svc, owner, "Launch")
	created, err := svc.CreateInvitation(ctx, owner, projectID, CreateInvitationInput{Permission: "view"})
	if err != nil {
		t.Fatalf("CreateInvitation: %v", err)
	}
	token := created["token"].(string)
	invitationID := created["id"].(string)

	// Age the row past its window.
	row := f.invitations[invitationID]
	row.ExpiresAt = time.Now().Add(-time.Hour)
	f.invitations[invitationID] = row

	_, err = svc.AcceptInvitation(ctx, guest, token)
	wantDomainError(t, err, 410, "EXPIRED")

	// The rejection is persisted, not just reported.
	if got := f.invitations[invitationID].Status; got != string(invite.StatusExpired) {
		t.Fatalf("expected stored status expired, got %s", got)
	}
	if membership, _ := f.GetMembership(ctx, projectID, guest.UserID); membership != nil {
		t.Fatal("expired accept must not create a membership")
	}
}

func TestDeclineInvitationIsPermissive(t *testing.T) {
	f := newFakeStore()
	svc := newTestService(f)
	owner := seedUser(f, "user_owner", "Olive Owner")
	guest := seedUser(f, "user_guest", "Gwen Guest")
	ctx := context.Background()

	projectID := mustProject(t, svc, owner, "Launch")
	created, err := svc.CreateInvitation(ctx, owner, projectID, CreateInvitationInput{Permission: "view"})
	if err != nil {
		t.Fatalf("CreateInvitation: %v", err)
	}
	token := created["token"].(string)
	invitationID := created["id"].(string)

	if _, err := svc.AcceptInvitation(ctx, guest, token); err != nil {
		t.Fatalf("AcceptInvitation: %v", err)
	}

	// Declining an already-accepted invitation still lands.
	if err := svc.DeclineInvitation(ctx, token); err != nil {
		t.Fatalf("DeclineInvitation: %v", err)
	}
	if got := f.invitations[invitationID].Status; got != string(invite.StatusDeclined) {
		t.Fatalf("expected declined, got %s", got)
	}

	if err := svc.DeclineInvitation(ctx, "tok_unknown"); err == nil {
		t.Fatal("declining an unknown token should fail")
	}
}

func TestRevokeInvitationOwnerOnly(t *testing.T) {
	f := newFakeStore()
	svc := newTestService(f)
	owner := seedUser(f, "user_owner", "Olive Owner")
	editor := seedUser(f, "user_editor", "Ed Editor")
	ctx := context.Background()

	projectID := mustProject(t, svc, owner, "Launch")
	seedMember(f, projectID, editor.UserID, "modify")

	created, err := svc.CreateInvitation(ctx, owner, projectID, CreateInvitationInput{Permission: "view"})
	if err != nil {
		t.Fatalf("CreateInvitation: %v", err)
	}
	invitationID := created["id"].(string)

	err = svc.RevokeInvitation(ctx, editor, invitationID)
	wantDomainError(t, err, 403, "FORBIDDEN")

	if err := svc.RevokeInvitation(ctx, owner, invitationID); err != nil {
		t.Fatalf("RevokeInvitation: %v", err)
	}
	if got := f.invitations[invitationID].Status; got != string(invite.StatusExpired) {
		t.Fatalf("expected expired after revoke, got %s", got)
	}
}

func TestMemberManagement(t *testing.T) {
	f := newFakeStore()
	svc := newTestService(f)
	owner := seedUser(f, "user_owner", "Olive Owner")
	viewer := seedUser(f, "user_viewer", "Vic Viewer")
	ctx := context.Background()

	projectID := mustProject(t, svc, owner, "Launch")
	seedMember(f, projectID, viewer.UserID, "view")

	members, err := svc.ListMembers(ctx, viewer, projectID)
	if err != nil || len(members) != 1 {
		t.Fatalf("member should list members, got %d err=%v", len(members), err)
	}

	// Only the owner changes permissions.
	err = svc.UpdateMemberPermission(ctx, viewer, projectID, viewer.UserID, "modify")
	wantDomainError(t, err, 403, "FORBIDDEN")
	if err := svc.UpdateMemberPermission(ctx, owner, projectID, viewer.UserID, "modify"); err != nil {
		t.Fatalf("UpdateMemberPermission: %v", err)
	}
	if _, err := svc.CreateStep(ctx, viewer, projectID, StepInput{Title: "Design"}); err != nil {
		t.Fatalf("promoted member should create steps: %v", err)
	}

	err = svc.UpdateMemberPermission(ctx, owner, projectID, "user_ghost", "view")
	wantDomainError(t, err, 404, "NOT_FOUND")

	// A member can remove themselves; anyone else needs the owner.
	if err := svc.RemoveMember(ctx, viewer, projectID, viewer.UserID); err != nil {
		t.Fatalf("self-removal: %v", err)
	}
	if membership, _ := f.GetMembership(ctx, projectID, viewer.UserID); membership != nil {
		t.Fatal("membership should be gone")
	}
}

func TestSessionLifecycle(t *testing.T) {
	f := newFakeStore()
	svc := newTestService(f)
	user := seedUser(f, "user_owner", "Olive Owner")
	ctx := context.Background()

	session, err := svc.CreateSession(ctx, user.UserID)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if session.Token == "" || session.RefreshToken == "" {
		t.Fatal("expected access and refresh tokens")
	}

	parsed, err := svc.SessionFromToken(ctx, session.Token)
	if err != nil {
		t.Fatalf("SessionFromToken: %v", err)
	}
	if parsed.UserID != user.UserID || parsed.UserName != "Olive Owner" {
		t.Fatalf("unexpected session identity: %+v", parsed)
	}

	rotated, err := svc.Refresh(ctx, session.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if rotated.RefreshToken == session.RefreshToken {
		t.Fatal("refresh should rotate the token")
	}

	// The old refresh token was revoked by the rotation.
	if _, err := svc.Refresh(ctx, session.RefreshToken); err == nil {
		t.Fatal("revoked refresh token should not mint a session")
	}

	if err := svc.Logout(ctx, rotated.RefreshToken); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, err := svc.Refresh(ctx, rotated.RefreshToken); err == nil {
		t.Fatal("logged-out refresh token should not mint a session")
	}
}

func TestSharedProjectsListing(t *testing.T) {
	f := newFakeStore()
	svc := newTestService(f)
	owner := seedUser(f, "user_owner", "Olive Owner")
	guest := seedUser(f, "user_guest", "Gwen Guest")
	ctx := context.Background()

	ownProject := mustProject(t, svc, guest, "Mine")
	sharedProject := mustProject(t, svc, owner, "Theirs")
	seedMember(f, sharedProject, guest.UserID, "view")

	owned, err := svc.ListProjects(ctx, guest)
	if err != nil || len(owned) != 1 || owned[0]["id"] != ownProject {
		t.Fatalf("expected own project only, got %v err=%v", owned, err)
	}

	shared, err := svc.ListSharedProjects(ctx, guest)
	if err != nil || len(shared) != 1 {
		t.Fatalf("expected one shared project, got %v err=%v", shared, err)
	}
	if shared[0]["id"] != sharedProject || shared[0]["role"] != "view" {
		t.Fatalf("unexpected shared entry: %v", shared[0])
	}
}
