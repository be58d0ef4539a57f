package app

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"stride/api/internal/invite"
	"stride/api/internal/rbac"
	"stride/api/internal/store"
	"stride/api/internal/util"
)

type CreateInvitationInput struct {
	Permission string `json:"permission"`
	Email      string `json:"email"`
}

func invitationPayload(invitation store.Invitation, now time.Time) map[string]any {
	return map[string]any{
		"id":         invitation.ID,
		"projectId":  invitation.ProjectID,
		"invitedBy":  invitation.InvitedBy,
		"permission": invitation.Permission,
		"token":      invitation.Token,
		"expiresAt":  invitation.ExpiresAt.Unix(),
		"status":     string(invite.EffectiveStatus(invite.Status(invitation.Status), invitation.ExpiresAt, now)),
		"isExpired":  invite.IsExpired(invitation.ExpiresAt, now),
		"createdAt":  invitation.CreatedAt.Unix(),
	}
}

// CreateInvitation mints a shareable invitation token for a project. Owner
// only. When SMTP is configured and a recipient address was given, the invite
// link goes out by email as well.
func (s *Service) CreateInvitation(ctx context.Context, session Session, projectID string, input CreateInvitationInput) (map[string]any, error) {
	role, err := s.resolveRole(ctx, s.store, projectID, session.UserID)
	if err != nil {
		return nil, err
	}
	if !rbac.Can(role, rbac.ActionManage) {
		return nil, errForbidden("Only the owner can invite collaborators")
	}
	if !rbac.ValidPermission(input.Permission) {
		return nil, errValidation("permission must be view or modify")
	}

	now := time.Now()
	invitation := store.Invitation{
		ID:         util.NewID("inv"),
		ProjectID:  projectID,
		InvitedBy:  session.UserID,
		Permission: input.Permission,
		Token:      invite.NewToken(),
		ExpiresAt:  now.Add(invite.TTL),
		Status:     string(invite.StatusPending),
	}
	if err := s.store.InsertInvitation(ctx, invitation); err != nil {
		return nil, err
	}

	inviteURL := s.cfg.AppBaseURL + "/invite/" + invitation.Token
	if input.Email != "" && s.SMTPConfigured() {
		project, err := s.store.GetProject(ctx, projectID)
		if err == nil {
			inviterName := s.displayName(ctx, session.UserID)
			if err := s.email.SendInvitationEmail(input.Email, inviterName, project.Name, invitation.Permission, inviteURL); err != nil {
				s.log.Warn().Err(err).Str("invitation_id", invitation.ID).Msg("invitation email failed")
			}
		}
	}

	payload := invitationPayload(invitation, now)
	payload["inviteUrl"] = inviteURL
	return payload, nil
}

// GetInvitationDetails resolves a token to the context a recipient needs
// before deciding: project name, who invited them, the permission offered,
// and whether the window has passed. Unknown tokens yield nil.
func (s *Service) GetInvitationDetails(ctx context.Context, token string) (map[string]any, error) {
	invitation, err := s.store.GetInvitationByToken(ctx, token)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	project, err := s.store.GetProject(ctx, invitation.ProjectID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	payload := invitationPayload(invitation, now)
	delete(payload, "token")
	payload["projectName"] = project.Name
	payload["inviterName"] = s.displayName(ctx, invitation.InvitedBy)
	return payload, nil
}

// AcceptInvitation redeems a pending token for a membership. The expiry flip
// is persisted when discovered, so a later read of the row agrees with the
// rejection the caller got.
func (s *Service) AcceptInvitation(ctx context.Context, session Session, token string) (map[string]any, error) {
	var projectID string
	err := s.store.WithTx(ctx, func(tx store.Store) error {
		invitation, err := tx.GetInvitationByToken(ctx, token)
		if errors.Is(err, sql.ErrNoRows) {
			return errNotFound("Invitation not found")
		}
		if err != nil {
			return err
		}

		if invitation.Status != string(invite.StatusPending) {
			return errConflict("INVITATION_NOT_PENDING", "This invitation has already been used")
		}

		now := time.Now()
		if invite.IsExpired(invitation.ExpiresAt, now) {
			if err := tx.UpdateInvitationStatus(ctx, invitation.ID, string(invite.StatusExpired)); err != nil {
				return err
			}
			return errExpired("This invitation has expired")
		}

		membership, err := tx.GetMembership(ctx, invitation.ProjectID, session.UserID)
		if err != nil {
			return err
		}
		if membership != nil {
			return errConflict("ALREADY_MEMBER", "You are already a member of this project")
		}

		project, err := tx.GetProject(ctx, invitation.ProjectID)
		if err != nil {
			return err
		}
		if project.OwnerUserID == session.UserID {
			return errConflict("PROJECT_OWNER", "You already own this project")
		}

		member := store.ProjectMember{
			ID:         util.NewID("mem"),
			ProjectID:  invitation.ProjectID,
			UserID:     session.UserID,
			Permission: invitation.Permission,
			AddedAt:    now,
			AddedBy:    invitation.InvitedBy,
		}
		if err := tx.InsertMember(ctx, member); err != nil {
			return err
		}
		if err := tx.MarkInvitationAccepted(ctx, invitation.ID, session.UserID, now); err != nil {
			return err
		}

		projectID = invitation.ProjectID
		return nil
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"projectId": projectID}, nil
}

// DeclineInvitation marks a token declined. Deliberately permissive: any
// holder of an existing token can decline it, whatever its current status.
func (s *Service) DeclineInvitation(ctx context.Context, token string) error {
	invitation, err := s.store.GetInvitationByToken(ctx, token)
	if errors.Is(err, sql.ErrNoRows) {
		return errNotFound("Invitation not found")
	}
	if err != nil {
		return err
	}
	return s.store.UpdateInvitationStatus(ctx, invitation.ID, string(invite.StatusDeclined))
}

// RevokeInvitation withdraws a pending invitation by forcing it expired.
// Owner only.
func (s *Service) RevokeInvitation(ctx context.Context, session Session, invitationID string) error {
	invitation, err := s.store.GetInvitationByID(ctx, invitationID)
	if err != nil {
		return err
	}

	role, err := s.resolveRole(ctx, s.store, invitation.ProjectID, session.UserID)
	if err != nil {
		return err
	}
	if !rbac.Can(role, rbac.ActionManage) {
		return errForbidden("Only the owner can revoke invitations")
	}

	return s.store.UpdateInvitationStatus(ctx, invitation.ID, string(invite.StatusExpired))
}

// ListInvitations returns a project's invitations, annotated with the
// effective status at read time. Owner only; everyone else gets an empty
// list.
func (s *Service) ListInvitations(ctx context.Context, session Session, projectID string) ([]map[string]any, error) {
	role, err := s.resolveRole(ctx, s.store, projectID, session.UserID)
	if errors.Is(err, sql.ErrNoRows) {
		return []map[string]any{}, nil
	}
	if err != nil {
		return nil, err
	}
	if !rbac.Can(role, rbac.ActionManage) {
		return []map[string]any{}, nil
	}

	invitations, err := s.store.ListInvitationsByProject(ctx, projectID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	items := make([]map[string]any, 0, len(invitations))
	for _, invitation := range invitations {
		items = append(items, invitationPayload(invitation, now))
	}
	return items, nil
}

// displayName resolves a user ID to something presentable: display name,
// then email, then "Unknown".
func (s *Service) displayName(ctx context.Context, userID string) string {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return "Unknown"
	}
	if user.DisplayName != "" {
		return user.DisplayName
	}
	if user.Email != "" {
		return user.Email
	}
	return "Unknown"
}
