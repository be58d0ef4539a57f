package app

import (
	"context"
	"database/sql"
	"errors"

	"stride/api/internal/rbac"
	"stride/api/internal/store"
)

func memberPayload(member store.MemberDetails) map[string]any {
	name := member.UserName
	if name == "" && member.UserEmail != nil {
		name = *member.UserEmail
	}
	if name == "" {
		name = "Unknown"
	}
	return map[string]any{
		"id":         member.ID,
		"projectId":  member.ProjectID,
		"userId":     member.UserID,
		"userName":   name,
		"userEmail":  member.UserEmail,
		"permission": member.Permission,
		"addedAt":    member.AddedAt.Unix(),
		"addedBy":    member.AddedBy,
	}
}

// ListMembers returns a project's membership roster. Any role that can read
// the project sees the full roster; everyone else gets an empty list.
func (s *Service) ListMembers(ctx context.Context, session Session, projectID string) ([]map[string]any, error) {
	role, err := s.resolveRole(ctx, s.store, projectID, session.UserID)
	if errors.Is(err, sql.ErrNoRows) {
		return []map[string]any{}, nil
	}
	if err != nil {
		return nil, err
	}
	if !rbac.Can(role, rbac.ActionRead) {
		return []map[string]any{}, nil
	}

	members, err := s.store.ListMembers(ctx, projectID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(members))
	for _, member := range members {
		items = append(items, memberPayload(member))
	}
	return items, nil
}

// UpdateMemberPermission changes a member's grant. Owner only; the grantable
// permissions are view and modify.
func (s *Service) UpdateMemberPermission(ctx context.Context, session Session, projectID, userID, permission string) error {
	role, err := s.resolveRole(ctx, s.store, projectID, session.UserID)
	if err != nil {
		return err
	}
	if !rbac.Can(role, rbac.ActionManage) {
		return errForbidden("Only the owner can change member permissions")
	}
	if !rbac.ValidPermission(permission) {
		return errValidation("permission must be view or modify")
	}

	membership, err := s.store.GetMembership(ctx, projectID, userID)
	if err != nil {
		return err
	}
	if membership == nil {
		return errNotFound("Member not found")
	}

	return s.store.UpdateMemberPermission(ctx, projectID, userID, permission)
}

// RemoveMember drops a member from a project. The owner can remove anyone; a
// member can remove themselves to leave the project.
func (s *Service) RemoveMember(ctx context.Context, session Session, projectID, userID string) error {
	role, err := s.resolveRole(ctx, s.store, projectID, session.UserID)
	if err != nil {
		return err
	}
	if !rbac.Can(role, rbac.ActionManage) && session.UserID != userID {
		return errForbidden("Only the owner can remove members")
	}

	membership, err := s.store.GetMembership(ctx, projectID, userID)
	if err != nil {
		return err
	}
	if membership == nil {
		return errNotFound("Member not found")
	}

	return s.store.DeleteMember(ctx, projectID, userID)
}
