package app

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"stride/api/internal/rbac"
	"stride/api/internal/search"
	"stride/api/internal/store"
	"stride/api/internal/util"
)

type ProjectInput struct {
	Name        string  `json:"name"`
	Description *string `json:"description"`
	Link        *string `json:"link"`
	Color       string  `json:"color"`
}

const defaultProjectColor = "#6366f1"

func projectPayload(project store.Project, progress int, role rbac.Role) map[string]any {
	return map[string]any{
		"id":          project.ID,
		"name":        project.Name,
		"description": project.Description,
		"link":        project.Link,
		"color":       project.Color,
		"ownerUserId": project.OwnerUserID,
		"progress":    progress,
		"role":        string(role),
		"createdAt":   project.CreatedAt.Unix(),
		"updatedAt":   project.UpdatedAt.Unix(),
	}
}

func (s *Service) CreateProject(ctx context.Context, session Session, input ProjectInput) (map[string]any, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, errValidation("name is required")
	}

	color := strings.TrimSpace(input.Color)
	if color == "" {
		color = defaultProjectColor
	}

	project := store.Project{
		ID:          util.NewID("proj"),
		Name:        name,
		Description: input.Description,
		Link:        input.Link,
		Color:       color,
		OwnerUserID: session.UserID,
	}
	if err := s.store.InsertProject(ctx, project); err != nil {
		return nil, err
	}

	if s.search != nil {
		s.search.IndexProject(projectRecord(project))
	}

	return projectPayload(project, 0, rbac.RoleOwner), nil
}

// ListProjects returns the projects the caller owns, each with computed
// progress.
func (s *Service) ListProjects(ctx context.Context, session Session) ([]map[string]any, error) {
	projects, err := s.store.ListProjectsByOwner(ctx, session.UserID)
	if err != nil {
		return nil, err
	}

	items := make([]map[string]any, 0, len(projects))
	for _, project := range projects {
		counts, err := s.store.StepCounts(ctx, project.ID)
		if err != nil {
			return nil, err
		}
		items = append(items, projectPayload(project, progressPercent(counts), rbac.RoleOwner))
	}
	return items, nil
}

// ListSharedProjects returns the projects shared with the caller through a
// membership, annotated with the granted permission.
func (s *Service) ListSharedProjects(ctx context.Context, session Session) ([]map[string]any, error) {
	memberships, err := s.store.ListMembershipsByUser(ctx, session.UserID)
	if err != nil {
		return nil, err
	}

	items := make([]map[string]any, 0, len(memberships))
	for _, membership := range memberships {
		project, err := s.store.GetProject(ctx, membership.ProjectID)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, err
		}
		counts, err := s.store.StepCounts(ctx, project.ID)
		if err != nil {
			return nil, err
		}
		items = append(items, projectPayload(project, progressPercent(counts), rbac.FromMembership(membership.Permission)))
	}
	return items, nil
}

// GetProject returns the project with computed progress, or nil when the
// caller may not read it. Absence and denial are indistinguishable.
func (s *Service) GetProject(ctx context.Context, session Session, projectID string) (map[string]any, error) {
	role, err := s.resolveRole(ctx, s.store, projectID, session.UserID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !rbac.Can(role, rbac.ActionRead) {
		return nil, nil
	}

	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	counts, err := s.store.StepCounts(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return projectPayload(project, progressPercent(counts), role), nil
}

func (s *Service) UpdateProject(ctx context.Context, session Session, projectID string, input ProjectInput) (map[string]any, error) {
	role, err := s.resolveRole(ctx, s.store, projectID, session.UserID)
	if err != nil {
		return nil, err
	}
	if !rbac.Can(role, rbac.ActionWrite) {
		return nil, errForbidden("You don't have permission to modify this project")
	}

	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, errValidation("name is required")
	}
	color := strings.TrimSpace(input.Color)
	if color == "" {
		color = defaultProjectColor
	}

	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	project.Name = name
	project.Description = input.Description
	project.Link = input.Link
	project.Color = color

	if err := s.store.UpdateProject(ctx, project); err != nil {
		return nil, err
	}

	if s.search != nil {
		s.search.IndexProject(projectRecord(project))
	}

	counts, err := s.store.StepCounts(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return projectPayload(project, progressPercent(counts), role), nil
}

// DeleteProject removes a project and everything under it. Owner only.
func (s *Service) DeleteProject(ctx context.Context, session Session, projectID string) error {
	role, err := s.resolveRole(ctx, s.store, projectID, session.UserID)
	if err != nil {
		return err
	}
	if !rbac.Can(role, rbac.ActionManage) {
		return errForbidden("Only the owner can delete a project")
	}

	if err := s.store.DeleteProject(ctx, projectID); err != nil {
		return err
	}

	if s.search != nil {
		s.search.DeleteProject(projectID)
	}
	return nil
}

func projectRecord(project store.Project) search.ProjectRecord {
	description := ""
	if project.Description != nil {
		description = *project.Description
	}
	return search.ProjectRecord{
		ID:          project.ID,
		Name:        project.Name,
		Description: description,
		ProjectID:   project.ID,
	}
}
