package app

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"stride/api/internal/cascade"
	"stride/api/internal/rbac"
	"stride/api/internal/search"
	"stride/api/internal/store"
	"stride/api/internal/util"
)

type StepInput struct {
	Title       string  `json:"title"`
	Description *string `json:"description"`
}

func stepPayload(step store.Step) map[string]any {
	return map[string]any{
		"id":          step.ID,
		"projectId":   step.ProjectID,
		"title":       step.Title,
		"description": step.Description,
		"order":       step.Order,
		"isCompleted": step.IsCompleted,
		"isUnlocked":  step.IsUnlocked,
		"createdAt":   step.CreatedAt.Unix(),
	}
}

// CreateStep appends a step to the project's sequence. The new step takes the
// next order slot; only the first step of a project starts unlocked.
func (s *Service) CreateStep(ctx context.Context, session Session, projectID string, input StepInput) (map[string]any, error) {
	role, err := s.resolveRole(ctx, s.store, projectID, session.UserID)
	if err != nil {
		return nil, err
	}
	if !rbac.Can(role, rbac.ActionWrite) {
		return nil, errForbidden("You don't have permission to modify this project")
	}

	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, errValidation("title is required")
	}

	var step store.Step
	err = s.store.WithTx(ctx, func(tx store.Store) error {
		count, err := tx.StepCount(ctx, projectID)
		if err != nil {
			return err
		}
		step = store.Step{
			ID:          util.NewID("step"),
			ProjectID:   projectID,
			Title:       title,
			Description: input.Description,
			Order:       count,
			IsCompleted: false,
			IsUnlocked:  count == 0,
		}
		return tx.InsertStep(ctx, step)
	})
	if err != nil {
		return nil, err
	}

	if s.search != nil {
		s.search.IndexStep(stepRecord(step))
	}
	return stepPayload(step), nil
}

// ListSteps returns a project's steps in order. Callers without read access
// get an empty list.
func (s *Service) ListSteps(ctx context.Context, session Session, projectID string) ([]map[string]any, error) {
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

	steps, err := s.store.ListStepsByProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(steps))
	for _, step := range steps {
		items = append(items, stepPayload(step))
	}
	return items, nil
}

func (s *Service) UpdateStep(ctx context.Context, session Session, stepID string, input StepInput) (map[string]any, error) {
	step, err := s.store.GetStep(ctx, stepID)
	if err != nil {
		return nil, err
	}
	role, err := s.resolveRole(ctx, s.store, step.ProjectID, session.UserID)
	if err != nil {
		return nil, err
	}
	if !rbac.Can(role, rbac.ActionWrite) {
		return nil, errForbidden("You don't have permission to modify this project")
	}

	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, errValidation("title is required")
	}

	if err := s.store.UpdateStepContent(ctx, stepID, title, input.Description); err != nil {
		return nil, err
	}
	step.Title = title
	step.Description = input.Description

	if s.search != nil {
		s.search.IndexStep(stepRecord(step))
	}
	return stepPayload(step), nil
}

// DeleteStep removes a step, closes the order gap among the remaining steps,
// and keeps the sequence startable by unlocking the new first step if nothing
// is unlocked anymore.
func (s *Service) DeleteStep(ctx context.Context, session Session, stepID string) error {
	step, err := s.store.GetStep(ctx, stepID)
	if err != nil {
		return err
	}
	role, err := s.resolveRole(ctx, s.store, step.ProjectID, session.UserID)
	if err != nil {
		return err
	}
	if !rbac.Can(role, rbac.ActionWrite) {
		return errForbidden("You don't have permission to modify this project")
	}

	err = s.store.WithTx(ctx, func(tx store.Store) error {
		siblings, err := tx.ListStepsByProject(ctx, step.ProjectID)
		if err != nil {
			return err
		}

		if err := tx.DeleteStep(ctx, stepID); err != nil {
			return err
		}

		for _, assignment := range cascade.ReindexSteps(toCascadeSteps(siblings), stepID) {
			if err := tx.UpdateStepOrder(ctx, assignment.ID, assignment.Order); err != nil {
				return err
			}
		}

		remaining, err := tx.ListStepsByProject(ctx, step.ProjectID)
		if err != nil {
			return err
		}
		anyUnlocked := false
		for _, sibling := range remaining {
			if sibling.IsUnlocked {
				anyUnlocked = true
				break
			}
		}
		if !anyUnlocked && len(remaining) > 0 {
			first := remaining[0]
			if err := tx.UpdateStepState(ctx, first.ID, first.IsCompleted, true); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if s.search != nil {
		s.search.DeleteStep(stepID)
	}
	return nil
}

func toCascadeSteps(steps []store.Step) []cascade.Step {
	items := make([]cascade.Step, 0, len(steps))
	for _, step := range steps {
		items = append(items, cascade.Step{
			ID:          step.ID,
			Order:       step.Order,
			IsCompleted: step.IsCompleted,
			IsUnlocked:  step.IsUnlocked,
		})
	}
	return items
}

func stepRecord(step store.Step) search.StepRecord {
	description := ""
	if step.Description != nil {
		description = *step.Description
	}
	return search.StepRecord{
		ID:          step.ID,
		Title:       step.Title,
		Description: description,
		ProjectID:   step.ProjectID,
	}
}
