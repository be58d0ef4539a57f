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

type SubtaskInput struct {
	Title       string `json:"title"`
	IsCompleted bool   `json:"isCompleted"`
}

func subtaskPayload(subtask store.Subtask) map[string]any {
	return map[string]any{
		"id":          subtask.ID,
		"stepId":      subtask.StepID,
		"title":       subtask.Title,
		"isCompleted": subtask.IsCompleted,
		"order":       subtask.Order,
		"createdAt":   subtask.CreatedAt.Unix(),
	}
}

// stepForWrite loads a step and checks the caller may mutate its project.
func (s *Service) stepForWrite(ctx context.Context, stepID, userID string) (store.Step, error) {
	step, err := s.store.GetStep(ctx, stepID)
	if err != nil {
		return store.Step{}, err
	}
	role, err := s.resolveRole(ctx, s.store, step.ProjectID, userID)
	if err != nil {
		return store.Step{}, err
	}
	if !rbac.Can(role, rbac.ActionWrite) {
		return store.Step{}, errForbidden("You don't have permission to modify this project")
	}
	return step, nil
}

// CreateSubtask appends a subtask to a step and re-evaluates the step's
// derived state: adding an incomplete subtask to a completed step regresses
// it and locks everything after it.
func (s *Service) CreateSubtask(ctx context.Context, session Session, stepID, title string) (map[string]any, error) {
	step, err := s.stepForWrite(ctx, stepID, session.UserID)
	if err != nil {
		return nil, err
	}

	title = strings.TrimSpace(title)
	if title == "" {
		return nil, errValidation("title is required")
	}

	var subtask store.Subtask
	err = s.store.WithTx(ctx, func(tx store.Store) error {
		count, err := tx.SubtaskCount(ctx, stepID)
		if err != nil {
			return err
		}
		subtask = store.Subtask{
			ID:          util.NewID("sub"),
			StepID:      stepID,
			Title:       title,
			IsCompleted: false,
			Order:       count,
		}
		if err := tx.InsertSubtask(ctx, subtask); err != nil {
			return err
		}
		return s.recomputeStep(ctx, tx, step)
	})
	if err != nil {
		return nil, err
	}

	if s.search != nil {
		s.search.IndexSubtask(subtaskRecord(subtask, step.ProjectID))
	}
	return subtaskPayload(subtask), nil
}

// ListSubtasks returns a step's subtasks in order. Callers without read
// access get an empty list.
func (s *Service) ListSubtasks(ctx context.Context, session Session, stepID string) ([]map[string]any, error) {
	step, err := s.store.GetStep(ctx, stepID)
	if errors.Is(err, sql.ErrNoRows) {
		return []map[string]any{}, nil
	}
	if err != nil {
		return nil, err
	}
	role, err := s.resolveRole(ctx, s.store, step.ProjectID, session.UserID)
	if errors.Is(err, sql.ErrNoRows) {
		return []map[string]any{}, nil
	}
	if err != nil {
		return nil, err
	}
	if !rbac.Can(role, rbac.ActionRead) {
		return []map[string]any{}, nil
	}

	subtasks, err := s.store.ListSubtasksByStep(ctx, stepID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(subtasks))
	for _, subtask := range subtasks {
		items = append(items, subtaskPayload(subtask))
	}
	return items, nil
}

// ToggleSubtask flips a subtask's completion and runs the cascade with the
// post-toggle value.
func (s *Service) ToggleSubtask(ctx context.Context, session Session, subtaskID string) (map[string]any, error) {
	subtask, err := s.store.GetSubtask(ctx, subtaskID)
	if err != nil {
		return nil, err
	}
	step, err := s.stepForWrite(ctx, subtask.StepID, session.UserID)
	if err != nil {
		return nil, err
	}

	subtask.IsCompleted = !subtask.IsCompleted
	err = s.store.WithTx(ctx, func(tx store.Store) error {
		if err := tx.SetSubtaskCompleted(ctx, subtaskID, subtask.IsCompleted); err != nil {
			return err
		}
		return s.recomputeStep(ctx, tx, step)
	})
	if err != nil {
		return nil, err
	}
	return subtaskPayload(subtask), nil
}

func (s *Service) UpdateSubtask(ctx context.Context, session Session, subtaskID string, input SubtaskInput) (map[string]any, error) {
	subtask, err := s.store.GetSubtask(ctx, subtaskID)
	if err != nil {
		return nil, err
	}
	step, err := s.stepForWrite(ctx, subtask.StepID, session.UserID)
	if err != nil {
		return nil, err
	}

	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, errValidation("title is required")
	}

	subtask.Title = title
	subtask.IsCompleted = input.IsCompleted
	err = s.store.WithTx(ctx, func(tx store.Store) error {
		if err := tx.UpdateSubtask(ctx, subtaskID, title, input.IsCompleted); err != nil {
			return err
		}
		return s.recomputeStep(ctx, tx, step)
	})
	if err != nil {
		return nil, err
	}

	if s.search != nil {
		s.search.IndexSubtask(subtaskRecord(subtask, step.ProjectID))
	}
	return subtaskPayload(subtask), nil
}

// DeleteSubtask removes a subtask, restores dense sibling ordering, and
// re-evaluates the step: removing the last incomplete subtask can complete
// the step and unlock its successor.
func (s *Service) DeleteSubtask(ctx context.Context, session Session, subtaskID string) error {
	subtask, err := s.store.GetSubtask(ctx, subtaskID)
	if err != nil {
		return err
	}
	step, err := s.stepForWrite(ctx, subtask.StepID, session.UserID)
	if err != nil {
		return err
	}

	err = s.store.WithTx(ctx, func(tx store.Store) error {
		siblings, err := tx.ListSubtasksByStep(ctx, subtask.StepID)
		if err != nil {
			return err
		}

		if err := tx.DeleteSubtask(ctx, subtaskID); err != nil {
			return err
		}

		for _, assignment := range cascade.Reindex(toCascadeSubtasks(siblings), subtaskID) {
			if err := tx.UpdateSubtaskOrder(ctx, assignment.ID, assignment.Order); err != nil {
				return err
			}
		}

		return s.recomputeStep(ctx, tx, step)
	})
	if err != nil {
		return err
	}

	if s.search != nil {
		s.search.DeleteSubtask(subtaskID)
	}
	return nil
}

// recomputeStep runs the cascade engine against the step's current subtasks
// and applies the resulting step writes. Must run inside the same transaction
// as the subtask mutation that triggered it.
func (s *Service) recomputeStep(ctx context.Context, tx store.Store, step store.Step) error {
	subtasks, err := tx.ListSubtasksByStep(ctx, step.ID)
	if err != nil {
		return err
	}
	allComplete := cascade.AllComplete(toCascadeSubtasks(subtasks), "", false)

	steps, err := tx.ListStepsByProject(ctx, step.ProjectID)
	if err != nil {
		return err
	}
	for _, change := range cascade.Plan(toCascadeSteps(steps), step.ID, allComplete) {
		if err := tx.UpdateStepState(ctx, change.StepID, change.IsCompleted, change.IsUnlocked); err != nil {
			return err
		}
	}
	return nil
}

func toCascadeSubtasks(subtasks []store.Subtask) []cascade.Subtask {
	items := make([]cascade.Subtask, 0, len(subtasks))
	for _, subtask := range subtasks {
		items = append(items, cascade.Subtask{
			ID:          subtask.ID,
			Order:       subtask.Order,
			IsCompleted: subtask.IsCompleted,
		})
	}
	return items
}

func subtaskRecord(subtask store.Subtask, projectID string) search.SubtaskRecord {
	return search.SubtaskRecord{
		ID:        subtask.ID,
		Title:     subtask.Title,
		StepID:    subtask.StepID,
		ProjectID: projectID,
	}
}
