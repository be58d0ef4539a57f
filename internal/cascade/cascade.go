// Package cascade computes the derived completion and unlock state of a
// project's steps. It is pure: callers read the current rows, ask for a plan,
// and apply the resulting writes inside their own transaction.
package cascade

import "sort"

// Subtask is the minimal view of a subtask the engine needs.
type Subtask struct {
	ID          string
	Order       int
	IsCompleted bool
}

// Step is the minimal view of a step the engine needs.
type Step struct {
	ID          string
	Order       int
	IsCompleted bool
	IsUnlocked  bool
}

// StepChange is one derived-state write the engine wants applied.
type StepChange struct {
	StepID      string
	IsCompleted bool
	IsUnlocked  bool
}

// OrderAssignment reassigns a sibling's order slot.
type OrderAssignment struct {
	ID    string
	Order int
}

// AllComplete evaluates the universal completion check over a step's
// subtasks. The subtask matching overrideID is evaluated with
// overrideCompleted instead of its stored value, so the check sees the
// post-mutation state even when the read predates the write. An empty set is
// vacuously complete.
func AllComplete(subtasks []Subtask, overrideID string, overrideCompleted bool) bool {
	for _, st := range subtasks {
		completed := st.IsCompleted
		if st.ID == overrideID {
			completed = overrideCompleted
		}
		if !completed {
			return false
		}
	}
	return true
}

// Plan returns the step writes required after a subtask mutation under step
// stepID left its completion check at allComplete.
//
// Transition to complete marks the step completed and unlocks only the step
// at order+1. Transition to incomplete marks the step incomplete and locks
// and uncompletes every later step, whatever their own subtask state: once a
// step regresses, everything built on it is invalid.
func Plan(steps []Step, stepID string, allComplete bool) []StepChange {
	var current *Step
	for i := range steps {
		if steps[i].ID == stepID {
			current = &steps[i]
			break
		}
	}
	if current == nil || current.IsCompleted == allComplete {
		return nil
	}

	var changes []StepChange
	if allComplete {
		changes = append(changes, StepChange{
			StepID:      current.ID,
			IsCompleted: true,
			IsUnlocked:  current.IsUnlocked,
		})
		for i := range steps {
			next := steps[i]
			if next.Order == current.Order+1 && !next.IsUnlocked {
				changes = append(changes, StepChange{
					StepID:      next.ID,
					IsCompleted: next.IsCompleted,
					IsUnlocked:  true,
				})
			}
		}
		return changes
	}

	changes = append(changes, StepChange{
		StepID:      current.ID,
		IsCompleted: false,
		IsUnlocked:  current.IsUnlocked,
	})
	for i := range steps {
		later := steps[i]
		if later.Order > current.Order {
			changes = append(changes, StepChange{
				StepID:      later.ID,
				IsCompleted: false,
				IsUnlocked:  false,
			})
		}
	}
	return changes
}

// Reindex restores dense 0-based ordering among siblings after removedID is
// deleted. Only assignments that actually move a sibling are returned.
func Reindex(siblings []Subtask, removedID string) []OrderAssignment {
	remaining := make([]Subtask, 0, len(siblings))
	for _, st := range siblings {
		if st.ID != removedID {
			remaining = append(remaining, st)
		}
	}
	sort.Slice(remaining, func(i, j int) bool { return remaining[i].Order < remaining[j].Order })

	var assignments []OrderAssignment
	for i, st := range remaining {
		if st.Order != i {
			assignments = append(assignments, OrderAssignment{ID: st.ID, Order: i})
		}
	}
	return assignments
}

// ReindexSteps is Reindex over steps; steps and subtasks share the dense
// ordering invariant but not a row shape.
func ReindexSteps(siblings []Step, removedID string) []OrderAssignment {
	items := make([]Subtask, 0, len(siblings))
	for _, s := range siblings {
		items = append(items, Subtask{ID: s.ID, Order: s.Order})
	}
	return Reindex(items, removedID)
}
