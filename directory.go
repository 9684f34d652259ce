package conductor

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Project is a discovery view over a persisted workflow.
type Project struct {
	WorkflowID string
	Status     Status
	UpdatedAt  string
	State      *WorkflowState
}

// Directory is a thin read-side convenience layer over the state machine's
// ListAll/Load, used to discover existing workflows and suggest recovery
// actions. It never mutates state.
type Directory struct {
	states *StateMachine
}

// NewDirectory creates a directory over the given state machine.
func NewDirectory(states *StateMachine) *Directory {
	return &Directory{states: states}
}

// FindByName returns the workflow whose ID contains the given name
// (case-insensitive). Absence is a normal outcome, reported as ErrNotFound.
// When several match, the most recently updated wins.
func (d *Directory) FindByName(ctx context.Context, name string) (*Project, error) {
	ids, err := d.states.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(name)

	var match *WorkflowState
	for _, id := range ids {
		if !strings.Contains(strings.ToLower(id), needle) {
			continue
		}
		state, err := d.states.Load(ctx, id)
		if err != nil {
			return nil, err
		}
		if match == nil || state.UpdatedAt.After(match.UpdatedAt) {
			match = state
		}
	}
	if match == nil {
		return nil, ErrNotFound
	}
	return projectOf(match), nil
}

// LatestUnfinished returns the paused or failed workflow with the most recent
// update, or ErrNotFound when everything is finished or nothing exists.
func (d *Directory) LatestUnfinished(ctx context.Context) (*Project, error) {
	ids, err := d.states.ListAll(ctx)
	if err != nil {
		return nil, err
	}

	var latest *WorkflowState
	for _, id := range ids {
		state, err := d.states.Load(ctx, id)
		if err != nil {
			return nil, err
		}
		if state.Status != StatusPaused && state.Status != StatusFailed {
			continue
		}
		if latest == nil || state.UpdatedAt.After(latest.UpdatedAt) {
			latest = state
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	return projectOf(latest), nil
}

// SuggestRecoveryActions derives human-readable recovery suggestions in a
// deterministic order: resume first if paused, then up to the three most
// recent recovery points if failed, then always a restart suggestion last.
func (d *Directory) SuggestRecoveryActions(project *Project) []string {
	var suggestions []string

	if project.Status == StatusPaused {
		suggestions = append(suggestions,
			fmt.Sprintf("resume %s from where it was paused", project.WorkflowID))
	}
	if project.Status == StatusFailed {
		points := project.State.RecoveryPoints()
		sort.Slice(points, func(i, j int) bool {
			return points[i].Timestamp.After(points[j].Timestamp)
		})
		if len(points) > 3 {
			points = points[:3]
		}
		for _, point := range points {
			suggestions = append(suggestions,
				fmt.Sprintf("recover %s from checkpoint %s at node %q", project.WorkflowID, point.CheckpointID, point.NodeID))
		}
	}
	suggestions = append(suggestions,
		fmt.Sprintf("restart %s from the beginning", project.WorkflowID))
	return suggestions
}

func projectOf(state *WorkflowState) *Project {
	return &Project{
		WorkflowID: state.WorkflowID,
		Status:     state.Status,
		UpdatedAt:  state.UpdatedAt.Format("2006-01-02 15:04:05"),
		State:      state,
	}
}
