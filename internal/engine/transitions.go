package engine

import (
	"voltline/internal/domain"
	"voltline/internal/engine/authz"
)

// ensureTaskTransition enforces the lifecycle table. Cancelled is reachable
// from every non-terminal state; nothing else may skip a step.
func ensureTaskTransition(from, to domain.TaskStatus) error {
	switch from {
	case domain.StatusPending:
		if to == domain.StatusAssigned || to == domain.StatusCancelled {
			return nil
		}
	case domain.StatusAssigned:
		if to == domain.StatusInProgress || to == domain.StatusCancelled {
			return nil
		}
	case domain.StatusInProgress:
		if to == domain.StatusCompleted || to == domain.StatusCancelled {
			return nil
		}
	}
	return &domain.InvalidTransitionError{Entity: "task", From: string(from), To: string(to)}
}

func ensureIssueTransition(from, to domain.IssueStatus) error {
	switch from {
	case domain.IssueOpen:
		if to == domain.IssueInProgress || to == domain.IssueResolved {
			return nil
		}
	case domain.IssueInProgress:
		if to == domain.IssueResolved {
			return nil
		}
	}
	return &domain.InvalidTransitionError{Entity: "issue", From: string(from), To: string(to)}
}

// transitionPermission maps a target status to the action that may reach it.
func transitionPermission(to domain.TaskStatus) (string, bool) {
	switch to {
	case domain.StatusAssigned:
		return authz.TaskAssign, true
	case domain.StatusInProgress:
		return authz.TaskStart, true
	case domain.StatusCompleted:
		return authz.TaskComplete, true
	case domain.StatusCancelled:
		return authz.TaskCancel, true
	}
	return "", false
}
