package engine

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"voltline/internal/domain"
)

var lifecycle = []domain.TaskStatus{
	domain.StatusPending,
	domain.StatusAssigned,
	domain.StatusInProgress,
	domain.StatusCompleted,
	domain.StatusCancelled,
}

func TestTaskTransitionProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("terminal statuses have no exits", prop.ForAll(
		func(to int) bool {
			return ensureTaskTransition(domain.StatusCompleted, lifecycle[to]) != nil &&
				ensureTaskTransition(domain.StatusCancelled, lifecycle[to]) != nil
		},
		gen.IntRange(0, len(lifecycle)-1),
	))

	properties.Property("allowed transitions only move forward", prop.ForAll(
		func(from, to int) bool {
			if ensureTaskTransition(lifecycle[from], lifecycle[to]) != nil {
				return true
			}
			return to > from
		},
		gen.IntRange(0, len(lifecycle)-1),
		gen.IntRange(0, len(lifecycle)-1),
	))

	properties.Property("every open status can be cancelled", prop.ForAll(
		func(from int) bool {
			s := lifecycle[from]
			return s.Terminal() || ensureTaskTransition(s, domain.StatusCancelled) == nil
		},
		gen.IntRange(0, len(lifecycle)-1),
	))

	properties.Property("any walk from Pending takes at most three steps", prop.ForAll(
		func(targets []int) bool {
			cur := domain.StatusPending
			steps := 0
			for _, i := range targets {
				if ensureTaskTransition(cur, lifecycle[i]) == nil {
					cur = lifecycle[i]
					steps++
				}
			}
			return steps <= 3 && (steps == 0 || cur != domain.StatusPending)
		},
		gen.SliceOf(gen.IntRange(0, len(lifecycle)-1)),
	))

	properties.TestingRun(t)
}

func TestIssueTransitionProperties(t *testing.T) {
	statuses := []domain.IssueStatus{domain.IssueOpen, domain.IssueInProgress, domain.IssueResolved}
	properties := gopter.NewProperties(nil)

	properties.Property("resolved is final", prop.ForAll(
		func(to int) bool {
			return ensureIssueTransition(domain.IssueResolved, statuses[to]) != nil
		},
		gen.IntRange(0, len(statuses)-1),
	))
	properties.Property("issues never reopen", prop.ForAll(
		func(from int) bool {
			return ensureIssueTransition(statuses[from], domain.IssueOpen) != nil
		},
		gen.IntRange(0, len(statuses)-1),
	))

	properties.TestingRun(t)
}

func TestTransitionPermissionCoversActions(t *testing.T) {
	for _, s := range lifecycle {
		_, ok := transitionPermission(s)
		if s == domain.StatusPending && ok {
			t.Fatalf("Pending must not be a transition target")
		}
		if s != domain.StatusPending && !ok {
			t.Fatalf("no permission for %s", s)
		}
	}
}
