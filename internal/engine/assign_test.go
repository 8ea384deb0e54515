package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voltline/internal/aggregate"
	"voltline/internal/domain"
)

func rankedWorker(id string, skills ...string) domain.Worker {
	return domain.Worker{ID: id, Name: id, Role: domain.RoleElectrician, Skills: skills, Active: true, Presence: domain.PresenceOnline}
}

func ratedTask(id, worker, date string, status domain.TaskStatus, rating int) domain.WorkOrder {
	assignee := worker
	t := domain.WorkOrder{
		ID:         id,
		Status:     status,
		AssigneeID: &assignee,
		Schedule:   domain.Schedule{Date: date, Start: "09:00", End: "10:00"},
	}
	if rating > 0 {
		t.Feedback = &domain.Feedback{Rating: rating}
	}
	return t
}

func TestRankCandidatesOrdering(t *testing.T) {
	asOf := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	snap := aggregate.Snapshot{
		Workers: []domain.Worker{
			rankedWorker("w-a", "panel"),
			rankedWorker("w-b", "panel"),
			rankedWorker("w-c", "panel", "solar"),
			rankedWorker("w-d", "panel"),
			rankedWorker("w-e", "panel", "solar"),
			rankedWorker("w-f", "panel"),
			{ID: "m-1", Role: domain.RoleManager, Active: true, Presence: domain.PresenceOnline},
		},
		Tasks: []domain.WorkOrder{
			ratedTask("t1", "w-a", "2025-03-09", domain.StatusCompleted, 5),
			ratedTask("t2", "w-b", "2025-03-09", domain.StatusCompleted, 5),
			ratedTask("t3", "w-b", "2025-03-10", domain.StatusCompleted, 5),
			ratedTask("t4", "w-d", "2025-03-09", domain.StatusCompleted, 3),
			ratedTask("t5", "w-e", "2025-03-10", domain.StatusInProgress, 0),
			ratedTask("t6", "w-f", "2025-03-08", domain.StatusCompleted, 5),
		},
	}
	task := domain.WorkOrder{ID: "new", RequiredSkills: []string{"panel", "Solar"}}

	got := rankCandidates(task, snap, asOf)
	ids := make([]string, 0, len(got))
	for _, c := range got {
		ids = append(ids, c.Worker.ID)
	}
	assert.Equal(t, []string{"w-c", "w-a", "w-f", "w-b", "w-d"}, ids)
	assert.Equal(t, 2, got[0].SkillOverlap)
	assert.Equal(t, 1, got[3].TasksToday)
	assert.InDelta(t, 3.0, got[4].AverageRating, 1e-9)
}

func TestRankCandidatesEmptyWhenNobodyAvailable(t *testing.T) {
	w := rankedWorker("w-a", "panel")
	w.Presence = domain.PresenceBreak
	got := rankCandidates(domain.WorkOrder{}, aggregate.Snapshot{Workers: []domain.Worker{w}}, time.Now())
	assert.Empty(t, got)
}

func TestKeyedMutex(t *testing.T) {
	k := newKeyedMutex()
	var wg sync.WaitGroup
	counter := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock("task-1")
			counter++
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, counter)
	assert.Zero(t, k.size(), "idle keys must be dropped")

	unlockA := k.Lock("a")
	acquired := make(chan struct{})
	go func() {
		unlock := k.Lock("b")
		close(acquired)
		unlock()
	}()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		require.Fail(t, "distinct keys must not block each other")
	}
	unlockA()
}
