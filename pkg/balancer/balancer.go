// Package balancer picks an assignee for a task by open workload.
package balancer

import (
	"errors"

	"taskboard-sync-backend/pkg/models"
)

// ErrNoEligibleUsers is returned when there is nobody to assign to.
var ErrNoEligibleUsers = errors.New("no eligible users")

// Load counts the open tasks (Todo or In Progress) assigned to each user.
func Load(tasks []models.Task) map[string]int {
	load := make(map[string]int)
	for i := range tasks {
		t := &tasks[i]
		if t.AssignedUser == nil || !t.Status.Open() {
			continue
		}
		load[*t.AssignedUser]++
	}
	return load
}

// LeastLoaded returns the eligible user with the fewest open tasks.
// Ties go to whoever comes first in eligible.
func LeastLoaded(tasks []models.Task, eligible []string) (string, error) {
	if len(eligible) == 0 {
		return "", ErrNoEligibleUsers
	}
	load := Load(tasks)
	best := eligible[0]
	for _, u := range eligible[1:] {
		if load[u] < load[best] {
			best = u
		}
	}
	return best, nil
}
