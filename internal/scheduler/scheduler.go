// Package scheduler spreads background tasks over worker hosts round-robin.
package scheduler

import (
	"github.com/imkarma/drover/internal/hosts"
	"github.com/imkarma/drover/internal/store"
)

// Assignment binds one task to one host for a single run.
type Assignment struct {
	TaskID      string `json:"task_id"`
	TaskName    string `json:"task_name"`
	HostID      string `json:"host"`
	Hostname    string `json:"hostname"`
	ProjectPath string `json:"-"`
}

// Plan is the scheduler's output.
type Plan struct {
	Assignments []Assignment
	// Remaining counts input tasks that were not assigned.
	Remaining int
}

// HostsUsed counts distinct hosts that received at least one task.
func (p Plan) HostsUsed() int {
	seen := make(map[string]bool)
	for _, a := range p.Assignments {
		seen[a.HostID] = true
	}
	return len(seen)
}

// PerHost returns the number of assignments per host id.
func (p Plan) PerHost() map[string]int {
	counts := make(map[string]int)
	for _, a := range p.Assignments {
		counts[a.HostID]++
	}
	return counts
}

// Limit is the most tasks host h takes in one run: the smaller of maxPerHost
// and its own capacity. A non-positive capacity means maxPerHost.
func Limit(h hosts.Host, maxPerHost int) int {
	if h.Capacity > 0 && h.Capacity < maxPerHost {
		return h.Capacity
	}
	return maxPerHost
}

// Load is work hosts already carry from earlier plans.
type Load struct {
	PerHost map[string]int
	Total   int
}

// Add counts assignments into the load.
func (l *Load) Add(as []Assignment) {
	if l.PerHost == nil {
		l.PerHost = make(map[string]int)
	}
	for _, a := range as {
		l.PerHost[a.HostID]++
		l.Total++
	}
}

// Assign walks tasks in order and hands each to the host at a rotating
// cursor, skipping hosts that are full. It stops when a full rotation finds
// no spare capacity or when maxParallel tasks are assigned.
func Assign(tasks []store.Task, hs []hosts.Host, maxPerHost, maxParallel int) Plan {
	return AssignWithLoad(tasks, hs, maxPerHost, maxParallel, Load{})
}

// AssignWithLoad is Assign on hosts that already carry load: their counts
// start from load.PerHost and load.Total counts against maxParallel.
func AssignWithLoad(tasks []store.Task, hs []hosts.Host, maxPerHost, maxParallel int, load Load) Plan {
	plan := Plan{}
	if len(hs) == 0 || maxPerHost <= 0 || maxParallel <= 0 {
		plan.Remaining = len(tasks)
		return plan
	}

	counts := make([]int, len(hs))
	for i, h := range hs {
		counts[i] = load.PerHost[h.ID]
	}
	cursor := 0
	for _, t := range tasks {
		if load.Total+len(plan.Assignments) >= maxParallel {
			break
		}

		found := false
		for tried := 0; tried < len(hs); tried++ {
			if counts[cursor] < Limit(hs[cursor], maxPerHost) {
				found = true
				break
			}
			cursor = (cursor + 1) % len(hs)
		}
		if !found {
			break
		}

		h := hs[cursor]
		plan.Assignments = append(plan.Assignments, Assignment{
			TaskID:      t.ID,
			TaskName:    t.Name,
			HostID:      h.ID,
			Hostname:    h.Hostname,
			ProjectPath: h.ProjectPath,
		})
		counts[cursor]++
		cursor = (cursor + 1) % len(hs)
	}

	plan.Remaining = len(tasks) - len(plan.Assignments)
	return plan
}
