// SPDX-FileCopyrightText: 2026 The krait-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package task holds the agent's tasking state and the control loop driving
// it: fetch tasking from the controller, execute the jobs, report results.
package task

import (
	"sync"

	"github.com/krait-c2/krait-go/pkg/wire"
)

// Status describes a Job's lifecycle position. Transitions are monotonic, a
// Job never moves back to an earlier Status.
type Status int

const (
	// Queued jobs await execution.
	Queued Status = iota

	// Running jobs are currently executed.
	Running

	// Completed jobs finished without an error.
	Completed

	// Failed jobs finished with an error.
	Failed
)

func (status Status) String() string {
	switch status {
	case Queued:
		return "queued"
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Finished is true for the terminal states Completed and Failed.
func (status Status) Finished() bool {
	return status == Completed || status == Failed
}

// Job is one unit of tasking in flight.
type Job struct {
	ID         string
	Command    string
	Parameters string
	Status     Status
	Output     string
}

// List is the concurrent registry of all Jobs in flight. All access is
// mutex-protected; methods hand out copies, never pointers into the List.
type List struct {
	jobs  map[string]*Job
	order []string

	mutex sync.Mutex
}

// NewList creates an empty List.
func NewList() *List {
	return &List{jobs: make(map[string]*Job)}
}

// Enqueue adds a Task as a Queued Job, keeping arrival order. A duplicate ID
// is rejected.
func (list *List) Enqueue(t wire.Task) bool {
	list.mutex.Lock()
	defer list.mutex.Unlock()

	if _, exists := list.jobs[t.ID]; exists {
		return false
	}

	list.jobs[t.ID] = &Job{
		ID:         t.ID,
		Command:    t.Command,
		Parameters: t.Parameters,
		Status:     Queued,
	}
	list.order = append(list.order, t.ID)

	return true
}

// Transition moves a Job to a later Status and stores its output. Regressing
// transitions and transitions out of a terminal state are rejected.
func (list *List) Transition(id string, to Status, output string) bool {
	list.mutex.Lock()
	defer list.mutex.Unlock()

	job, exists := list.jobs[id]
	if !exists || to <= job.Status || job.Status.Finished() {
		return false
	}

	job.Status = to
	if output != "" {
		job.Output = output
	}

	return true
}

// Remove deletes a Job from the List.
func (list *List) Remove(id string) {
	list.mutex.Lock()
	defer list.mutex.Unlock()

	if _, exists := list.jobs[id]; !exists {
		return
	}

	delete(list.jobs, id)
	for i, jobID := range list.order {
		if jobID == id {
			list.order = append(list.order[:i], list.order[i+1:]...)
			break
		}
	}
}

// snapshot copies all Jobs in arrival order for which keep is true.
func (list *List) snapshot(keep func(*Job) bool) (jobs []Job) {
	list.mutex.Lock()
	defer list.mutex.Unlock()

	for _, id := range list.order {
		if job := list.jobs[id]; keep(job) {
			jobs = append(jobs, *job)
		}
	}
	return
}

// Queued returns copies of all Queued Jobs in arrival order.
func (list *List) Queued() []Job {
	return list.snapshot(func(job *Job) bool { return job.Status == Queued })
}

// Finished returns copies of all Completed and Failed Jobs in arrival order.
func (list *List) Finished() []Job {
	return list.snapshot(func(job *Job) bool { return job.Status.Finished() })
}

// Len returns the number of Jobs in flight.
func (list *List) Len() int {
	list.mutex.Lock()
	defer list.mutex.Unlock()

	return len(list.jobs)
}
