package service

import (
	"courtcam/apperr"
	"courtcam/constant"
	"fmt"
	"github.com/google/uuid"
	"maps"
	"sync"
	"time"
)

// Job is a copy of the slot's state at one instant.
type Job struct {
	ID         uuid.UUID          `json:"job_id"`
	Kind       constant.JobKind   `json:"kind,omitempty"`
	Status     constant.JobStatus `json:"status"`
	Message    string             `json:"message"`
	Outputs    map[string]string  `json:"outputs,omitempty"`
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt time.Time          `json:"finished_at"`
}

// JobSlot is the single asynchronous job cell. Only the holder of the active
// job id may move it forward, and only out of Running.
type JobSlot struct {
	mu   sync.Mutex
	job  Job
	prev Job
	now  func() time.Time
}

func NewJobSlot() *JobSlot {
	return &JobSlot{job: Job{Status: constant.JobStatusIdle}, now: time.Now}
}

// Acquire starts a new job, discarding the previous finished one.
func (s *JobSlot) Acquire(kind constant.JobKind) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.job.Status == constant.JobStatusRunning {
		return uuid.Nil, fmt.Errorf("%s job %s: %w", s.job.Kind, s.job.ID, apperr.ErrJobAlreadyRunning)
	}
	s.prev = s.job
	s.job = Job{
		ID:        uuid.New(),
		Kind:      kind,
		Status:    constant.JobStatusRunning,
		Message:   "queued",
		StartedAt: s.now(),
	}
	return s.job.ID, nil
}

// Abort undoes an Acquire whose job never started, restoring the previous job.
func (s *JobSlot) Abort(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.job.ID != id || s.job.Status != constant.JobStatusRunning {
		return false
	}
	s.job = s.prev
	s.prev = Job{Status: constant.JobStatusIdle}
	return true
}

func (s *JobSlot) Progress(id uuid.UUID, message string) bool {
	return s.update(id, func(j *Job) { j.Message = message })
}

func (s *JobSlot) Complete(id uuid.UUID, message string, outputs map[string]string) bool {
	return s.update(id, func(j *Job) {
		j.Status = constant.JobStatusComplete
		j.Message = message
		j.Outputs = maps.Clone(outputs)
		j.FinishedAt = s.now()
	})
}

func (s *JobSlot) Fail(id uuid.UUID, err error) bool {
	return s.update(id, func(j *Job) {
		j.Status = constant.JobStatusError
		j.Message = err.Error()
		j.FinishedAt = s.now()
	})
}

func (s *JobSlot) update(id uuid.UUID, fn func(j *Job)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.job.ID != id || s.job.Status != constant.JobStatusRunning {
		return false
	}
	fn(&s.job)
	return true
}

// Snapshot never waits on the worker beyond the cell's mutex. Outputs are only
// reported for a completed job.
func (s *JobSlot) Snapshot() Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := s.job
	j.Outputs = nil
	if j.Status == constant.JobStatusComplete {
		j.Outputs = maps.Clone(s.job.Outputs)
	}
	return j
}
