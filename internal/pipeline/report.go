package pipeline

import (
	"fmt"
	"time"
)

type State string

const (
	StateIdle       State = "idle"
	StateCrawling   State = "crawling"
	StateScoring    State = "scoring"
	StateStoring    State = "storing"
	StateDigesting  State = "digesting"
	StateDelivering State = "delivering"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

type Task string

const (
	TaskCrawl        Task = "crawl"
	TaskProcess      Task = "process"
	TaskSendEmails   Task = "send_emails"
	TaskFullPipeline Task = "full_pipeline"
)

var Tasks = []Task{TaskCrawl, TaskProcess, TaskSendEmails, TaskFullPipeline}

func ParseTask(s string) (Task, error) {
	for _, t := range Tasks {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown task %q (expected one of %v)", s, Tasks)
}

// stages lists the states a task walks through, in order.
func (t Task) stages() []State {
	switch t {
	case TaskCrawl:
		return []State{StateCrawling}
	case TaskProcess:
		return []State{StateCrawling, StateScoring, StateStoring}
	case TaskSendEmails:
		return []State{StateDigesting, StateDelivering}
	default:
		return []State{StateCrawling, StateScoring, StateStoring, StateDigesting, StateDelivering}
	}
}

type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// StageStats is what one stage reports back to the run.
type StageStats struct {
	Stage    State          `json:"stage"`
	Counts   map[string]int `json:"counts"`
	Errors   []string       `json:"errors,omitempty"`
	Duration time.Duration  `json:"duration"`
}

func newStageStats(stage State) *StageStats {
	return &StageStats{Stage: stage, Counts: make(map[string]int)}
}

func (s *StageStats) errorf(format string, args ...any) {
	s.Errors = append(s.Errors, fmt.Sprintf(format, args...))
}

// Report is the structured outcome of one run.
type Report struct {
	RunID      string        `json:"run_id"`
	Task       Task          `json:"task"`
	Status     Status        `json:"status"`
	State      State         `json:"state"`
	FailedAt   State         `json:"failed_at,omitempty"`
	Stages     []StageStats  `json:"stages"`
	Errors     []string      `json:"errors,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Duration   time.Duration `json:"duration"`
}

func (r *Report) Failed() bool { return r.Status == StatusFailed }

// Stage returns the stats of the named stage, if it ran.
func (r *Report) Stage(s State) (StageStats, bool) {
	for _, st := range r.Stages {
		if st.Stage == s {
			return st, true
		}
	}
	return StageStats{}, false
}

// Count is a shortcut for a counter of one stage, zero when absent.
func (r *Report) Count(s State, key string) int {
	st, ok := r.Stage(s)
	if !ok {
		return 0
	}
	return st.Counts[key]
}

// Delivers reports whether the task sends email.
func (t Task) Delivers() bool {
	return t == TaskSendEmails || t == TaskFullPipeline
}
