package cron

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	rcron "github.com/robfig/cron/v3"
)

// Schedule kinds.
const (
	KindCron  = "cron"
	KindEvery = "every"
	KindAt    = "at"
)

// Actions a job can carry.
const (
	// ActionDecaySweep prunes faded topics from every stored memory.
	ActionDecaySweep = "memory:decay-sweep"
	// ActionCheckIn has Rex reach out to a user unprompted.
	ActionCheckIn = "check-in"
)

var exprParser = rcron.NewParser(rcron.Second | rcron.Minute | rcron.Hour | rcron.Dom | rcron.Month | rcron.Dow | rcron.Descriptor)

type Schedule struct {
	Kind    string `json:"kind"`
	Expr    string `json:"expr,omitempty"`
	EveryMs int64  `json:"everyMs,omitempty"`
	AtMs    int64  `json:"atMs,omitempty"`
}

// Validate checks that the schedule can be run.
func (s Schedule) Validate() error {
	switch s.Kind {
	case KindCron:
		if _, err := exprParser.Parse(s.Expr); err != nil {
			return fmt.Errorf("invalid cron expression %q: %w", s.Expr, err)
		}
	case KindEvery:
		if s.EveryMs <= 0 {
			return fmt.Errorf("every schedule needs a positive interval")
		}
	case KindAt:
		if s.AtMs <= 0 {
			return fmt.Errorf("at schedule needs a time")
		}
	default:
		return fmt.Errorf("unknown schedule kind %q", s.Kind)
	}
	return nil
}

// Payload says what a job does and, for check-ins, where the result goes.
type Payload struct {
	Action  string `json:"action"`
	UserID  string `json:"userId,omitempty"`
	Note    string `json:"note,omitempty"`
	Channel string `json:"channel,omitempty"`
	ChatID  string `json:"chatId,omitempty"`
}

func (p Payload) Validate() error {
	switch p.Action {
	case ActionDecaySweep:
		return nil
	case ActionCheckIn:
		if strings.TrimSpace(p.UserID) == "" {
			return fmt.Errorf("check-in needs a user id")
		}
		return nil
	}
	return fmt.Errorf("unknown action %q", p.Action)
}

type JobState struct {
	LastRunAtMs int64  `json:"lastRunAtMs,omitempty"`
	LastStatus  string `json:"lastStatus,omitempty"`
	LastError   string `json:"lastError,omitempty"`
	Runs        int    `json:"runs,omitempty"`
}

type Job struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Enabled        bool     `json:"enabled"`
	Schedule       Schedule `json:"schedule"`
	Payload        Payload  `json:"payload"`
	State          JobState `json:"state"`
	CreatedAtMs    int64    `json:"createdAtMs"`
	DeleteAfterRun bool     `json:"deleteAfterRun,omitempty"`
}

// NewJob returns an enabled job with a fresh id.
func NewJob(name string, schedule Schedule, payload Payload) Job {
	return Job{
		ID:          uuid.NewString(),
		Name:        name,
		Enabled:     true,
		Schedule:    schedule,
		Payload:     payload,
		CreatedAtMs: time.Now().UnixMilli(),
	}
}
