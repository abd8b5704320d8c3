package session

import (
	"context"
	"fmt"
	"time"

	"github.com/marmos91/fixgate/internal/logger"
)

// ScheduleAction names an engine operation a schedule entry triggers.
type ScheduleAction string

const (
	ActionStart      ScheduleAction = "start"
	ActionStop       ScheduleAction = "stop"
	ActionReset      ScheduleAction = "reset"
	ActionResetStart ScheduleAction = "reset_start"
)

// ScheduleEntry fires an action daily at a local wall-clock time.
type ScheduleEntry struct {
	// Time is "HH:MM" in the process's local zone.
	Time string

	// Action to run.
	Action ScheduleAction
}

// Validate checks the time format and action name.
func (s ScheduleEntry) Validate() error {
	if _, err := time.Parse("15:04", s.Time); err != nil {
		return fmt.Errorf("schedule time %q: want HH:MM", s.Time)
	}
	switch s.Action {
	case ActionStart, ActionStop, ActionReset, ActionResetStart:
		return nil
	default:
		return fmt.Errorf("unknown schedule action %q", s.Action)
	}
}

// Scheduler triggers daily engine actions. It polls once a minute and
// fires an entry when the current minute matches; good enough for the
// calendar granularity FIX sessions run on.
type Scheduler struct {
	engine  *Engine
	entries []ScheduleEntry
	clock   Clock
}

// NewScheduler validates the entries and binds them to the engine.
func NewScheduler(engine *Engine, entries []ScheduleEntry, clock Clock) (*Scheduler, error) {
	for _, entry := range entries {
		if err := entry.Validate(); err != nil {
			return nil, err
		}
	}
	if clock == nil {
		clock = RealClock()
	}
	return &Scheduler{engine: engine, entries: entries, clock: clock}, nil
}

// Run blocks until ctx is cancelled, firing entries as their times
// come around.
func (s *Scheduler) Run(ctx context.Context) {
	if len(s.entries) == 0 {
		return
	}

	ticker := s.clock.NewTicker(time.Minute)
	defer ticker.Stop()

	lastFired := ""
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
		}

		now := s.clock.Now().Format("15:04")
		for _, entry := range s.entries {
			if entry.Time != now {
				continue
			}
			key := entry.Time + "/" + string(entry.Action)
			if key == lastFired {
				continue
			}
			lastFired = key
			s.fire(ctx, entry)
		}
	}
}

func (s *Scheduler) fire(ctx context.Context, entry ScheduleEntry) {
	logger.Info("schedule trigger",
		"time", entry.Time,
		"action", string(entry.Action))

	var err error
	switch entry.Action {
	case ActionStart:
		err = s.engine.Start(ctx)
	case ActionStop:
		err = s.engine.Stop(ctx, true, 0)
	case ActionReset:
		err = s.engine.ResetSequenceNumbers(ctx)
	case ActionResetStart:
		if err = s.engine.ResetSequenceNumbers(ctx); err == nil {
			err = s.engine.Start(ctx)
		}
	}
	if err != nil {
		logger.Error("schedule action failed",
			"action", string(entry.Action),
			logger.KeyError, err)
	}
}
