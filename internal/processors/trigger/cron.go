package trigger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/bakkerme/culler/internal/core"
)

type CronProcessor struct {
	name     string
	schedule string
	timezone string

	mu       sync.Mutex
	cron     *cron.Cron
	events   chan core.TriggerEvent
	stopOnce sync.Once
}

func NewCronProcessor(schedule, timezone string) *CronProcessor {
	return &CronProcessor{
		name:     "cron",
		schedule: schedule,
		timezone: timezone,
	}
}

func (c *CronProcessor) Name() string {
	return c.name
}

func (c *CronProcessor) Validate() error {
	if c.schedule == "" {
		return fmt.Errorf("cron schedule is required")
	}
	if _, err := cron.ParseStandard(c.schedule); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", c.schedule, err)
	}
	if _, err := c.location(); err != nil {
		return err
	}
	return nil
}

// Next reports when the schedule fires next after t.
func (c *CronProcessor) Next(t time.Time) (time.Time, error) {
	sched, err := cron.ParseStandard(c.schedule)
	if err != nil {
		return time.Time{}, err
	}
	loc, err := c.location()
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(t.In(loc)), nil
}

// Start fires an event for job on every tick. A tick is dropped while the
// previous one has not been consumed, so runs of the same job never queue up.
func (c *CronProcessor) Start(ctx context.Context, job string) (<-chan core.TriggerEvent, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	location, err := c.location()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cron != nil {
		return nil, fmt.Errorf("cron trigger for %s already started", job)
	}

	events := make(chan core.TriggerEvent, 1)
	scheduler := cron.New(cron.WithLocation(location))
	_, err = scheduler.AddFunc(c.schedule, func() {
		select {
		case events <- core.TriggerEvent{Job: job, Timestamp: time.Now().UTC()}:
		default:
		}
	})
	if err != nil {
		return nil, err
	}
	c.cron = scheduler
	c.events = events
	scheduler.Start()

	go func() {
		<-ctx.Done()
		_ = c.Stop()
	}()

	return events, nil
}

// Stop halts the schedule and closes the event channel. It is safe to call more than once.
func (c *CronProcessor) Stop() error {
	c.mu.Lock()
	scheduler, events := c.cron, c.events
	c.mu.Unlock()
	if scheduler == nil {
		return nil
	}
	c.stopOnce.Do(func() {
		<-scheduler.Stop().Done()
		close(events)
	})
	return nil
}

func (c *CronProcessor) location() (*time.Location, error) {
	if c.timezone == "" {
		return time.UTC, nil
	}
	tz, err := time.LoadLocation(c.timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone: %w", err)
	}
	return tz, nil
}
