// Package schedule runs recurring jobs: nightly discovery scans, weekly
// cluster safety checks, whatever an operator puts behind a cron line. A
// schedule is a stored job template plus a frequency; every firing goes
// through the same submitter as a hand-entered job.
package schedule

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/i0mja/dell-infra-sync-sub004/internal/fsatomic"
	"github.com/i0mja/dell-infra-sync-sub004/internal/jobs"
)

// Submitter creates the jobs that firings produce.
type Submitter interface {
	Submit(ctx context.Context, req jobs.SubmitRequest) (*jobs.Record, error)
}

// Scheduler owns the schedule table and the cron runner behind it.
type Scheduler struct {
	log  zerolog.Logger
	path string
	sub  Submitter
	cron *cron.Cron

	mu        sync.RWMutex
	schedules map[string]*Schedule
	entries   map[string]cron.EntryID
}

func NewScheduler(path string, sub Submitter, log zerolog.Logger) (*Scheduler, error) {
	s := &Scheduler{
		log:       log.With().Str("component", "schedule").Logger(),
		path:      path,
		sub:       sub,
		cron:      cron.New(),
		schedules: map[string]*Schedule{},
		entries:   map[string]cron.EntryID{},
	}
	if _, err := fsatomic.LoadJSON(path, &s.schedules); err != nil {
		return nil, err
	}
	if s.schedules == nil {
		s.schedules = map[string]*Schedule{}
	}
	return s, nil
}

// Start registers every enabled schedule and starts the cron runner.
func (s *Scheduler) Start() {
	s.mu.Lock()
	for _, sc := range s.schedules {
		if !sc.Enabled {
			continue
		}
		if err := s.register(sc); err != nil {
			s.log.Error().Err(err).Str("schedule_id", sc.ID).Msg("cannot register schedule")
		}
	}
	s.mu.Unlock()
	s.cron.Start()
	s.log.Info().Int("schedules", len(s.entries)).Msg("scheduler started")
}

// Stop drains the cron runner and persists state.
func (s *Scheduler) Stop() error {
	<-s.cron.Stop().Done()
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.save()
}

// save persists the schedule table. Callers hold at least a read lock.
func (s *Scheduler) save() error {
	return fsatomic.WithLock(s.path, func() error {
		return fsatomic.SaveJSON(s.path, s.schedules, 0o600)
	})
}

func validate(sc *Schedule) error {
	if sc.Name == "" {
		return &jobs.ValidationError{Field: "name", Reason: "schedule name required"}
	}
	if _, err := buildSpec(sc.Frequency); err != nil {
		return err
	}
	if !sc.Job.Type.Valid() {
		return &jobs.ValidationError{Field: "job.type", Reason: "unknown job type " + string(sc.Job.Type)}
	}
	if err := sc.Job.Scope.Validate(); err != nil {
		return err
	}
	return nil
}

// buildSpec turns a Frequency into a five-field cron expression.
func buildSpec(f Frequency) (string, error) {
	var expr string
	switch f.Type {
	case "cron":
		expr = f.Cron
	case "hourly":
		expr = fmt.Sprintf("%d * * * *", f.Minute)
	case "daily":
		expr = fmt.Sprintf("%d %d * * *", f.Minute, f.Hour)
	case "weekly":
		expr = fmt.Sprintf("%d %d * * %d", f.Minute, f.Hour, f.Weekday)
	case "monthly":
		expr = fmt.Sprintf("%d %d %d * *", f.Minute, f.Hour, f.Day)
	default:
		return "", &jobs.ValidationError{Field: "frequency.type", Reason: "must be cron, hourly, daily, weekly or monthly"}
	}
	if _, err := cron.ParseStandard(expr); err != nil {
		return "", &jobs.ValidationError{Field: "frequency", Reason: "invalid cron expression: " + err.Error()}
	}
	return expr, nil
}

func nextRun(f Frequency) *time.Time {
	expr, err := buildSpec(f)
	if err != nil {
		return nil
	}
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return nil
	}
	t := sched.Next(time.Now())
	return &t
}

// register adds the cron entry for an enabled schedule. Caller holds the
// write lock.
func (s *Scheduler) register(sc *Schedule) error {
	expr, err := buildSpec(sc.Frequency)
	if err != nil {
		return err
	}
	id := sc.ID
	entry, err := s.cron.AddFunc(expr, func() { s.fire(id) })
	if err != nil {
		return err
	}
	s.entries[sc.ID] = entry
	return nil
}

// unregister drops the cron entry if one exists. Caller holds the write lock.
func (s *Scheduler) unregister(id string) {
	if entry, ok := s.entries[id]; ok {
		s.cron.Remove(entry)
		delete(s.entries, id)
	}
}

// Create validates and stores a schedule, registering it when enabled. A
// template without an identity gets a synthetic one so audited job types can
// still fire.
func (s *Scheduler) Create(sc Schedule) (*Schedule, error) {
	if sc.ID == "" {
		sc.ID = uuid.NewString()
	}
	if sc.Job.RequestedBy == "" {
		sc.Job.RequestedBy = "schedule:" + sc.Name
	}
	if err := validate(&sc); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	sc.CreatedAt = now
	sc.UpdatedAt = now
	sc.NextRun = nextRun(sc.Frequency)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.schedules[sc.ID] = &sc
	if sc.Enabled {
		if err := s.register(&sc); err != nil {
			delete(s.schedules, sc.ID)
			return nil, err
		}
	}
	if err := s.save(); err != nil {
		return nil, err
	}
	s.log.Info().Str("event", "schedule.created").Str("schedule_id", sc.ID).Str("name", sc.Name).Msg("schedule created")
	out := sc
	return &out, nil
}

// Update replaces a schedule's definition, keeping its identity and history.
func (s *Scheduler) Update(id string, sc Schedule) (*Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.schedules[id]
	if !ok {
		return nil, fmt.Errorf("schedule %s: %w", id, jobs.ErrNotFound)
	}
	sc.ID = existing.ID
	sc.CreatedAt = existing.CreatedAt
	sc.LastRun = existing.LastRun
	sc.LastJobID = existing.LastJobID
	if sc.Job.RequestedBy == "" {
		sc.Job.RequestedBy = "schedule:" + sc.Name
	}
	if err := validate(&sc); err != nil {
		return nil, err
	}
	sc.UpdatedAt = time.Now().UTC()
	sc.NextRun = nextRun(sc.Frequency)

	s.unregister(id)
	s.schedules[id] = &sc
	if sc.Enabled {
		if err := s.register(&sc); err != nil {
			return nil, err
		}
	}
	if err := s.save(); err != nil {
		return nil, err
	}
	s.log.Info().Str("event", "schedule.updated").Str("schedule_id", id).Msg("schedule updated")
	out := sc
	return &out, nil
}

// Delete removes a schedule and its cron entry.
func (s *Scheduler) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.schedules[id]; !ok {
		return fmt.Errorf("schedule %s: %w", id, jobs.ErrNotFound)
	}
	s.unregister(id)
	delete(s.schedules, id)
	if err := s.save(); err != nil {
		return err
	}
	s.log.Info().Str("event", "schedule.deleted").Str("schedule_id", id).Msg("schedule deleted")
	return nil
}

func (s *Scheduler) Get(id string) (*Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc, ok := s.schedules[id]
	if !ok {
		return nil, fmt.Errorf("schedule %s: %w", id, jobs.ErrNotFound)
	}
	out := *sc
	return &out, nil
}

// List returns all schedules sorted by name.
func (s *Scheduler) List() []Schedule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Schedule, 0, len(s.schedules))
	for _, sc := range s.schedules {
		out = append(out, *sc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// RunNow fires a schedule immediately, outside its cron cadence.
func (s *Scheduler) RunNow(id string) (*Schedule, error) {
	if _, err := s.Get(id); err != nil {
		return nil, err
	}
	s.fire(id)
	return s.Get(id)
}

// fire submits one job from the schedule's template and records the outcome
// on the schedule row. Submit failures do not stop future firings.
func (s *Scheduler) fire(id string) {
	s.mu.RLock()
	sc, ok := s.schedules[id]
	if !ok {
		s.mu.RUnlock()
		return
	}
	req := jobs.SubmitRequest{
		Type:        sc.Job.Type,
		Scope:       sc.Job.Scope,
		RequestedBy: sc.Job.RequestedBy,
		Details:     sc.Job.Details,
	}
	name := sc.Name
	s.mu.RUnlock()

	rec, err := s.sub.Submit(context.Background(), req)

	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok = s.schedules[id]
	if !ok {
		return
	}
	now := time.Now().UTC()
	sc.LastRun = &now
	sc.NextRun = nextRun(sc.Frequency)
	if err != nil {
		sc.LastError = err.Error()
		sc.LastJobID = ""
		s.log.Error().Err(err).Str("schedule_id", id).Str("name", name).Msg("scheduled submit failed")
	} else {
		sc.LastError = ""
		sc.LastJobID = rec.ID
		s.log.Info().
			Str("event", "schedule.fired").
			Str("schedule_id", id).
			Str("job_id", rec.ID).
			Str("type", string(req.Type)).
			Msg("scheduled job submitted")
	}
	if err := s.save(); err != nil {
		s.log.Error().Err(err).Str("schedule_id", id).Msg("cannot persist schedule state")
	}
}
