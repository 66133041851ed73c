// Package power drives PDU outlet actions through the job pipeline with a
// confirmation step in front of anything that can cut power to a running
// host. Each device gets one control surface; the surface is a small state
// machine (idle, pending confirmation, in flight, settling) and only one
// action can occupy it at a time.
package power

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/i0mja/dell-infra-sync-sub004/internal/inventory"
	"github.com/i0mja/dell-infra-sync-sub004/internal/jobs"
)

// seam for tests
var settleSleep = time.Sleep

// PDUs keep reporting the pre-action state for a moment after switching, so
// the surface stays in "settling" for this long before it goes back to idle.
const DefaultSettleDelay = 2500 * time.Millisecond

// Phase is where a device's control surface currently is.
type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhasePending  Phase = "pending_confirmation"
	PhaseInFlight Phase = "in_flight"
	PhaseSettling Phase = "settling"
)

var (
	// ErrBusy means another action already occupies the surface.
	ErrBusy = errors.New("an outlet action is already pending or in flight for this device")
	// ErrNoOutlets means the device has no PDU outlets mapped.
	ErrNoOutlets = errors.New("no PDU outlets are mapped to this device")
	// ErrNoPending means confirm or cancel named a request that is not the
	// surface's current pending action.
	ErrNoPending = errors.New("no matching pending outlet action")
)

// Directory is the slice of the inventory the controller reads.
type Directory interface {
	OutletsForDevice(deviceID string) []inventory.OutletMapping
}

// Submitter creates outlet control jobs.
type Submitter interface {
	Submit(ctx context.Context, req jobs.SubmitRequest) (*jobs.Record, error)
}

// Waiter blocks until a job resolves.
type Waiter interface {
	Wait(ctx context.Context, jobID string) (*jobs.Outcome, error)
}

// ActionRequest asks for one outlet action on one device. Exactly one of
// OutletID and AllFeeds selects the blast radius.
type ActionRequest struct {
	DeviceID    string
	OutletID    string
	AllFeeds    bool
	Action      jobs.OutletAction
	RequestedBy string
}

// PendingAction is a destructive action parked on the surface until the
// operator confirms or cancels it.
type PendingAction struct {
	ID          string                    `json:"id"`
	DeviceID    string                    `json:"device_id"`
	Action      jobs.OutletAction         `json:"action"`
	Targets     []inventory.OutletMapping `json:"targets"`
	Warning     string                    `json:"warning"`
	RequestedBy string                    `json:"requested_by"`
	CreatedAt   time.Time                 `json:"created_at"`
}

// Surface is a point-in-time view of one device's control surface. While the
// phase is settling the mapped outlet states may still show the pre-action
// values.
type Surface struct {
	DeviceID  string                    `json:"device_id"`
	Phase     Phase                     `json:"phase"`
	Pending   *PendingAction            `json:"pending,omitempty"`
	JobID     string                    `json:"job_id,omitempty"`
	LastError string                    `json:"last_error,omitempty"`
	Outlets   []inventory.OutletMapping `json:"outlets"`
	ChangedAt time.Time                 `json:"changed_at"`
}

type surfaceState struct {
	phase     Phase
	pending   *PendingAction
	jobID     string
	lastError string
	changedAt time.Time
}

// Controller owns the per-device surfaces. Outlet state itself is written by
// the executor after it talks to the PDU; the controller only sequences the
// action and tells readers when not to trust the stored state yet.
type Controller struct {
	log    zerolog.Logger
	dir    Directory
	sub    Submitter
	waiter Waiter
	settle time.Duration

	mu       sync.Mutex
	surfaces map[string]*surfaceState
}

func NewController(dir Directory, sub Submitter, waiter Waiter, settle time.Duration, log zerolog.Logger) *Controller {
	if settle <= 0 {
		settle = DefaultSettleDelay
	}
	return &Controller{
		log:      log.With().Str("component", "power").Logger(),
		dir:      dir,
		sub:      sub,
		waiter:   waiter,
		settle:   settle,
		surfaces: map[string]*surfaceState{},
	}
}

func (c *Controller) state(deviceID string) *surfaceState {
	st, ok := c.surfaces[deviceID]
	if !ok {
		st = &surfaceState{phase: PhaseIdle, changedAt: time.Now().UTC()}
		c.surfaces[deviceID] = st
	}
	return st
}

func (c *Controller) snapshot(deviceID string, st *surfaceState) Surface {
	s := Surface{
		DeviceID:  deviceID,
		Phase:     st.phase,
		JobID:     st.jobID,
		LastError: st.lastError,
		Outlets:   c.dir.OutletsForDevice(deviceID),
		ChangedAt: st.changedAt,
	}
	if st.pending != nil {
		p := *st.pending
		s.Pending = &p
	}
	return s
}

// Surface returns the current view of a device's control surface.
func (c *Controller) Surface(deviceID string) Surface {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot(deviceID, c.state(deviceID))
}

// Request starts an outlet action. Power-on runs straight away; power-off and
// reboot park a pending action carrying the blast-radius warning and wait for
// Confirm. Only one action may occupy a surface, whatever its phase.
func (c *Controller) Request(ctx context.Context, req ActionRequest) (Surface, error) {
	switch req.Action {
	case jobs.OutletOn, jobs.OutletOff, jobs.OutletReboot:
	default:
		return Surface{}, &jobs.ValidationError{Field: "action", Reason: "must be on, off or reboot"}
	}
	if strings.TrimSpace(req.RequestedBy) == "" {
		return Surface{}, &jobs.ValidationError{Field: "requested_by", Reason: "identity required for outlet actions"}
	}
	if req.AllFeeds == (req.OutletID != "") {
		return Surface{}, &jobs.ValidationError{Field: "outlet_id", Reason: "select one outlet or all feeds, not both"}
	}

	all := c.dir.OutletsForDevice(req.DeviceID)
	if len(all) == 0 {
		return Surface{}, fmt.Errorf("device %s: %w", req.DeviceID, ErrNoOutlets)
	}
	targets := all
	if !req.AllFeeds {
		targets = nil
		for _, o := range all {
			if o.ID == req.OutletID {
				targets = []inventory.OutletMapping{o}
				break
			}
		}
		if targets == nil {
			return Surface{}, &jobs.ValidationError{Field: "outlet_id", Reason: "outlet " + req.OutletID + " is not mapped to device " + req.DeviceID}
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.state(req.DeviceID)
	if st.phase != PhaseIdle {
		return c.snapshot(req.DeviceID, st), fmt.Errorf("device %s: %w", req.DeviceID, ErrBusy)
	}

	if !req.Action.Destructive() {
		st.phase = PhaseInFlight
		st.pending = nil
		st.jobID = ""
		st.lastError = ""
		st.changedAt = time.Now().UTC()
		c.log.Info().
			Str("event", "outlet.action.started").
			Str("device_id", req.DeviceID).
			Str("action", string(req.Action)).
			Int("outlets", len(targets)).
			Msg("power-on runs without confirmation")
		go c.execute(req.DeviceID, req.Action, targets, req.RequestedBy)
		return c.snapshot(req.DeviceID, st), nil
	}

	st.phase = PhasePending
	st.pending = &PendingAction{
		ID:          uuid.NewString(),
		DeviceID:    req.DeviceID,
		Action:      req.Action,
		Targets:     targets,
		Warning:     blastWarning(req.Action, targets, all),
		RequestedBy: req.RequestedBy,
		CreatedAt:   time.Now().UTC(),
	}
	st.changedAt = st.pending.CreatedAt
	c.log.Info().
		Str("event", "outlet.confirmation.pending").
		Str("device_id", req.DeviceID).
		Str("action", string(req.Action)).
		Str("request_id", st.pending.ID).
		Int("outlets", len(targets)).
		Msg("destructive action awaits confirmation")
	return c.snapshot(req.DeviceID, st), nil
}

// Confirm releases the pending action named by requestID into flight.
func (c *Controller) Confirm(ctx context.Context, deviceID, requestID string) (Surface, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.state(deviceID)
	if st.phase != PhasePending || st.pending == nil || st.pending.ID != requestID {
		return c.snapshot(deviceID, st), fmt.Errorf("device %s: %w", deviceID, ErrNoPending)
	}
	p := st.pending
	st.phase = PhaseInFlight
	st.pending = nil
	st.jobID = ""
	st.lastError = ""
	st.changedAt = time.Now().UTC()
	c.log.Info().
		Str("event", "outlet.action.confirmed").
		Str("device_id", deviceID).
		Str("action", string(p.Action)).
		Str("request_id", requestID).
		Msg("confirmed, submitting")
	go c.execute(deviceID, p.Action, p.Targets, p.RequestedBy)
	return c.snapshot(deviceID, st), nil
}

// Cancel discards the pending action named by requestID and frees the
// surface.
func (c *Controller) Cancel(deviceID, requestID string) (Surface, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.state(deviceID)
	if st.phase != PhasePending || st.pending == nil || st.pending.ID != requestID {
		return c.snapshot(deviceID, st), fmt.Errorf("device %s: %w", deviceID, ErrNoPending)
	}
	c.log.Info().
		Str("event", "outlet.action.cancelled").
		Str("device_id", deviceID).
		Str("action", string(st.pending.Action)).
		Str("request_id", requestID).
		Msg("pending action cancelled")
	st.phase = PhaseIdle
	st.pending = nil
	st.changedAt = time.Now().UTC()
	return c.snapshot(deviceID, st), nil
}

// execute runs the whole action lifecycle off the request goroutine. The
// action outlives the HTTP request that confirmed it, so this deliberately
// does not inherit that request's context.
func (c *Controller) execute(deviceID string, action jobs.OutletAction, targets []inventory.OutletMapping, requestedBy string) {
	ctx := context.Background()

	det := jobs.OutletControlDetails{Action: action}
	for _, o := range targets {
		det.Targets = append(det.Targets, jobs.OutletTarget{PDUHost: o.PDUHost, Outlet: o.Outlet})
	}
	rec, err := c.sub.Submit(ctx, jobs.SubmitRequest{
		Type:        jobs.TypeOutletControl,
		Scope:       jobs.TargetScope{DeviceIDs: []string{deviceID}},
		RequestedBy: requestedBy,
		Details:     det,
	})
	if err != nil {
		c.log.Error().Err(err).Str("device_id", deviceID).Str("action", string(action)).Msg("outlet job submit failed")
		c.finish(deviceID, "", err)
		return
	}

	c.mu.Lock()
	c.state(deviceID).jobID = rec.ID
	c.mu.Unlock()

	if _, err := c.waiter.Wait(ctx, rec.ID); err != nil {
		c.log.Warn().Err(err).Str("device_id", deviceID).Str("job_id", rec.ID).Msg("outlet action did not complete")
		c.finish(deviceID, rec.ID, err)
		return
	}

	c.mu.Lock()
	st := c.state(deviceID)
	st.phase = PhaseSettling
	st.changedAt = time.Now().UTC()
	c.mu.Unlock()

	settleSleep(c.settle)

	c.log.Info().
		Str("event", "outlet.action.settled").
		Str("device_id", deviceID).
		Str("job_id", rec.ID).
		Str("action", string(action)).
		Msg("outlet action settled")
	c.finish(deviceID, rec.ID, nil)
}

func (c *Controller) finish(deviceID, jobID string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.state(deviceID)
	st.phase = PhaseIdle
	st.jobID = jobID
	st.lastError = ""
	if err != nil {
		st.lastError = err.Error()
	}
	st.changedAt = time.Now().UTC()
}

// blastWarning spells out what the action takes down. Hitting every mapped
// feed is an outage; hitting one of several only costs redundancy.
func blastWarning(action jobs.OutletAction, targets, all []inventory.OutletMapping) string {
	verb := "Powering off"
	restore := "until it is turned back on"
	if action == jobs.OutletReboot {
		verb = "Power-cycling"
		restore = "until the PDU restores power"
	}
	if len(targets) >= len(all) {
		return fmt.Sprintf("%s every mapped feed (%s). The server loses all power %s.",
			verb, feedNames(targets), restore)
	}
	remaining := make([]inventory.OutletMapping, 0, len(all))
	for _, o := range all {
		hit := false
		for _, t := range targets {
			if t.ID == o.ID {
				hit = true
				break
			}
		}
		if !hit {
			remaining = append(remaining, o)
		}
	}
	return fmt.Sprintf("%s feed %s only. The server stays up on feed %s but runs without power redundancy %s.",
		verb, feedNames(targets), feedNames(remaining), restore)
}

func feedNames(outlets []inventory.OutletMapping) string {
	names := make([]string, 0, len(outlets))
	for _, o := range outlets {
		names = append(names, string(o.Feed))
	}
	switch len(names) {
	case 0:
		return "?"
	case 1:
		return names[0]
	default:
		return strings.Join(names[:len(names)-1], ", ") + " and " + names[len(names)-1]
	}
}
