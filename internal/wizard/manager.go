package wizard

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

// ErrSessionNotFound is returned for unknown or already closed sessions.
var ErrSessionNotFound = errors.New("wizard session not found")

// ErrBusy is returned when a session operation arrives while another one is
// still in flight. The caller simply drops the duplicate.
var ErrBusy = errors.New("another wizard operation is in flight")

// GuardError explains why Next refused to advance from a step.
type GuardError struct {
	Step   Step
	Reason string
}

func (e *GuardError) Error() string {
	return fmt.Sprintf("cannot leave %s: %s", e.Step, e.Reason)
}

// ClusterDirectory is the read-only inventory slice the wizard needs.
type ClusterDirectory interface {
	Cluster(id string) (inventory.Cluster, error)
	ClusterDevices(id string) []inventory.Device
}

// Submitter creates jobs. Exactly one rolling update job is submitted per
// session, on the transition out of review.
type Submitter interface {
	Submit(ctx context.Context, req jobs.SubmitRequest) (*jobs.Record, error)
}

// Manager owns every live wizard session. Sessions live only in memory;
// a daemon restart or an explicit close wipes them.
type Manager struct {
	log       zerolog.Logger
	clusters  ClusterDirectory
	submitter Submitter

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(clusters ClusterDirectory, submitter Submitter, log zerolog.Logger) *Manager {
	return &Manager{
		log:       log.With().Str("component", "wizard").Logger(),
		clusters:  clusters,
		submitter: submitter,
		sessions:  map[string]*Session{},
	}
}

// Create starts a session for an operator. seed, when non-nil, restores
// selections a client kept for itself across a reload; the session still
// starts on step one and must re-walk the guards.
func (m *Manager) Create(requestedBy string, seed *Session) (*Session, error) {
	if strings.TrimSpace(requestedBy) == "" {
		return nil, &jobs.ValidationError{Field: "requested_by", Reason: "operator identity required to start the wizard"}
	}
	s := &Session{
		ID:          uuid.NewString(),
		Step:        StepClusterSelection,
		RequestedBy: requestedBy,
		CreatedAt:   time.Now().UTC(),
		Config:      defaultConfiguration(),
	}
	if seed != nil {
		s.ClusterID = seed.ClusterID
		s.UpdateKind = seed.UpdateKind
		s.FirmwareItems = append([]jobs.FirmwareItem(nil), seed.FirmwareItems...)
		s.BaselineID = seed.BaselineID
		s.CredentialSetID = seed.CredentialSetID
		if seed.Config.MaxParallel > 0 {
			s.Config = seed.Config.normalized()
		}
		s.SkipHostIDs = append([]string(nil), seed.SkipHostIDs...)
	}
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	m.log.Info().Str("event", "wizard.session_created").Str("session_id", s.ID).Str("requested_by", requestedBy).Msg("wizard session created")
	return s.clone(), nil
}

// Get returns a snapshot of the session.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s.clone(), nil
}

// Close discards a session. Closing an unknown id is not an error; the
// result is the same either way.
func (m *Manager) Close(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

// SelectCluster picks the cluster to update. Only valid on step one; picking
// a different cluster throws away a previous capacity check.
func (m *Manager) SelectCluster(id, clusterID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if s.Step != StepClusterSelection {
		return nil, &GuardError{Step: s.Step, Reason: "cluster can only be changed on the cluster selection step"}
	}
	if s.busy {
		return nil, ErrBusy
	}
	if _, err := m.clusters.Cluster(clusterID); err != nil {
		return nil, fmt.Errorf("cluster %s: %w", clusterID, err)
	}
	if s.ClusterID != clusterID {
		s.ClusterCheck = nil
		s.SkipHostIDs = nil
	}
	s.ClusterID = clusterID
	s.ClusterInfo = true
	return s.clone(), nil
}

// RunClusterCheck performs the operator-triggered capacity check: with one
// host removed, does the cluster still hold the configured minimum. The
// result is stored on the session and gates step one.
func (m *Manager) RunClusterCheck(ctx context.Context, id string) (*Session, error) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return nil, ErrSessionNotFound
	}
	if s.busy {
		m.mu.Unlock()
		return nil, ErrBusy
	}
	if s.ClusterID == "" {
		m.mu.Unlock()
		return nil, &GuardError{Step: s.Step, Reason: "select a cluster first"}
	}
	s.busy = true
	clusterID := s.ClusterID
	m.mu.Unlock()

	cluster, err := m.clusters.Cluster(clusterID)

	m.mu.Lock()
	defer m.mu.Unlock()
	s.busy = false
	if err != nil {
		return nil, fmt.Errorf("cluster %s: %w", clusterID, err)
	}
	s.ClusterCheck = &ClusterCheck{
		Healthy:     cluster.HealthyHosts,
		MinRequired: cluster.MinRequiredHosts,
		Passed:      cluster.HealthyHosts-1 >= cluster.MinRequiredHosts,
		CheckedAt:   time.Now().UTC(),
	}
	m.log.Info().
		Str("event", "wizard.cluster_check").
		Str("session_id", id).
		Str("cluster_id", clusterID).
		Bool("passed", s.ClusterCheck.Passed).
		Msg("cluster capacity check")
	return s.clone(), nil
}

// SetUpdateSelection records what the update applies. Validation happens at
// Next so that switching kinds re-evaluates the conditions every time.
func (m *Manager) SetUpdateSelection(id string, sel UpdateSelection) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if s.Step != StepUpdateSelection {
		return nil, &GuardError{Step: s.Step, Reason: "update selection is edited on its own step"}
	}
	if s.busy {
		return nil, ErrBusy
	}
	s.UpdateKind = sel.Kind
	s.FirmwareItems = append([]jobs.FirmwareItem(nil), sel.FirmwareItems...)
	s.BaselineID = sel.BaselineID
	s.CredentialSetID = sel.CredentialSetID
	s.ManualSecret = strings.TrimSpace(sel.ManualSecret)
	s.ManualSecretSet = s.ManualSecret != ""
	return s.clone(), nil
}

// SetConfiguration stores the step-three knobs. Out-of-range values are
// replaced with the safe defaults rather than rejected.
func (m *Manager) SetConfiguration(id string, cfg Configuration) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if s.Step != StepConfiguration {
		return nil, &GuardError{Step: s.Step, Reason: "configuration is edited on its own step"}
	}
	s.Config = cfg.normalized()
	return s.clone(), nil
}

// SkipHost marks a cluster host to be left out of the run, or puts it back.
// Available until the job is submitted.
func (m *Manager) SkipHost(id, hostID string, skip bool) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if s.Step == StepExecution {
		return nil, &GuardError{Step: s.Step, Reason: "the target set is frozen once the job is submitted"}
	}
	if !m.clusterHasHost(s.ClusterID, hostID) {
		return nil, fmt.Errorf("host %s is not part of cluster %s", hostID, s.ClusterID)
	}
	has := false
	for _, h := range s.SkipHostIDs {
		if h == hostID {
			has = true
			break
		}
	}
	if skip && !has {
		s.SkipHostIDs = append(s.SkipHostIDs, hostID)
	}
	if !skip && has {
		next := s.SkipHostIDs[:0]
		for _, h := range s.SkipHostIDs {
			if h != hostID {
				next = append(next, h)
			}
		}
		s.SkipHostIDs = next
	}
	return s.clone(), nil
}

func (m *Manager) clusterHasHost(clusterID, hostID string) bool {
	for _, d := range m.clusters.ClusterDevices(clusterID) {
		if d.HostID == hostID {
			return true
		}
	}
	return false
}

// SetConfirmed flips the review checkbox.
func (m *Manager) SetConfirmed(id string, confirmed bool) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if s.Step != StepReview {
		return nil, &GuardError{Step: s.Step, Reason: "confirmation happens on the review step"}
	}
	s.Confirmed = confirmed
	return s.clone(), nil
}

// Back moves one step towards the start. The first step has nothing behind
// it, and execution is one-way once a job exists.
func (m *Manager) Back(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if s.busy {
		return nil, ErrBusy
	}
	switch s.Step {
	case StepClusterSelection:
		return nil, &GuardError{Step: s.Step, Reason: "already on the first step"}
	case StepExecution:
		return nil, &GuardError{Step: s.Step, Reason: "the update job is already submitted"}
	}
	s.Step--
	return s.clone(), nil
}

// Next validates the current step's guard and advances. Leaving review
// submits the rolling update job; a submission failure keeps the session on
// review with the error recorded so the operator can retry.
func (m *Manager) Next(ctx context.Context, id string) (*Session, error) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return nil, ErrSessionNotFound
	}
	if s.busy {
		m.mu.Unlock()
		return nil, ErrBusy
	}

	switch s.Step {
	case StepClusterSelection:
		if err := guardClusterSelection(s); err != nil {
			m.mu.Unlock()
			return nil, err
		}
		s.Step = StepUpdateSelection
	case StepUpdateSelection:
		if err := guardUpdateSelection(s); err != nil {
			m.mu.Unlock()
			return nil, err
		}
		s.Step = StepConfiguration
	case StepConfiguration:
		s.Config = s.Config.normalized()
		s.Step = StepReview
	case StepReview:
		if !s.Confirmed {
			m.mu.Unlock()
			return nil, &GuardError{Step: StepReview, Reason: "the operator has not confirmed the plan"}
		}
		s.busy = true
		req := buildSubmitRequest(s)
		m.mu.Unlock()

		rec, err := m.submitter.Submit(ctx, req)

		m.mu.Lock()
		s.busy = false
		if err != nil {
			s.LastError = err.Error()
			m.mu.Unlock()
			m.log.Warn().Err(err).Str("session_id", id).Msg("rolling update submission failed")
			return nil, err
		}
		s.JobID = rec.ID
		s.LastError = ""
		s.Step = StepExecution
		snapshot := s.clone()
		m.mu.Unlock()
		m.log.Info().
			Str("event", "wizard.executed").
			Str("session_id", id).
			Str("job_id", rec.ID).
			Str("cluster_id", snapshot.ClusterID).
			Str("update_kind", string(snapshot.UpdateKind)).
			Msg("rolling update submitted")
		return snapshot, nil
	case StepExecution:
		m.mu.Unlock()
		return nil, &GuardError{Step: StepExecution, Reason: "the wizard is finished"}
	default:
		m.mu.Unlock()
		return nil, fmt.Errorf("corrupt session step %d", s.Step)
	}

	snapshot := s.clone()
	m.mu.Unlock()
	return snapshot, nil
}

// Estimate computes the advisory wall-clock estimate for the planned run.
func (m *Manager) Estimate(id string) (Estimate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return Estimate{}, ErrSessionNotFound
	}
	hosts := m.targetHostCount(s)
	maxParallel := s.Config.MaxParallel
	if maxParallel < 1 {
		maxParallel = 1
	}
	return estimate(hosts, maxParallel, itemsPerHost(s.UpdateKind, len(s.FirmwareItems))), nil
}

func (m *Manager) targetHostCount(s *Session) int {
	skip := make(map[string]bool, len(s.SkipHostIDs))
	for _, h := range s.SkipHostIDs {
		skip[h] = true
	}
	devices := m.clusters.ClusterDevices(s.ClusterID)
	if len(devices) == 0 {
		if cluster, err := m.clusters.Cluster(s.ClusterID); err == nil {
			n := cluster.TotalHosts - len(s.SkipHostIDs)
			if n < 0 {
				n = 0
			}
			return n
		}
		return 0
	}
	n := 0
	for _, d := range devices {
		if !skip[d.HostID] {
			n++
		}
	}
	return n
}

func guardClusterSelection(s *Session) error {
	if s.ClusterID == "" {
		return &GuardError{Step: StepClusterSelection, Reason: "no cluster selected"}
	}
	if !s.ClusterInfo {
		return &GuardError{Step: StepClusterSelection, Reason: "cluster information not loaded"}
	}
	if s.ClusterCheck == nil {
		return &GuardError{Step: StepClusterSelection, Reason: "run the capacity check first"}
	}
	if !s.ClusterCheck.Passed {
		return &GuardError{Step: StepClusterSelection, Reason: fmt.Sprintf(
			"capacity check failed: %d healthy hosts cannot spare one with a minimum of %d",
			s.ClusterCheck.Healthy, s.ClusterCheck.MinRequired)}
	}
	return nil
}

func guardUpdateSelection(s *Session) error {
	if !s.UpdateKind.Valid() {
		return &GuardError{Step: StepUpdateSelection, Reason: "choose an update type"}
	}
	if s.UpdateKind.IncludesFirmware() {
		if len(s.FirmwareItems) == 0 {
			return &GuardError{Step: StepUpdateSelection, Reason: "select at least one firmware item"}
		}
		for i, item := range s.FirmwareItems {
			if strings.TrimSpace(item.Component) == "" || strings.TrimSpace(item.Version) == "" || strings.TrimSpace(item.ImageURI) == "" {
				return &GuardError{Step: StepUpdateSelection, Reason: fmt.Sprintf(
					"firmware item %d needs a component, a version and an image URI", i+1)}
			}
		}
	}
	if s.UpdateKind.IncludesHypervisor() {
		if s.BaselineID == "" {
			return &GuardError{Step: StepUpdateSelection, Reason: "select a hypervisor baseline"}
		}
		stored := s.CredentialSetID != ""
		manual := s.ManualSecret != ""
		switch {
		case stored && manual:
			return &GuardError{Step: StepUpdateSelection, Reason: "pick stored credentials or enter a secret, not both"}
		case !stored && !manual:
			return &GuardError{Step: StepUpdateSelection, Reason: "pick a stored credential set or enter a secret"}
		}
	}
	return nil
}

func buildSubmitRequest(s *Session) jobs.SubmitRequest {
	return jobs.SubmitRequest{
		Type:        jobs.TypeRollingClusterUpdate,
		Scope:       jobs.TargetScope{ClusterID: s.ClusterID},
		RequestedBy: s.RequestedBy,
		Details: jobs.RollingClusterUpdateDetails{
			UpdateKind:       s.UpdateKind,
			Phases:           jobs.PhasesFor(s.UpdateKind),
			FirmwareItems:    append([]jobs.FirmwareItem(nil), s.FirmwareItems...),
			BaselineID:       s.BaselineID,
			CredentialSetID:  s.CredentialSetID,
			HypervisorSecret: s.ManualSecret,
			MaxParallel:      s.Config.MaxParallel,
			MinHealthyHosts:  s.Config.MinHealthyHosts,
			BackupFirst:      s.Config.BackupFirst,
			VerifyAfterEach:  s.Config.VerifyAfterEach,
			StopOnError:      s.Config.StopOnError,
			SkipHostIDs:      append([]string(nil), s.SkipHostIDs...),
		},
	}
}

func (s *Session) clone() *Session {
	c := *s
	c.busy = false
	c.FirmwareItems = append([]jobs.FirmwareItem(nil), s.FirmwareItems...)
	c.SkipHostIDs = append([]string(nil), s.SkipHostIDs...)
	if s.ClusterCheck != nil {
		check := *s.ClusterCheck
		c.ClusterCheck = &check
	}
	return &c
}
