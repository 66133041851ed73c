package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// SubmitRequest is everything needed to create one job. Details may be a
// typed payload struct or raw JSON straight from the API.
type SubmitRequest struct {
	Type        Type
	Scope       TargetScope
	RequestedBy string
	Details     any
	ScheduleAt  *time.Time
}

// Submitter validates requests and writes the initial pending row. It never
// retries: a failed create surfaces as a SubmissionError and the caller
// decides what to do.
type Submitter struct {
	store Store
	log   zerolog.Logger
}

func NewSubmitter(store Store, log zerolog.Logger) *Submitter {
	return &Submitter{store: store, log: log.With().Str("component", "jobs.submitter").Logger()}
}

// Submit validates req, creates the job row and returns the pending record.
// Validation failures are *ValidationError and mean nothing was written.
func (s *Submitter) Submit(ctx context.Context, req SubmitRequest) (*Record, error) {
	if !req.Type.Valid() {
		return nil, &ValidationError{Field: "type", Reason: "unknown job type " + string(req.Type)}
	}
	if err := req.Scope.Validate(); err != nil {
		return nil, err
	}
	if req.Type.RequiresAuditIdentity() && strings.TrimSpace(req.RequestedBy) == "" {
		return nil, &ValidationError{Field: "requested_by", Reason: "identity required for " + string(req.Type)}
	}

	raw, err := marshalDetails(req.Details)
	if err != nil {
		return nil, &ValidationError{Field: "details", Reason: err.Error()}
	}
	if err := validateDetailsSchema(req.Type, raw); err != nil {
		return nil, err
	}
	raw, err = checkTypeRules(req.Type, req.Scope, raw)
	if err != nil {
		return nil, err
	}

	rec := &Record{
		ID:          uuid.NewString(),
		Type:        req.Type,
		Status:      StatusPending,
		Scope:       req.Scope,
		Details:     raw,
		RequestedBy: req.RequestedBy,
		ScheduleAt:  req.ScheduleAt,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.Create(ctx, rec); err != nil {
		s.log.Error().Err(err).Str("type", string(req.Type)).Msg("job create failed")
		return nil, &SubmissionError{Type: req.Type, Cause: err}
	}
	s.log.Info().
		Str("event", "job.submitted").
		Str("job_id", rec.ID).
		Str("type", string(rec.Type)).
		Str("scope", rec.Scope.Kind()).
		Str("requested_by", rec.RequestedBy).
		Msg("job submitted")
	return rec, nil
}

func marshalDetails(v any) (json.RawMessage, error) {
	switch d := v.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return d, nil
	case []byte:
		return json.RawMessage(d), nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("cannot encode details: %w", err)
		}
		return b, nil
	}
}

// checkTypeRules applies the semantic rules the schemas cannot express:
// which scope variant each type takes, cross-field requirements, and payload
// normalization. It returns the (possibly normalized) details.
func checkTypeRules(t Type, scope TargetScope, raw json.RawMessage) (json.RawMessage, error) {
	switch t {
	case TypeFirmwareUpdate:
		if scope.Kind() != "devices" {
			return nil, &ValidationError{Field: "scope", Reason: "firmware updates target explicit devices"}
		}
	case TypeDiscoveryScan:
		if scope.Kind() != "ip_range" {
			return nil, &ValidationError{Field: "scope", Reason: "discovery scans target an IP range"}
		}
		var d DiscoveryScanDetails
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &d); err != nil {
				return nil, &ValidationError{Field: "details", Reason: err.Error()}
			}
		}
		// Credential sets are optional. Normalize absent to an empty list so
		// the executor always sees the field, preserving caller order.
		if d.CredentialSetIDs == nil {
			d.CredentialSetIDs = []string{}
		}
		return json.Marshal(d)
	case TypeClusterSafetyCheck:
		if scope.Kind() != "cluster" {
			return nil, &ValidationError{Field: "scope", Reason: "safety checks target a cluster"}
		}
	case TypeRollingClusterUpdate:
		if scope.Kind() != "cluster" {
			return nil, &ValidationError{Field: "scope", Reason: "rolling updates target a cluster"}
		}
		var d RollingClusterUpdateDetails
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, &ValidationError{Field: "details", Reason: err.Error()}
		}
		if !d.UpdateKind.Valid() {
			return nil, &ValidationError{Field: "details.update_kind", Reason: "must be firmware_only, hypervisor_only, hypervisor_then_firmware or firmware_then_hypervisor"}
		}
		if d.UpdateKind.IncludesFirmware() && len(d.FirmwareItems) == 0 {
			return nil, &ValidationError{Field: "details.firmware_items", Reason: "at least one firmware item required for " + string(d.UpdateKind) + " updates"}
		}
		if d.UpdateKind.IncludesHypervisor() {
			if d.BaselineID == "" {
				return nil, &ValidationError{Field: "details.baseline_id", Reason: "baseline required for " + string(d.UpdateKind) + " updates"}
			}
			if (d.CredentialSetID != "") == (strings.TrimSpace(d.HypervisorSecret) != "") {
				return nil, &ValidationError{Field: "details", Reason: "exactly one of credential_set_id and hypervisor_secret must be set"}
			}
		}
	case TypeConsoleLaunch:
		if scope.Kind() != "devices" || len(scope.DeviceIDs) != 1 {
			return nil, &ValidationError{Field: "scope", Reason: "console launch targets exactly one device"}
		}
	case TypeOutletControl:
		if scope.Kind() != "devices" || len(scope.DeviceIDs) != 1 {
			return nil, &ValidationError{Field: "scope", Reason: "outlet control targets exactly one device"}
		}
	}
	return raw, nil
}
