package jobs

import (
	"context"
	"encoding/json"
)

// Store is the narrow slice of the job table this subsystem is allowed to
// touch: it creates rows and reads them back. Status, result and error
// columns are mutated only by the executor through its own API; nothing here
// can write them.
type Store interface {
	Create(ctx context.Context, rec *Record) error
	Get(ctx context.Context, id string) (*Record, error)
	// SafetyResult returns the structured result row for a job, or nil when
	// none has been written yet.
	SafetyResult(ctx context.Context, jobID string) (json.RawMessage, error)
}
