package ports

import (
	"context"
	"time"

	"github.com/anyportal/tproxyctl/internal/domain"
)

// StateRecorder persists lifecycle snapshots for diagnostics.
// Implementations must write atomically so a reader never sees a torn record.
type StateRecorder interface {
	// Record persists the snapshot, replacing the previous one.
	Record(ctx context.Context, state domain.TunnelState) error

	// Last returns the most recently recorded snapshot.
	// Returns a zero Record and nil error if nothing has been recorded.
	Last(ctx context.Context) (Record, error)
}

// Record is the persisted form of a snapshot.
type Record struct {
	Phase      string `json:"phase"`
	Generation uint64 `json:"generation"`
	LastError  string `json:"last_error,omitempty"`
	UpdatedAt  string `json:"updated_at"`
}

// NewRecord converts a snapshot into its persisted form.
func NewRecord(state domain.TunnelState) Record {
	return Record{
		Phase:      state.Phase.String(),
		Generation: state.Generation,
		LastError:  state.ErrorString(),
		UpdatedAt:  state.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}
