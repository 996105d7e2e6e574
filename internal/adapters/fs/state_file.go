package fs

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/anyportal/tproxyctl/internal/domain"
	"github.com/anyportal/tproxyctl/internal/ports"
)

// StateFileName is the snapshot file written under the state directory.
const StateFileName = "status.json"

// StateFileRecorder implements ports.StateRecorder using a JSON file.
type StateFileRecorder struct {
	mu  sync.Mutex
	dir string
}

// NewStateFileRecorder creates a recorder writing into dir.
func NewStateFileRecorder(dir string) *StateFileRecorder {
	return &StateFileRecorder{dir: dir}
}

// Record persists the snapshot atomically (write to temp file, then rename).
func (r *StateFileRecorder) Record(ctx context.Context, state domain.TunnelState) error {
	data, err := json.MarshalIndent(ports.NewRecord(state), "", "  ")
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.MkdirAll(r.dir, 0o700); err != nil {
		return err
	}

	path := r.Path()
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Last reads the most recent snapshot.
// Returns a zero Record and nil error if no state file exists.
func (r *StateFileRecorder) Last(ctx context.Context) (ports.Record, error) {
	data, err := os.ReadFile(r.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return ports.Record{}, nil
		}
		return ports.Record{}, err
	}

	var rec ports.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return ports.Record{}, err
	}
	return rec, nil
}

// Path returns the full path to the state file.
func (r *StateFileRecorder) Path() string {
	return filepath.Join(r.dir, StateFileName)
}

var _ ports.StateRecorder = (*StateFileRecorder)(nil)
