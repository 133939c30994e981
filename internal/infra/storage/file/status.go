package file

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ahrav/billharvest/internal/domain/harvest"
	"github.com/ahrav/billharvest/pkg/common/logger"
)

var _ harvest.StatusStore = (*StatusStore)(nil)

// statusRecord is the on-disk layout of the status file. Timestamps are
// strings so that files written without a zone offset still load.
type statusRecord struct {
	Version        int    `json:"version"`
	LastProcessed  int    `json:"last_processed"`
	TotalProcessed int    `json:"total_processed"`
	StartTime      string `json:"start_time,omitempty"`
	LastUpdated    string `json:"last_updated,omitempty"`
}

// timeLayouts are tried in order when decoding timestamps.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// StatusStore keeps the ProgressStatus as a small JSON record.
type StatusStore struct {
	path   string
	logger *logger.Logger

	mu sync.Mutex // serializes saves
}

// NewStatusStore creates a StatusStore at path.
func NewStatusStore(path string, logger *logger.Logger) *StatusStore {
	return &StatusStore{path: path, logger: logger.With("store", "status", "path", path)}
}

// LoadStatus reads the checkpoint. A missing, empty or malformed file, or a
// record from a newer format, is read as a fresh status. Saves replace the
// file by rename, so reads take no lock and never wait on a save.
func (s *StatusStore) LoadStatus(ctx context.Context) (harvest.ProgressStatus, error) {
	data, err := readFile(s.path)
	if err != nil {
		if !isNotExist(err) {
			s.logger.Warn(ctx, "reading status, treating as empty", "error", err)
		}
		return harvest.NewProgressStatus(), nil
	}

	st, err := decodeStatus(data)
	if err != nil {
		s.logger.Warn(ctx, "decoding status, treating as empty", "error", err)
		return harvest.NewProgressStatus(), nil
	}
	return st, nil
}

// SaveStatus overwrites the checkpoint.
func (s *StatusStore) SaveStatus(_ context.Context, st harvest.ProgressStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := statusRecord{
		Version:        harvest.CurrentStatusVersion,
		LastProcessed:  st.LastProcessedIndex,
		TotalProcessed: st.TotalProcessed,
	}
	if st.StartTime != nil {
		rec.StartTime = st.StartTime.Format(time.RFC3339Nano)
	}
	if st.LastUpdated != nil {
		rec.LastUpdated = st.LastUpdated.Format(time.RFC3339Nano)
	}
	return writeJSON(s.path, rec)
}

func decodeStatus(data []byte) (harvest.ProgressStatus, error) {
	var rec statusRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return harvest.ProgressStatus{}, err
	}

	st := harvest.ProgressStatus{
		Version:            rec.Version,
		LastProcessedIndex: rec.LastProcessed,
		TotalProcessed:     rec.TotalProcessed,
	}

	var err error
	if st.StartTime, err = parseTime(rec.StartTime); err != nil {
		return harvest.ProgressStatus{}, fmt.Errorf("start_time: %w", err)
	}
	if st.LastUpdated, err = parseTime(rec.LastUpdated); err != nil {
		return harvest.ProgressStatus{}, fmt.Errorf("last_updated: %w", err)
	}

	return st.Normalize()
}

func parseTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("unrecognized timestamp %q", s)
}
