package file

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/ahrav/billharvest/internal/domain/harvest"
	"github.com/ahrav/billharvest/pkg/common/logger"
)

var _ harvest.FailedStore = (*FailedStore)(nil)

// FailedStore keeps the FailedSet as a JSON array of identifiers.
type FailedStore struct {
	path   string
	logger *logger.Logger

	mu sync.Mutex
}

// NewFailedStore creates a FailedStore at path.
func NewFailedStore(path string, logger *logger.Logger) *FailedStore {
	return &FailedStore{path: path, logger: logger.With("store", "failed", "path", path)}
}

// LoadFailed reads the persisted identifiers. An unreadable file is logged
// and read as empty.
func (s *FailedStore) LoadFailed(ctx context.Context) (harvest.FailedSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read(ctx), nil
}

// SaveFailed unions fs with the identifiers already on disk and overwrites
// the file with the result.
func (s *FailedStore) SaveFailed(ctx context.Context, fs harvest.FailedSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	merged := s.read(ctx).Union(fs)
	if err := writeJSON(s.path, merged.Sorted()); err != nil {
		return err
	}
	s.logger.Debug(ctx, "failed set saved", "items", len(merged))
	return nil
}

func (s *FailedStore) read(ctx context.Context) harvest.FailedSet {
	data, err := readFile(s.path)
	if err != nil {
		if !isNotExist(err) {
			s.logger.Warn(ctx, "reading failed set, treating as empty", "error", err)
		}
		return harvest.NewFailedSet()
	}

	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		s.logger.Warn(ctx, "decoding failed set, treating as empty", "error", err)
		return harvest.NewFailedSet()
	}
	return harvest.NewFailedSet(ids...)
}
