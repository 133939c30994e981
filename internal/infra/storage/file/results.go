package file

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/ahrav/billharvest/internal/domain/harvest"
	"github.com/ahrav/billharvest/pkg/common/logger"
)

var _ harvest.ResultStore = (*ResultStore)(nil)

// ResultStore keeps the ResultSet as CID, Month, Amount rows in a CSV or
// XLSX file chosen by extension. Saves rewrite the whole file.
type ResultStore struct {
	path   string
	sheet  sheet
	logger *logger.Logger

	mu sync.Mutex
}

// NewResultStore creates a ResultStore at path.
func NewResultStore(path string, logger *logger.Logger) *ResultStore {
	return &ResultStore{
		path:   path,
		sheet:  sheetFor(path),
		logger: logger.With("store", "results", "path", path),
	}
}

// LoadResults reads the persisted rows and regroups them by identifier. An
// unreadable file is logged and read as empty; malformed rows are dropped.
func (s *ResultStore) LoadResults(ctx context.Context) (harvest.ResultSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := readFile(s.path)
	if err != nil {
		if !isNotExist(err) {
			s.logger.Warn(ctx, "reading results, treating as empty", "error", err)
		}
		return harvest.NewResultSet(), nil
	}

	records, err := s.sheet.decode(data)
	if err != nil {
		s.logger.Warn(ctx, "decoding results, treating as empty", "error", err)
		return harvest.NewResultSet(), nil
	}

	rows, skipped := parseResultRecords(records)
	if skipped > 0 {
		s.logger.Warn(ctx, "dropped malformed result rows", "rows", skipped)
	}
	return harvest.ResultSetFromRows(rows), nil
}

// SaveResults overwrites the file with rs.
func (s *ResultStore) SaveResults(ctx context.Context, rs harvest.ResultSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.sheet.encodeResults(rs.Rows())
	if err != nil {
		return fmt.Errorf("encoding results: %w", err)
	}
	if err := writeAtomic(s.path, data); err != nil {
		return err
	}
	s.logger.Debug(ctx, "results saved", "items", len(rs))
	return nil
}

func parseResultRecords(records [][]string) ([]harvest.ResultRow, int) {
	rows := make([]harvest.ResultRow, 0, len(records))
	skipped := 0

	for i, rec := range records {
		if i == 0 && isResultHeader(rec) {
			continue
		}
		if len(rec) < len(resultHeader) {
			skipped++
			continue
		}
		id := strings.TrimSpace(rec[0])
		v, err := strconv.ParseFloat(strings.TrimSpace(rec[2]), 64)
		if id == "" || err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			skipped++
			continue
		}
		rows = append(rows, harvest.ResultRow{ID: id, Period: strings.TrimSpace(rec[1]), Value: v})
	}

	return rows, skipped
}

func isResultHeader(rec []string) bool {
	if len(rec) < len(resultHeader) {
		return false
	}
	for i, h := range resultHeader {
		if !strings.EqualFold(strings.TrimSpace(rec[i]), h) {
			return false
		}
	}
	return true
}
