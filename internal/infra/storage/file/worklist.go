package file

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ahrav/billharvest/internal/domain/harvest"
	"github.com/ahrav/billharvest/pkg/common/logger"
)

var _ harvest.WorkListSource = (*WorkList)(nil)

// WorkList reads the ordered identifiers from the first column of an XLSX or
// CSV file, or one per line from any other file. There is no header row.
type WorkList struct {
	path   string
	logger *logger.Logger
}

// NewWorkList creates a WorkList over path.
func NewWorkList(path string, logger *logger.Logger) *WorkList {
	return &WorkList{path: path, logger: logger.With("source", "work_list", "path", path)}
}

// Stat reports whether the input file exists.
func (w *WorkList) Stat(context.Context) error {
	fi, err := os.Stat(w.path)
	if err != nil {
		return err
	}
	if fi.IsDir() {
		return fmt.Errorf("%s is a directory", w.path)
	}
	return nil
}

// Load returns the identifiers in file order. Blank cells are skipped.
func (w *WorkList) Load(ctx context.Context) ([]harvest.WorkItem, error) {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, fmt.Errorf("reading work list: %w", err)
	}

	var firstColumn []string
	switch strings.ToLower(filepath.Ext(w.path)) {
	case ".xlsx", ".csv":
		records, err := sheetFor(w.path).decode(data)
		if err != nil {
			return nil, fmt.Errorf("decoding work list: %w", err)
		}
		for _, rec := range records {
			if len(rec) > 0 {
				firstColumn = append(firstColumn, rec[0])
			}
		}
	default:
		sc := bufio.NewScanner(bytes.NewReader(data))
		for sc.Scan() {
			firstColumn = append(firstColumn, sc.Text())
		}
		if err := sc.Err(); err != nil {
			return nil, fmt.Errorf("scanning work list: %w", err)
		}
	}

	items := make([]harvest.WorkItem, 0, len(firstColumn))
	for _, v := range firstColumn {
		if v = strings.TrimSpace(v); v != "" {
			items = append(items, harvest.WorkItem(v))
		}
	}

	w.logger.Info(ctx, "work list loaded", "items", len(items))
	return items, nil
}
