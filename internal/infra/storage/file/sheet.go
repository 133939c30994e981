package file

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/ahrav/billharvest/internal/domain/harvest"
)

// resultHeader is the header row of the tabular result store.
var resultHeader = []string{"CID", "Month", "Amount"}

// sheet encodes the tabular files the stores read and write.
type sheet interface {
	decode(data []byte) ([][]string, error)
	encodeResults(rows []harvest.ResultRow) ([]byte, error)
}

// sheetFor picks the tabular format from the file extension.
func sheetFor(path string) sheet {
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		return xlsxSheet{}
	}
	return csvSheet{}
}

type csvSheet struct{}

func (csvSheet) decode(data []byte) ([][]string, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	return r.ReadAll()
}

func (csvSheet) encodeResults(rows []harvest.ResultRow) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(resultHeader); err != nil {
		return nil, err
	}
	for _, r := range rows {
		rec := []string{r.ID, r.Period, strconv.FormatFloat(r.Value, 'f', -1, 64)}
		if err := w.Write(rec); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type xlsxSheet struct{}

func (xlsxSheet) decode(data []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook has no sheets")
	}
	return f.GetRows(sheets[0])
}

func (xlsxSheet) encodeResults(rows []harvest.ResultRow) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	sw, err := f.NewStreamWriter(f.GetSheetName(0))
	if err != nil {
		return nil, err
	}

	header := make([]any, len(resultHeader))
	for i, h := range resultHeader {
		header[i] = h
	}
	if err := sw.SetRow("A1", header); err != nil {
		return nil, err
	}

	for i, r := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		if err := sw.SetRow(cell, []any{r.ID, r.Period, r.Value}); err != nil {
			return nil, err
		}
	}
	if err := sw.Flush(); err != nil {
		return nil, err
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
