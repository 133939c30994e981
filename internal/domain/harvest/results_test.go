package harvest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResultSetRowsAreOrdered(t *testing.T) {
	rs := NewResultSet()
	rs.Put("B", ItemResult{"FEB-2024": 20, "JAN-2024": 10})
	rs.Put("A", ItemResult{"JAN-2024": 5})

	assert.Equal(t, []ResultRow{
		{ID: "A", Period: "JAN-2024", Value: 5},
		{ID: "B", Period: "FEB-2024", Value: 20},
		{ID: "B", Period: "JAN-2024", Value: 10},
	}, rs.Rows())
}

func TestResultSetFromRowsGroupsByID(t *testing.T) {
	rs := ResultSetFromRows([]ResultRow{
		{ID: "A", Period: "JAN", Value: 1},
		{ID: "A", Period: "FEB", Value: 2},
		{ID: "B", Period: "JAN", Value: 3},
		{ID: "", Period: "JAN", Value: 9},
		{ID: "A", Period: "JAN", Value: 4},
	})

	assert.Len(t, rs, 2)
	assert.True(t, rs.Has("A"))
	assert.Equal(t, ItemResult{"JAN": 4, "FEB": 2}, rs["A"])
	assert.Equal(t, ItemResult{"JAN": 3}, rs["B"])
}

func TestFailedSetUnion(t *testing.T) {
	a := NewFailedSet("X", "Y")
	b := NewFailedSet("Y", "Z")

	u := a.Union(b)
	assert.Equal(t, []string{"X", "Y", "Z"}, u.Sorted())
	assert.Len(t, a, 2, "union must not mutate the receiver")

	a.Add("")
	assert.Len(t, a, 2)
	assert.True(t, u.Has("Z"))
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"1,234.50", 1234.5},
		{"  42 ", 42},
		{"0", 0},
		{"", 0},
		{"N/A", 0},
		{"-15.25", 0},
		{"-1,250.00", 0},
		{"+7", 0},
		{"1,00,000", 100000},
		{"NaN", 0},
		{"Inf", 0},
		{"-Infinity", 0},
		{"0x10p0", 0},
		{"1e3", 0},
		{"1.2.3", 0},
		{".5", 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.InDelta(t, tt.want, ParseAmount(tt.in), 1e-9)
		})
	}
}
