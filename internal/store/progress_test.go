package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sar/internal/model"
)

func TestGrandTotalFromFallbackDataset(t *testing.T) {
	s := NewProgressStore()
	require.False(t, s.HasData())

	s.SetFilter(model.ProgressFilter{Period: "07-2025"})
	assert.Equal(t, 50.0, s.GrandTotal())

	// Same filter, same answer.
	assert.Equal(t, s.GrandTotal(), s.GrandTotal())

	s.SetFilter(model.ProgressFilter{DivisionID: "FIN"})
	assert.Equal(t, 62.5, s.GrandTotal())
}

func TestGrandTotalRoundsToTwoDecimals(t *testing.T) {
	s := NewProgressStore()
	s.SetData([]model.UARProgress{
		{Period: "07-2025", Total: 3, Completed: 1},
		{Period: "07-2025", Total: 3, Completed: 2},
		{Period: "07-2025", Total: 3, Completed: 2},
	})
	assert.Equal(t, 55.56, s.GrandTotal())
}

func TestGrandTotalWithNoMatchesIsZero(t *testing.T) {
	s := NewProgressStore()
	s.SetFilter(model.ProgressFilter{Period: "01-1999"})
	assert.Equal(t, 0.0, s.GrandTotal())
}

func TestLoadedDataReplacesFallback(t *testing.T) {
	s := NewProgressStore()
	s.SetData([]model.UARProgress{{Period: "07-2025", Total: 10, Completed: 10}})
	assert.True(t, s.HasData())
	assert.Equal(t, 100.0, s.GrandTotal())

	s.SetData(nil)
	assert.False(t, s.HasData())
}

func TestSummaries(t *testing.T) {
	s := NewProgressStore()
	s.SetFilter(model.ProgressFilter{Period: "07-2025"})

	divisions := s.DivisionSummary()
	require.Len(t, divisions, 3)
	assert.Equal(t, Summary{ID: "FIN", Name: "Finance", Total: 52, Completed: 36, Percentage: 69.23}, divisions[0])
	assert.Equal(t, "HRD", divisions[1].ID)
	assert.Equal(t, 100.0, divisions[1].Percentage)

	systems := s.SystemSummary()
	require.Len(t, systems, 5)
	assert.Equal(t, "AD", systems[0].ID)
	assert.Equal(t, 25.0, systems[0].Percentage)
}

func TestProgressObservers(t *testing.T) {
	s := NewProgressStore()
	calls := 0
	s.Subscribe(func() { calls++ })
	s.SetFilter(model.ProgressFilter{Period: "07-2025"})
	s.SetData(nil)
	s.ResetFilter()
	assert.Equal(t, 3, calls)
}
