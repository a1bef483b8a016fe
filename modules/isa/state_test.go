package isa

import (
	"testing"

	"github.com/aukilabs/raido/mapper"
	"github.com/aukilabs/raido/occupancy"
	"github.com/aukilabs/raido/voxel"
	"github.com/stretchr/testify/require"
)

func TestStateCountScan(t *testing.T) {
	var s State

	require.Zero(t, s.Scans())
	require.Zero(t, s.Rays())
	require.Empty(t, s.LastSummary().Changed)

	s.CountScan(mapper.Summary{Rays: 3})
	s.CountScan(mapper.Summary{
		Rays: 2,
		Changed: []occupancy.CellUpdate{
			{Index: voxel.Index{X: 1}, State: occupancy.StateOccupied},
		},
	})

	require.EqualValues(t, 2, s.Scans())
	require.EqualValues(t, 5, s.Rays())
	require.Len(t, s.LastSummary().Changed, 1)
	require.Equal(t, 2, s.LastSummary().Rays)
}
