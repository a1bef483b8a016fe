package websocket

import (
	stderrors "errors"
	"os"
	"testing"
	"time"

	"github.com/aukilabs/raido/featureflag"
	"github.com/aukilabs/raido/mapper"
	"github.com/aukilabs/raido/modules"
	"github.com/aukilabs/raido/modules/isa"
	"github.com/aukilabs/raido/occupancy"
	"github.com/aukilabs/raido/voxel"
	"github.com/aukilabs/raido/wire"
	"github.com/stretchr/testify/require"
)

func TestIsaHandleScanSubmit(t *testing.T) {
	pipeline := newTestPipeline(t)
	clientA, _, close := NewTestingEnv(t, newTestHandler(pipeline, newIsaTestModule(pipeline, nil)))
	defer close()

	joinSession(t, clientA, "")

	sendMsg(t, clientA, wire.MsgTypeScanSubmit, 2, wire.ScanSubmit{
		Pose:  wire.Pose{RW: 1},
		Score: 0.9,
		Points: []voxel.Point3{
			{X: 0.55, Y: 0.05, Z: 0.05},
			{X: 0.05, Y: 0.55, Z: 0.05},
		},
	})

	// The rays share their start cell, so 2x6 visited cells change state
	// only 11 times.
	var ack wire.ScanAck
	require.NoError(t, recvReply(t, clientA, wire.MsgTypeScanAck, 2).Bind(&ack))
	require.Equal(t, 2, ack.Rays)
	require.Zero(t, ack.Clamped)
	require.Zero(t, ack.Skipped)
	require.Zero(t, ack.Divergent)
	require.Equal(t, 11, ack.ChangedCells)
}

func TestIsaHandleScanSubmitLowScore(t *testing.T) {
	pipeline := newTestPipeline(t)
	clientA, _, close := NewTestingEnv(t, newTestHandler(pipeline, newIsaTestModule(pipeline, nil)))
	defer close()

	joinSession(t, clientA, "")

	sendMsg(t, clientA, wire.MsgTypeScanSubmit, 2, wire.ScanSubmit{
		Pose:   wire.Pose{RW: 1},
		Score:  0.2,
		Points: []voxel.Point3{{X: 0.55, Y: 0.05, Z: 0.05}},
	})

	var res wire.Error
	require.NoError(t, recvReply(t, clientA, wire.MsgTypeError, 2).Bind(&res))
	require.Equal(t, mapper.ErrTypeLowScore, res.Type)

	// The rejected scan must not have touched the map.
	sendMsg(t, clientA, wire.MsgTypeMapStats, 3, nil)

	var stats wire.MapStatsResult
	require.NoError(t, recvReply(t, clientA, wire.MsgTypeMapStatsResult, 3).Bind(&stats))
	require.Zero(t, stats.Stats)
}

func TestIsaHandleScanSubmitClamped(t *testing.T) {
	pipeline := newTestPipeline(t)
	clientA, _, close := NewTestingEnv(t, newTestHandler(pipeline, newIsaTestModule(pipeline, nil)))
	defer close()

	joinSession(t, clientA, "")

	// The point sits 40m out, 10m past the configured max range.
	sendMsg(t, clientA, wire.MsgTypeScanSubmit, 2, wire.ScanSubmit{
		Pose:   wire.Pose{RW: 1},
		Score:  0.9,
		Points: []voxel.Point3{{X: 40}},
	})

	var ack wire.ScanAck
	require.NoError(t, recvReply(t, clientA, wire.MsgTypeScanAck, 2).Bind(&ack))
	require.Equal(t, 1, ack.Rays)
	require.Equal(t, 1, ack.Clamped)
	require.Zero(t, ack.Skipped)
	require.Equal(t, 300, ack.ChangedCells)

	// A clamped ray carves free space without an occupied endpoint.
	sendMsg(t, clientA, wire.MsgTypeMapStats, 3, nil)

	var stats wire.MapStatsResult
	require.NoError(t, recvReply(t, clientA, wire.MsgTypeMapStatsResult, 3).Bind(&stats))
	require.Equal(t, occupancy.Stats{Cells: 300, Free: 300, Rays: 1}, stats.Stats)
}

func TestIsaHandleScanSubmitMapDeltaBroadcast(t *testing.T) {
	pipeline := newTestPipeline(t)
	clientA, clientB, close := NewTestingEnv(t, newTestHandler(pipeline, newIsaTestModule(pipeline, nil)))
	defer close()

	resA := joinSession(t, clientA, "")
	joinSession(t, clientB, resA.SessionID)

	sendMsg(t, clientA, wire.MsgTypeScanSubmit, 2, wire.ScanSubmit{
		Pose:   wire.Pose{RW: 1},
		Score:  0.9,
		Points: []voxel.Point3{{X: 0.55, Y: 0.05, Z: 0.05}},
	})
	recvReply(t, clientA, wire.MsgTypeScanAck, 2)

	var delta wire.MapDelta
	require.NoError(t, recvMsg(t, clientB, wire.MsgTypeMapDelta).Bind(&delta))
	require.Equal(t, resA.ParticipantID, delta.ParticipantID)
	require.Len(t, delta.Cells, 6)
	require.Equal(t, voxel.Index{X: 5}, delta.Cells[5].Index)
	require.Equal(t, occupancy.StateOccupied, delta.Cells[5].State)
}

func TestIsaHandleScanSubmitDisableMapBroadcast(t *testing.T) {
	flags := featureflag.New([]string{string(featureflag.FlagDisableMapBroadcast)})

	pipeline := newTestPipeline(t)
	clientA, clientB, close := NewTestingEnv(t, newTestHandler(pipeline, newIsaTestModule(pipeline, flags)))
	defer close()

	resA := joinSession(t, clientA, "")
	joinSession(t, clientB, resA.SessionID)

	sendMsg(t, clientA, wire.MsgTypeScanSubmit, 2, wire.ScanSubmit{
		Pose:   wire.Pose{RW: 1},
		Score:  0.9,
		Points: []voxel.Point3{{X: 0.55, Y: 0.05, Z: 0.05}},
	})
	recvReply(t, clientA, wire.MsgTypeScanAck, 2)

	// Only keepalives may reach clientB until the read deadline trips.
	require.NoError(t, clientB.SetReadDeadline(time.Now().Add(300*time.Millisecond)))
	for {
		msg, _, err := wire.Receive(clientB)
		if err != nil {
			require.True(t, stderrors.Is(err, os.ErrDeadlineExceeded))
			return
		}
		require.NotEqual(t, wire.MsgTypeMapDelta, msg.Type)
	}
}

func TestIsaHandleMapQuery(t *testing.T) {
	pipeline := newTestPipeline(t)
	clientA, _, close := NewTestingEnv(t, newTestHandler(pipeline, newIsaTestModule(pipeline, nil)))
	defer close()

	joinSession(t, clientA, "")

	sendMsg(t, clientA, wire.MsgTypeScanSubmit, 2, wire.ScanSubmit{
		Pose:   wire.Pose{RW: 1},
		Score:  0.9,
		Points: []voxel.Point3{{X: 0.55, Y: 0.05, Z: 0.05}},
	})
	recvReply(t, clientA, wire.MsgTypeScanAck, 2)

	t.Run("returns the cells in the box", func(t *testing.T) {
		sendMsg(t, clientA, wire.MsgTypeMapQuery, 3, wire.MapQuery{
			Min: voxel.Index{X: 5},
			Max: voxel.Index{X: 5},
		})

		var res wire.MapCells
		require.NoError(t, recvReply(t, clientA, wire.MsgTypeMapCells, 3).Bind(&res))
		require.Len(t, res.Cells, 1)
		require.Equal(t, voxel.Index{X: 5}, res.Cells[0].Index)
		require.Equal(t, occupancy.StateOccupied, res.Cells[0].State)
		require.False(t, res.Truncated)
	})

	t.Run("normalizes a reversed box", func(t *testing.T) {
		sendMsg(t, clientA, wire.MsgTypeMapQuery, 4, wire.MapQuery{
			Min: voxel.Index{X: 9, Y: 9, Z: 9},
		})

		var res wire.MapCells
		require.NoError(t, recvReply(t, clientA, wire.MsgTypeMapCells, 4).Bind(&res))
		require.Len(t, res.Cells, 6)
		require.False(t, res.Truncated)
	})

	t.Run("truncates at the limit", func(t *testing.T) {
		sendMsg(t, clientA, wire.MsgTypeMapQuery, 5, wire.MapQuery{
			Max:   voxel.Index{X: 9, Y: 9, Z: 9},
			Limit: 4,
		})

		var res wire.MapCells
		require.NoError(t, recvReply(t, clientA, wire.MsgTypeMapCells, 5).Bind(&res))
		require.Len(t, res.Cells, 4)
		require.True(t, res.Truncated)
	})

	t.Run("finds nothing outside the mapped area", func(t *testing.T) {
		sendMsg(t, clientA, wire.MsgTypeMapQuery, 6, wire.MapQuery{
			Min: voxel.Index{X: 100},
			Max: voxel.Index{X: 100},
		})

		var res wire.MapCells
		require.NoError(t, recvReply(t, clientA, wire.MsgTypeMapCells, 6).Bind(&res))
		require.Empty(t, res.Cells)
		require.False(t, res.Truncated)
	})
}

func TestIsaHandleMapStats(t *testing.T) {
	pipeline := newTestPipeline(t)
	clientA, _, close := NewTestingEnv(t, newTestHandler(pipeline, newIsaTestModule(pipeline, nil)))
	defer close()

	res := joinSession(t, clientA, "")

	sendMsg(t, clientA, wire.MsgTypeMapStats, 2, nil)

	var before wire.MapStatsResult
	require.NoError(t, recvReply(t, clientA, wire.MsgTypeMapStatsResult, 2).Bind(&before))
	require.Equal(t, res.SessionID, before.SessionID)
	require.Equal(t, occupancy.DefaultVoxelSize, before.VoxelSize)
	require.Zero(t, before.Stats)

	sendMsg(t, clientA, wire.MsgTypeScanSubmit, 3, wire.ScanSubmit{
		Pose:   wire.Pose{RW: 1},
		Score:  0.9,
		Points: []voxel.Point3{{X: 0.55, Y: 0.05, Z: 0.05}},
	})
	recvReply(t, clientA, wire.MsgTypeScanAck, 3)

	sendMsg(t, clientA, wire.MsgTypeMapStats, 4, nil)

	var after wire.MapStatsResult
	require.NoError(t, recvReply(t, clientA, wire.MsgTypeMapStatsResult, 4).Bind(&after))
	require.Equal(t, occupancy.Stats{Cells: 6, Occupied: 1, Free: 5, Rays: 1}, after.Stats)
}

func newIsaTestModule(pipeline *mapper.Mapper, flags featureflag.FeatureFlag) func() modules.Module {
	return func() modules.Module {
		return &isa.Module{Mapper: pipeline, Flags: flags}
	}
}
