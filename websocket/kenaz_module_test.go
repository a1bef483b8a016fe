package websocket

import (
	"testing"

	"github.com/aukilabs/raido/featureflag"
	"github.com/aukilabs/raido/mapper"
	"github.com/aukilabs/raido/modules"
	"github.com/aukilabs/raido/modules/kenaz"
	"github.com/aukilabs/raido/voxel"
	"github.com/aukilabs/raido/wire"
	"github.com/stretchr/testify/require"
)

func TestKenazHandleTrace(t *testing.T) {
	pipeline := newTestPipeline(t)
	clientA, _, close := NewTestingEnv(t, newTestHandler(pipeline, newKenazTestModule(pipeline, nil)))
	defer close()

	joinSession(t, clientA, "")

	sendMsg(t, clientA, wire.MsgTypeTrace, 2, wire.TraceRequest{
		Start: voxel.Point3{X: 0.05, Y: 0.05, Z: 0.05},
		End:   voxel.Point3{X: 0.75, Y: 0.35, Z: 0.15},
	})

	var res wire.TraceResult
	require.NoError(t, recvReply(t, clientA, wire.MsgTypeTraceResult, 2).Bind(&res))
	require.Equal(t, "dda", res.Algorithm)
	require.Equal(t, 8, res.Steps)
	require.Len(t, res.Voxels, 8)
	require.Equal(t, voxel.Index{}, res.Voxels[0])
	require.Equal(t, voxel.Index{X: 7, Y: 3, Z: 1}, res.Voxels[7])
	require.Nil(t, res.CrossCheck)
}

func TestKenazHandleTraceAlgorithms(t *testing.T) {
	t.Run("bresenham3d", func(t *testing.T) {
		pipeline := newTestPipeline(t)
		clientA, _, close := NewTestingEnv(t, newTestHandler(pipeline, newKenazTestModule(pipeline, nil)))
		defer close()

		joinSession(t, clientA, "")

		sendMsg(t, clientA, wire.MsgTypeTrace, 2, wire.TraceRequest{
			Algorithm: "bresenham3d",
			Start:     voxel.Point3{X: 0.05, Y: 0.05, Z: 0.05},
			End:       voxel.Point3{X: 0.25, Y: 0.15, Z: 0.05},
		})

		var res wire.TraceResult
		require.NoError(t, recvReply(t, clientA, wire.MsgTypeTraceResult, 2).Bind(&res))
		require.Equal(t, "bresenham3d", res.Algorithm)
		require.Equal(t, []voxel.Index{{}, {X: 1}, {X: 2, Y: 1}}, res.Voxels)
	})

	t.Run("amanatides-woo", func(t *testing.T) {
		pipeline := newTestPipeline(t)
		clientA, _, close := NewTestingEnv(t, newTestHandler(pipeline, newKenazTestModule(pipeline, nil)))
		defer close()

		joinSession(t, clientA, "")

		sendMsg(t, clientA, wire.MsgTypeTrace, 2, wire.TraceRequest{
			Algorithm: "amanatides-woo",
			Start:     voxel.Point3{X: 0.05, Y: 0.05, Z: 0.05},
			End:       voxel.Point3{X: 0.35, Y: 0.05, Z: 0.05},
		})

		var res wire.TraceResult
		require.NoError(t, recvReply(t, clientA, wire.MsgTypeTraceResult, 2).Bind(&res))
		require.Equal(t, "amanatides-woo", res.Algorithm)
		require.Equal(t, 4, res.Steps)
		require.Equal(t, []voxel.Index{{}, {X: 1}, {X: 2}, {X: 3}}, res.Voxels)
	})

	t.Run("unknown algorithm", func(t *testing.T) {
		pipeline := newTestPipeline(t)
		clientA, _, close := NewTestingEnv(t, newTestHandler(pipeline, newKenazTestModule(pipeline, nil)))
		defer close()

		joinSession(t, clientA, "")

		sendMsg(t, clientA, wire.MsgTypeTrace, 2, wire.TraceRequest{
			Algorithm: "marching-cubes",
			End:       voxel.Point3{X: 1},
		})

		var res wire.Error
		require.NoError(t, recvReply(t, clientA, wire.MsgTypeError, 2).Bind(&res))
		require.Equal(t, voxel.ErrTypeUnknownAlgorithm, res.Type)
	})
}

func TestKenazHandleTraceVoxelSize(t *testing.T) {
	t.Run("overrides the grid size", func(t *testing.T) {
		pipeline := newTestPipeline(t)
		clientA, _, close := NewTestingEnv(t, newTestHandler(pipeline, newKenazTestModule(pipeline, nil)))
		defer close()

		joinSession(t, clientA, "")

		sendMsg(t, clientA, wire.MsgTypeTrace, 2, wire.TraceRequest{
			Start:     voxel.Point3{X: 0.25, Y: 0.25, Z: 0.25},
			End:       voxel.Point3{X: 1.25, Y: 0.25, Z: 0.25},
			VoxelSize: 0.5,
		})

		var res wire.TraceResult
		require.NoError(t, recvReply(t, clientA, wire.MsgTypeTraceResult, 2).Bind(&res))
		require.Equal(t, 3, res.Steps)
		require.Equal(t, voxel.Index{X: 2}, res.Voxels[2])
	})

	t.Run("rejects a negative size", func(t *testing.T) {
		pipeline := newTestPipeline(t)
		clientA, _, close := NewTestingEnv(t, newTestHandler(pipeline, newKenazTestModule(pipeline, nil)))
		defer close()

		joinSession(t, clientA, "")

		sendMsg(t, clientA, wire.MsgTypeTrace, 2, wire.TraceRequest{
			End:       voxel.Point3{X: 1},
			VoxelSize: -0.1,
		})

		var res wire.Error
		require.NoError(t, recvReply(t, clientA, wire.MsgTypeError, 2).Bind(&res))
		require.Equal(t, wire.ErrTypeBadRequest, res.Type)
	})
}

func TestKenazHandleTraceBounds(t *testing.T) {
	t.Run("rejects an overflowing segment", func(t *testing.T) {
		pipeline := newTestPipeline(t)
		clientA, _, close := NewTestingEnv(t, newTestHandler(pipeline, newKenazTestModule(pipeline, nil)))
		defer close()

		joinSession(t, clientA, "")

		// Both endpoints are finite but their difference is not.
		sendMsg(t, clientA, wire.MsgTypeTrace, 2, wire.TraceRequest{
			Start: voxel.Point3{X: -1e308},
			End:   voxel.Point3{X: 1e308},
		})

		var res wire.Error
		require.NoError(t, recvReply(t, clientA, wire.MsgTypeError, 2).Bind(&res))
		require.Equal(t, wire.ErrTypeBadRequest, res.Type)
	})

	t.Run("rejects a trace over the voxel budget", func(t *testing.T) {
		pipeline := newTestPipeline(t)
		clientA, _, close := NewTestingEnv(t, newTestHandler(pipeline, newKenazTestModule(pipeline, nil)))
		defer close()

		joinSession(t, clientA, "")

		sendMsg(t, clientA, wire.MsgTypeTrace, 2, wire.TraceRequest{
			End:       voxel.Point3{X: 3},
			VoxelSize: 0.001,
		})

		var res wire.Error
		require.NoError(t, recvReply(t, clientA, wire.MsgTypeError, 2).Bind(&res))
		require.Equal(t, voxel.ErrTypeTraversalBound, res.Type)
	})
}

func TestKenazHandleTraceCrossCheck(t *testing.T) {
	flags := featureflag.New([]string{string(featureflag.FlagTraversalCrossCheck)})

	t.Run("agreeing ray", func(t *testing.T) {
		pipeline := newTestPipeline(t)
		clientA, _, close := NewTestingEnv(t, newTestHandler(pipeline, newKenazTestModule(pipeline, flags)))
		defer close()

		joinSession(t, clientA, "")

		sendMsg(t, clientA, wire.MsgTypeTrace, 2, wire.TraceRequest{
			Start: voxel.Point3{X: 0.05, Y: 0.05, Z: 0.05},
			End:   voxel.Point3{X: 0.35, Y: 0.05, Z: 0.05},
		})

		var res wire.TraceResult
		require.NoError(t, recvReply(t, clientA, wire.MsgTypeTraceResult, 2).Bind(&res))
		require.NotNil(t, res.CrossCheck)
		require.Equal(t, "bresenham3d", res.CrossCheck.Algorithm)
		require.True(t, res.CrossCheck.Agrees)
	})

	t.Run("divergent ray", func(t *testing.T) {
		pipeline := newTestPipeline(t)
		clientA, _, close := NewTestingEnv(t, newTestHandler(pipeline, newKenazTestModule(pipeline, flags)))
		defer close()

		joinSession(t, clientA, "")

		// The two steppers cut the corner between (0,0,0) and (2,1,0)
		// through different intermediate cells.
		sendMsg(t, clientA, wire.MsgTypeTrace, 2, wire.TraceRequest{
			Start: voxel.Point3{X: 0.05, Y: 0.05, Z: 0.05},
			End:   voxel.Point3{X: 0.25, Y: 0.15, Z: 0.05},
		})

		var res wire.TraceResult
		require.NoError(t, recvReply(t, clientA, wire.MsgTypeTraceResult, 2).Bind(&res))
		require.Equal(t, []voxel.Index{{}, {X: 1, Y: 1}, {X: 2, Y: 1}}, res.Voxels)
		require.NotNil(t, res.CrossCheck)
		require.Equal(t, "bresenham3d", res.CrossCheck.Algorithm)
		require.False(t, res.CrossCheck.Agrees)
	})

	t.Run("parametric traces are not checked", func(t *testing.T) {
		pipeline := newTestPipeline(t)
		clientA, _, close := NewTestingEnv(t, newTestHandler(pipeline, newKenazTestModule(pipeline, flags)))
		defer close()

		joinSession(t, clientA, "")

		sendMsg(t, clientA, wire.MsgTypeTrace, 2, wire.TraceRequest{
			Algorithm: "amanatides-woo",
			Start:     voxel.Point3{X: 0.05, Y: 0.05, Z: 0.05},
			End:       voxel.Point3{X: 0.35, Y: 0.05, Z: 0.05},
		})

		var res wire.TraceResult
		require.NoError(t, recvReply(t, clientA, wire.MsgTypeTraceResult, 2).Bind(&res))
		require.Nil(t, res.CrossCheck)
	})
}

func newKenazTestModule(pipeline *mapper.Mapper, flags featureflag.FeatureFlag) func() modules.Module {
	return func() modules.Module {
		return &kenaz.Module{Mapper: pipeline, Flags: flags}
	}
}
