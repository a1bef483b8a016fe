package kenaz

import (
	"context"
	"math"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/raido/featureflag"
	"github.com/aukilabs/raido/mapper"
	"github.com/aukilabs/raido/models"
	"github.com/aukilabs/raido/voxel"
	"github.com/aukilabs/raido/wire"
)

type Module struct {
	Mapper *mapper.Mapper
	Flags  featureflag.FeatureFlag

	currentSession     *models.Session
	currentParticipant *models.Participant
	state              *State
}

func (m *Module) Name() string {
	return "kenaz"
}

func (m *Module) Init(s *models.Session, p *models.Participant) {
	m.currentSession = s
	m.currentParticipant = p

	state, ok := s.ModuleState(m.Name())
	if !ok {
		state = &State{}
		s.SetModuleState(m.Name(), state)
	}
	m.state = state.(*State)
}

func (m *Module) HandleMsg(ctx context.Context, respond wire.ResponseSender, msg wire.Msg) error {
	var err error

	switch msg.Type {
	case wire.MsgTypeTrace:
		err = m.handleTrace(ctx, respond, msg)

	default:
		err = wire.ErrModuleMsgSkip
	}

	return err
}

func (m *Module) HandleDisconnect() {
}

func (m *Module) handleTrace(ctx context.Context, respond wire.ResponseSender, msg wire.Msg) error {
	var req wire.TraceRequest
	if err := msg.Bind(&req); err != nil {
		return err
	}

	session := m.currentSession
	if session == nil || m.currentParticipant == nil {
		return errors.New("session not joined").
			WithType(wire.ErrTypeSessionNotJoined).
			WithTag("msg_type", msg.Type)
	}

	algo := m.Mapper.Algorithm()
	if req.Algorithm != "" {
		var err error
		if algo, err = voxel.ParseAlgorithm(req.Algorithm); err != nil {
			respond.SendErr(msg.ID, err)
			return nil
		}
	}

	size := session.Map.VoxelSize()
	if req.VoxelSize != 0 {
		if math.IsNaN(req.VoxelSize) || math.IsInf(req.VoxelSize, 0) || req.VoxelSize < 0 {
			respond.SendErr(msg.ID, errors.New("voxel size must be positive and finite").
				WithType(wire.ErrTypeBadRequest))
			return nil
		}
		size = req.VoxelSize
	}

	if d := voxel.Sub(req.End, req.Start).Length(); math.IsNaN(d) || math.IsInf(d, 0) {
		respond.SendErr(msg.ID, errors.New("trace endpoints must be finite").
			WithType(wire.ErrTypeBadRequest))
		return nil
	}

	maxVoxels := m.Mapper.Config().MaxRayVoxels
	if span := voxel.Span(voxel.IndexOf(req.Start, size), voxel.IndexOf(req.End, size)); span > maxVoxels {
		respond.SendErr(msg.ID, errors.New("trace exceeds the voxel budget").
			WithType(voxel.ErrTypeTraversalBound).
			WithTag("span", span).
			WithTag("max_voxels", maxVoxels))
		return nil
	}

	voxels, err := voxel.Traverse(algo, req.Start, req.End, size)
	if err != nil {
		respond.SendErr(msg.ID, err)
		return nil
	}

	result := wire.TraceResult{
		Algorithm: algo.String(),
		Steps:     len(voxels),
		Voxels:    voxels,
	}

	m.Flags.IfSet(featureflag.FlagTraversalCrossCheck, func() {
		// The parametric variant visits cells the integer walkers skip, so
		// only the integer pair is compared.
		if algo == voxel.AlgorithmAmanatidesWoo {
			return
		}

		crossAlgo, cross := traverseCross(algo, req.Start, req.End, size)
		agrees := voxel.SetsEqual(voxels, cross)
		if !agrees {
			instrumentCrossCheckDivergence()
			logs.WithTag("algorithm", algo.String()).
				WithTag("cross_algorithm", crossAlgo.String()).
				WithTag("start", req.Start).
				WithTag("end", req.End).
				WithTag("voxel_size", size).
				Warn("trace cross-check disagrees")
		}

		result.CrossCheck = &wire.TraceCrossCheck{
			Algorithm: crossAlgo.String(),
			Agrees:    agrees,
		}
	})

	m.state.CountTrace(algo)
	instrumentTrace(algo.String())

	res, err := wire.NewMsg(wire.MsgTypeTraceResult, result)
	if err != nil {
		return err
	}
	respond.Send(res.WithID(msg.ID))
	return nil
}

// traverseCross runs the integer variant a trace is checked against.
func traverseCross(algo voxel.Algorithm, start, end voxel.Point3, size float64) (voxel.Algorithm, []voxel.Index) {
	if algo == voxel.AlgorithmDDA {
		return voxel.AlgorithmBresenham3D, voxel.TraverseBresenham3D(start, end, size)
	}
	return voxel.AlgorithmDDA, voxel.TraverseDDA(start, end, size)
}
