package isa

import (
	"context"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/raido/featureflag"
	"github.com/aukilabs/raido/mapper"
	"github.com/aukilabs/raido/models"
	"github.com/aukilabs/raido/occupancy"
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
	return "isa"
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
	case wire.MsgTypeScanSubmit:
		err = m.handleScanSubmit(ctx, respond, msg)

	case wire.MsgTypeMapQuery:
		err = m.handleMapQuery(ctx, respond, msg)

	case wire.MsgTypeMapStats:
		err = m.handleMapStats(ctx, respond, msg)

	default:
		err = wire.ErrModuleMsgSkip
	}

	return err
}

func (m *Module) HandleDisconnect() {
}

func (m *Module) handleScanSubmit(ctx context.Context, respond wire.ResponseSender, msg wire.Msg) error {
	var req wire.ScanSubmit
	if err := msg.Bind(&req); err != nil {
		return err
	}

	session := m.currentSession
	participant := m.currentParticipant
	if session == nil || participant == nil {
		return errors.New("session not joined").
			WithType(wire.ErrTypeSessionNotJoined).
			WithTag("msg_type", msg.Type)
	}

	pose := models.Pose(req.Pose)

	summary, err := m.Mapper.IntegrateScan(ctx, session.Map, mapper.ScanFrame{
		Pose:   pose,
		Score:  req.Score,
		Points: req.Points,
	})
	if err != nil {
		if errors.IsType(err, mapper.ErrTypeLowScore) {
			respond.SendErr(msg.ID, err)
			return nil
		}
		return err
	}

	// The pose only becomes the participant's once its registration was
	// accepted.
	participant.SetPose(pose)
	m.state.CountScan(summary)

	res, err := wire.NewMsg(wire.MsgTypeScanAck, wire.ScanAck{
		Rays:         summary.Rays,
		Clamped:      summary.Clamped,
		Skipped:      summary.Skipped,
		ChangedCells: len(summary.Changed),
		Divergent:    summary.Divergent,
	})
	if err != nil {
		return err
	}
	respond.Send(res.WithID(msg.ID))

	if len(summary.Changed) == 0 {
		return nil
	}

	var berr error
	m.Flags.IfNotSet(featureflag.FlagDisableMapBroadcast, func() {
		delta, err := wire.NewMsg(wire.MsgTypeMapDelta, wire.MapDelta{
			ParticipantID: participant.ID,
			Cells:         summary.Changed,
		})
		if err != nil {
			berr = err
			return
		}
		session.Broadcast(participant, delta)
	})
	return berr
}

func (m *Module) handleMapQuery(ctx context.Context, respond wire.ResponseSender, msg wire.Msg) error {
	var req wire.MapQuery
	if err := msg.Bind(&req); err != nil {
		return err
	}

	session := m.currentSession
	if session == nil || m.currentParticipant == nil {
		return errors.New("session not joined").
			WithType(wire.ErrTypeSessionNotJoined).
			WithTag("msg_type", msg.Type)
	}

	lo, hi := normalizeBox(req.Min, req.Max)
	cells := session.Map.Region(lo, hi, req.Limit)
	if cells == nil {
		cells = []occupancy.CellUpdate{}
	}

	res, err := wire.NewMsg(wire.MsgTypeMapCells, wire.MapCells{
		Cells:     cells,
		Truncated: req.Limit > 0 && len(cells) >= req.Limit,
	})
	if err != nil {
		return err
	}
	respond.Send(res.WithID(msg.ID))
	return nil
}

func (m *Module) handleMapStats(ctx context.Context, respond wire.ResponseSender, msg wire.Msg) error {
	session := m.currentSession
	if session == nil || m.currentParticipant == nil {
		return errors.New("session not joined").
			WithType(wire.ErrTypeSessionNotJoined).
			WithTag("msg_type", msg.Type)
	}

	res, err := wire.NewMsg(wire.MsgTypeMapStatsResult, wire.MapStatsResult{
		SessionID: session.ID,
		VoxelSize: session.Map.VoxelSize(),
		Stats:     session.Map.Stats(),
	})
	if err != nil {
		return err
	}
	respond.Send(res.WithID(msg.ID))
	return nil
}

// normalizeBox orders the box corners so clients can pass any two opposite
// ones.
func normalizeBox(a, b voxel.Index) (voxel.Index, voxel.Index) {
	if a.X > b.X {
		a.X, b.X = b.X, a.X
	}
	if a.Y > b.Y {
		a.Y, b.Y = b.Y, a.Y
	}
	if a.Z > b.Z {
		a.Z, b.Z = b.Z, a.Z
	}
	return a, b
}
