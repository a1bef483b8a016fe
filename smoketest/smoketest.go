package smoketest

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/raido/occupancy"
	"github.com/aukilabs/raido/voxel"
	"github.com/aukilabs/raido/wire"
	"github.com/google/uuid"
	"github.com/segmentio/encoding/json"
	"golang.org/x/net/websocket"
	"golang.org/x/sync/errgroup"
)

// DefaultTimeout bounds a smoke test run when no timeout is configured.
const DefaultTimeout = time.Second * 10

type Options struct {
	// The endpoint to test, in http(s) or ws(s) form.
	Endpoint string

	// The time after which the run is aborted. Defaults to DefaultTimeout.
	Timeout time.Duration

	UserAgent string
}

// Results reports what a smoke test run observed.
type Results struct {
	SessionID    string        `json:"session_id"`
	JoinRTT      time.Duration `json:"join_rtt"`
	ScanRTT      time.Duration `json:"scan_rtt"`
	BroadcastRTT time.Duration `json:"broadcast_rtt"`
	TraceRTT     time.Duration `json:"trace_rtt"`
	QueryRTT     time.Duration `json:"query_rtt"`
	ChangedCells int           `json:"changed_cells"`
}

// Request is the optional body of a smoke test trigger. Set fields override
// the configured options for that run.
type Request struct {
	Endpoint string        `json:"endpoint,omitempty"`
	Timeout  time.Duration `json:"timeout,omitempty"`
}

type testCtxKey string

var testCtxKeyValue testCtxKey = "test-context"

type testContext struct {
	context.Context
	Cancel func()
}

// HandleSmokeTest triggers a smoke test run against the given endpoint. The
// handler answers immediately and the run happens in the background, its
// outcome going to the logs.
func HandleSmokeTest(ctx context.Context, opts Options) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		var req Request
		if len(b) != 0 {
			if err := json.Unmarshal(b, &req); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
		}

		runOpts := opts
		if req.Endpoint != "" {
			runOpts.Endpoint = req.Endpoint
		}
		if req.Timeout > 0 {
			runOpts.Timeout = req.Timeout
		}

		go func() {
			defer func() {
				// if context is of testContext
				// cancel context on exit to signal function exited
				// this is used for testing
				if tctx := ctx.Value(testCtxKeyValue); tctx != nil {
					testCtx := tctx.(testContext)
					if testCtx.Cancel != nil {
						testCtx.Cancel()
					}
				}
			}()

			res, err := Run(ctx, runOpts)
			if err != nil {
				logs.WithTag("endpoint", runOpts.Endpoint).
					Warn(errors.New("smoke test failed").Wrap(err))
				return
			}

			logs.WithTag("endpoint", runOpts.Endpoint).
				WithTag("session_id", res.SessionID).
				WithTag("join_rtt", res.JoinRTT).
				WithTag("scan_rtt", res.ScanRTT).
				WithTag("broadcast_rtt", res.BroadcastRTT).
				WithTag("trace_rtt", res.TraceRTT).
				WithTag("query_rtt", res.QueryRTT).
				WithTag("changed_cells", res.ChangedCells).
				Info("smoke test succeeded")
		}()

		w.WriteHeader(http.StatusOK)
	}
}

// Run exercises the endpoint as two participants of a fresh session. The
// first maps a short synthetic ray, the second verifies the map delta
// reaches it, then the first reads the map back through a trace and a
// region query.
func Run(ctx context.Context, opts Options) (Results, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	var res Results

	deadline := time.Now().Add(opts.Timeout)

	connA, err := dial(opts, deadline)
	if err != nil {
		return res, err
	}
	defer connA.Close()

	start := time.Now()
	joined, err := join(connA, 1, "")
	if err != nil {
		return res, err
	}
	res.SessionID = joined.SessionID
	res.JoinRTT = time.Since(start)

	connB, err := dial(opts, deadline)
	if err != nil {
		return res, err
	}
	defer connB.Close()

	if _, err = join(connB, 1, joined.SessionID); err != nil {
		return res, errors.New("joining the fresh session failed").
			WithTag("session_id", joined.SessionID).
			Wrap(err)
	}

	g, gctx := errgroup.WithContext(ctx)

	// Closing the connections on cancellation unblocks whichever leg is
	// still waiting on a read.
	stop := context.AfterFunc(gctx, func() {
		connA.Close()
		connB.Close()
	})
	defer stop()

	scanPoint := voxel.Point3{X: 0.55, Y: 0.05, Z: 0.05}

	g.Go(func() error {
		start := time.Now()
		if err := send(connA, wire.MsgTypeScanSubmit, 2, wire.ScanSubmit{
			Pose:   wire.Pose{RW: 1},
			Score:  1,
			Points: []voxel.Point3{scanPoint},
		}); err != nil {
			return err
		}

		msg, err := await(connA, wire.MsgTypeScanAck, 2)
		if err != nil {
			return err
		}
		res.ScanRTT = time.Since(start)

		var ack wire.ScanAck
		if err := msg.Bind(&ack); err != nil {
			return err
		}
		if ack.Rays != 1 || ack.ChangedCells == 0 {
			return errors.New("scan was not integrated").
				WithTag("rays", ack.Rays).
				WithTag("changed_cells", ack.ChangedCells)
		}
		res.ChangedCells = ack.ChangedCells

		start = time.Now()
		if err := send(connA, wire.MsgTypeTrace, 3, wire.TraceRequest{
			Start: voxel.Point3{X: 0.05, Y: 0.05, Z: 0.05},
			End:   scanPoint,
		}); err != nil {
			return err
		}

		msg, err = await(connA, wire.MsgTypeTraceResult, 3)
		if err != nil {
			return err
		}
		res.TraceRTT = time.Since(start)

		var trace wire.TraceResult
		if err := msg.Bind(&trace); err != nil {
			return err
		}
		if trace.Steps == 0 {
			return errors.New("trace visited no voxels")
		}

		start = time.Now()
		if err := send(connA, wire.MsgTypeMapQuery, 4, wire.MapQuery{
			Max: voxel.Index{X: 9, Y: 9, Z: 9},
		}); err != nil {
			return err
		}

		msg, err = await(connA, wire.MsgTypeMapCells, 4)
		if err != nil {
			return err
		}
		res.QueryRTT = time.Since(start)

		var cells wire.MapCells
		if err := msg.Bind(&cells); err != nil {
			return err
		}

		var occupied, free int
		for _, c := range cells.Cells {
			switch c.State {
			case occupancy.StateOccupied:
				occupied++
			case occupancy.StateFree:
				free++
			}
		}
		if occupied == 0 || free == 0 {
			return errors.New("mapped cells did not come back").
				WithTag("occupied_cells", occupied).
				WithTag("free_cells", free)
		}
		return nil
	})

	g.Go(func() error {
		start := time.Now()
		msg, err := await(connB, wire.MsgTypeMapDelta, 0)
		if err != nil {
			return err
		}
		res.BroadcastRTT = time.Since(start)

		var delta wire.MapDelta
		if err := msg.Bind(&delta); err != nil {
			return err
		}
		if delta.ParticipantID != joined.ParticipantID || len(delta.Cells) == 0 {
			return errors.New("map delta did not carry the scan").
				WithTag("participant_id", delta.ParticipantID).
				WithTag("cells", len(delta.Cells))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return res, errors.New("smoke test run failed").
			WithTag("endpoint", opts.Endpoint).
			WithTag("session_id", joined.SessionID).
			Wrap(err)
	}

	return res, nil
}

func dial(opts Options, deadline time.Time) (*websocket.Conn, error) {
	endpoint, err := websocketEndpoint(opts.Endpoint)
	if err != nil {
		return nil, err
	}

	config, err := websocket.NewConfig(endpoint, "http://localhost")
	if err != nil {
		return nil, errors.New("making websocket config failed").
			WithTag("endpoint", endpoint).
			Wrap(err)
	}
	config.Header.Set(wire.HeaderClientID, uuid.NewString())
	if opts.UserAgent != "" {
		config.Header.Set("User-Agent", opts.UserAgent)
	}

	conn, err := websocket.DialConfig(config)
	if err != nil {
		return nil, errors.New("dialing failed").
			WithTag("endpoint", endpoint).
			Wrap(err)
	}

	// The whole run shares one absolute deadline.
	if err := conn.SetDeadline(deadline); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// websocketEndpoint rewrites an http(s) endpoint to its ws(s) counterpart.
func websocketEndpoint(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", errors.New("parsing endpoint failed").
			WithTag("endpoint", endpoint).
			Wrap(err)
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", errors.New("unsupported endpoint scheme").
			WithTag("endpoint", endpoint).
			WithTag("scheme", u.Scheme)
	}
	return u.String(), nil
}

func send(conn *websocket.Conn, msgType string, id uint32, payload any) error {
	msg, err := wire.NewMsg(msgType, payload)
	if err != nil {
		return err
	}

	_, err = wire.Send(conn, msg.WithID(id))
	return err
}

// await reads messages until one of the given type arrives with the given
// id. Keepalive pongs and broadcasts of other types are skipped, error
// messages fail the wait.
func await(conn *websocket.Conn, msgType string, id uint32) (wire.Msg, error) {
	for {
		msg, _, err := wire.Receive(conn)
		if err != nil {
			return wire.Msg{}, err
		}

		switch {
		case msg.Type == msgType && msg.ID == id:
			return msg, nil

		case msg.Type == wire.MsgTypeError:
			var werr wire.Error
			if err := msg.Bind(&werr); err != nil {
				return wire.Msg{}, err
			}
			return wire.Msg{}, errors.New("the endpoint answered with an error").
				WithType(werr.Type).
				WithTag("msg_id", msg.ID).
				WithTag("msg", werr.Message)
		}
	}
}

func join(conn *websocket.Conn, id uint32, sessionID string) (wire.JoinResponse, error) {
	if err := send(conn, wire.MsgTypeJoin, id, wire.JoinRequest{SessionID: sessionID}); err != nil {
		return wire.JoinResponse{}, err
	}

	msg, err := await(conn, wire.MsgTypeJoined, id)
	if err != nil {
		return wire.JoinResponse{}, err
	}

	var joined wire.JoinResponse
	if err := msg.Bind(&joined); err != nil {
		return wire.JoinResponse{}, err
	}
	return joined, nil
}
