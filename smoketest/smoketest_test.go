package smoketest

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aukilabs/raido/mapper"
	"github.com/aukilabs/raido/models"
	"github.com/aukilabs/raido/modules"
	"github.com/aukilabs/raido/modules/isa"
	"github.com/aukilabs/raido/modules/kenaz"
	rwebsocket "github.com/aukilabs/raido/websocket"
	"github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (endpoint string, close func()) {
	t.Helper()

	pipeline, err := mapper.New(mapper.DefaultConfig(), nil)
	require.NoError(t, err)

	sessions := &models.SessionStore{}

	server := httptest.NewServer(rwebsocket.NewServer(context.Background(), func() rwebsocket.Handler {
		return &rwebsocket.RealtimeHandler{
			ClientKeepaliveInterval: time.Second,
			ClientIdleTimeout:       time.Minute,
			Sessions:                sessions,
			Mapper:                  pipeline,
			Modules: []modules.Module{
				&kenaz.Module{Mapper: pipeline},
				&isa.Module{Mapper: pipeline},
			},
		}
	}))
	return server.URL, server.Close
}

func TestRun(t *testing.T) {
	endpoint, close := newTestServer(t)
	defer close()

	res, err := Run(context.Background(), Options{
		Endpoint:  endpoint,
		Timeout:   time.Second * 5,
		UserAgent: "raido-smoketest",
	})
	require.NoError(t, err)
	require.NotEmpty(t, res.SessionID)
	require.NotZero(t, res.JoinRTT)
	require.NotZero(t, res.ScanRTT)
	require.NotZero(t, res.BroadcastRTT)
	require.NotZero(t, res.TraceRTT)
	require.NotZero(t, res.QueryRTT)

	// A single point 0.55m out carves five free cells and one occupied.
	require.Equal(t, 6, res.ChangedCells)
}

func TestRunUnreachableEndpoint(t *testing.T) {
	_, err := Run(context.Background(), Options{
		Endpoint: "http://127.0.0.1:1",
		Timeout:  time.Second,
	})
	require.Error(t, err)
}

func TestRunBadEndpoint(t *testing.T) {
	_, err := Run(context.Background(), Options{
		Endpoint: "ftp://localraido",
		Timeout:  time.Second,
	})
	require.Error(t, err)
}

func TestHandleSmokeTest(t *testing.T) {
	endpoint, close := newTestServer(t)
	defer close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()

	ctx = context.WithValue(ctx, testCtxKeyValue, testContext{
		Context: ctx,
		Cancel:  cancel,
	})

	body, err := json.Marshal(Request{Timeout: time.Second * 5})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/smoketest", bytes.NewReader(body))

	HandleSmokeTest(ctx, Options{Endpoint: endpoint})(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	<-ctx.Done()
	require.ErrorIs(t, ctx.Err(), context.Canceled)
}

func TestHandleSmokeTestBadBody(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/smoketest", bytes.NewReader([]byte("{")))

	HandleSmokeTest(context.Background(), Options{})(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
