package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/pprof"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"syscall"
	"time"

	"github.com/aukilabs/go-tooling/pkg/cli"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/go-tooling/pkg/metrics"
	"github.com/aukilabs/raido/featureflag"
	raidohttp "github.com/aukilabs/raido/http"
	"github.com/aukilabs/raido/mapper"
	"github.com/aukilabs/raido/models"
	"github.com/aukilabs/raido/modules"
	"github.com/aukilabs/raido/modules/isa"
	"github.com/aukilabs/raido/modules/kenaz"
	"github.com/aukilabs/raido/occupancy"
	"github.com/aukilabs/raido/smoketest"
	rwebsocket "github.com/aukilabs/raido/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/encoding/json"
	"golang.org/x/net/websocket"
)

var (
	// The Raido version number. Set at build.
	version = "v0.1.0"

	infoGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name:        "raido_info",
		Help:        "Raido information.",
		ConstLabels: prometheus.Labels{"version": version},
	})
)

// This will effectively disable obfuscation of the config struct. Without it, the keys would get obfuscated causing the cli package to generate garbled command-line options.
// https://github.com/burrowers/garble/issues/403
var _ = reflect.TypeOf(config{})

type config struct {
	Addr               string        `cli:""        env:"RAIDO_ADDR"                 help:"Listening address for client connections."`
	AdminAddr          string        `cli:""        env:"RAIDO_ADMIN_ADDR"           help:"Admin listening address."`
	PublicEndpoint     string        `cli:""        env:"RAIDO_PUBLIC_ENDPOINT"      help:"The public endpoint where this Raido server is reachable."`
	AdminToken         string        `cli:""        env:"RAIDO_ADMIN_TOKEN"          help:"The bearer token that guards the admin session endpoints. Empty leaves them open."`
	PipelineConfig     string        `cli:""        env:"RAIDO_PIPELINE_CONFIG"      help:"Path to a YAML mapping pipeline config. Empty uses the built-in defaults."`
	SnapshotDir        string        `cli:""        env:"RAIDO_SNAPSHOT_DIR"         help:"Directory with .snapshot files restored as sessions at startup."`
	LogLevel           string        `cli:""        env:"RAIDO_LOG_LEVEL"            help:"Log level (debug|info|warning|error)."`
	LogIndent          bool          `cli:""        env:"RAIDO_LOG_INDENT"           help:"Indent logs."`
	MaxClients         int           `cli:",hidden" env:"RAIDO_MAX_CLIENTS"          help:"The maximum number of simultaneous client connections. Zero means no cap."`
	KeepaliveInterval  time.Duration `cli:",hidden" env:"RAIDO_KEEPALIVE_INTERVAL"   help:"Client keepalive (heartbeat) message interval."`
	ClientIdleTimeout  time.Duration `cli:",hidden" env:"RAIDO_CLIENT_IDLE_TIMEOUT"  help:"Time until an idle client will be disconnected."`
	SessionLinger      time.Duration `cli:",hidden" env:"RAIDO_SESSION_LINGER"       help:"Time an empty session keeps its map before being reaped."`
	LogSummaryInterval time.Duration `cli:",hidden" env:"RAIDO_LOG_SUMMARY_INTERVAL" help:"The duration between each log summary by connection."`
	FeatureFlags       []string      `cli:",hidden" env:"RAIDO_FEATURE_FLAGS"        help:"Comma separated feature flags."`
	Version            bool          `cli:""        env:"-"                          help:"Show version."`
	Help               bool          `cli:""        env:"-"                          help:"Show help."`
}

func main() {
	conf := config{
		Addr:               ":4000",
		AdminAddr:          ":18190",
		PublicEndpoint:     "http://localhost:4000",
		LogLevel:           logs.InfoLevel.String(),
		KeepaliveInterval:  time.Second * 5,
		ClientIdleTimeout:  time.Minute * 5,
		SessionLinger:      time.Minute * 5,
		LogSummaryInterval: time.Minute,
	}

	// set the information gauge to 1, useful for SUM query
	infoGauge.Set(1)

	ctx, cancel := cli.ContextWithSignals(context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer cancel()

	cli.Register().
		Help("Starts Raido server.").
		Options(&conf)
	cli.Load()

	if conf.Version {
		fmt.Println(version)
		os.Exit(0)
	}

	if err := validateConfig(conf); err != nil {
		logs.Fatal(err)
	}

	logs.SetLevel(logs.ParseLevel(conf.LogLevel))
	logs.Encoder = json.Marshal
	if conf.LogIndent {
		logs.Encoder = func(v any) ([]byte, error) {
			return json.MarshalIndent(v, "", "  ")
		}
	}

	errors.Encoder = json.Marshal

	pipelineConf := mapper.DefaultConfig()
	if conf.PipelineConfig != "" {
		var err error
		if pipelineConf, err = mapper.LoadConfig(conf.PipelineConfig); err != nil {
			logs.Fatal(errors.New("loading pipeline config failed").Wrap(err))
		}
	}

	flags := featureflag.New(conf.FeatureFlags)

	pipeline, err := mapper.New(pipelineConf, flags)
	if err != nil {
		logs.Fatal(errors.New("creating mapping pipeline failed").Wrap(err))
	}

	sessions := models.SessionStore{}

	if conf.SnapshotDir != "" {
		if err := restoreSnapshots(conf.SnapshotDir, &sessions); err != nil {
			logs.Fatal(errors.New("restoring session snapshots failed").Wrap(err))
		}
	}

	go reapSessions(ctx, &sessions, conf.SessionLinger)

	// readiness flips off on shutdown so load balancers drain before the
	// listeners stop.
	readinessCheck := func() bool {
		return ctx.Err() == nil
	}

	newHandler := func() rwebsocket.Handler {
		var h rwebsocket.Handler = &rwebsocket.RealtimeHandler{
			ClientKeepaliveInterval: conf.KeepaliveInterval,
			ClientIdleTimeout:       conf.ClientIdleTimeout,
			Sessions:                &sessions,
			Mapper:                  pipeline,
			Modules: []modules.Module{
				&kenaz.Module{Mapper: pipeline, Flags: flags},
				&isa.Module{Mapper: pipeline, Flags: flags},
			},
		}
		h = rwebsocket.HandlerWithLogs(h, conf.LogSummaryInterval)
		h = rwebsocket.HandlerWithMetrics(h, conf.PublicEndpoint)
		return h
	}

	var service http.ServeMux
	service.Handle("/", raidohttp.HandleWithLimit(int64(conf.MaxClients),
		raidohttp.HandleWithCORS(rwebsocket.NewServer(ctx, newHandler))))
	service.Handle("/health", raidohttp.HandleWithCORS(http.HandlerFunc(raidohttp.HandleHealthCheck)))
	service.Handle("/version", raidohttp.HandleWithCORS(http.HandlerFunc(raidohttp.HandleVersion(version))))
	service.Handle("/ready", raidohttp.HandleWithCORS(http.HandlerFunc(raidohttp.HandleReadyCheck(readinessCheck))))

	service.Handle("/ping", websocket.Server{
		Handler: func(ws *websocket.Conn) {
			defer ws.Close()
			io.Copy(ws, ws)
		},
	})

	var admin http.ServeMux
	admin.Handle("/metrics", promhttp.Handler())
	admin.HandleFunc("/health", raidohttp.HandleHealthCheck)
	admin.HandleFunc("/debug/pprof/", pprof.Index)
	admin.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	admin.HandleFunc("/debug/pprof/profile", pprof.Profile)
	admin.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	admin.HandleFunc("/debug/pprof/trace", pprof.Trace)
	admin.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
	admin.Handle("/debug/pprof/heap", pprof.Handler("heap"))
	admin.Handle("/debug/pprof/threadcreate", pprof.Handler("threadcreate"))
	admin.Handle("/debug/pprof/block", pprof.Handler("block"))
	admin.HandleFunc("/ready", raidohttp.HandleReadyCheck(readinessCheck))

	admin.Handle("/sessions", raidohttp.HandleWithToken(conf.AdminToken,
		raidohttp.HandleSessions(&sessions)))
	admin.Handle("/sessions/", raidohttp.HandleWithToken(conf.AdminToken,
		raidohttp.HandleSessionSnapshot(&sessions)))
	admin.Handle("/smoketest", raidohttp.HandleWithToken(conf.AdminToken,
		smoketest.HandleSmokeTest(ctx, smoketest.Options{
			Endpoint:  conf.PublicEndpoint,
			UserAgent: fmt.Sprintf("Raido %s", version),
		})))

	logs.WithTag("version", version).
		WithTag("log_level", conf.LogLevel).
		WithTag("endpoint", conf.PublicEndpoint).
		WithTag("voxel_size", pipelineConf.VoxelSize).
		WithTag("algorithm", pipelineConf.Algorithm).
		Info("starting raido server")

	raidohttp.ListenAndServe(ctx,
		&http.Server{Addr: conf.Addr, Handler: metrics.HTTPHandler(&service,
			raidohttp.MetricsPathFormatter)},
		&http.Server{Addr: conf.AdminAddr, Handler: &admin},
	)
}

// reapSessions periodically removes the sessions that have been empty for
// longer than the linger duration.
func reapSessions(ctx context.Context, sessions *models.SessionStore, linger time.Duration) {
	interval := linger / 2
	if interval < time.Second {
		interval = time.Second
	}
	if interval > time.Minute {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			for _, id := range sessions.Reap(linger) {
				logs.WithTag("session_id", id).Info("empty session reaped")
			}
		}
	}
}

// restoreSnapshots loads every .snapshot file of the given directory as a
// session named after the file.
func restoreSnapshots(dir string, sessions *models.SessionStore) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return errors.New("reading snapshot directory failed").
			WithTag("dir", dir).
			Wrap(err)
	}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != ".snapshot" {
			continue
		}

		b, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return errors.New("reading snapshot file failed").
				WithTag("file", name).
				Wrap(err)
		}

		grid, err := occupancy.FromSnapshot(b)
		if err != nil {
			return errors.New("decoding snapshot file failed").
				WithTag("file", name).
				Wrap(err)
		}

		id := strings.TrimSuffix(name, ".snapshot")
		sessions.Add(models.NewSession(id, grid))

		logs.WithTag("session_id", id).
			WithTag("cells", grid.Stats().Cells).
			Info("session map restored")
	}
	return nil
}

func validateConfig(conf config) error {
	if _, err := url.ParseRequestURI(conf.PublicEndpoint); err != nil {
		return errors.New("invalid public endpoint").Wrap(err)
	}
	return nil
}
