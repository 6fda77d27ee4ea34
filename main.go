package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"

	"solemnsky/server/internal/arena"
	"solemnsky/server/internal/auth"
	configpkg "solemnsky/server/internal/config"
	"solemnsky/server/internal/eventlog"
	grpcstream "solemnsky/server/internal/grpc"
	httpapi "solemnsky/server/internal/http"
	"solemnsky/server/internal/logging"
	"solemnsky/server/internal/plane"
	"solemnsky/server/internal/replay"
	"solemnsky/server/internal/server"
	"solemnsky/server/internal/simulation"
	"solemnsky/server/internal/sky"
	"solemnsky/server/internal/telegraph"
)

const (
	shutdownTimeout     = 5 * time.Second
	recordSweepInterval = 10 * time.Minute
	joinTokenLeeway     = 2 * time.Second
	// apiRate and apiBurst bound the event and flush endpoints together.
	apiRate  = 5
	apiBurst = 10
)

func main() {
	cfg, err := configpkg.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logging: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	arenaFile, err := configpkg.LoadArena(cfg.ArenaFile)
	if err != nil {
		logger.Fatal("failed to load arena file", logging.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cfg, arenaFile, logger)
	if err != nil {
		logger.Fatal("failed to start server", logging.Error(err))
	}
	if err := a.run(ctx); err != nil {
		logger.Error("server stopped with error", logging.Error(err))
		os.Exit(1)
	}
}

// processState answers readiness checks.
type processState struct {
	started time.Time
	mu      sync.Mutex
	err     error
}

func newProcessState() *processState { return &processState{started: time.Now()} }

func (p *processState) StartupError() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *processState) Uptime() time.Duration { return time.Since(p.started) }

func (p *processState) fail(err error) {
	p.mu.Lock()
	if p.err == nil {
		p.err = err
	}
	p.mu.Unlock()
}

// app is one running server process with its optional components.
type app struct {
	cfg   *configpkg.Config
	log   *logging.Logger
	state *processState

	exec      *server.Exec
	host      *telegraph.MultiHost
	websocket *telegraph.WebsocketHost
	regulator *telegraph.BandwidthRegulator

	events    *eventlog.Log
	recorder  *replay.Recorder
	cleaner   *replay.Cleaner
	bridge    *spectatorBridge
	grpc      *grpc.Server
	snapshots *ArenaSnapshotter

	closeOnce sync.Once
}

// newApp wires the game server from configuration without serving yet.
// Only the QUIC listener binds its socket here.
func newApp(cfg *configpkg.Config, arenaFile configpkg.ArenaFile, logger *logging.Logger) (*app, error) {
	if logger == nil {
		logger = logging.L()
	}
	a := &app{cfg: cfg, log: logger.Named(logging.OriginServer, "main"), state: newProcessState()}
	ok := false
	defer func() {
		if !ok {
			a.close()
		}
	}()

	tuning, err := applyTuning(plane.DefaultTuning(), arenaFile.Tuning)
	if err != nil {
		return nil, err
	}
	init := arena.ArenaInit{
		Name:      arenaFile.Name,
		Motd:      arenaFile.Motd,
		NextEnv:   arenaFile.NextEnv,
		TeamCount: uint8(arenaFile.TeamCount),
	}
	if a.snapshots, err = NewArenaSnapshotter(cfg.SnapshotPath, cfg.SnapshotInterval, logger); err != nil {
		return nil, fmt.Errorf("arena snapshot: %w", err)
	}
	if a.snapshots.Restore(&init) {
		a.log.Info("restored arena identity", logging.String("name", init.Name), logging.String("next_env", init.NextEnv))
	}

	//1.- Transports: the websocket host always, QUIC when configured.
	wsOpts := telegraph.WebsocketOptions{
		AllowedOrigins:  cfg.AllowedOrigins,
		MaxPayloadBytes: cfg.MaxPayloadBytes,
		MaxClients:      cfg.MaxClients,
		PingInterval:    cfg.PingInterval,
		Logger:          logger,
	}
	if cfg.JoinSecret != "" {
		signer, err := auth.NewJoinSigner(cfg.JoinSecret, init.Name, joinTokenLeeway)
		if err != nil {
			return nil, err
		}
		wsOpts.Authenticate = signer.Authenticate
	}
	a.websocket = telegraph.NewWebsocketHost(wsOpts)
	hosts := []telegraph.Host{a.websocket}
	if cfg.QUICAddress != "" {
		tlsConf, err := loadTLSConfig(cfg.TLSCertPath, cfg.TLSKeyPath)
		if err != nil {
			return nil, err
		}
		quicHost, err := telegraph.ListenQUIC(cfg.QUICAddress, tlsConf, telegraph.QUICOptions{
			MaxPayloadBytes: cfg.MaxPayloadBytes,
			MaxClients:      cfg.MaxClients,
			Logger:          logger,
		})
		if err != nil {
			a.websocket.Close()
			return nil, err
		}
		hosts = append(hosts, quicHost)
	}
	a.host = telegraph.Merge(hosts...)
	a.regulator = telegraph.NewBandwidthRegulator(cfg.BandwidthBytesPerSecond, nil)
	tg := telegraph.NewServerTelegraph(a.host, telegraph.WithLogger(logger), telegraph.WithRegulator(a.regulator))

	//2.- The arena, its game mode and the executor.
	shared := server.NewShared(tg, init, server.SharedOptions{
		Logger:           logger,
		MapLoader:        sky.DirLoader(cfg.MapDir),
		ScoreboardFields: arenaFile.ScoreboardFields,
	})
	vanilla := server.NewVanilla(shared, server.VanillaOptions{
		Logger:       logger,
		RConPassword: cfg.RConPassword,
		ScoreLimit:   arenaFile.ScoreLimit,
		Tuning:       tuning,
	})
	a.exec = server.NewExec(shared, vanilla, server.ExecOptions{
		Logger:                logger,
		Address:               cfg.Address,
		TickHz:                cfg.TickHz,
		SkyDeltaInterval:      cfg.SkyDeltaInterval,
		ScoreDeltaInterval:    cfg.ScoreDeltaInterval,
		PingInterval:          cfg.ProtocolPingInterval,
		LatencyUpdateInterval: cfg.LatencyUpdateInterval,
		ChatRate:              cfg.ChatRate,
		ChatBurst:             cfg.ChatBurst,
		Monitor:               simulation.NewTickMonitor(),
	})

	//3.- Optional sinks and taps.
	sessionID := uuid.NewString()
	if cfg.EventDBPath != "" {
		if a.events, err = eventlog.Open(cfg.EventDBPath, eventlog.WithLogger(logger), eventlog.WithSession(sessionID)); err != nil {
			return nil, err
		}
		shared.AttachSink(a.events)
	}
	if cfg.RecordDir != "" {
		if a.recorder, err = replay.NewRecorder(cfg.RecordDir, sessionID, logger, nil); err != nil {
			return nil, err
		}
		a.recorder.SetSession(init.Name, tuning)
		shared.AttachSink(a.recorder)
		shared.AttachTap(a.recorder)
		a.cleaner = replay.NewCleaner(cfg.RecordDir, replay.RetentionPolicy{
			MaxSessions: cfg.RecordMaxSessions,
			MaxAge:      cfg.RecordMaxAge,
		}, logger)
		a.cleaner.Protect(a.recorder.Snapshot().Directory)
	}
	if cfg.GRPCAddress != "" {
		a.bridge = newSpectatorBridge(a.exec, logger)
		shared.AttachTap(a.bridge)
		if a.grpc, err = newGRPCServer(cfg, a.bridge, logger); err != nil {
			return nil, err
		}
	}
	ok = true
	return a, nil
}

// applyTuning overrides the named parameters of base.
func applyTuning(base plane.Tuning, overrides map[string]float64) (plane.Tuning, error) {
	names := make([]string, 0, len(overrides))
	for name := range overrides {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		param := base.Param(name)
		if param == nil {
			return base, fmt.Errorf("unknown tuning parameter %q", name)
		}
		*param = overrides[name]
	}
	return base, nil
}

// newGRPCServer serves the spectator stream behind the shared secret.
func newGRPCServer(cfg *configpkg.Config, source grpcstream.PacketSource, logger *logging.Logger) (*grpc.Server, error) {
	opts, err := configureGRPCSecurity(cfg, logger)
	if err != nil {
		return nil, err
	}
	compressor, err := grpcstream.CompressorByName(cfg.GRPCCompression)
	if err != nil {
		return nil, err
	}
	srv := grpc.NewServer(opts...)
	grpcstream.RegisterSpectatorServer(srv, grpcstream.NewService(source,
		grpcstream.WithCompressor(compressor), grpcstream.WithLogger(logger)))
	return srv, nil
}

// handler routes the websocket and the operational endpoints.
func (a *app) handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/ws", a.websocket)
	registerControlDocEndpoints(mux)

	opts := httpapi.Options{
		Logger:      a.log,
		Readiness:   a.state,
		Stats:       a.exec.Stats,
		Bandwidth:   a.regulator,
		AdminToken:  a.cfg.AdminToken,
		RateLimiter: rate.NewLimiter(rate.Limit(apiRate), apiBurst),
	}
	if a.events != nil {
		opts.Events = a.events
	}
	if a.recorder != nil {
		opts.Recording = a.recorder
	}
	if a.cleaner != nil {
		opts.Archive = a.cleaner.Stats
	}
	httpapi.NewHandlerSet(opts).Register(mux)
	return logging.HTTPTraceMiddleware(a.log)(mux)
}

// captureArena reads the arena initializer on the server loop.
func (a *app) captureArena(ctx context.Context) (arena.ArenaInit, error) {
	result := make(chan arena.ArenaInit, 1)
	err := a.exec.Invoke(ctx, func(s *server.Shared) {
		result <- s.Arena.CaptureInitializer()
	})
	if err != nil {
		return arena.ArenaInit{}, err
	}
	return <-result, nil
}

// run serves until ctx ends or a listener fails, then shuts down in order:
// listeners, the game loop, then the sinks that recorded it.
func (a *app) run(ctx context.Context) error {
	defer a.close()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 3)
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		if err := a.exec.Run(ctx); err != nil {
			errCh <- fmt.Errorf("server loop: %w", err)
		}
	}()
	a.snapshots.Start(a.captureArena)
	if a.cleaner != nil {
		go a.cleaner.Run(ctx, recordSweepInterval)
	}

	if a.grpc != nil {
		lis, err := net.Listen("tcp", a.cfg.GRPCAddress)
		if err != nil {
			cancel()
			<-loopDone
			return fmt.Errorf("listen grpc %s: %w", a.cfg.GRPCAddress, err)
		}
		go func() {
			if err := a.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				errCh <- fmt.Errorf("grpc: %w", err)
			}
		}()
	}

	httpServer := &http.Server{
		Addr:              a.cfg.Address,
		Handler:           a.handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		var err error
		if a.cfg.TLSCertPath != "" {
			err = httpServer.ListenAndServeTLS(a.cfg.TLSCertPath, a.cfg.TLSKeyPath)
		} else {
			err = httpServer.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http: %w", err)
		}
	}()

	endpoints := advertisedEndpoints(a.cfg)
	names := make([]string, 0, len(endpoints))
	for name := range endpoints {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		a.log.Info("listening", logging.String("listener", name), logging.String("url", endpoints[name]))
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		a.state.fail(runErr)
	}
	a.log.Info("shutting down")

	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		a.log.Warn("http shutdown", logging.Error(err))
	}
	if a.grpc != nil {
		stopped := make(chan struct{})
		go func() {
			a.grpc.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-shutdownCtx.Done():
			a.grpc.Stop()
		}
	}
	cancel()
	<-loopDone

	// The loop has stopped, so the arena can be read here directly.
	a.snapshots.Record(a.exec.Shared().Arena.CaptureInitializer())
	return runErr
}

// close releases every component; it is safe to call more than once.
func (a *app) close() {
	a.closeOnce.Do(func() {
		if a.host != nil {
			if err := a.host.Close(); err != nil {
				a.log.Warn("transport close", logging.Error(err))
			}
		}
		if a.recorder != nil {
			if err := a.recorder.Close(); err != nil {
				a.log.Warn("recorder close", logging.Error(err))
			}
		}
		if a.events != nil {
			if err := a.events.Close(); err != nil {
				a.log.Warn("event log close", logging.Error(err))
			}
		}
		if err := a.snapshots.Close(); err != nil {
			a.log.Warn("arena snapshot close", logging.Error(err))
		}
	})
}
