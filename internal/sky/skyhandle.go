package sky

import (
	"solemnsky/server/internal/arena"
	"solemnsky/server/internal/logging"
	"solemnsky/server/internal/networked"
)

// EnvInit names the map a sky runs on together with the sky's state.
type EnvInit struct {
	MapName string  `json:"mapName"`
	Sky     SkyInit `json:"sky"`
}

// VerifyStructure checks the nested sky initializer.
func (e EnvInit) VerifyStructure() bool { return e.MapName != "" && e.Sky.VerifyStructure() }

// SkyHandleInit describes the handle: an environment when a game runs.
type SkyHandleInit struct {
	Env *EnvInit `json:"env,omitempty"`
}

func (i SkyHandleInit) VerifyStructure() bool { return networked.VerifyOptional(i.Env) }

// SkyHandleDelta either starts a sky (Init), updates it (Delta), or, with
// both empty, stops it.
type SkyHandleDelta struct {
	Init  *EnvInit  `json:"init,omitempty"`
	Delta *SkyDelta `json:"delta,omitempty"`
}

// VerifyStructure forbids carrying both payloads.
func (d SkyHandleDelta) VerifyStructure() bool {
	if d.Init != nil && d.Delta != nil {
		return false
	}
	return networked.VerifyOptional(d.Init) && networked.VerifyOptional(d.Delta)
}

// Reliable reports whether the delta must be delivered. Starting and
// stopping a sky always must; updates only when they are critical.
func (d SkyHandleDelta) Reliable() bool {
	return d.Delta == nil || d.Delta.Critical()
}

// RespectAuthority narrows the nested sky delta for the client controlling
// pid.
func (d SkyHandleDelta) RespectAuthority(pid networked.PID) SkyHandleDelta {
	if d.Delta == nil {
		return d
	}
	narrowed := d.Delta.RespectAuthority(pid)
	return SkyHandleDelta{Init: d.Init, Delta: &narrowed}
}

// SkyHandle owns the sky's lifecycle inside an arena: it loads the map,
// instantiates the sky and tears it down again.
type SkyHandle struct {
	arena.Subsystem[struct{}]
	arena.BaseListener

	log     *logging.Logger
	loader  MapLoader
	skyOpts []Option

	mapName  string
	sky      *Sky
	skyIsNew bool
	stopped  bool
	loadErr  error
}

// HandleOption configures a SkyHandle.
type HandleOption func(*SkyHandle)

// WithHandleLogger routes handle and sky logs to logger.
func WithHandleLogger(logger *logging.Logger) HandleOption {
	return func(h *SkyHandle) {
		if logger != nil {
			h.log = logger
		}
	}
}

// WithMapLoader replaces the loader resolving map names.
func WithMapLoader(loader MapLoader) HandleOption {
	return func(h *SkyHandle) {
		if loader != nil {
			h.loader = loader
		}
	}
}

// WithSkyOptions passes options to every sky the handle instantiates.
func WithSkyOptions(opts ...Option) HandleOption {
	return func(h *SkyHandle) { h.skyOpts = append(h.skyOpts, opts...) }
}

// NewSkyHandle attaches a handle to a. A handle initializer carrying an
// environment instantiates its sky right away.
func NewSkyHandle(a *arena.Arena, init SkyHandleInit, opts ...HandleOption) *SkyHandle {
	h := &SkyHandle{
		log:    logging.L(),
		loader: DirLoader("."),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.log = h.log.Named(logging.OriginEngine, "sky_handle")
	h.skyOpts = append([]Option{WithLogger(h.log)}, h.skyOpts...)
	h.Attach(a, h)
	if init.Env != nil {
		h.instantiate(*init.Env)
	}
	return h
}

// Sky returns the running sky, or nil.
func (h *SkyHandle) Sky() *Sky { return h.sky }

// IsActive reports whether a sky is running.
func (h *SkyHandle) IsActive() bool { return h.sky != nil }

// LoadError returns the sticky error of the last failed start.
func (h *SkyHandle) LoadError() error { return h.loadErr }

// MapName returns the map the running sky was started on.
func (h *SkyHandle) MapName() string { return h.mapName }

// Start loads the arena's next environment and starts a sky on it. A failed
// load is sticky: later calls return the same error without retrying until
// the environment changes.
func (h *SkyHandle) Start() error {
	if h.loadErr != nil {
		return h.loadErr
	}
	name := h.Arena().NextEnv()
	m, err := h.loader(name)
	if err != nil {
		h.loadErr = err
		h.log.Error("failed to load environment", logging.String("map", name), logging.Error(err))
		return err
	}
	h.stopSky()
	h.mapName = name
	h.sky = NewSky(h.Arena(), m, InitFromMap(m), h.skyOpts...)
	h.skyIsNew = true
	h.stopped = false
	return nil
}

// Stop tears the running sky down.
func (h *SkyHandle) Stop() {
	if h.sky == nil {
		return
	}
	h.stopSky()
	h.stopped = true
	h.skyIsNew = false
}

func (h *SkyHandle) stopSky() {
	if h.sky != nil {
		h.sky.Close()
		h.log.Info("stopped sky", logging.String("map", h.mapName))
	}
	h.sky = nil
	h.mapName = ""
}

func (h *SkyHandle) instantiate(env EnvInit) {
	m, err := h.loader(env.MapName)
	if err != nil {
		h.loadErr = err
		h.log.Error("failed to load environment", logging.String("map", env.MapName), logging.Error(err))
		return
	}
	h.stopSky()
	h.loadErr = nil
	h.mapName = env.MapName
	h.sky = NewSky(h.Arena(), m, env.Sky, h.skyOpts...)
}

// OnMapChange clears a sticky load error so the next Start retries.
func (h *SkyHandle) OnMapChange() { h.loadErr = nil }

func (h *SkyHandle) CaptureInitializer() SkyHandleInit {
	if h.sky == nil {
		return SkyHandleInit{}
	}
	return SkyHandleInit{Env: &EnvInit{MapName: h.mapName, Sky: h.sky.CaptureInitializer()}}
}

// CollectDelta sends the initializer of a new sky once, then its deltas, and
// a single empty delta after a stop.
func (h *SkyHandle) CollectDelta() (SkyHandleDelta, bool) {
	switch {
	case h.sky != nil && h.skyIsNew:
		h.skyIsNew = false
		h.sky.CollectDelta()
		return SkyHandleDelta{Init: &EnvInit{MapName: h.mapName, Sky: h.sky.CaptureInitializer()}}, true
	case h.sky != nil:
		delta, ok := h.sky.CollectDelta()
		if !ok {
			return SkyHandleDelta{}, false
		}
		return SkyHandleDelta{Delta: &delta}, true
	case h.stopped:
		h.stopped = false
		return SkyHandleDelta{}, true
	default:
		return SkyHandleDelta{}, false
	}
}

// ApplyDelta mirrors a collected delta on a client.
func (h *SkyHandle) ApplyDelta(delta SkyHandleDelta) {
	switch {
	case delta.Init != nil:
		h.instantiate(*delta.Init)
	case delta.Delta != nil:
		if h.sky != nil {
			h.sky.ApplyDelta(*delta.Delta)
		}
	default:
		h.stopSky()
	}
}

// Close stops the sky and detaches the handle.
func (h *SkyHandle) Close() {
	h.stopSky()
	h.Subsystem.Close()
}
