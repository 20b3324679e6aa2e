package ipc

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"sentryd/internal/audit"
	"sentryd/internal/config"
	"sentryd/internal/health"
	"sentryd/internal/journal"
	"sentryd/internal/logging"
	"sentryd/internal/metrics"
	"sentryd/internal/monitor"
	"sentryd/internal/overlay"
	"sentryd/internal/platform"
	"sentryd/internal/probe"
)

// DaemonHandler answers every request type against the daemon's core
// components and bridges monitor event streams to watching clients.
type DaemonHandler struct {
	version   string
	startedAt time.Time

	platform platform.Platform
	audit    *audit.Engine
	probe    *probe.Probe
	overlay  *overlay.Controller
	monitor  *monitor.Manager
	journal  *journal.Journal
	health   *health.Checker
	metrics  *metrics.DaemonMetrics
	log      *logging.Logger

	// configFn returns the current configuration so audit requests with
	// empty lists see hot-reloaded allow/deny lists.
	configFn func() *config.Config

	broadcast func(*Event)

	// watchMu guards the per-kind watcher refcounts. The monitor holds
	// one sink per kind; fan-out to clients happens in the server, so
	// the handler only tracks how many connections still need a kind's
	// drain running.
	watchMu  sync.Mutex
	watchers map[monitor.Kind]*kindFeed
}

type kindFeed struct {
	refs int
}

// HandlerConfig wires a DaemonHandler to the daemon's components. The
// journal may be nil when journaling is disabled.
type HandlerConfig struct {
	Version   string
	StartedAt time.Time
	Platform  platform.Platform
	Audit     *audit.Engine
	Probe     *probe.Probe
	Overlay   *overlay.Controller
	Monitor   *monitor.Manager
	Journal   *journal.Journal
	Health    *health.Checker
	Metrics   *metrics.DaemonMetrics
	Config    func() *config.Config
	Logger    *logging.Logger
}

// NewDaemonHandler creates a handler over the daemon's components.
func NewDaemonHandler(cfg HandlerConfig) *DaemonHandler {
	log := cfg.Logger
	if log == nil {
		log = logging.Default().WithComponent("ipc")
	}
	startedAt := cfg.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now()
	}
	return &DaemonHandler{
		version:   cfg.Version,
		startedAt: startedAt,
		platform:  cfg.Platform,
		audit:     cfg.Audit,
		probe:     cfg.Probe,
		overlay:   cfg.Overlay,
		monitor:   cfg.Monitor,
		journal:   cfg.Journal,
		health:    cfg.Health,
		metrics:   cfg.Metrics,
		configFn:  cfg.Config,
		log:       log,
		watchers:  make(map[monitor.Kind]*kindFeed),
	}
}

// Bind gives the handler its event broadcast path. Called once after
// the server is constructed; the server needs the handler first.
func (h *DaemonHandler) Bind(s *Server) {
	h.broadcast = s.Broadcast
}

// HandleMessage dispatches one request to its operation.
func (h *DaemonHandler) HandleMessage(ctx context.Context, client *Conn, msg *Message) (*Message, error) {
	id := msg.Header.RequestID

	if h.metrics != nil {
		start := time.Now()
		defer func() { h.metrics.RequestDuration.ObserveDuration(time.Since(start)) }()
	}

	switch msg.Header.Type {
	case MsgStatusRequest:
		return h.handleStatus(id)
	case MsgHealthRequest:
		return h.handleHealth(ctx, id)
	case MsgProbeAdmin:
		return h.handleProbeAdmin(id)
	case MsgProbeDevMode:
		return h.handleProbeDevMode(id)
	case MsgAuditServices:
		return h.handleAuditServices(id)
	case MsgAuditCheck:
		return h.handleAuditCheck(id, msg.Payload)
	case MsgOverlayHide:
		return h.handleOverlay(id, msg.Payload, MsgOverlayHideResp, h.overlay.SetHideOverlayWindows)
	case MsgOverlayBlock:
		return h.handleOverlay(id, msg.Payload, MsgOverlayBlockResp, h.overlay.SetBlockObscuredTouches)
	case MsgJournalRecent:
		return h.handleJournalRecent(id, msg.Payload)
	case MsgJournalVerify:
		return h.handleJournalVerify(id)
	case MsgWatch:
		return h.handleWatch(client, id, msg.Payload)
	case MsgUnwatch:
		return h.handleUnwatch(client, id, msg.Payload)
	default:
		return NewErrorMessage(id, ErrCodeInvalidRequest, "unknown message type"), nil
	}
}

// Pin takes a permanent reference on an observer kind so it keeps
// running regardless of client watch churn. Used for the configured
// auto-start kinds; their events still reach the journal tap and any
// watching clients.
func (h *DaemonHandler) Pin(kind monitor.Kind) error {
	return h.acquireWatch(kind)
}

// HandleDisconnect releases the watch references a closing connection
// still held.
func (h *DaemonHandler) HandleDisconnect(client *Conn) {
	for _, name := range client.WatchedKinds() {
		kind, err := monitor.ParseKind(name)
		if err != nil {
			continue
		}
		h.releaseWatch(kind)
	}
}

func (h *DaemonHandler) handleStatus(id uint32) (*Message, error) {
	ok, detail := h.platform.Available()

	active := h.monitor.ActiveKinds()
	names := make([]string, len(active))
	for i, k := range active {
		names[i] = k.String()
	}

	resp := StatusResponse{
		Version:         h.version,
		StartedAt:       h.startedAt,
		UptimeSeconds:   int64(time.Since(h.startedAt).Seconds()),
		PlatformOK:      ok,
		PlatformDetail:  detail,
		APILevel:        h.platform.APILevel(),
		ActiveObservers: names,
	}
	if h.journal != nil {
		if n, err := h.journal.Count(); err == nil {
			resp.JournalRecords = n
		}
		resp.JournalSealed = h.journal.Sealed()
	}
	return NewResponse(MsgStatusResponse, id, resp)
}

func (h *DaemonHandler) handleHealth(ctx context.Context, id uint32) (*Message, error) {
	results := h.health.Check(ctx)

	resp := HealthResponse{
		Healthy:    health.Overall(results) != health.StatusUnhealthy,
		Components: make(map[string]ComponentHealth, len(results)),
	}
	for _, r := range results {
		resp.Components[r.Name] = ComponentHealth{
			Healthy:  r.Healthy,
			Critical: r.Critical,
			Detail:   r.Error,
		}
	}
	return NewResponse(MsgHealthResponse, id, resp)
}

func (h *DaemonHandler) handleProbeAdmin(id uint32) (*Message, error) {
	var resp ProbeResponse
	value, err := h.probe.DeviceAdminActive()
	if err != nil {
		resp.Error = err.Error()
	} else {
		resp.Value = value
	}
	return NewResponse(MsgProbeAdminResp, id, resp)
}

func (h *DaemonHandler) handleProbeDevMode(id uint32) (*Message, error) {
	return NewResponse(MsgProbeDevModeResp, id, ProbeResponse{
		Value: h.probe.DeveloperModeEnabled(),
	})
}

func (h *DaemonHandler) handleAuditServices(id uint32) (*Message, error) {
	var resp AuditServicesResponse
	services, err := h.audit.ActiveServices()
	if err != nil {
		resp.Error = err.Error()
	} else {
		resp.Services = services
	}
	return NewResponse(MsgAuditServicesResp, id, resp)
}

func (h *DaemonHandler) handleAuditCheck(id uint32, payload []byte) (*Message, error) {
	if h.metrics != nil {
		h.metrics.AuditChecksTotal.Inc()
	}

	var req AuditCheckRequest
	if len(payload) > 0 {
		if err := Decode(payload, &req); err != nil {
			return NewErrorMessage(id, ErrCodeInvalidRequest, "malformed audit request"), nil
		}
	}

	allowlist := req.Allowlist
	denylist := req.Denylist
	if h.configFn != nil {
		cfg := h.configFn()
		if len(allowlist) == 0 {
			allowlist = cfg.Audit.Allowlist
		}
		if len(denylist) == 0 {
			denylist = cfg.Audit.Denylist
		}
	}

	var resp AuditCheckResponse
	services, err := h.audit.ActiveServices()
	if err != nil {
		resp.Error = err.Error()
		return NewResponse(MsgAuditCheckResp, id, resp)
	}
	resp.Services = services

	allowed, err := h.audit.AllAllowed(allowlist)
	if err != nil {
		resp.Error = err.Error()
		return NewResponse(MsgAuditCheckResp, id, resp)
	}
	denied, err := h.audit.AnyDenied(denylist)
	if err != nil {
		resp.Error = err.Error()
		return NewResponse(MsgAuditCheckResp, id, resp)
	}

	resp.AllAllowed = allowed
	resp.AnyDenied = denied
	if denied && h.metrics != nil {
		h.metrics.AuditDeniedTotal.Inc()
	}
	return NewResponse(MsgAuditCheckResp, id, resp)
}

func (h *DaemonHandler) handleOverlay(id uint32, payload []byte, respType MessageType, apply func(bool) error) (*Message, error) {
	var req OverlayRequest
	if err := Decode(payload, &req); err != nil {
		return NewErrorMessage(id, ErrCodeInvalidRequest, "malformed overlay request"), nil
	}

	var resp OverlayResponse
	if err := apply(req.Enable); err != nil {
		resp.Error = err.Error()
	} else {
		resp.Applied = true
	}
	return NewResponse(respType, id, resp)
}

func (h *DaemonHandler) handleJournalRecent(id uint32, payload []byte) (*Message, error) {
	if h.journal == nil {
		return NewErrorMessage(id, ErrCodeUnavailable, "journal disabled"), nil
	}

	var req JournalRecentRequest
	if len(payload) > 0 {
		if err := Decode(payload, &req); err != nil {
			return NewErrorMessage(id, ErrCodeInvalidRequest, "malformed journal request"), nil
		}
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 50
	}

	var (
		records []journal.Record
		err     error
	)
	if req.Kind != "" {
		records, err = h.journal.RecentByKind(req.Kind, limit)
	} else {
		records, err = h.journal.Recent(limit)
	}

	var resp JournalRecentResponse
	if err != nil {
		resp.Error = err.Error()
	} else {
		resp.Records = make([]JournalRecord, len(records))
		for i, r := range records {
			resp.Records[i] = JournalRecord{
				ID:         r.ID,
				Kind:       r.Kind,
				ObservedAt: r.ObservedAt,
				Payload:    r.Payload,
			}
		}
	}
	return NewResponse(MsgJournalRecentResp, id, resp)
}

func (h *DaemonHandler) handleJournalVerify(id uint32) (*Message, error) {
	if h.journal == nil {
		return NewErrorMessage(id, ErrCodeUnavailable, "journal disabled"), nil
	}

	var resp JournalVerifyResponse
	if err := h.journal.Verify(); err != nil {
		resp.Error = err.Error()
	} else {
		resp.Valid = true
	}
	return NewResponse(MsgJournalVerifyResp, id, resp)
}

func (h *DaemonHandler) handleWatch(client *Conn, id uint32, payload []byte) (*Message, error) {
	var req WatchRequest
	if err := Decode(payload, &req); err != nil {
		return NewErrorMessage(id, ErrCodeInvalidRequest, "malformed watch request"), nil
	}
	kind, err := monitor.ParseKind(req.Kind)
	if err != nil {
		return NewResponse(MsgWatchResp, id, WatchResponse{Kind: req.Kind, Error: err.Error()})
	}

	// Watching twice on one connection is a no-op, not a second ref.
	if client.Watching(req.Kind) {
		return NewResponse(MsgWatchResp, id, WatchResponse{Kind: req.Kind, Active: true})
	}

	// Mark the connection before the observer starts so the initial
	// snapshot event is not broadcast past it.
	client.Watch(req.Kind)
	if err := h.acquireWatch(kind); err != nil {
		client.Unwatch(req.Kind)
		return NewResponse(MsgWatchResp, id, WatchResponse{Kind: req.Kind, Error: err.Error()})
	}
	return NewResponse(MsgWatchResp, id, WatchResponse{Kind: req.Kind, Active: h.monitor.Active(kind)})
}

func (h *DaemonHandler) handleUnwatch(client *Conn, id uint32, payload []byte) (*Message, error) {
	var req UnwatchRequest
	if err := Decode(payload, &req); err != nil {
		return NewErrorMessage(id, ErrCodeInvalidRequest, "malformed unwatch request"), nil
	}
	kind, err := monitor.ParseKind(req.Kind)
	if err != nil {
		return NewResponse(MsgUnwatchResp, id, WatchResponse{Kind: req.Kind, Error: err.Error()})
	}

	if client.Watching(req.Kind) {
		client.Unwatch(req.Kind)
		h.releaseWatch(kind)
	}
	return NewResponse(MsgUnwatchResp, id, WatchResponse{Kind: req.Kind})
}

// acquireWatch takes one reference on a kind's event feed, starting the
// observer and its drain goroutine on the first reference.
func (h *DaemonHandler) acquireWatch(kind monitor.Kind) error {
	h.watchMu.Lock()
	defer h.watchMu.Unlock()

	if feed, ok := h.watchers[kind]; ok {
		feed.refs++
		return nil
	}

	sink, err := h.monitor.Subscribe(kind)
	if err != nil {
		return err
	}
	h.watchers[kind] = &kindFeed{refs: 1}

	// The drain exits when the monitor closes the sink on Unsubscribe.
	go func() {
		for ev := range sink {
			h.forward(ev)
		}
	}()
	return nil
}

// releaseWatch drops one reference, unsubscribing the observer when the
// last watcher is gone. The drain goroutine exits when the monitor
// closes the sink.
func (h *DaemonHandler) releaseWatch(kind monitor.Kind) {
	h.watchMu.Lock()
	defer h.watchMu.Unlock()

	feed, ok := h.watchers[kind]
	if !ok {
		return
	}
	feed.refs--
	if feed.refs > 0 {
		return
	}
	delete(h.watchers, kind)
	h.monitor.Unsubscribe(kind)
}

func (h *DaemonHandler) forward(ev monitor.Event) {
	if h.broadcast == nil {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		h.log.Warn("event marshal failed", "kind", ev.EventKind().String(), "error", err)
		return
	}
	h.broadcast(&Event{
		Kind:       ev.EventKind().String(),
		ObservedAt: time.Now(),
		Payload:    payload,
	})
}
