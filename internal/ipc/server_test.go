package ipc

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentryd/internal/audit"
	"sentryd/internal/config"
	"sentryd/internal/health"
	"sentryd/internal/journal"
	"sentryd/internal/monitor"
	"sentryd/internal/overlay"
	"sentryd/internal/platform"
	"sentryd/internal/probe"
)

type testDaemon struct {
	mem    *platform.Memory
	mon    *monitor.Manager
	jnl    *journal.Journal
	cfg    *config.Config
	server *Server
	socket string
}

func startDaemon(t *testing.T, api int) *testDaemon {
	t.Helper()
	dir := t.TempDir()

	mem := platform.NewMemory(api)
	mon := monitor.New(monitor.Config{Platform: mem})
	t.Cleanup(mon.Close)

	jnl, err := journal.Open(journal.Options{
		Path:    filepath.Join(dir, "journal.db"),
		Sealed:  true,
		KeyPath: filepath.Join(dir, "journal.key"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { jnl.Close() })

	cfg := config.DefaultConfig()

	checker := health.NewChecker()
	checker.Register(health.Component{
		Name:     "platform",
		Critical: true,
		Check:    func(context.Context) error { return nil },
	})

	handler := NewDaemonHandler(HandlerConfig{
		Version:  "test",
		Platform: mem,
		Audit:    audit.New(mem.Accessibility()),
		Probe:    probe.New(mem),
		Overlay:  overlay.New(mem),
		Monitor:  mon,
		Journal:  jnl,
		Health:   checker,
		Config:   func() *config.Config { return cfg },
	})

	socket := filepath.Join(dir, "sentryd.sock")
	server := NewServer(ServerConfig{
		SocketPath:  socket,
		ReadTimeout: time.Second,
	}, handler)
	handler.Bind(server)

	require.NoError(t, server.Start())
	t.Cleanup(func() { server.Stop() })

	return &testDaemon{mem: mem, mon: mon, jnl: jnl, cfg: cfg, server: server, socket: socket}
}

func dialDaemon(t *testing.T, d *testDaemon) *Client {
	t.Helper()
	c, err := Dial(d.socket, ClientOptions{Timeout: 2 * time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestPingAndStatus(t *testing.T) {
	d := startDaemon(t, 31)
	c := dialDaemon(t, d)

	require.NoError(t, c.Ping())

	status, err := c.Status()
	require.NoError(t, err)
	assert.Equal(t, "test", status.Version)
	assert.True(t, status.PlatformOK)
	assert.Equal(t, 31, status.APILevel)
	assert.Empty(t, status.ActiveObservers)
	assert.True(t, status.JournalSealed)
}

func TestHealthOverSocket(t *testing.T) {
	d := startDaemon(t, 31)
	c := dialDaemon(t, d)

	resp, err := c.Health()
	require.NoError(t, err)
	assert.True(t, resp.Healthy)
	require.Contains(t, resp.Components, "platform")
	assert.True(t, resp.Components["platform"].Critical)
}

func TestProbesOverSocket(t *testing.T) {
	d := startDaemon(t, 31)
	c := dialDaemon(t, d)

	active, err := c.ProbeAdmin()
	require.NoError(t, err)
	assert.False(t, active)

	dev, err := c.ProbeDevMode()
	require.NoError(t, err)
	assert.False(t, dev)

	d.mem.SetActiveAdmins("com.corp.mdm/.AdminReceiver")
	d.mem.SetGlobalInt(platform.SettingADBEnabled, 1)

	active, err = c.ProbeAdmin()
	require.NoError(t, err)
	assert.True(t, active)

	dev, err = c.ProbeDevMode()
	require.NoError(t, err)
	assert.True(t, dev)
}

func TestAuditOverSocket(t *testing.T) {
	d := startDaemon(t, 31)
	c := dialDaemon(t, d)

	d.mem.SetEnabledServices(
		config.DefaultAllowlist[0],
		"com.shady.helper/com.shady.helper.OverlayService",
	)

	services, err := c.AuditServices()
	require.NoError(t, err)
	assert.Len(t, services, 2)

	// Empty lists fall back to the daemon's configured lists.
	verdict, err := c.AuditCheck(nil, nil)
	require.NoError(t, err)
	assert.False(t, verdict.AllAllowed)
	assert.False(t, verdict.AnyDenied)

	verdict, err = c.AuditCheck(nil, []string{"com.shady.*"})
	require.NoError(t, err)
	assert.True(t, verdict.AnyDenied)
}

func TestOverlayOverSocket(t *testing.T) {
	d := startDaemon(t, 31)
	c := dialDaemon(t, d)

	d.mem.SetForeground(true)
	require.NoError(t, c.OverlayHide(true))
	require.NoError(t, c.OverlayBlock(true))

	assert.True(t, d.mem.HideOverlaysSet())
	assert.True(t, d.mem.BlockTouchesSet())
}

func TestJournalOverSocket(t *testing.T) {
	d := startDaemon(t, 31)
	c := dialDaemon(t, d)

	now := time.Now()
	require.NoError(t, d.jnl.Append("call_state", now, map[string]string{"event": "ringing"}))
	require.NoError(t, d.jnl.Append("display_count", now, map[string]string{"event": "added"}))

	records, err := c.JournalRecent("", 10)
	require.NoError(t, err)
	assert.Len(t, records, 2)

	records, err = c.JournalRecent("call_state", 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "call_state", records[0].Kind)

	valid, err := c.JournalVerify()
	require.NoError(t, err)
	assert.True(t, valid)
}

func TestWatchStreamsEvents(t *testing.T) {
	d := startDaemon(t, 31)
	c := dialDaemon(t, d)

	require.NoError(t, c.Watch("call_state"))

	// The observer emits the current call state on subscription.
	ev := recvEvent(t, c)
	assert.Equal(t, "call_state", ev.Kind)

	d.mem.SetCallState(platform.CallRinging)
	ev = recvEvent(t, c)
	assert.Equal(t, "call_state", ev.Kind)
	assert.Contains(t, string(ev.Payload), "ringing")
}

func TestUnwatchStopsObserver(t *testing.T) {
	d := startDaemon(t, 31)
	c := dialDaemon(t, d)

	require.NoError(t, c.Watch("microphone_activity"))
	recvEvent(t, c) // initial snapshot

	require.NoError(t, c.Unwatch("microphone_activity"))
	waitInactive(t, d.mon, monitor.MicrophoneActivity)
}

func TestWatchRefcountAcrossClients(t *testing.T) {
	d := startDaemon(t, 31)
	c1 := dialDaemon(t, d)
	c2 := dialDaemon(t, d)

	require.NoError(t, c1.Watch("display_count"))
	require.NoError(t, c2.Watch("display_count"))

	// One client leaving keeps the observer alive for the other.
	require.NoError(t, c1.Unwatch("display_count"))
	assert.True(t, d.mon.Active(monitor.DisplayCount))

	d.mem.AddDisplay(2)
	ev := recvEvent(t, c2)
	assert.Equal(t, "display_count", ev.Kind)

	require.NoError(t, c2.Unwatch("display_count"))
	waitInactive(t, d.mon, monitor.DisplayCount)
}

func TestDisconnectReleasesWatches(t *testing.T) {
	d := startDaemon(t, 31)
	c := dialDaemon(t, d)

	require.NoError(t, c.Watch("call_state"))
	recvEvent(t, c) // initial snapshot
	require.True(t, d.mon.Active(monitor.CallState))

	require.NoError(t, c.Close())
	waitInactive(t, d.mon, monitor.CallState)
}

func TestWatchUnknownKindRejected(t *testing.T) {
	d := startDaemon(t, 31)
	c := dialDaemon(t, d)

	err := c.Watch("keyboard_activity")
	require.Error(t, err)
}

func TestStaleSocketFileRefused(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "not-a-socket")
	require.NoError(t, os.WriteFile(path, []byte("stale"), 0600))

	server := NewServer(ServerConfig{SocketPath: path}, nil)
	err := server.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a socket")
}

func recvEvent(t *testing.T, c *Client) Event {
	t.Helper()
	select {
	case ev, ok := <-c.Events():
		require.True(t, ok, "event stream closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func waitInactive(t *testing.T, m *monitor.Manager, kind monitor.Kind) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if !m.Active(kind) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("observer %s still active", kind)
}
