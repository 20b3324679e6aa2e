package ipc

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// ErrClientClosed is returned for requests on a closed client.
var ErrClientClosed = errors.New("ipc: client closed")

// Client is a connection to the daemon's IPC socket. It multiplexes
// request/response pairs by request ID and surfaces streamed observer
// events on Events().
type Client struct {
	conn    net.Conn
	timeout time.Duration

	writeMu sync.Mutex
	nextID  atomic.Uint32

	mu      sync.Mutex
	pending map[uint32]chan *Message
	closed  bool

	events  chan Event
	readErr error
	done    chan struct{}
}

// ClientOptions configures a Client.
type ClientOptions struct {
	// Timeout bounds one request/response round trip. Zero means 10
	// seconds.
	Timeout time.Duration

	// EventBuffer is the capacity of the Events channel. Zero means 64.
	EventBuffer int
}

// Dial connects to the daemon socket.
func Dial(socketPath string, opts ClientOptions) (*Client, error) {
	if opts.Timeout == 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.EventBuffer == 0 {
		opts.EventBuffer = 64
	}

	conn, err := net.DialTimeout("unix", socketPath, opts.Timeout)
	if err != nil {
		return nil, fmt.Errorf("connect to daemon: %w", err)
	}

	c := &Client{
		conn:    conn,
		timeout: opts.Timeout,
		pending: make(map[uint32]chan *Message),
		events:  make(chan Event, opts.EventBuffer),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Close closes the connection. Pending requests fail and the Events
// channel is closed.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	return c.conn.Close()
}

// Events returns the stream of observer events for watched kinds. The
// channel is closed when the connection drops.
func (c *Client) Events() <-chan Event { return c.events }

// Err returns the read-loop error after Events is closed, if any.
func (c *Client) Err() error {
	<-c.done
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || errors.Is(c.readErr, io.EOF) || errors.Is(c.readErr, net.ErrClosed) {
		return nil
	}
	return c.readErr
}

func (c *Client) readLoop() {
	defer func() {
		c.mu.Lock()
		for id, ch := range c.pending {
			close(ch)
			delete(c.pending, id)
		}
		c.mu.Unlock()
		close(c.events)
		close(c.done)
	}()

	for {
		msg, err := ReadMessage(c.conn)
		if err != nil {
			c.mu.Lock()
			c.readErr = err
			c.mu.Unlock()
			return
		}

		if msg.Header.Type == MsgEvent {
			var ev Event
			if err := Decode(msg.Payload, &ev); err != nil {
				continue
			}
			select {
			case c.events <- ev:
			default:
				// A stalled consumer drops events rather than the
				// connection.
			}
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[msg.Header.RequestID]
		if ok {
			delete(c.pending, msg.Header.RequestID)
		}
		c.mu.Unlock()
		if ok {
			ch <- msg
		}
	}
}

// call sends one request and waits for its response.
func (c *Client) call(msgType MessageType, req any) (*Message, error) {
	var payload []byte
	if req != nil {
		var err error
		payload, err = Encode(req)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
	}

	id := c.nextID.Add(1)
	ch := make(chan *Message, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClientClosed
	}
	c.pending[id] = ch
	c.mu.Unlock()

	msg := NewMessage(msgType, id, payload)
	c.writeMu.Lock()
	c.conn.SetWriteDeadline(time.Now().Add(c.timeout))
	err := msg.Write(c.conn)
	c.writeMu.Unlock()
	if err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, fmt.Errorf("send request: %w", err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, ErrClientClosed
		}
		return resp, nil
	case <-time.After(c.timeout):
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, fmt.Errorf("request timed out after %v", c.timeout)
	}
}

// request performs a call and decodes the expected response type,
// turning MsgError frames into errors.
func (c *Client) request(msgType, wantResp MessageType, req, resp any) error {
	msg, err := c.call(msgType, req)
	if err != nil {
		return err
	}
	if msg.Header.Type == MsgError {
		var er ErrorResponse
		if err := Decode(msg.Payload, &er); err != nil {
			return fmt.Errorf("daemon error (undecodable)")
		}
		return fmt.Errorf("daemon error: %s", er.Message)
	}
	if msg.Header.Type != wantResp {
		return fmt.Errorf("unexpected response type %#04x", uint16(msg.Header.Type))
	}
	if resp == nil {
		return nil
	}
	return Decode(msg.Payload, resp)
}

// Ping checks daemon liveness.
func (c *Client) Ping() error {
	msg, err := c.call(MsgPing, nil)
	if err != nil {
		return err
	}
	if msg.Header.Type != MsgPong {
		return fmt.Errorf("unexpected response type %#04x", uint16(msg.Header.Type))
	}
	return nil
}

// Status queries the daemon's status.
func (c *Client) Status() (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.request(MsgStatusRequest, MsgStatusResponse, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Health runs the daemon's component health checks.
func (c *Client) Health() (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.request(MsgHealthRequest, MsgHealthResponse, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ProbeAdmin asks whether any device administrator is active.
func (c *Client) ProbeAdmin() (bool, error) {
	var resp ProbeResponse
	if err := c.request(MsgProbeAdmin, MsgProbeAdminResp, nil, &resp); err != nil {
		return false, err
	}
	if resp.Error != "" {
		return false, errors.New(resp.Error)
	}
	return resp.Value, nil
}

// ProbeDevMode asks whether a developer-access surface is enabled.
func (c *Client) ProbeDevMode() (bool, error) {
	var resp ProbeResponse
	if err := c.request(MsgProbeDevMode, MsgProbeDevModeResp, nil, &resp); err != nil {
		return false, err
	}
	if resp.Error != "" {
		return false, errors.New(resp.Error)
	}
	return resp.Value, nil
}

// AuditServices lists the active accessibility services.
func (c *Client) AuditServices() ([]string, error) {
	var resp AuditServicesResponse
	if err := c.request(MsgAuditServices, MsgAuditServicesResp, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, errors.New(resp.Error)
	}
	return resp.Services, nil
}

// AuditCheck runs the allow and deny checks. Empty lists use the
// daemon's configured lists.
func (c *Client) AuditCheck(allowlist, denylist []string) (*AuditCheckResponse, error) {
	req := AuditCheckRequest{Allowlist: allowlist, Denylist: denylist}
	var resp AuditCheckResponse
	if err := c.request(MsgAuditCheck, MsgAuditCheckResp, req, &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, errors.New(resp.Error)
	}
	return &resp, nil
}

// OverlayHide toggles overlay-window hiding on the foreground window.
func (c *Client) OverlayHide(enable bool) error {
	return c.overlayCall(MsgOverlayHide, MsgOverlayHideResp, enable)
}

// OverlayBlock toggles obscured-touch filtering on the foreground
// window.
func (c *Client) OverlayBlock(enable bool) error {
	return c.overlayCall(MsgOverlayBlock, MsgOverlayBlockResp, enable)
}

func (c *Client) overlayCall(msgType, wantResp MessageType, enable bool) error {
	var resp OverlayResponse
	if err := c.request(msgType, wantResp, OverlayRequest{Enable: enable}, &resp); err != nil {
		return err
	}
	if resp.Error != "" {
		return errors.New(resp.Error)
	}
	return nil
}

// JournalRecent fetches recent journal records, newest first. An empty
// kind fetches across kinds.
func (c *Client) JournalRecent(kind string, limit int) ([]JournalRecord, error) {
	req := JournalRecentRequest{Kind: kind, Limit: limit}
	var resp JournalRecentResponse
	if err := c.request(MsgJournalRecent, MsgJournalRecentResp, req, &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, errors.New(resp.Error)
	}
	return resp.Records, nil
}

// JournalVerify checks the journal's tamper-evidence chain.
func (c *Client) JournalVerify() (bool, error) {
	var resp JournalVerifyResponse
	if err := c.request(MsgJournalVerify, MsgJournalVerifyResp, nil, &resp); err != nil {
		return false, err
	}
	if resp.Error != "" {
		return false, errors.New(resp.Error)
	}
	return resp.Valid, nil
}

// Watch subscribes this connection to one observer kind. Events arrive
// on Events().
func (c *Client) Watch(kind string) error {
	var resp WatchResponse
	if err := c.request(MsgWatch, MsgWatchResp, WatchRequest{Kind: kind}, &resp); err != nil {
		return err
	}
	if resp.Error != "" {
		return errors.New(resp.Error)
	}
	return nil
}

// Unwatch drops this connection's subscription for one kind.
func (c *Client) Unwatch(kind string) error {
	var resp WatchResponse
	if err := c.request(MsgUnwatch, MsgUnwatchResp, UnwatchRequest{Kind: kind}, &resp); err != nil {
		return err
	}
	if resp.Error != "" {
		return errors.New(resp.Error)
	}
	return nil
}
