// Package ipc is the cross-process bridge between the sentryd daemon
// and its clients: a Unix-socket protocol with a fixed binary header
// and JSON payloads, covering one request/response pair per daemon
// operation plus an event-stream path for the observer kinds.
package ipc

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// Protocol constants.
const (
	ProtocolVersion = 1
	ProtocolMagic   = 0x53454E54 // "SENT"
)

// MessageType identifies the type of IPC message.
type MessageType uint16

const (
	// Control messages (0x00xx)
	MsgPing  MessageType = 0x0001
	MsgPong  MessageType = 0x0002
	MsgError MessageType = 0x0003

	// Status (0x01xx)
	MsgStatusRequest  MessageType = 0x0100
	MsgStatusResponse MessageType = 0x0101
	MsgHealthRequest  MessageType = 0x0102
	MsgHealthResponse MessageType = 0x0103

	// Device state probes (0x02xx)
	MsgProbeAdmin        MessageType = 0x0200
	MsgProbeAdminResp    MessageType = 0x0201
	MsgProbeDevMode      MessageType = 0x0202
	MsgProbeDevModeResp  MessageType = 0x0203

	// Accessibility audit (0x03xx)
	MsgAuditServices     MessageType = 0x0300
	MsgAuditServicesResp MessageType = 0x0301
	MsgAuditCheck        MessageType = 0x0302
	MsgAuditCheckResp    MessageType = 0x0303

	// Overlay control (0x04xx)
	MsgOverlayHide      MessageType = 0x0400
	MsgOverlayHideResp  MessageType = 0x0401
	MsgOverlayBlock     MessageType = 0x0402
	MsgOverlayBlockResp MessageType = 0x0403

	// Journal (0x05xx)
	MsgJournalRecent     MessageType = 0x0500
	MsgJournalRecentResp MessageType = 0x0501
	MsgJournalVerify     MessageType = 0x0502
	MsgJournalVerifyResp MessageType = 0x0503

	// Observer streaming (0x06xx)
	MsgWatch       MessageType = 0x0600
	MsgWatchResp   MessageType = 0x0601
	MsgUnwatch     MessageType = 0x0602
	MsgUnwatchResp MessageType = 0x0603
	MsgEvent       MessageType = 0x0604
)

// Header is the fixed-size message header.
type Header struct {
	Magic     uint32
	Version   uint8
	Flags     uint8
	Type      MessageType
	RequestID uint32
	Length    uint32
}

// HeaderSize is the encoded header size in bytes.
const HeaderSize = 16

// maxPayload bounds a single message payload.
const maxPayload = 16 * 1024 * 1024

// Message wraps a header and payload.
type Message struct {
	Header  Header
	Payload []byte
}

// NewMessage creates a message with the given type and payload.
func NewMessage(msgType MessageType, requestID uint32, payload []byte) *Message {
	return &Message{
		Header: Header{
			Magic:     ProtocolMagic,
			Version:   ProtocolVersion,
			Type:      msgType,
			RequestID: requestID,
			Length:    uint32(len(payload)),
		},
		Payload: payload,
	}
}

// Write writes the header to w.
func (h *Header) Write(w io.Writer) error {
	buf := make([]byte, HeaderSize)
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	buf[4] = h.Version
	buf[5] = h.Flags
	binary.BigEndian.PutUint16(buf[6:8], uint16(h.Type))
	binary.BigEndian.PutUint32(buf[8:12], h.RequestID)
	binary.BigEndian.PutUint32(buf[12:16], h.Length)
	_, err := w.Write(buf)
	return err
}

// ReadHeader reads and validates a header from r.
func ReadHeader(r io.Reader) (*Header, error) {
	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}

	h := &Header{
		Magic:     binary.BigEndian.Uint32(buf[0:4]),
		Version:   buf[4],
		Flags:     buf[5],
		Type:      MessageType(binary.BigEndian.Uint16(buf[6:8])),
		RequestID: binary.BigEndian.Uint32(buf[8:12]),
		Length:    binary.BigEndian.Uint32(buf[12:16]),
	}

	if h.Magic != ProtocolMagic {
		return nil, fmt.Errorf("invalid magic number: %x", h.Magic)
	}
	if h.Version > ProtocolVersion {
		return nil, fmt.Errorf("unsupported protocol version: %d", h.Version)
	}
	return h, nil
}

// Write writes the complete message to w.
func (m *Message) Write(w io.Writer) error {
	if err := m.Header.Write(w); err != nil {
		return err
	}
	if len(m.Payload) > 0 {
		_, err := w.Write(m.Payload)
		return err
	}
	return nil
}

// ReadMessage reads a complete message from r.
func ReadMessage(r io.Reader) (*Message, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return nil, err
	}

	m := &Message{Header: *h}
	if h.Length > 0 {
		if h.Length > maxPayload {
			return nil, fmt.Errorf("payload too large: %d bytes", h.Length)
		}
		m.Payload = make([]byte, h.Length)
		if _, err := io.ReadFull(r, m.Payload); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Error codes carried in ErrorResponse.
const (
	ErrCodeUnknown        = 1
	ErrCodeInvalidRequest = 2
	ErrCodeUnavailable    = 3
	ErrCodeInternal       = 4
)

// ErrorResponse is sent when an operation fails.
type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// StatusResponse describes the running daemon.
type StatusResponse struct {
	Version         string    `json:"version"`
	StartedAt       time.Time `json:"started_at"`
	UptimeSeconds   int64     `json:"uptime_seconds"`
	PlatformOK      bool      `json:"platform_ok"`
	PlatformDetail  string    `json:"platform_detail"`
	APILevel        int       `json:"api_level"`
	ActiveObservers []string  `json:"active_observers"`
	JournalRecords  int64     `json:"journal_records,omitempty"`
	JournalSealed   bool      `json:"journal_sealed"`
}

// HealthResponse reports component health.
type HealthResponse struct {
	Healthy    bool                       `json:"healthy"`
	Components map[string]ComponentHealth `json:"components"`
}

// ComponentHealth is one component's health check result.
type ComponentHealth struct {
	Healthy  bool   `json:"healthy"`
	Critical bool   `json:"critical"`
	Detail   string `json:"detail,omitempty"`
}

// ProbeResponse carries a boolean device-state verdict.
type ProbeResponse struct {
	Value bool   `json:"value"`
	Error string `json:"error,omitempty"`
}

// AuditServicesResponse lists enabled accessibility services.
type AuditServicesResponse struct {
	Services []string `json:"services"`
	Error    string   `json:"error,omitempty"`
}

// AuditCheckRequest runs allow/deny checks against the given lists.
// Empty lists fall back to the daemon's configured lists.
type AuditCheckRequest struct {
	Allowlist []string `json:"allowlist,omitempty"`
	Denylist  []string `json:"denylist,omitempty"`
}

// AuditCheckResponse carries both audit verdicts.
type AuditCheckResponse struct {
	AllAllowed bool     `json:"all_allowed"`
	AnyDenied  bool     `json:"any_denied"`
	Services   []string `json:"services"`
	Error      string   `json:"error,omitempty"`
}

// OverlayRequest toggles an overlay mitigation.
type OverlayRequest struct {
	Enable bool `json:"enable"`
}

// OverlayResponse acknowledges an overlay toggle.
type OverlayResponse struct {
	Applied bool   `json:"applied"`
	Error   string `json:"error,omitempty"`
}

// JournalRecentRequest queries recent journal records.
type JournalRecentRequest struct {
	Kind  string `json:"kind,omitempty"`
	Limit int    `json:"limit,omitempty"`
}

// JournalRecord is one journal record on the wire.
type JournalRecord struct {
	ID         int64           `json:"id"`
	Kind       string          `json:"kind"`
	ObservedAt time.Time       `json:"observed_at"`
	Payload    json.RawMessage `json:"payload"`
}

// JournalRecentResponse carries recent journal records.
type JournalRecentResponse struct {
	Records []JournalRecord `json:"records"`
	Error   string          `json:"error,omitempty"`
}

// JournalVerifyResponse reports chain verification.
type JournalVerifyResponse struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

// WatchRequest subscribes the client to one observer kind's events.
type WatchRequest struct {
	Kind string `json:"kind"`
}

// WatchResponse acknowledges a watch request.
type WatchResponse struct {
	Kind   string `json:"kind"`
	Active bool   `json:"active"`
	Error  string `json:"error,omitempty"`
}

// UnwatchRequest drops the client's subscription for one kind.
type UnwatchRequest struct {
	Kind string `json:"kind"`
}

// Event is one streamed observer event.
type Event struct {
	Kind       string          `json:"kind"`
	ObservedAt time.Time       `json:"observed_at"`
	Payload    json.RawMessage `json:"payload"`
}

// Encode encodes a payload to JSON.
func Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Decode decodes a JSON payload.
func Decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// NewErrorMessage creates an error message.
func NewErrorMessage(requestID uint32, code int, message string) *Message {
	payload, _ := Encode(&ErrorResponse{Code: code, Message: message})
	return NewMessage(MsgError, requestID, payload)
}

// NewResponse creates a response message with a JSON payload.
func NewResponse(msgType MessageType, requestID uint32, v any) (*Message, error) {
	payload, err := Encode(v)
	if err != nil {
		return nil, err
	}
	return NewMessage(msgType, requestID, payload), nil
}
