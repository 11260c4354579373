package ioadapter

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/gabrielpreston/voxfabric/internal/audio"
)

// wsConnRegistry hands a *websocket.Conn, upgraded by an HTTP handler before
// a session exists, off to the adapter constructors below. A session's
// start request carries the registry key in its adapter config.
var wsConnRegistry sync.Map // conn_id -> *websocket.Conn

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// UpgradeWS upgrades an inbound HTTP request to a WebSocket connection and
// registers it under connID for a subsequent "browser-ws" adapter pair to
// claim. Callers must UnregisterWSConn once the session tears down.
func UpgradeWS(w http.ResponseWriter, r *http.Request, connID string) error {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("browser-ws: upgrade: %w", err)
	}
	wsConnRegistry.Store(connID, conn)
	return nil
}

// UnregisterWSConn drops the registry entry and closes the underlying
// connection, if still present.
func UnregisterWSConn(connID string) {
	if v, ok := wsConnRegistry.LoadAndDelete(connID); ok {
		v.(*websocket.Conn).Close()
	}
}

func claimWSConn(config map[string]string) (string, *websocket.Conn, error) {
	connID, ok := config["conn_id"]
	if !ok || connID == "" {
		return "", nil, fmt.Errorf("browser-ws adapter: missing \"conn_id\"")
	}
	v, ok := wsConnRegistry.Load(connID)
	if !ok {
		return "", nil, fmt.Errorf("browser-ws adapter: no upgraded connection for conn_id %s", connID)
	}
	return connID, v.(*websocket.Conn), nil
}

// WSAudioInput streams CanonicalFrames decoded from raw PCM16LE binary
// frames sent over a raw browser/CLI WebSocket, the ingress path
// cmd/loadtest drives end-to-end.
type WSAudioInput struct {
	connID string
	conn   *websocket.Conn
	frames chan audio.CanonicalFrame
	active atomic.Bool
	framer *audio.Framer
}

// NewWSAudioInput constructs a WSAudioInput over a connection previously
// registered via UpgradeWS; config key "conn_id" identifies it.
func NewWSAudioInput(config map[string]string) (InputAdapter, error) {
	connID, conn, err := claimWSConn(config)
	if err != nil {
		return nil, err
	}
	return &WSAudioInput{connID: connID, conn: conn, frames: make(chan audio.CanonicalFrame, 64), framer: audio.NewFramer()}, nil
}

func (a *WSAudioInput) Start(ctx context.Context) error {
	a.active.Store(true)
	go a.recvLoop()
	return nil
}

func (a *WSAudioInput) recvLoop() {
	defer close(a.frames)
	defer a.active.Store(false)

	for {
		msgType, data, err := a.conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		samples, _, err := audio.Decode(data, audio.CodecPCM, audio.SampleRate)
		if err != nil {
			continue
		}
		frames, err := a.framer.Push(samples)
		if err != nil {
			continue
		}
		for _, f := range frames {
			a.frames <- f
		}
	}
}

func (a *WSAudioInput) Stop() error {
	a.active.Store(false)
	UnregisterWSConn(a.connID)
	return nil
}

func (a *WSAudioInput) Stream() <-chan audio.CanonicalFrame { return a.frames }
func (a *WSAudioInput) IsActive() bool                       { return a.active.Load() }

// WSAudioOutput writes played-back frames to the same raw WebSocket as
// PCM16LE binary frames.
type WSAudioOutput struct {
	connID  string
	conn    *websocket.Conn
	playing atomic.Bool
}

// NewWSAudioOutput constructs a WSAudioOutput sharing the connection
// registered for its paired WSAudioInput.
func NewWSAudioOutput(config map[string]string) (OutputAdapter, error) {
	connID, conn, err := claimWSConn(config)
	if err != nil {
		return nil, err
	}
	return &WSAudioOutput{connID: connID, conn: conn}, nil
}

func (a *WSAudioOutput) Start(ctx context.Context) error { return nil }

func (a *WSAudioOutput) Play(frames <-chan audio.CanonicalFrame) error {
	a.playing.Store(true)
	go func() {
		defer a.playing.Store(false)
		for f := range frames {
			pcm := audio.ResampleSegmentToPCM16(f.Samples(), audio.SampleRate, audio.SampleRate)
			if err := a.conn.WriteMessage(websocket.BinaryMessage, pcm); err != nil {
				return
			}
		}
	}()
	return nil
}

// Stop leaves registry cleanup to the paired WSAudioInput's Stop, since the
// manager always stops both adapters of a session over the same connection.
func (a *WSAudioOutput) Stop() error {
	a.playing.Store(false)
	return nil
}

func (a *WSAudioOutput) IsPlaying() bool { return a.playing.Load() }
