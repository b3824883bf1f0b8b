// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package wire

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/Thermoquad/trackside/pkg/engine"
)

// Server serves a Facade to WebSocket clients
type Server struct {
	facade   Facade
	log      logrus.FieldLogger
	username string
	password string
	upgrader websocket.Upgrader
	started  time.Time
}

// ServerOption configures a Server
type ServerOption func(*Server)

// WithBasicAuth requires HTTP Basic credentials on the upgrade request
func WithBasicAuth(username, password string) ServerOption {
	return func(s *Server) {
		s.username = username
		s.password = password
	}
}

// NewServer creates a server for f
func NewServer(f Facade, log logrus.FieldLogger, opts ...ServerOption) *Server {
	s := &Server{
		facade:  f,
		log:     log,
		started: time.Now(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) authorized(r *http.Request) bool {
	if s.username == "" {
		return true
	}
	user, pass, ok := r.BasicAuth()
	if !ok {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(s.username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(s.password)) == 1
	return userOK && passOK
}

// ServeHTTP upgrades the request and serves messages until the peer leaves
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		w.Header().Set("WWW-Authenticate", `Basic realm="trackside"`)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	log := s.log.WithFields(logrus.Fields{
		"session": uuid.NewString(),
		"remote":  r.RemoteAddr,
	})
	log.Info("Client connected")

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.WithError(err).Warn("Client connection lost")
			} else {
				log.Info("Client disconnected")
			}
			return
		}
		if messageType != websocket.BinaryMessage {
			continue
		}

		reply := s.Handle(data)
		if err := conn.WriteMessage(websocket.BinaryMessage, reply); err != nil {
			log.WithError(err).Warn("Failed to send response")
			return
		}
	}
}

// Handle processes one encoded request and returns the encoded response
func (s *Server) Handle(data []byte) []byte {
	msgType, payload, err := s.dispatch(data)
	if err != nil {
		code := errorCode(err)
		if code == CodeInternal {
			s.log.WithError(err).Error("Request failed")
		}
		msgType, payload = MsgError, errorPayload(code, err)
	}

	out, err := EncodeMessage(msgType, payload)
	if err != nil {
		s.log.WithError(err).Error("Failed to encode response")
		out, _ = EncodeMessage(MsgError, errorPayload(CodeInternal, err))
	}
	return out
}

func (s *Server) dispatch(data []byte) (uint8, map[int]interface{}, error) {
	m, err := ParseMessage(data)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	p := m.Payload

	switch m.Type {
	case MsgCreateThrottle:
		addr, err := requireInt(p, KeyAddress, "address")
		if err != nil {
			return 0, nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		h, err := s.facade.CreateThrottle(addr)
		if err != nil {
			return 0, nil, err
		}
		return MsgThrottleData, map[int]interface{}{KeyHandle: int64(h)}, nil

	case MsgSetSpeed:
		return s.handleCall(p, []int{KeySpeed}, []string{"speed"}, func(h engine.Handle, args []int) error {
			return s.facade.SetSpeed(h, args[0])
		})

	case MsgSetFunction:
		on, ok := GetMapBool(p, KeyOn)
		if !ok {
			return 0, nil, fmt.Errorf("%w: missing or invalid on", ErrMalformed)
		}
		return s.handleCall(p, []int{KeyFunction}, []string{"function"}, func(h engine.Handle, args []int) error {
			return s.facade.SetFunction(h, args[0], on)
		})

	case MsgReadCV:
		return s.handleCall(p, []int{KeyCV}, []string{"cv"}, func(h engine.Handle, args []int) error {
			return s.facade.ReadCV(h, args[0])
		})

	case MsgWriteCV:
		return s.handleCall(p, []int{KeyCV, KeyValue}, []string{"cv", "value"}, func(h engine.Handle, args []int) error {
			return s.facade.WriteCV(h, args[0], args[1])
		})

	case MsgOpsDone:
		h, err := requireInt(p, KeyHandle, "handle")
		if err != nil {
			return 0, nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		result, value, done := s.facade.OpsDone(engine.Handle(h))
		return MsgOpResult, map[int]interface{}{
			KeyDone:    done,
			KeyResult:  result,
			KeyOpValue: int64(value),
		}, nil

	case MsgSetMode:
		mode, err := requireInt(p, KeyMode, "mode")
		if err != nil {
			return 0, nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		switch engine.Mode(mode) {
		case engine.ModeIdle:
			s.facade.SetModeIdle()
		case engine.ModeService:
			s.facade.SetModeService()
		case engine.ModeOps:
			s.facade.SetModeOps()
		default:
			return 0, nil, fmt.Errorf("%w: unknown mode %d", ErrMalformed, mode)
		}
		return MsgOK, nil, nil

	case MsgStatusRequest:
		status := map[int]interface{}{
			KeyStatusMode:  int64(s.facade.Mode()),
			KeyStatusFault: s.facade.Fault() != nil,
		}
		if h, ok := GetMapInt(p, KeyHandle); ok {
			speed, err := s.facade.RCSpeed(engine.Handle(h))
			if err != nil {
				return 0, nil, err
			}
			status[KeyStatusRCSpeed] = int64(speed)
		}
		return MsgStatusData, status, nil

	case MsgPingRequest:
		uptime := time.Since(s.started).Milliseconds()
		return MsgPingResponse, map[int]interface{}{KeyUptime: uint64(uptime)}, nil
	}

	return 0, nil, &RemoteError{Code: CodeUnknownMessage, Message: fmt.Sprintf("unknown message type 0x%02X", m.Type)}
}

// handleCall extracts the handle and integer arguments, then calls fn
func (s *Server) handleCall(p map[int]interface{}, keys []int, names []string, fn func(engine.Handle, []int) error) (uint8, map[int]interface{}, error) {
	h, err := requireInt(p, KeyHandle, "handle")
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	args := make([]int, len(keys))
	for i, key := range keys {
		if args[i], err = requireInt(p, key, names[i]); err != nil {
			return 0, nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	}
	if err := fn(engine.Handle(h), args); err != nil {
		return 0, nil, err
	}
	return MsgOK, nil, nil
}
