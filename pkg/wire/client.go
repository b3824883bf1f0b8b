// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package wire

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/Thermoquad/trackside/pkg/engine"
)

// DefaultCallTimeout bounds one request/response round trip
const DefaultCallTimeout = 5 * time.Second

// DialOptions configures Dial
type DialOptions struct {
	Username      string
	Password      string
	SkipSSLVerify bool
	CallTimeout   time.Duration
}

// Client is a remote Facade. Calls are serialized over one connection.
//
// Methods of the Facade without an error result report transport failures
// through Err.
type Client struct {
	conn    *websocket.Conn
	log     logrus.FieldLogger
	timeout time.Duration

	mu  sync.Mutex
	err error
}

// Dial connects to a trackside server with optional HTTP Basic auth
func Dial(ctx context.Context, wsURL string, opts DialOptions, log logrus.FieldLogger) (*Client, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	switch u.Scheme {
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: opts.SkipSSLVerify,
		}
	}

	headers := http.Header{}
	if opts.Username != "" && opts.Password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(opts.Username + ":" + opts.Password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	conn, resp, err := dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("WebSocket connection failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("WebSocket connection failed: %w", err)
	}

	timeout := opts.CallTimeout
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	return &Client{conn: conn, log: log, timeout: timeout}, nil
}

// Close closes the connection
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return c.conn.Close()
}

// Err returns the last transport error, or nil
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// call sends one request and waits for its response
func (c *Client) call(msgType uint8, payload map[int]interface{}, want uint8) (Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := EncodeMessage(msgType, payload)
	if err != nil {
		return Message{}, err
	}

	deadline := time.Now().Add(c.timeout)
	_ = c.conn.SetWriteDeadline(deadline)
	if err := c.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		c.err = err
		return Message{}, fmt.Errorf("send failed: %w", err)
	}

	_ = c.conn.SetReadDeadline(deadline)
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			c.err = err
			return Message{}, fmt.Errorf("receive failed: %w", err)
		}
		if messageType != websocket.BinaryMessage {
			continue
		}

		m, err := ParseMessage(data)
		if err != nil {
			return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		switch m.Type {
		case want:
			return m, nil
		case MsgError:
			return Message{}, remoteError(m)
		}
		return Message{}, fmt.Errorf("%w: unexpected response 0x%02X", ErrMalformed, m.Type)
	}
}

// exec sends a request answered by MsgOK
func (c *Client) exec(msgType uint8, payload map[int]interface{}) error {
	_, err := c.call(msgType, payload, MsgOK)
	return err
}

// CreateThrottle registers a locomotive on the server
func (c *Client) CreateThrottle(addr int) (engine.Handle, error) {
	m, err := c.call(MsgCreateThrottle, map[int]interface{}{KeyAddress: int64(addr)}, MsgThrottleData)
	if err != nil {
		return 0, err
	}
	h, ok := GetMapInt(m.Payload, KeyHandle)
	if !ok {
		return 0, fmt.Errorf("%w: throttle data without handle", ErrMalformed)
	}
	return engine.Handle(h), nil
}

// SetSpeed sets the signed speed of a locomotive
func (c *Client) SetSpeed(h engine.Handle, speed int) error {
	return c.exec(MsgSetSpeed, map[int]interface{}{KeyHandle: int64(h), KeySpeed: int64(speed)})
}

// SetFunction switches a function of a locomotive
func (c *Client) SetFunction(h engine.Handle, index int, on bool) error {
	return c.exec(MsgSetFunction, map[int]interface{}{KeyHandle: int64(h), KeyFunction: int64(index), KeyOn: on})
}

// ReadCV starts a CV read
func (c *Client) ReadCV(h engine.Handle, cv int) error {
	return c.exec(MsgReadCV, map[int]interface{}{KeyHandle: int64(h), KeyCV: int64(cv)})
}

// WriteCV starts a CV write
func (c *Client) WriteCV(h engine.Handle, cv int, value int) error {
	return c.exec(MsgWriteCV, map[int]interface{}{KeyHandle: int64(h), KeyCV: int64(cv), KeyValue: int64(value)})
}

// OpsDone polls the programming operation of h
func (c *Client) OpsDone(h engine.Handle) (bool, uint8, bool) {
	m, err := c.call(MsgOpsDone, map[int]interface{}{KeyHandle: int64(h)}, MsgOpResult)
	if err != nil {
		c.log.WithError(err).Debug("ops_done poll failed")
		return false, 0, false
	}
	done, _ := GetMapBool(m.Payload, KeyDone)
	result, _ := GetMapBool(m.Payload, KeyResult)
	value, _ := GetMapInt(m.Payload, KeyOpValue)
	return result, uint8(value), done
}

// RCSpeed returns the RailCom reported speed of h
func (c *Client) RCSpeed(h engine.Handle) (int, error) {
	m, err := c.call(MsgStatusRequest, map[int]interface{}{KeyHandle: int64(h)}, MsgStatusData)
	if err != nil {
		return engine.SpeedUnknown, err
	}
	speed, ok := GetMapInt(m.Payload, KeyStatusRCSpeed)
	if !ok {
		return engine.SpeedUnknown, nil
	}
	return int(speed), nil
}

func (c *Client) setMode(m engine.Mode) {
	if err := c.exec(MsgSetMode, map[int]interface{}{KeyMode: int64(m)}); err != nil {
		c.log.WithError(err).WithField("mode", m.String()).Warn("Mode change failed")
	}
}

// SetModeOps switches the server to ops mode
func (c *Client) SetModeOps() { c.setMode(engine.ModeOps) }

// SetModeService switches the server to service mode
func (c *Client) SetModeService() { c.setMode(engine.ModeService) }

// SetModeIdle turns the server's track off
func (c *Client) SetModeIdle() { c.setMode(engine.ModeIdle) }

func (c *Client) status() (engine.Mode, bool, error) {
	m, err := c.call(MsgStatusRequest, nil, MsgStatusData)
	if err != nil {
		return engine.ModeIdle, false, err
	}
	mode, _ := GetMapInt(m.Payload, KeyStatusMode)
	fault, _ := GetMapBool(m.Payload, KeyStatusFault)
	return engine.Mode(mode), fault, nil
}

// Mode returns the server mode, ModeIdle if it cannot be reached
func (c *Client) Mode() engine.Mode {
	mode, _, err := c.status()
	if err != nil {
		c.log.WithError(err).Debug("Status request failed")
	}
	return mode
}

// Fault returns the server's fault, or the transport error if the server
// cannot be reached
func (c *Client) Fault() error {
	_, fault, err := c.status()
	switch {
	case err != nil:
		return err
	case fault:
		return engine.ErrOvercurrent
	}
	return nil
}

// Ping measures the round trip and returns the server uptime
func (c *Client) Ping() (uptime time.Duration, rtt time.Duration, err error) {
	start := time.Now()
	m, err := c.call(MsgPingRequest, nil, MsgPingResponse)
	if err != nil {
		return 0, 0, err
	}
	ms, _ := GetMapInt(m.Payload, KeyUptime)
	return time.Duration(ms) * time.Millisecond, time.Since(start), nil
}
