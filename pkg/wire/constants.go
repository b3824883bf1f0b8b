// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package wire carries the engine facade over a WebSocket.
//
// Every binary message is a CBOR array [msg_type, payload_map] where the
// payload map uses small integer keys. Each request gets exactly one
// response, either the matching data message or an error message.
package wire

// Message types - Requests (Client → Server) 0x10-0x1F
const (
	MsgCreateThrottle = 0x10
	MsgSetSpeed       = 0x11
	MsgSetFunction    = 0x12
	MsgReadCV         = 0x13
	MsgWriteCV        = 0x14
	MsgOpsDone        = 0x15
	MsgSetMode        = 0x16
	MsgStatusRequest  = 0x17
	MsgPingRequest    = 0x1F
)

// Message types - Responses (Server → Client) 0x30-0x3F
const (
	MsgOK           = 0x30
	MsgThrottleData = 0x31
	MsgOpResult     = 0x32
	MsgStatusData   = 0x33
	MsgPingResponse = 0x3F
)

// Message types - Errors 0xE0-0xEF
const (
	MsgError = 0xE0
)

// Error codes carried in MsgError payload key 0
const (
	CodeValidation     = 1
	CodeBusy           = 2
	CodeMalformed      = 3
	CodeUnknownMessage = 4
	CodeInternal       = 5
)

// Payload keys shared by several messages
const (
	KeyHandle = 0
)

// Payload keys per message. Keys are only unique within a message type.
const (
	// MsgCreateThrottle
	KeyAddress = 0

	// MsgSetSpeed
	KeySpeed = 1

	// MsgSetFunction
	KeyFunction = 1
	KeyOn       = 2

	// MsgReadCV, MsgWriteCV
	KeyCV    = 1
	KeyValue = 2

	// MsgSetMode
	KeyMode = 0

	// MsgOpResult
	KeyDone    = 0
	KeyResult  = 1
	KeyOpValue = 2

	// MsgStatusData
	KeyStatusMode    = 0
	KeyStatusRCSpeed = 1
	KeyStatusFault   = 2

	// MsgPingResponse
	KeyUptime = 0

	// MsgError
	KeyErrorCode    = 0
	KeyErrorMessage = 1
)
