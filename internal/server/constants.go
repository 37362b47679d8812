// Package server provides the HTTP, WebSocket and gRPC endpoints
package server

import "time"

// Server configuration constants
const (
	// Default and maximum number of items returned by list endpoints
	DefaultListLimit = 50
	MaxListLimit     = 500

	// Deadline for a single WebSocket write before the client is dropped
	WSWriteTimeout = 5 * time.Second

	// Health service name that tracks the capture device
	CameraService = "boardwatch.camera"

	// Full name of the gRPC board control service
	BoardService = "boardwatch.Board"
)
