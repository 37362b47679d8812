// Package orchestrator owns the capture run: startup reference, the capture
// controller, and the state the status surfaces read.
package orchestrator

import "time"

// Orchestrator configuration constants
const (
	// Event history kept for the status API
	EventLogSize = 200

	// Per-subscriber buffer for the live event stream
	EventSubscriberBuffer = 16

	// Default number of snapshots returned by RecentSnapshots
	RecentSnapshotsLimit = 50

	// Time allowed for closing the catalog run on shutdown
	CatalogCloseTimeout = 5 * time.Second
)
