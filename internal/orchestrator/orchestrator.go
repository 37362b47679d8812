package orchestrator

import (
	"time"

	"github.com/boardwatch/boardwatch/internal/orchestrator/capture"
)

// Orchestrator is an alias for Manager
type Orchestrator = Manager

// Status is a point-in-time view of the run.
type Status struct {
	RunID            string        `json:"run_id"`
	Camera           string        `json:"camera"`
	Running          bool          `json:"running"`
	State            string        `json:"state"`
	Window           string        `json:"window"`
	StartedAt        time.Time     `json:"started_at,omitzero"`
	Interval         time.Duration `json:"interval_ns"`
	ChangeThreshold  float64       `json:"change_threshold"`
	ReferenceVersion uint64        `json:"reference_version"`
	NextSnapshotID   uint64        `json:"next_snapshot_id"`
	ReferenceWidth   int           `json:"reference_width,omitempty"`
	ReferenceHeight  int           `json:"reference_height,omitempty"`
	RunDuration      time.Duration `json:"run_duration_ns,omitempty"` // set once the run has finished
	capture.Stats
}

// Status reports the run's progress.
func (m *Manager) Status() Status {
	m.mu.RLock()
	store, ctrl, startedAt, runTime := m.store, m.ctrl, m.startedAt, m.runTime
	m.mu.RUnlock()

	s := Status{
		RunID:           m.runID,
		Camera:          m.cfg.CameraName,
		State:           capture.Idle.String(),
		Window:          "none",
		StartedAt:       startedAt,
		Interval:        m.cfg.Interval(),
		ChangeThreshold: m.cfg.ChangeThreshold,
		NextSnapshotID:  m.recorder.Next(),
		RunDuration:     runTime,
	}
	if ctrl != nil {
		s.State = ctrl.State().String()
		s.Stats = ctrl.Stats()
		s.Running = ctrl.State() != capture.Idle
		if w := ctrl.Window(); w != nil {
			s.Window = w.State().String()
		}
	}
	if store != nil {
		s.ReferenceVersion = store.Version()
		if ref := store.Current(); ref != nil {
			s.ReferenceWidth = ref.Width()
			s.ReferenceHeight = ref.Height()
		}
	}
	return s
}
