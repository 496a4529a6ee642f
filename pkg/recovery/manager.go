// Package recovery implements periodic state checkpointing: capture,
// checksum, optional compression, persistence through a pluggable
// sink, and restore-by-id with retention.
package recovery

import (
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/corefabric/corefabric/internal/config"
	"github.com/corefabric/corefabric/pkg/utils"
)

// CaptureFunc produces the state bytes for a checkpoint.
type CaptureFunc func() ([]byte, error)

// RestoreFunc applies restored state bytes; false marks the recovery
// as failed.
type RestoreFunc func(state []byte) bool

// ErrorCallback receives recovery error messages.
type ErrorCallback func(message string)

// Point is one recovery point. It is owned by the manager and referred
// to externally only by id.
type Point struct {
	ID           string            `json:"id"`
	Timestamp    time.Time         `json:"timestamp"`
	State        []byte            `json:"-"`
	IsConsistent bool              `json:"is_consistent"`
	Checksum     string            `json:"checksum"`
	Size         int               `json:"size"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Metrics summarizes checkpoint and restore activity.
type Metrics struct {
	TotalPoints          int           `json:"total_points"`
	SuccessfulRecoveries uint64        `json:"successful_recoveries"`
	FailedRecoveries     uint64        `json:"failed_recoveries"`
	AverageRecoveryTime  time.Duration `json:"average_recovery_time"`
	LastRecovery         time.Time     `json:"last_recovery"`
}

// Manager creates and restores recovery points.
//
// opMu serializes create, restore and configuration changes against
// each other. mu guards the point table and counters and is never held
// across a capture or restore callback, so callbacks may re-enter the
// manager's read surface.
type Manager struct {
	opMu sync.Mutex
	mu   sync.Mutex

	cfg    config.RecoveryConfig
	sink   Sink
	points map[string]*Point

	capture CaptureFunc
	restore RestoreFunc
	onError ErrorCallback

	metrics    Metrics
	inProgress bool

	logger *utils.StructuredLogger
}

// NewManager validates the configuration and binds the sink.
func NewManager(cfg config.RecoveryConfig, sink Sink, logger *utils.StructuredLogger) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if sink == nil {
		sink = NewMemorySink()
	}
	if logger == nil {
		logger = utils.Discard("recovery")
	}

	return &Manager{
		cfg:    cfg,
		sink:   sink,
		points: make(map[string]*Point),
		logger: logger,
	}, nil
}

// SetStateCapture installs the capture callback.
func (m *Manager) SetStateCapture(capture CaptureFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.capture = capture
}

// SetStateRestore installs the restore callback.
func (m *Manager) SetStateRestore(restore RestoreFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.restore = restore
}

// SetErrorCallback installs the error callback.
func (m *Manager) SetErrorCallback(cb ErrorCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onError = cb
}

// CreateRecoveryPoint captures state, checksums and optionally
// compresses it, persists it via the sink, and returns the new point
// id. An empty string signals failure.
func (m *Manager) CreateRecoveryPoint() string {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	start := time.Now()

	m.mu.Lock()
	capture := m.capture
	cfg := m.cfg
	m.mu.Unlock()

	if capture == nil {
		m.handleError("no state capture callback installed")
		return ""
	}

	state, err := invokeCapture(capture)
	if err != nil {
		m.handleError("state capture failed: " + err.Error())
		return ""
	}
	if len(state) > cfg.MaxPointSize {
		m.handleError("captured state exceeds max point size")
		return ""
	}

	point := &Point{
		ID:           uuid.NewString(),
		Timestamp:    time.Now(),
		Checksum:     checksum(state),
		IsConsistent: len(state) > 0,
		Metadata:     map[string]string{},
	}

	stored := state
	if cfg.EnableCompression {
		compressed, err := compress(state)
		if err != nil {
			m.handleError("compression failed: " + err.Error())
			return ""
		}
		stored = compressed
		point.Metadata["compressed"] = "gzip"
	}
	point.State = stored
	point.Size = len(stored)

	if !m.sink.Save(point.ID, stored) {
		m.handleError("failed to persist recovery point " + point.ID)
		return ""
	}

	m.mu.Lock()
	m.points[point.ID] = point
	m.metrics.TotalPoints = len(m.points)
	expired := m.retainLocked()
	m.mu.Unlock()

	for _, id := range expired {
		m.sink.Delete(id)
	}

	m.logger.Info("recovery point created", map[string]interface{}{
		"id":       point.ID,
		"size":     point.Size,
		"duration": time.Since(start).String(),
	})
	return point.ID
}

// RestoreFromPoint loads a point by id, validates it, and applies it
// through the restore callback.
func (m *Manager) RestoreFromPoint(id string) bool {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	start := time.Now()

	m.mu.Lock()
	restore := m.restore
	cfg := m.cfg
	expectedChecksum := ""
	if point, ok := m.points[id]; ok {
		expectedChecksum = point.Checksum
	}
	m.inProgress = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.inProgress = false
		m.mu.Unlock()
	}()

	if restore == nil {
		m.recordFailure("no state restore callback installed")
		return false
	}

	stored, ok := m.sink.Load(id)
	if !ok {
		m.recordFailure("failed to load recovery point " + id)
		return false
	}

	state := stored
	if cfg.EnableCompression {
		decompressed, err := decompress(stored)
		if err != nil {
			m.recordFailure("decompression failed: " + err.Error())
			return false
		}
		state = decompressed
	}

	if cfg.EnableValidation {
		if expectedChecksum != "" && expectedChecksum != checksum(state) {
			m.recordFailure("checksum mismatch for recovery point " + id)
			return false
		}
		if len(state) == 0 {
			m.recordFailure("empty state in recovery point " + id)
			return false
		}
	}

	if !invokeRestore(restore, state, m.logger) {
		m.recordFailure("state restore callback failed for point " + id)
		return false
	}

	duration := time.Since(start)

	m.mu.Lock()
	m.metrics.SuccessfulRecoveries++
	n := m.metrics.SuccessfulRecoveries
	m.metrics.AverageRecoveryTime = time.Duration(
		(int64(m.metrics.AverageRecoveryTime)*int64(n-1) + int64(duration)) / int64(n))
	m.metrics.LastRecovery = time.Now()
	m.mu.Unlock()

	m.logger.Info("restored from recovery point", map[string]interface{}{
		"id":       id,
		"duration": duration.String(),
	})
	return true
}

// DeleteRecoveryPoint removes a point from the manager and the sink.
func (m *Manager) DeleteRecoveryPoint(id string) {
	m.mu.Lock()
	delete(m.points, id)
	m.metrics.TotalPoints = len(m.points)
	m.mu.Unlock()

	m.sink.Delete(id)
}

// SetConfiguration replaces the configuration and re-applies retention.
func (m *Manager) SetConfiguration(cfg config.RecoveryConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	m.cfg = cfg
	expired := m.retainLocked()
	m.mu.Unlock()

	for _, id := range expired {
		m.sink.Delete(id)
	}
	return nil
}

// Configuration returns a copy of the active configuration.
func (m *Manager) Configuration() config.RecoveryConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

// GetMetrics returns a metrics snapshot.
func (m *Manager) GetMetrics() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.metrics
}

// IsRecoveryInProgress reports whether a restore is executing.
func (m *Manager) IsRecoveryInProgress() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inProgress
}

// Points returns the ids of retained recovery points, newest first.
func (m *Manager) Points() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.points))
	for id := range m.points {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return m.points[ids[i]].Timestamp.After(m.points[ids[j]].Timestamp)
	})
	return ids
}

// retainLocked drops oldest-by-timestamp points beyond the retention
// count and returns the dropped ids for sink deletion outside the lock.
func (m *Manager) retainLocked() []string {
	if len(m.points) <= m.cfg.MaxRecoveryPoints {
		return nil
	}

	ids := make([]string, 0, len(m.points))
	for id := range m.points {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return m.points[ids[i]].Timestamp.Before(m.points[ids[j]].Timestamp)
	})

	expired := ids[:len(m.points)-m.cfg.MaxRecoveryPoints]
	for _, id := range expired {
		delete(m.points, id)
		m.logger.Debug("recovery point expired by retention", map[string]interface{}{"id": id})
	}
	m.metrics.TotalPoints = len(m.points)
	return expired
}

func (m *Manager) handleError(message string) {
	m.logger.Error(message)

	m.mu.Lock()
	cb := m.onError
	m.mu.Unlock()

	if cb != nil {
		cb(message)
	}
}

func (m *Manager) recordFailure(message string) {
	m.mu.Lock()
	m.metrics.FailedRecoveries++
	m.mu.Unlock()

	m.handleError(message)
}

// invokeCapture isolates panics from the capture callback.
func invokeCapture(capture CaptureFunc) (state []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &callbackPanicError{}
		}
	}()
	return capture()
}

// invokeRestore isolates panics from the restore callback.
func invokeRestore(restore RestoreFunc, state []byte, logger *utils.StructuredLogger) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			logger.Error("restore callback panicked", map[string]interface{}{"panic": r})
		}
	}()
	return restore(state)
}

type callbackPanicError struct{}

func (e *callbackPanicError) Error() string { return "capture callback panicked" }

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
