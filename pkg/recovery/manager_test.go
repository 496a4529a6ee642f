package recovery

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corefabric/corefabric/internal/config"
)

func testRecoveryConfig() config.RecoveryConfig {
	return config.RecoveryConfig{
		MaxRecoveryPoints: 3,
		MaxPointSize:      1 << 20,
		EnableCompression: true,
		EnableValidation:  true,
		Sink:              "memory",
	}
}

func newTestManager(t *testing.T, cfg config.RecoveryConfig) *Manager {
	t.Helper()
	m, err := NewManager(cfg, NewMemorySink(), nil)
	require.NoError(t, err)
	return m
}

// Capture then restore must hand the restore callback exactly the
// captured bytes.
func TestRecoveryRoundTrip(t *testing.T) {
	m := newTestManager(t, testRecoveryConfig())

	captured := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	var restored []byte
	var mu sync.Mutex

	m.SetStateCapture(func() ([]byte, error) { return captured, nil })
	m.SetStateRestore(func(state []byte) bool {
		mu.Lock()
		defer mu.Unlock()
		restored = append([]byte(nil), state...)
		return true
	})

	id := m.CreateRecoveryPoint()
	require.NotEmpty(t, id)
	require.True(t, m.RestoreFromPoint(id))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, captured, restored)

	metrics := m.GetMetrics()
	assert.Equal(t, uint64(1), metrics.SuccessfulRecoveries)
	assert.Equal(t, uint64(0), metrics.FailedRecoveries)
	assert.False(t, metrics.LastRecovery.IsZero())
}

func TestRecoveryWithoutCompression(t *testing.T) {
	cfg := testRecoveryConfig()
	cfg.EnableCompression = false
	m := newTestManager(t, cfg)

	m.SetStateCapture(func() ([]byte, error) { return []byte("plain state"), nil })
	var got []byte
	m.SetStateRestore(func(state []byte) bool {
		got = append([]byte(nil), state...)
		return true
	})

	id := m.CreateRecoveryPoint()
	require.NotEmpty(t, id)
	require.True(t, m.RestoreFromPoint(id))
	assert.Equal(t, []byte("plain state"), got)
}

func TestCreateWithoutCaptureFails(t *testing.T) {
	m := newTestManager(t, testRecoveryConfig())

	var msg string
	done := make(chan struct{})
	m.SetErrorCallback(func(message string) {
		msg = message
		close(done)
	})

	assert.Empty(t, m.CreateRecoveryPoint())

	select {
	case <-done:
		assert.Contains(t, msg, "capture")
	case <-time.After(time.Second):
		t.Fatal("error callback not invoked")
	}
}

func TestRestoreUnknownPointFails(t *testing.T) {
	m := newTestManager(t, testRecoveryConfig())
	m.SetStateRestore(func([]byte) bool { return true })

	assert.False(t, m.RestoreFromPoint("no-such-id"))
	assert.Equal(t, uint64(1), m.GetMetrics().FailedRecoveries)
}

func TestRestoreCallbackFailureCounts(t *testing.T) {
	m := newTestManager(t, testRecoveryConfig())
	m.SetStateCapture(func() ([]byte, error) { return []byte("state"), nil })
	m.SetStateRestore(func([]byte) bool { return false })

	id := m.CreateRecoveryPoint()
	require.NotEmpty(t, id)

	assert.False(t, m.RestoreFromPoint(id))
	assert.Equal(t, uint64(1), m.GetMetrics().FailedRecoveries)
	assert.Equal(t, uint64(0), m.GetMetrics().SuccessfulRecoveries)
}

// Retention keeps only the newest MaxRecoveryPoints points.
func TestRetentionDropsOldest(t *testing.T) {
	m := newTestManager(t, testRecoveryConfig())
	m.SetStateCapture(func() ([]byte, error) { return []byte("state"), nil })

	var ids []string
	for i := 0; i < 5; i++ {
		id := m.CreateRecoveryPoint()
		require.NotEmpty(t, id)
		ids = append(ids, id)
		time.Sleep(2 * time.Millisecond) // distinct timestamps
	}

	retained := m.Points()
	assert.Len(t, retained, 3)
	assert.NotContains(t, retained, ids[0])
	assert.NotContains(t, retained, ids[1])
	assert.Contains(t, retained, ids[4])
	assert.Equal(t, 3, m.GetMetrics().TotalPoints)
}

func TestDeleteRecoveryPoint(t *testing.T) {
	m := newTestManager(t, testRecoveryConfig())
	m.SetStateCapture(func() ([]byte, error) { return []byte("state"), nil })
	m.SetStateRestore(func([]byte) bool { return true })

	id := m.CreateRecoveryPoint()
	require.NotEmpty(t, id)

	m.DeleteRecoveryPoint(id)
	assert.Empty(t, m.Points())
	assert.False(t, m.RestoreFromPoint(id))
}

func TestSetConfigurationAppliesRetention(t *testing.T) {
	m := newTestManager(t, testRecoveryConfig())
	m.SetStateCapture(func() ([]byte, error) { return []byte("state"), nil })

	for i := 0; i < 3; i++ {
		require.NotEmpty(t, m.CreateRecoveryPoint())
		time.Sleep(2 * time.Millisecond)
	}

	cfg := testRecoveryConfig()
	cfg.MaxRecoveryPoints = 1
	require.NoError(t, m.SetConfiguration(cfg))

	assert.Len(t, m.Points(), 1)

	bad := testRecoveryConfig()
	bad.MaxRecoveryPoints = 0
	assert.Error(t, m.SetConfiguration(bad))
}

func TestFilesystemSinkRoundTrip(t *testing.T) {
	sink, err := NewFilesystemSink(t.TempDir())
	require.NoError(t, err)

	require.True(t, sink.Save("p1", []byte("payload")))
	data, ok := sink.Load("p1")
	require.True(t, ok)
	assert.Equal(t, []byte("payload"), data)

	sink.Delete("p1")
	_, ok = sink.Load("p1")
	assert.False(t, ok)
}

func TestIsRecoveryInProgress(t *testing.T) {
	m := newTestManager(t, testRecoveryConfig())
	m.SetStateCapture(func() ([]byte, error) { return []byte("state"), nil })

	inProgress := false
	m.SetStateRestore(func([]byte) bool {
		// Observed from inside the restore callback; the state lock is
		// not held across the callback, so re-entry is safe.
		inProgress = m.IsRecoveryInProgress()
		return true
	})

	id := m.CreateRecoveryPoint()
	require.True(t, m.RestoreFromPoint(id))
	assert.True(t, inProgress)
	assert.False(t, m.IsRecoveryInProgress())
}
