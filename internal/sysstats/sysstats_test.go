package sysstats

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shirou/gopsutil/v3/host"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingReader struct {
	calls atomic.Int32
	err   error
}

func (r *countingReader) Read(context.Context) (Stats, error) {
	n := r.calls.Add(1)
	return Stats{BootTime: "2024-06-10 08:00:00", CPULoad: float64(n)}, r.err
}

func TestPickCPUTemp(t *testing.T) {
	temps := []host.TemperatureStat{
		{SensorKey: "nvme_composite", Temperature: 61},
		{SensorKey: "cpu_thermal", Temperature: 48.3},
	}
	assert.Equal(t, 48.3, pickCPUTemp(temps))

	assert.Equal(t, 61.0, pickCPUTemp(temps[:1]))
	assert.Equal(t, 0.0, pickCPUTemp(nil))
}

func TestRound1(t *testing.T) {
	assert.Equal(t, 12.3, round1(12.34))
	assert.Equal(t, 12.4, round1(12.35000001))
	assert.Equal(t, 0.0, round1(0))
}

func TestSamplerRefreshAndLatest(t *testing.T) {
	r := &countingReader{}
	s, err := NewSampler(r)
	require.NoError(t, err)

	_, ok := s.Latest()
	assert.False(t, ok)

	st := s.Refresh(context.Background())
	assert.Equal(t, 1.0, st.CPULoad)

	latest, ok := s.Latest()
	assert.True(t, ok)
	assert.Equal(t, st, latest)
	assert.NoError(t, s.LastError())

	r.err = errors.New("no sensors")
	s.Refresh(context.Background())
	latest, _ = s.Latest()
	assert.Equal(t, 2.0, latest.CPULoad)
	assert.Error(t, s.LastError())
}

func TestSamplerSchedule(t *testing.T) {
	r := &countingReader{}
	s, err := NewSampler(r)
	require.NoError(t, err)

	assert.Error(t, s.Start(context.Background(), "not a schedule"))

	require.NoError(t, s.Start(context.Background(), "@every 1s"))
	defer s.Stop()
	assert.Error(t, s.Start(context.Background(), "@every 1s"))

	// The first reading is taken synchronously on start.
	assert.EqualValues(t, 1, r.calls.Load())
	assert.Eventually(t, func() bool { return r.calls.Load() >= 2 }, 3*time.Second, 50*time.Millisecond)
}

func TestSamplerStopIdempotent(t *testing.T) {
	s, err := NewSampler(&countingReader{})
	require.NoError(t, err)
	s.Stop()

	_, err = NewSampler(nil)
	assert.Error(t, err)
}
