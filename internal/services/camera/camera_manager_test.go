package camera

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kepler-linecount-go/internal/models"
)

type fakeSource struct {
	limit  int // frames served before Read fails, -1 for endless
	served int
	pause  time.Duration
	panics bool
	closed atomic.Bool
}

func (s *fakeSource) Read() (*models.Frame, error) {
	if s.panics {
		panic("decoder exploded")
	}
	if s.limit >= 0 && s.served >= s.limit {
		return nil, errors.New("stream ended")
	}
	s.served++
	if s.pause > 0 {
		time.Sleep(s.pause)
	}
	return &models.Frame{Width: 1920, Height: 1080, Data: []byte{byte(s.served)}}, nil
}

func (s *fakeSource) Close() error {
	s.closed.Store(true)
	return nil
}

type recordingSink struct {
	mu    sync.Mutex
	slots []models.BufferSlot
}

func (s *recordingSink) Push(slot models.BufferSlot) {
	s.mu.Lock()
	s.slots = append(s.slots, slot)
	s.mu.Unlock()
}

func (s *recordingSink) Slots() []models.BufferSlot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.BufferSlot(nil), s.slots...)
}

func (s *recordingSink) countFor(camera string) int {
	n := 0
	for _, slot := range s.Slots() {
		if slot.CameraID == camera {
			n++
		}
	}
	return n
}

// scriptedOpener hands out sources in order, failing when the script says nil
type scriptedOpener struct {
	mu       sync.Mutex
	script   []*fakeSource
	opened   []*fakeSource
	calls    int
	fallback func() *fakeSource
}

func (o *scriptedOpener) Open(_ context.Context, _ models.CameraEndpoint) (FrameSource, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.calls++
	var src *fakeSource
	if len(o.script) > 0 {
		src, o.script = o.script[0], o.script[1:]
	} else if o.fallback != nil {
		src = o.fallback()
	}
	if src == nil {
		return nil, errors.New("connection refused")
	}
	o.opened = append(o.opened, src)
	return src, nil
}

func (o *scriptedOpener) Calls() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.calls
}

func (o *scriptedOpener) Opened() []*fakeSource {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*fakeSource(nil), o.opened...)
}

func testResize(frame *models.Frame, width, height int) (*models.Frame, error) {
	out := *frame
	out.Width, out.Height = width, height
	return &out, nil
}

func testOptions() Options {
	return Options{
		DecimationFactor:  3,
		ReconnectWait:     10 * time.Millisecond,
		Width:             640,
		Height:            360,
		PanicRestartDelay: 10 * time.Millisecond,
	}
}

func shutdown(t *testing.T, cm *CameraManager) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, cm.Shutdown(ctx))
}

func TestDecimationKeepsEveryNthFrame(t *testing.T) {
	t.Parallel()

	opts := testOptions()
	opts.ReconnectWait = time.Hour

	opener := &scriptedOpener{script: []*fakeSource{{limit: 10}}}
	sink := &recordingSink{}
	cm := NewCameraManager(opts, opener.Open, testResize, sink)

	require.NoError(t, cm.StartCamera(context.Background(), models.CameraEndpoint{Name: "lobby", URL: "rtsp://lobby"}))
	require.Eventually(t, func() bool {
		s, _ := cm.GetCamera("lobby")
		return s.State == models.CameraStateFailed
	}, 2*time.Second, 5*time.Millisecond)

	slots := sink.Slots()
	require.Len(t, slots, 4)

	for i, slot := range slots {
		assert.Equal(t, "lobby", slot.CameraID)
		assert.Equal(t, "rtsp://lobby", slot.Address)
		assert.Equal(t, int64(i+1), slot.Frame.Sequence)
		assert.Equal(t, []byte{byte(1 + 3*i)}, slot.Frame.Data, "frame %d", i)
		assert.Equal(t, 640, slot.Frame.Width)
		assert.Equal(t, 360, slot.Frame.Height)
		assert.False(t, slot.Frame.Timestamp.IsZero())
	}

	stats, ok := cm.GetCamera("lobby")
	require.True(t, ok)
	assert.Equal(t, int64(10), stats.FramesRead)
	assert.Equal(t, int64(6), stats.FramesDecimated)
	assert.Equal(t, int64(4), stats.FramesPushed)
	assert.Contains(t, stats.LastError, "stream ended")
	assert.True(t, opener.Opened()[0].closed.Load(), "failed source must be released")

	shutdown(t, cm)
}

func TestDecimationFactorOneKeepsAll(t *testing.T) {
	t.Parallel()

	opts := testOptions()
	opts.DecimationFactor = 1
	opts.ReconnectWait = time.Hour

	opener := &scriptedOpener{script: []*fakeSource{{limit: 5}}}
	sink := &recordingSink{}
	cm := NewCameraManager(opts, opener.Open, nil, sink)

	require.NoError(t, cm.StartCamera(context.Background(), models.CameraEndpoint{Name: "a", URL: "rtsp://a"}))
	require.Eventually(t, func() bool { return len(sink.Slots()) == 5 }, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, 1920, sink.Slots()[0].Frame.Width, "nil resizer passes frames through")
	shutdown(t, cm)
}

func TestReconnectsAfterFailures(t *testing.T) {
	t.Parallel()

	opener := &scriptedOpener{
		script:   []*fakeSource{nil, {limit: 3}},
		fallback: func() *fakeSource { return &fakeSource{limit: -1, pause: time.Millisecond} },
	}
	sink := &recordingSink{}
	cm := NewCameraManager(testOptions(), opener.Open, testResize, sink)

	require.NoError(t, cm.StartCamera(context.Background(), models.CameraEndpoint{Name: "dock", URL: "rtsp://dock"}))

	require.Eventually(t, func() bool {
		s, _ := cm.GetCamera("dock")
		return s.State == models.CameraStateActive && opener.Calls() == 3 && s.FramesPushed > 5
	}, 2*time.Second, 5*time.Millisecond)

	stats, _ := cm.GetCamera("dock")
	assert.Equal(t, int64(2), stats.Reconnects)
	assert.False(t, stats.ConnectedSince.IsZero())

	// sequences keep increasing across reconnects
	slots := sink.Slots()
	for i := 1; i < len(slots); i++ {
		assert.Less(t, slots[i-1].Frame.Sequence, slots[i].Frame.Sequence)
	}

	opened := opener.Opened()
	require.Len(t, opened, 2)
	assert.True(t, opened[0].closed.Load())

	shutdown(t, cm)
	assert.True(t, opened[1].closed.Load(), "shutdown must release the live source")

	stats, _ = cm.GetCamera("dock")
	assert.Equal(t, models.CameraStateStopped, stats.State)
}

func TestFailingCameraDoesNotAffectOthers(t *testing.T) {
	t.Parallel()

	good := &scriptedOpener{fallback: func() *fakeSource { return &fakeSource{limit: -1, pause: time.Millisecond} }}
	bad := &scriptedOpener{}

	sink := &recordingSink{}
	opts := testOptions()
	opts.DecimationFactor = 1

	open := func(ctx context.Context, ep models.CameraEndpoint) (FrameSource, error) {
		if ep.Name == "bad" {
			return bad.Open(ctx, ep)
		}
		return good.Open(ctx, ep)
	}
	cm := NewCameraManager(opts, open, testResize, sink)

	require.NoError(t, cm.StartAll(context.Background(), []models.CameraEndpoint{
		{Name: "good", URL: "rtsp://good"},
		{Name: "bad", URL: "rtsp://bad"},
	}))

	require.Eventually(t, func() bool {
		return sink.countFor("good") > 20 && bad.Calls() > 3
	}, 2*time.Second, 5*time.Millisecond)

	assert.Zero(t, sink.countFor("bad"))
	goodStats, _ := cm.GetCamera("good")
	assert.Equal(t, models.CameraStateActive, goodStats.State)
	assert.Equal(t, int64(0), goodStats.Reconnects)

	list := cm.ListCameras()
	require.Len(t, list, 2)
	assert.Equal(t, "bad", list[0].CameraID)
	assert.Equal(t, "good", list[1].CameraID)

	stats := cm.GetStats()
	assert.Equal(t, 1, stats[models.CameraStateActive])

	shutdown(t, cm)
}

func TestPanicIsRecoveredAndRetried(t *testing.T) {
	t.Parallel()

	opener := &scriptedOpener{
		script:   []*fakeSource{{panics: true}},
		fallback: func() *fakeSource { return &fakeSource{limit: -1, pause: time.Millisecond} },
	}
	sink := &recordingSink{}
	cm := NewCameraManager(testOptions(), opener.Open, testResize, sink)

	require.NoError(t, cm.StartCamera(context.Background(), models.CameraEndpoint{Name: "p", URL: "rtsp://p"}))
	require.Eventually(t, func() bool { return len(sink.Slots()) > 0 }, 2*time.Second, 5*time.Millisecond)

	assert.True(t, opener.Opened()[0].closed.Load())
	shutdown(t, cm)
}

func TestStartAndStopCamera(t *testing.T) {
	t.Parallel()

	opener := &scriptedOpener{fallback: func() *fakeSource { return &fakeSource{limit: -1, pause: time.Millisecond} }}
	cm := NewCameraManager(testOptions(), opener.Open, testResize, &recordingSink{})

	ep := models.CameraEndpoint{Name: "x", URL: "rtsp://x"}
	require.NoError(t, cm.StartCamera(context.Background(), ep))
	assert.ErrorIs(t, cm.StartCamera(context.Background(), ep), ErrCameraExists)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, cm.StopCamera(ctx, "x"))
	assert.ErrorIs(t, cm.StopCamera(ctx, "x"), ErrCameraNotFound)

	_, ok := cm.GetCamera("x")
	assert.False(t, ok)

	shutdown(t, cm)
}

func TestParentContextStopsCameras(t *testing.T) {
	t.Parallel()

	opener := &scriptedOpener{fallback: func() *fakeSource { return &fakeSource{limit: -1, pause: time.Millisecond} }}
	cm := NewCameraManager(testOptions(), opener.Open, testResize, &recordingSink{})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, cm.StartCamera(ctx, models.CameraEndpoint{Name: "y", URL: "rtsp://y"}))
	require.Eventually(t, func() bool {
		s, _ := cm.GetCamera("y")
		return s.State == models.CameraStateActive
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.Eventually(t, func() bool {
		s, _ := cm.GetCamera("y")
		return s.State == models.CameraStateStopped
	}, time.Second, 5*time.Millisecond)
	assert.True(t, opener.Opened()[0].closed.Load())
}

func TestBackoffJitterStaysInRange(t *testing.T) {
	t.Parallel()

	cl := NewCameraLifecycle(models.CameraEndpoint{Name: "j"}, Options{ReconnectWait: 10 * time.Second, JitterPct: 20}, nil, nil, nil)
	for i := 0; i < 200; i++ {
		d := cl.backoff()
		assert.GreaterOrEqual(t, d, 8*time.Second)
		assert.LessOrEqual(t, d, 12*time.Second)
	}

	fixed := NewCameraLifecycle(models.CameraEndpoint{Name: "f"}, Options{ReconnectWait: 10 * time.Second}, nil, nil, nil)
	assert.Equal(t, 10*time.Second, fixed.backoff())
}
