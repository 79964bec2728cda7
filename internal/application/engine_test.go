package application_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"vn.io.arda/notification-engine/internal/application"
	"vn.io.arda/notification-engine/internal/auth"
	"vn.io.arda/notification-engine/internal/config"
	"vn.io.arda/notification-engine/internal/dispatch"
	"vn.io.arda/notification-engine/internal/domain"
	"vn.io.arda/notification-engine/internal/messages"
	"vn.io.arda/notification-engine/internal/stream"
)

const (
	wait = 2 * time.Second
	tick = 5 * time.Millisecond
)

func item(id string, minute int, read bool) json.RawMessage {
	created := time.Date(2026, 1, 1, 0, minute, 0, 0, time.UTC).Format(time.RFC3339)
	return json.RawMessage(fmt.Sprintf(`{"id":%q,"title":"t%s","body":"b%s","category":"chat","created_at":%q,"is_read":%t}`,
		id, id, id, created, read))
}

func frame(id string, minute int) []byte {
	return []byte(fmt.Sprintf(`{"type":"notification","data":%s}`, item(id, minute, false)))
}

// inlineFrame carries the notification fields at the top level next to a
// metadata object under "data".
func inlineFrame(id string, minute int) []byte {
	created := time.Date(2026, 1, 1, 0, minute, 0, 0, time.UTC).Format(time.RFC3339)
	return []byte(fmt.Sprintf(`{"type":"notification","id":%q,"title":"t%s","body":"b%s","category":"chat",`+
		`"created_at":%q,"data":{"url":"/chat/%s"}}`, id, id, id, created, id))
}

type harness struct {
	engine  *application.Engine
	backend *MockBackend
	dialer  *pipeDialer
	creds   *auth.Static
	toast   *recordingSink
	sound   *recordingSink
	signals *signalLog
}

func newHarness(t *testing.T, cfg domain.ChannelConfig) *harness {
	t.Helper()
	h := &harness{
		backend: &MockBackend{},
		dialer:  &pipeDialer{},
		creds:   auth.NewStatic("opaque-token"),
		toast:   &recordingSink{},
		sound:   &recordingSink{},
		signals: &signalLog{},
	}
	h.engine = application.New(application.Deps{
		Backend:     h.backend,
		Dialer:      h.dialer,
		Config:      config.NewLive(cfg),
		Credentials: h.creds,
		Sinks: map[domain.Channel]dispatch.Sink{
			domain.ChannelToast: h.toast,
			domain.ChannelSound: h.sound,
		},
		Reporter:      domain.ReporterFunc(h.signals.record),
		StreamOptions: []stream.Option{stream.WithBackoff(time.Millisecond, 10*time.Millisecond, 3)},
	})
	t.Cleanup(h.engine.Close)
	return h
}

func (h *harness) connected(t *testing.T) *pipeConn {
	t.Helper()
	require.Eventually(t, func() bool {
		return h.engine.StreamState() == stream.Connected && h.dialer.last() != nil
	}, wait, tick)
	return h.dialer.last()
}

func (h *harness) ids() []string {
	return h.engine.Store().IDs()
}

func TestEngine_Scenario(t *testing.T) {
	h := newHarness(t, domain.ChannelConfig{"liveEnabled": true, "soundEnabled": false, "toastEnabled": true})
	h.backend.On("FetchPage", mock.Anything, domain.Page{Limit: 20}).
		Return([]json.RawMessage{item("1", 1, false), item("2", 2, true)}, nil)
	h.backend.On("MarkRead", mock.Anything, "1").Return(nil)

	require.NoError(t, h.engine.Mount(context.Background()))
	assert.Equal(t, []string{"2", "1"}, h.ids())
	assert.Equal(t, 1, h.engine.UnreadCount())

	conn := h.connected(t)
	conn.frames <- frame("1", 1)
	require.NoError(t, h.engine.MarkRead(context.Background(), "1"))
	assert.Equal(t, 0, h.engine.UnreadCount())

	conn.frames <- frame("3", 3)
	require.Eventually(t, func() bool { return len(h.toast.fired()) == 1 }, wait, tick)

	assert.Equal(t, []string{"3"}, h.toast.fired())
	assert.Empty(t, h.sound.fired())
	assert.Equal(t, []string{"3", "2", "1"}, h.ids())
	assert.Equal(t, 1, h.engine.UnreadCount())
	h.backend.AssertExpectations(t)
}

func TestEngine_DuplicateLiveFrameFiresOnce(t *testing.T) {
	h := newHarness(t, domain.ChannelConfig{"liveEnabled": true})
	h.backend.On("FetchPage", mock.Anything, mock.Anything).Return([]json.RawMessage{}, nil)
	require.NoError(t, h.engine.Mount(context.Background()))

	conn := h.connected(t)
	conn.frames <- frame("7", 7)
	conn.frames <- frame("7", 7)
	conn.frames <- frame("8", 8)

	require.Eventually(t, func() bool { return len(h.toast.fired()) == 2 }, wait, tick)
	assert.ElementsMatch(t, []string{"7", "8"}, h.toast.fired())
	assert.Equal(t, 2, h.engine.UnreadCount())
}

func TestEngine_InlineLiveFrameMergesWithHistory(t *testing.T) {
	h := newHarness(t, domain.ChannelConfig{"liveEnabled": true})
	h.backend.On("FetchPage", mock.Anything, mock.Anything).Return([]json.RawMessage{item("1", 1, false)}, nil)
	require.NoError(t, h.engine.Mount(context.Background()))

	conn := h.connected(t)
	conn.frames <- inlineFrame("1", 1)
	conn.frames <- inlineFrame("2", 2)
	require.Eventually(t, func() bool { return len(h.toast.fired()) == 1 }, wait, tick)

	assert.Equal(t, []string{"2"}, h.toast.fired())
	assert.Equal(t, []string{"2", "1"}, h.ids())
	assert.Equal(t, 2, h.engine.UnreadCount())
}

func TestEngine_LoadFailureIsSignalled(t *testing.T) {
	h := newHarness(t, domain.ChannelConfig{})
	boom := errors.New("gateway timeout")
	h.backend.On("FetchPage", mock.Anything, mock.Anything).Return(nil, boom)

	err := h.engine.Mount(context.Background())

	assert.ErrorIs(t, err, boom)
	assert.True(t, h.engine.Mounted())
	assert.Zero(t, h.engine.Store().Len())
	require.Len(t, h.signals.all(), 1)
	sig := h.signals.all()[0]
	assert.Equal(t, domain.SignalLoadFailed, sig.Kind)
	assert.Equal(t, messages.LoadFailed(), sig.Message)
}

func TestEngine_MutationFailuresCountConsecutively(t *testing.T) {
	h := newHarness(t, domain.ChannelConfig{})
	h.backend.On("FetchPage", mock.Anything, mock.Anything).
		Return([]json.RawMessage{item("1", 1, false), item("2", 2, false)}, nil)
	boom := errors.New("503")
	h.backend.On("MarkRead", mock.Anything, "1").Return(boom).Twice()
	h.backend.On("MarkRead", mock.Anything, "1").Return(nil).Once()
	h.backend.On("MarkRead", mock.Anything, "2").Return(boom).Once()
	require.NoError(t, h.engine.Mount(context.Background()))

	assert.ErrorIs(t, h.engine.MarkRead(context.Background(), "1"), boom)
	assert.ErrorIs(t, h.engine.MarkRead(context.Background(), "1"), boom)
	assert.NoError(t, h.engine.MarkRead(context.Background(), "1"))
	assert.ErrorIs(t, h.engine.MarkRead(context.Background(), "2"), boom)

	sigs := h.signals.all()
	require.Len(t, sigs, 3)
	assert.Equal(t, []int{1, 2, 1}, []int{sigs[0].Failures, sigs[1].Failures, sigs[2].Failures})
	assert.Equal(t, domain.SignalMutationFailed, sigs[1].Kind)
	assert.Equal(t, messages.OpMarkRead, sigs[1].Op)
	assert.Equal(t, messages.MutationFailed(messages.OpMarkRead, 2), sigs[1].Message)

	// No rollback: the local change stands.
	assert.Equal(t, 0, h.engine.UnreadCount())
}

func TestEngine_DeleteAndMarkAllRead(t *testing.T) {
	h := newHarness(t, domain.ChannelConfig{"liveEnabled": true})
	h.backend.On("FetchPage", mock.Anything, mock.Anything).
		Return([]json.RawMessage{item("1", 1, false), item("2", 2, false)}, nil)
	h.backend.On("Delete", mock.Anything, "2").Return(nil)
	h.backend.On("MarkAllRead", mock.Anything).Return(errors.New("offline"))
	require.NoError(t, h.engine.Mount(context.Background()))
	conn := h.connected(t)

	require.NoError(t, h.engine.Delete(context.Background(), "2"))
	conn.frames <- frame("2", 2)
	conn.frames <- frame("4", 4)
	require.Eventually(t, func() bool { return len(h.toast.fired()) == 1 }, wait, tick)
	assert.Equal(t, []string{"4", "1"}, h.ids())

	require.Error(t, h.engine.MarkAllRead(context.Background()))
	assert.Equal(t, 0, h.engine.UnreadCount())
	require.Len(t, h.signals.all(), 1)
	assert.Equal(t, messages.OpMarkAllRead, h.signals.all()[0].Op)
}

func TestEngine_LocalIDsSkipBackend(t *testing.T) {
	h := newHarness(t, domain.ChannelConfig{})
	h.backend.On("FetchPage", mock.Anything, mock.Anything).
		Return([]json.RawMessage{json.RawMessage(`{"message":"no id here"}`)}, nil)
	require.NoError(t, h.engine.Mount(context.Background()))
	recs := h.engine.Store().View(storeAll)
	require.Len(t, recs, 1)

	require.NoError(t, h.engine.MarkRead(context.Background(), recs[0].ID))
	require.NoError(t, h.engine.Delete(context.Background(), recs[0].ID))

	h.backend.AssertNotCalled(t, "MarkRead", mock.Anything, mock.Anything)
	h.backend.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
	assert.Zero(t, h.engine.Store().Len())
}

func TestEngine_ConfigAndCredentialGateStream(t *testing.T) {
	h := newHarness(t, domain.ChannelConfig{})
	h.backend.On("FetchPage", mock.Anything, mock.Anything).Return([]json.RawMessage{}, nil)
	require.NoError(t, h.engine.Mount(context.Background()))

	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, h.dialer.count(), "live delivery disabled")

	h.engine.UpdateConfig(domain.ChannelConfig{"liveEnabled": true})
	h.connected(t)

	h.engine.UpdateCredential("")
	require.Eventually(t, func() bool { return h.engine.StreamState() == stream.Disconnected }, wait, tick)

	h.engine.UpdateCredential("next-token")
	require.Eventually(t, func() bool { return h.dialer.count() == 2 }, wait, tick)

	h.engine.UpdateConfig(domain.ChannelConfig{"liveEnabled": false})
	require.Eventually(t, func() bool { return h.engine.StreamState() == stream.Disconnected }, wait, tick)
}

func TestEngine_DispatchFollowsCurrentConfig(t *testing.T) {
	h := newHarness(t, domain.ChannelConfig{"liveEnabled": true, "chatEnabled": true})
	h.backend.On("FetchPage", mock.Anything, mock.Anything).Return([]json.RawMessage{}, nil)
	require.NoError(t, h.engine.Mount(context.Background()))
	conn := h.connected(t)

	conn.frames <- frame("1", 1)
	require.Eventually(t, func() bool { return len(h.sound.fired()) == 1 }, wait, tick)

	h.engine.UpdateConfig(domain.ChannelConfig{"liveEnabled": true, "chatSoundEnabled": false})
	conn = h.connected(t)
	conn.frames <- frame("2", 2)
	require.Eventually(t, func() bool { return len(h.toast.fired()) == 2 }, wait, tick)
	assert.Equal(t, []string{"1"}, h.sound.fired())
}

func TestEngine_ServerUnreadHint(t *testing.T) {
	h := newHarness(t, domain.ChannelConfig{"liveEnabled": true})
	h.backend.On("FetchPage", mock.Anything, mock.Anything).Return([]json.RawMessage{item("1", 1, false)}, nil)
	require.NoError(t, h.engine.Mount(context.Background()))

	_, known := h.engine.ServerUnread()
	assert.False(t, known)

	h.connected(t).frames <- []byte(`{"type":"unread_count","data":{"count":5}}`)
	require.Eventually(t, func() bool {
		n, ok := h.engine.ServerUnread()
		return ok && n == 5
	}, wait, tick)
	assert.Equal(t, 1, h.engine.UnreadCount())
}

func TestEngine_HistoryAfterUnmountIsDiscarded(t *testing.T) {
	h := newHarness(t, domain.ChannelConfig{})
	started := make(chan struct{})
	release := make(chan struct{})
	h.backend.On("FetchPage", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) {
			close(started)
			<-release
		}).
		Return([]json.RawMessage{item("1", 1, false)}, nil)

	done := make(chan error, 1)
	go func() { done <- h.engine.Mount(context.Background()) }()
	<-started
	h.engine.Unmount()
	close(release)

	require.NoError(t, <-done)
	assert.False(t, h.engine.Mounted())
	assert.Zero(t, h.engine.Store().Len())
	assert.Zero(t, h.dialer.count())
}

func TestEngine_LoadMoreAppendsOlderPage(t *testing.T) {
	h := newHarness(t, domain.ChannelConfig{})
	h.backend.On("FetchPage", mock.Anything, domain.Page{Limit: 20}).
		Return([]json.RawMessage{item("9", 9, false)}, nil)
	h.backend.On("FetchPage", mock.Anything, domain.Page{Limit: 20, Offset: 20}).
		Return([]json.RawMessage{item("3", 3, true), item("2", 2, false)}, nil)
	require.NoError(t, h.engine.Mount(context.Background()))

	n, err := h.engine.LoadMore(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"9", "3", "2"}, h.ids())
	assert.Equal(t, 2, h.engine.UnreadCount())
	assert.Empty(t, h.toast.fired())
}

func TestEngine_NotMounted(t *testing.T) {
	h := newHarness(t, domain.ChannelConfig{})

	assert.ErrorIs(t, h.engine.Refresh(context.Background()), application.ErrNotMounted)
	_, err := h.engine.LoadMore(context.Background())
	assert.ErrorIs(t, err, application.ErrNotMounted)
}

func TestEngine_StreamDropIsSignalledOnce(t *testing.T) {
	h := newHarness(t, domain.ChannelConfig{"liveEnabled": true})
	h.backend.On("FetchPage", mock.Anything, mock.Anything).Return([]json.RawMessage{}, nil)
	require.NoError(t, h.engine.Mount(context.Background()))

	h.connected(t).Close()
	require.Eventually(t, func() bool {
		return h.dialer.count() == 2 && h.engine.StreamState() == stream.Connected
	}, wait, tick)

	require.Len(t, h.signals.all(), 1)
	sig := h.signals.all()[0]
	assert.Equal(t, domain.SignalStreamFailed, sig.Kind)
	assert.Equal(t, messages.StreamFailed(false), sig.Message)
	assert.Equal(t, 1, sig.Failures)
}
