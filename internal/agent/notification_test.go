package agent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPushUsesPayloadText(t *testing.T) {
	f := newFixture(t, Generation)
	arrival := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	f.agent.now = func() time.Time { return arrival }

	require.NoError(t, f.agent.Push(PushEvent{Data: []byte("3 pages split")}).Settle(context.Background()))

	require.Len(t, f.notifier.shown, 1)
	shown := f.notifier.shown[0]
	assert.Equal(t, DefaultNotificationTitle, shown.title)
	assert.Equal(t, "3 pages split", shown.opts.Body)
	assert.Equal(t, "/static/icons/icon-192x192.png", shown.opts.Icon)
	assert.Equal(t, "/static/icons/icon-72x72.png", shown.opts.Badge)
	assert.Equal(t, []int{100, 50, 100}, shown.opts.Vibrate)
	assert.Equal(t, arrival, shown.opts.Data.DateOfArrival)
	assert.Equal(t, 1, shown.opts.Data.PrimaryKey)
	require.Len(t, shown.opts.Actions, 1)
	assert.Equal(t, ActionOpen, shown.opts.Actions[0].Action)
	assert.Equal(t, "アプリを開く", shown.opts.Actions[0].Title)
}

func TestPushWithoutPayloadUsesDefault(t *testing.T) {
	f := newFixture(t, Generation)

	require.NoError(t, f.agent.Push(PushEvent{}).Settle(context.Background()))

	require.Len(t, f.notifier.shown, 1)
	assert.Equal(t, DefaultNotificationBody, f.notifier.shown[0].opts.Body)
}

func TestNotificationClickOpen(t *testing.T) {
	f := newFixture(t, Generation)
	ev := NotificationClickEvent{Notification: Notification{ID: "n1"}, Action: ActionOpen}

	require.NoError(t, f.agent.NotificationClick(ev).Settle(context.Background()))

	assert.Equal(t, []string{"n1"}, f.notifier.closed)
	assert.Equal(t, []string{"/"}, f.host.windows)
}

func TestNotificationClickOtherAction(t *testing.T) {
	f := newFixture(t, Generation)

	for _, action := range []string{"", "dismiss"} {
		ev := NotificationClickEvent{Notification: Notification{ID: "n1"}, Action: action}
		require.NoError(t, f.agent.NotificationClick(ev).Settle(context.Background()))
	}

	assert.Equal(t, []string{"n1", "n1"}, f.notifier.closed)
	assert.Empty(t, f.host.windows)
}

func TestSyncDoesNothing(t *testing.T) {
	f := newFixture(t, Generation)

	for _, tag := range []string{SyncTagBackgroundProcess, "unknown"} {
		eff := f.agent.Sync(SyncEvent{Tag: tag})
		assert.Empty(t, eff.WaitUntil)
		assert.False(t, eff.Passthrough)
		assert.NoError(t, eff.Settle(context.Background()))
	}
	assert.Zero(t, f.network.callCount())
	assert.Zero(t, f.storage.opens.Load())
}
