package agent

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iTrooz/offline-cache-agent/internal/metrics"
)

const (
	// SyncTagBackgroundProcess is the only recognized background sync tag.
	SyncTagBackgroundProcess = "background-pdf-process"
	// ActionOpen opens the tool from a notification.
	ActionOpen = "open"

	DefaultNotificationTitle = "A3→A4 PDF分割ツール"
	DefaultNotificationBody  = "PDF処理が完了しました"

	notificationIcon  = "/static/icons/icon-192x192.png"
	notificationBadge = "/static/icons/icon-72x72.png"
)

var notificationVibrate = []int{100, 50, 100}

// NotificationAction is a button shown on a notification.
type NotificationAction struct {
	Action string `json:"action"`
	Title  string `json:"title"`
	Icon   string `json:"icon,omitempty"`
}

// NotificationData is the opaque payload attached to a notification.
type NotificationData struct {
	DateOfArrival time.Time `json:"dateOfArrival"`
	PrimaryKey    int       `json:"primaryKey"`
}

// NotificationOptions mirrors what a system notification can display.
type NotificationOptions struct {
	Body    string               `json:"body"`
	Icon    string               `json:"icon"`
	Badge   string               `json:"badge"`
	Vibrate []int                `json:"vibrate"`
	Data    NotificationData     `json:"data"`
	Actions []NotificationAction `json:"actions"`
}

// Notification is a notification that has been displayed.
type Notification struct {
	ID      string              `json:"id"`
	Title   string              `json:"title"`
	Options NotificationOptions `json:"options"`
}

// Notifier displays and dismisses system notifications.
type Notifier interface {
	ShowNotification(ctx context.Context, title string, opts NotificationOptions) error
	CloseNotification(ctx context.Context, id string) error
}

// SyncEvent is a background sync request.
type SyncEvent struct {
	Tag string
}

// PushEvent is a push message. Data is nil when the message has no payload.
type PushEvent struct {
	Data []byte
}

// NotificationClickEvent reports a click on a notification or one of its actions.
type NotificationClickEvent struct {
	Notification Notification
	Action       string
}

// Sync is an extension point: recognized tags are logged, nothing runs.
func (a *Agent) Sync(ev SyncEvent) Effect {
	metrics.NotificationEventsTotal.WithLabelValues("sync").Inc()
	if ev.Tag == SyncTagBackgroundProcess {
		logrus.Infof("Background sync triggered: %s", ev.Tag)
	}
	return Effect{}
}

// Push shows a notification with the payload text, or the default message.
func (a *Agent) Push(ev PushEvent) Effect {
	metrics.NotificationEventsTotal.WithLabelValues("push").Inc()

	body := a.defaultBody
	if ev.Data != nil {
		body = string(ev.Data)
	}

	opts := NotificationOptions{
		Body:    body,
		Icon:    notificationIcon,
		Badge:   notificationBadge,
		Vibrate: append([]int(nil), notificationVibrate...),
		Data: NotificationData{
			DateOfArrival: a.now(),
			PrimaryKey:    1,
		},
		Actions: []NotificationAction{
			{Action: ActionOpen, Title: "アプリを開く", Icon: notificationIcon},
		},
	}

	return Effect{WaitUntil: []Task{
		func(ctx context.Context) error {
			return a.notifier.ShowNotification(ctx, a.notificationTitle, opts)
		},
	}}
}

// NotificationClick dismisses the notification and opens the tool when the
// "open" action was chosen.
func (a *Agent) NotificationClick(ev NotificationClickEvent) Effect {
	metrics.NotificationEventsTotal.WithLabelValues("click").Inc()
	logrus.Debugf("Notification clicked: %s (action %q)", ev.Notification.ID, ev.Action)

	tasks := []Task{
		func(ctx context.Context) error {
			return a.notifier.CloseNotification(ctx, ev.Notification.ID)
		},
	}
	if ev.Action == ActionOpen {
		tasks = append(tasks, func(ctx context.Context) error {
			return a.host.OpenWindow(ctx, "/")
		})
	}
	return Effect{WaitUntil: tasks}
}

type nopNotifier struct{}

func (nopNotifier) ShowNotification(context.Context, string, NotificationOptions) error { return nil }
func (nopNotifier) CloseNotification(context.Context, string) error { return nil }
