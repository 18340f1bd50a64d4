package proxy

import (
	"context"
	"sort"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/iTrooz/offline-cache-agent/internal/agent"
)

// LogNotifier stands in for the system notification center: it logs every
// notification and keeps the ones not yet dismissed.
type LogNotifier struct {
	mutex         sync.Mutex
	nextID        int
	notifications map[string]agent.Notification
}

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{notifications: make(map[string]agent.Notification)}
}

func (n *LogNotifier) ShowNotification(_ context.Context, title string, opts agent.NotificationOptions) error {
	n.mutex.Lock()
	defer n.mutex.Unlock()

	n.nextID++
	id := strconv.Itoa(n.nextID)
	n.notifications[id] = agent.Notification{ID: id, Title: title, Options: opts}

	logrus.WithFields(logrus.Fields{
		"id":    id,
		"title": title,
		"body":  opts.Body,
	}).Info("Showing notification")
	return nil
}

func (n *LogNotifier) CloseNotification(_ context.Context, id string) error {
	n.mutex.Lock()
	defer n.mutex.Unlock()

	if _, ok := n.notifications[id]; ok {
		delete(n.notifications, id)
		logrus.Debugf("Closed notification %s", id)
	}
	return nil
}

// Get returns a displayed notification by id
func (n *LogNotifier) Get(id string) (agent.Notification, bool) {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	notification, ok := n.notifications[id]
	return notification, ok
}

// List returns the displayed notifications, oldest first
func (n *LogNotifier) List() []agent.Notification {
	n.mutex.Lock()
	defer n.mutex.Unlock()

	list := make([]agent.Notification, 0, len(n.notifications))
	for _, notification := range n.notifications {
		list = append(list, notification)
	}
	sort.Slice(list, func(i, j int) bool {
		a, _ := strconv.Atoi(list[i].ID)
		b, _ := strconv.Atoi(list[j].ID)
		return a < b
	})
	return list
}
