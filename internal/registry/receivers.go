package registry

import (
	"github.com/robertkrimen/otto"

	"github.com/wtsi-hgi/cookiemonster/internal/model"
)

// NotificationReceiverEntry wraps a model.NotificationReceiver with its
// source-file and load-generation bookkeeping.
type NotificationReceiverEntry struct {
	model.NotificationReceiver
	Source     string
	Generation string
}

// ID implements Registrable.
func (e NotificationReceiverEntry) ID() string { return e.NotificationReceiver.ID }

// Priority implements Registrable.
func (e NotificationReceiverEntry) Priority() int { return e.NotificationReceiver.Priority }

func notificationReceiverSource(e NotificationReceiverEntry) string { return e.Source }

// buildNotificationReceiver wraps a register()-ed JS object exposing id,
// priority and receive(notification, ctx) into a NotificationReceiverEntry.
// Receive is fire-and-forget (§4.5, "fan them out ... best-effort"), so any
// JS error is swallowed.
func buildNotificationReceiver(loaded *Loaded, obj *otto.Object, source, generation string) NotificationReceiverEntry {
	mu := loaded.Mu
	vm := loaded.VM
	return NotificationReceiverEntry{
		Source:     source,
		Generation: generation,
		NotificationReceiver: model.NotificationReceiver{
			ID:       stringField(obj, "id"),
			Priority: intField(obj, "priority"),
			Receive: func(notification model.Notification, ctx model.Context) {
				mu.Lock()
				defer mu.Unlock()
				callVoid(obj, "receive", map[string]any{
					"about":  notification.About,
					"sender": notification.Sender,
					"data":   notification.Data,
				}, contextToJS(vm, ctx))
			},
		},
	}
}
