package notify

import (
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"
)

// Freedesktop notification service.
const (
	notificationsName   = "org.freedesktop.Notifications"
	notificationsPath   = dbus.ObjectPath("/org/freedesktop/Notifications")
	notificationsNotify = notificationsName + ".Notify"
)

// DBusNotifier sends notifications through org.freedesktop.Notifications.
type DBusNotifier struct {
	obj dbus.BusObject

	// Timeout in milliseconds; -1 leaves it to the server.
	Timeout int32
}

// NewDBusNotifier connects to the session bus.
func NewDBusNotifier() (*DBusNotifier, error) {
	conn, err := dbus.SessionBus()
	if err != nil {
		return nil, fmt.Errorf("connect to session bus: %w", err)
	}
	return NewDBusNotifierWithObject(conn.Object(notificationsName, notificationsPath)), nil
}

// NewDBusNotifierWithObject uses an existing bus object.
func NewDBusNotifierWithObject(obj dbus.BusObject) *DBusNotifier {
	return &DBusNotifier{obj: obj, Timeout: -1}
}

// Notify posts a notification and discards the id the server assigns.
func (n *DBusNotifier) Notify(ctx context.Context, title, body string) error {
	call := n.obj.CallWithContext(ctx, notificationsNotify, 0,
		AppName,
		uint32(0), // replaces_id
		"",        // app_icon
		title,
		body,
		[]string{},
		map[string]dbus.Variant{},
		n.Timeout,
	)
	var id uint32
	if err := call.Store(&id); err != nil {
		return fmt.Errorf("notify: %w", err)
	}
	return nil
}
