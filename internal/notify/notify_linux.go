//go:build linux

package notify

func platformNotifier() (Notifier, error) {
	return NewDBusNotifier()
}
