//go:build !linux

package notify

import "errors"

func platformNotifier() (Notifier, error) {
	return nil, errors.New("no notification service on this platform")
}
