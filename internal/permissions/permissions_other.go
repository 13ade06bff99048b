//go:build !darwin && !linux

package permissions

func platformCheck() Result {
	return Result{
		Status:  StatusUnknown,
		Message: "keyboard interception is not supported on this platform",
	}
}

func platformPrompt() Result {
	return platformCheck()
}
