package models

import (
	"strings"
	"time"
)

// DeviceSession is the registry's record that a device currently occupies
// one of an account's device slots. It is not a web session.
type DeviceSession struct {
	AccountID    string
	DeviceID     string
	DeviceName   string
	Descriptor   string
	LastActiveAt time.Time
	CreatedAt    time.Time
}

// DeviceNameFromDescriptor classifies a client-supplied descriptor string
// (typically a user agent) into a human-readable device name. The result is
// informational only and never participates in identity or limit decisions.
func DeviceNameFromDescriptor(descriptor string) string {
	d := strings.ToLower(descriptor)

	if strings.Contains(d, "mobile") || strings.Contains(d, "android") || strings.Contains(d, "iphone") {
		switch {
		case strings.Contains(d, "iphone"):
			return "iPhone"
		case strings.Contains(d, "ipad"):
			return "iPad"
		case strings.Contains(d, "android"):
			return "Android Device"
		default:
			return "Mobile Device"
		}
	}

	switch {
	case strings.Contains(d, "ipad"):
		return "iPad"
	case strings.Contains(d, "mac"):
		return "Mac"
	case strings.Contains(d, "windows"):
		return "Windows PC"
	case strings.Contains(d, "linux"):
		return "Linux PC"
	}

	return "Unknown Device"
}
