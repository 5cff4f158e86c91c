package session

import (
	"net"
	"strings"
)

// DeviceType is the client platform that owns a session.
type DeviceType string

const (
	DeviceWeb     DeviceType = "web"
	DeviceIOS     DeviceType = "ios"
	DeviceAndroid DeviceType = "android"
	DeviceDesktop DeviceType = "desktop"
	DeviceUnknown DeviceType = "unknown"
)

// ParseDeviceType maps free-form client input to a DeviceType.
func ParseDeviceType(s string) DeviceType {
	switch DeviceType(strings.ToLower(strings.TrimSpace(s))) {
	case DeviceWeb:
		return DeviceWeb
	case DeviceIOS:
		return DeviceIOS
	case DeviceAndroid:
		return DeviceAndroid
	case DeviceDesktop:
		return DeviceDesktop
	default:
		return DeviceUnknown
	}
}

// Device describes the client presenting credentials.
type Device struct {
	Name      string
	Type      DeviceType
	IP        net.IP
	UserAgent string
}

const (
	maxDeviceName = 128
	maxUserAgent  = 512
)

func (d Device) sanitized() Device {
	d.Name = truncate(strings.TrimSpace(d.Name), maxDeviceName)
	d.UserAgent = truncate(strings.TrimSpace(d.UserAgent), maxUserAgent)
	if d.Type == "" {
		d.Type = DeviceUnknown
	}
	return d
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func ipString(ip net.IP) string {
	if ip == nil {
		return ""
	}
	return ip.String()
}
