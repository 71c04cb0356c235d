package audit

import "fmt"

// Device is a screen emulation preset shared by the browser and the audit engine.
type Device struct {
	Name              string
	Mobile            bool
	Width             int64
	Height            int64
	DeviceScaleFactor float64
	UserAgent         string
}

// Device presets.
var (
	Desktop = Device{
		Name:              "desktop",
		Width:             1350,
		Height:            940,
		DeviceScaleFactor: 1,
		UserAgent:         "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/109.0.0.0 Safari/537.36",
	}
	Mobile = Device{
		Name:              "mobile",
		Mobile:            true,
		Width:             412,
		Height:            823,
		DeviceScaleFactor: 1.75,
		UserAgent:         "Mozilla/5.0 (Linux; Android 11; moto g power (2022)) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/109.0.0.0 Mobile Safari/537.36",
	}
)

// LookupDevice returns the preset named name.
func LookupDevice(name string) (Device, error) {
	switch name {
	case Desktop.Name:
		return Desktop, nil
	case Mobile.Name:
		return Mobile, nil
	default:
		return Device{}, fmt.Errorf("unknown device %q", name)
	}
}
