package domain

// DeviceClass is derived from the viewport width
type DeviceClass string

const (
	DeviceMobile  DeviceClass = "mobile"
	DeviceTablet  DeviceClass = "tablet"
	DeviceDesktop DeviceClass = "desktop"
)

// IsTouch reports whether the device class has no pointer-exit signal
func (d DeviceClass) IsTouch() bool {
	return d == DeviceMobile || d == DeviceTablet
}

// Context is the sensed visitor context. It is rebuilt for every evaluation and never cached.
type Context struct {
	DeviceClass DeviceClass
	URL         string
	Referrer    string
	Attributes  map[string]any

	PageViews     int
	SessionsCount int
	Returning     bool
}
