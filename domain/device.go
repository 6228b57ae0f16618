package domain

// DeviceIdentity is the client-generated stable identifier for an install,
// plus platform metadata. Created lazily on first need and reused for the
// lifetime of the install.
type DeviceIdentity struct {
	ID        string `json:"device_id"`
	Platform  string `json:"platform"`
	OSVersion string `json:"os_version,omitempty"`

	// Ephemeral marks a fallback identity substituted after a storage
	// failure; it is not persisted and changes on the next process start.
	Ephemeral bool `json:"-"`
}
