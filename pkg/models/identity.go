package models

import "time"

// Identity binds a transient connection to a stable user code. The code is
// the durable part; the connection id is rebound on every reconnect.
type Identity struct {
	ConnectionID string    `json:"connectionId"`
	UserCode     string    `json:"userCode"`
	Name         string    `json:"name"`
	DeviceType   string    `json:"deviceType"`
	LastSeen     time.Time `json:"lastSeen"`
}
