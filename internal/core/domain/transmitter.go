package domain

import "time"

// TelecomFeature is an OSM element tagged as telecom infrastructure.
type TelecomFeature struct {
	ID   string            `json:"id"`
	Type string            `json:"type"` // node | way | relation
	Lat  *float64          `json:"lat,omitempty"`
	Lon  *float64          `json:"lon,omitempty"`
	Tags map[string]string `json:"tags,omitempty"`
}

// Transmitter is a radio site derived from a telecom feature.
type Transmitter struct {
	ID          string     `json:"id"`
	RunID       string     `json:"run_id,omitempty"`
	Location    GeoPoint   `json:"location"`
	Local       LocalPoint `json:"local"`
	Height      float64    `json:"height_m"`
	GroundZ     float64    `json:"ground_z"`
	Model       string     `json:"model"`
	Type        string     `json:"type"`
	PowerDBm    float64    `json:"power_dbm"`
	Tilt        float64    `json:"tilt"`
	Azimuth     float64    `json:"azimuth"`
	Frequency   float64    `json:"frequency_hz"`
	ActiveUsers int        `json:"active_users"`
	CreatedAt   time.Time  `json:"created_at,omitempty"`
}
