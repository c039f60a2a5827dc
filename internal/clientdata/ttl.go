package clientdata

import "time"

// TTL constants for different data types.
// These are added to time.Now() when storing to calculate expires_at.
const (
	// Historical daily series never revise once a growing season closes
	TTLWeatherArchive = 30 * 24 * time.Hour // 30 days

	// Region-to-coordinate lookups are effectively static
	TTLGeocode = 90 * 24 * time.Hour // 90 days
)
