package models

import "github.com/weatherdash/weatherdash/internal/dashboard"

// RefreshRequest is the optional body of POST /v1/dashboard/refresh. When
// both coordinates are set the dashboard moves there before refreshing.
type RefreshRequest struct {
	Lat *float64 `json:"lat" validate:"omitempty,latitude"`
	Lon *float64 `json:"lon" validate:"omitempty,longitude"`
}

// HasLocation reports whether the request carries a position.
func (r RefreshRequest) HasLocation() bool {
	return r.Lat != nil && r.Lon != nil
}

// RefreshResponse reports a completed refresh and the resulting view.
type RefreshResponse struct {
	// Seq is the sequence number of the published snapshot. It is 0 when
	// the refresh was superseded by a newer one.
	Seq uint64 `json:"seq"`

	// Superseded is set when a newer refresh published first.
	Superseded bool `json:"superseded"`

	DurationMs int64           `json:"durationMs"`
	View       *dashboard.View `json:"view"`
}
