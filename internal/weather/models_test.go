package weather_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/weatherdash/weatherdash/internal/weather"
)

func TestForecast_HourlyTimesAndDailyDates(t *testing.T) {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	f := &weather.Forecast{
		Hourly: []weather.HourlyRecord{
			{Time: start},
			{Time: start.Add(time.Hour)},
		},
		Daily: []weather.DailyRecord{
			{Date: "2024-03-01"},
			{Date: "2024-03-02"},
		},
	}

	assert.Equal(t, []time.Time{start, start.Add(time.Hour)}, f.HourlyTimes())
	assert.Equal(t, []string{"2024-03-01", "2024-03-02"}, f.DailyDates())
}

func TestResolveLocation(t *testing.T) {
	loc := weather.ResolveLocation("Europe/Amsterdam", 3600)
	assert.Equal(t, "Europe/Amsterdam", loc.String())

	fixed := weather.ResolveLocation("Not/AZone", 7200)
	_, offset := time.Date(2024, 1, 1, 0, 0, 0, 0, fixed).Zone()
	assert.Equal(t, 7200, offset)

	utc := weather.ResolveLocation("", 0)
	_, offset = time.Date(2024, 1, 1, 0, 0, 0, 0, utc).Zone()
	assert.Equal(t, 0, offset)
}

func TestResponseZone(t *testing.T) {
	loc := weather.ResponseZone("America/New_York", -5*3600)
	assert.Equal(t, "America/New_York", loc.String())

	// The declared offset holds on both sides of the 2024-03-10 change.
	before := time.Date(2024, 3, 10, 1, 0, 0, 0, loc)
	after := time.Date(2024, 3, 10, 2, 0, 0, 0, loc)
	assert.Equal(t, time.Hour, after.Sub(before))
	_, offset := after.Zone()
	assert.Equal(t, -5*3600, offset)

	_, offset = time.Date(2024, 1, 1, 0, 0, 0, 0, weather.ResponseZone("", 0)).Zone()
	assert.Equal(t, 0, offset)
}

func TestValidateCoordinates(t *testing.T) {
	assert.NoError(t, weather.ValidateCoordinates(52.37, 4.89))
	assert.NoError(t, weather.ValidateCoordinates(-90, 180))
	assert.ErrorIs(t, weather.ValidateCoordinates(91, 0), weather.ErrInvalidCoordinates)
	assert.ErrorIs(t, weather.ValidateCoordinates(0, -181), weather.ErrInvalidCoordinates)
}

func TestLookupCondition(t *testing.T) {
	clear := weather.LookupCondition(0)
	assert.Equal(t, "Clear sky", clear.Description)
	assert.Equal(t, "clear-day", clear.Icon(true))
	assert.Equal(t, "clear-night", clear.Icon(false))

	storm := weather.LookupCondition(95)
	assert.Equal(t, "Thunderstorm", storm.Description)

	assert.Equal(t, weather.UnknownCondition, weather.LookupCondition(42))
}

func TestCompassPoint(t *testing.T) {
	tests := []struct {
		deg  float64
		want string
	}{
		{0, "N"},
		{360, "N"},
		{11, "N"},
		{12, "NNE"},
		{90, "E"},
		{180, "S"},
		{225, "SW"},
		{270, "W"},
		{350, "N"},
		{-90, "W"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, weather.CompassPoint(tt.deg), "CompassPoint(%v)", tt.deg)
	}
}
