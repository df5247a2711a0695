package dashboard

import (
	"time"

	"github.com/weatherdash/weatherdash/internal/airquality"
	"github.com/weatherdash/weatherdash/internal/weather"
)

// Unit selects the temperature scale.
type Unit string

const (
	UnitCelsius    Unit = "celsius"
	UnitFahrenheit Unit = "fahrenheit"
)

// Symbol returns the display suffix for the unit.
func (u Unit) Symbol() string {
	if u == UnitFahrenheit {
		return "°F"
	}
	return "°C"
}

// Span selects the forecast strip shown in the grid.
type Span string

const (
	// SpanToday shows the next 24 hourly entries.
	SpanToday Span = "today"
	// SpanWeek shows the daily cards.
	SpanWeek Span = "week"
)

// HourlySpan is the number of hourly entries shown for SpanToday.
const HourlySpan = 24

// ClockLayout formats wall-clock times as "03:04 PM".
const ClockLayout = "03:04 PM"

// ViewOptions are the display toggles.
type ViewOptions struct {
	Unit Unit `json:"unit" validate:"omitempty,oneof=celsius fahrenheit"`
	Span Span `json:"span" validate:"omitempty,oneof=today week"`
}

// WithDefaults fills unset toggles.
func (o ViewOptions) WithDefaults() ViewOptions {
	if o.Unit == "" {
		o.Unit = UnitCelsius
	}
	if o.Span == "" {
		o.Span = SpanWeek
	}
	return o
}

// View is the display model of the dashboard.
type View struct {
	Ready   bool `json:"ready"`
	Loading bool `json:"loading"`
	Stale   bool `json:"stale"`

	Unit Unit `json:"unit"`
	Span Span `json:"span"`

	Sidebar    Sidebar     `json:"sidebar"`
	Days       []DayCard   `json:"days,omitempty"`
	Hours      []HourCard  `json:"hours,omitempty"`
	Highlights *Highlights `json:"highlights,omitempty"`

	Warnings  []Warning  `json:"warnings,omitempty"`
	LastError *ErrorInfo `json:"lastError,omitempty"`
	FetchedAt *time.Time `json:"fetchedAt,omitempty"`
}

// Sidebar is the left column: current conditions and location.
type Sidebar struct {
	Temperature         int     `json:"temperature"`
	ApparentTemperature int     `json:"apparentTemperature"`
	UnitSymbol          string  `json:"unitSymbol"`
	Condition           string  `json:"condition"`
	Icon                string  `json:"icon"`
	RainChance          float64 `json:"rainChance"`
	Clock               string  `json:"clock"`
	Date                string  `json:"date"`
	Address             string  `json:"address"`
	IsDay               bool    `json:"isDay"`
}

// DayCard is one daily forecast card.
type DayCard struct {
	Date      string `json:"date"`
	Weekday   string `json:"weekday"`
	Max       int    `json:"max"`
	Min       int    `json:"min"`
	Icon      string `json:"icon"`
	Condition string `json:"condition"`
	Today     bool   `json:"today"`
}

// HourCard is one hourly forecast card.
type HourCard struct {
	Time        string `json:"time"`
	Temperature int    `json:"temperature"`
	Icon        string `json:"icon"`
	Condition   string `json:"condition"`
	Current     bool   `json:"current"`
}

// Highlights are the detail cards of the grid.
type Highlights struct {
	UVIndex         float64          `json:"uvIndex"`
	UVLevel         string           `json:"uvLevel"`
	WindSpeed       float64          `json:"windSpeed"`
	WindDirection   float64          `json:"windDirection"`
	WindCompass     string           `json:"windCompass"`
	Humidity        float64          `json:"humidity"`
	VisibilityKm    float64          `json:"visibilityKm"`
	AQI             *int             `json:"aqi,omitempty"`
	AQICategory     airquality.Level `json:"aqiCategory,omitempty"`
	Sunrise         string           `json:"sunrise"`
	Sunset          string           `json:"sunset"`
	CloudCover      float64          `json:"cloudCover"`
	SurfacePressure float64          `json:"surfacePressure"`
}

// BuildView derives the display model. A nil snapshot yields a view that is
// not ready and carries only the status.
func BuildView(snap *Snapshot, st Status, opts ViewOptions) *View {
	opts = opts.WithDefaults()

	v := &View{
		Loading:   st.Loading,
		Stale:     st.Stale,
		Unit:      opts.Unit,
		Span:      opts.Span,
		LastError: st.LastError,
	}
	v.Sidebar.UnitSymbol = opts.Unit.Symbol()

	if snap == nil {
		return v
	}

	v.Ready = true
	fetchedAt := snap.FetchedAt
	v.FetchedAt = &fetchedAt
	v.Warnings = snap.Warnings

	cur := snap.Current
	h := snap.Hourly[snap.HourlyIndex]
	zone := snap.Zone()
	clock := cur.Clock.In(zone)

	v.Sidebar = Sidebar{
		Temperature:         temperature(h.Temperature, opts.Unit),
		ApparentTemperature: temperature(h.ApparentTemperature, opts.Unit),
		UnitSymbol:          opts.Unit.Symbol(),
		Condition:           cur.Condition.Description,
		Icon:                cur.Condition.Icon(snap.IsDay),
		RainChance:          cur.PrecipitationProbability,
		Clock:               clock.Format(ClockLayout),
		Date:                clock.Format("Monday, 2 January"),
		Address:             snap.Address.Label(),
		IsDay:               snap.IsDay,
	}

	switch opts.Span {
	case SpanToday:
		end := snap.HourlyIndex + HourlySpan
		if end > len(snap.Hourly) {
			end = len(snap.Hourly)
		}
		for i := snap.HourlyIndex; i < end; i++ {
			rec := snap.Hourly[i]
			cond := weather.LookupCondition(rec.WeatherCode)
			v.Hours = append(v.Hours, HourCard{
				Time:        rec.Time.In(zone).Format("3 PM"),
				Temperature: temperature(rec.Temperature, opts.Unit),
				Icon:        cond.Icon(isDaytime(snap, rec.Time)),
				Condition:   cond.Description,
				Current:     i == snap.HourlyIndex,
			})
		}
	default:
		for i, d := range snap.Daily {
			cond := weather.LookupCondition(d.WeatherCode)
			v.Days = append(v.Days, DayCard{
				Date:      d.Date,
				Weekday:   weekday(d.Date),
				Max:       temperature(d.TemperatureMax, opts.Unit),
				Min:       temperature(d.TemperatureMin, opts.Unit),
				Icon:      cond.DayIcon,
				Condition: cond.Description,
				Today:     i == snap.DailyIndex && snap.DailyIndexExact,
			})
		}
	}

	v.Highlights = &Highlights{
		UVIndex:         cur.UVIndex,
		UVLevel:         uvLevel(cur.UVIndex),
		WindSpeed:       cur.WindSpeed,
		WindDirection:   cur.WindDirection,
		WindCompass:     cur.WindCompass,
		Humidity:        cur.Humidity,
		VisibilityKm:    cur.Visibility / 1000,
		AQI:             cur.AQI,
		AQICategory:     cur.AQICategory,
		Sunrise:         formatClock(cur.Sunrise, zone),
		Sunset:          formatClock(cur.Sunset, zone),
		CloudCover:      cur.CloudCover,
		SurfacePressure: cur.SurfacePressure,
	}

	return v
}

// temperature converts a Celsius value to the unit and rounds it.
func temperature(celsius float64, unit Unit) int {
	if unit == UnitFahrenheit {
		return weather.Round(weather.CelsiusToFahrenheit(celsius))
	}
	return weather.Round(celsius)
}

func formatClock(t time.Time, zone *time.Location) string {
	if t.IsZero() {
		return "--:--"
	}
	return t.In(zone).Format(ClockLayout)
}

func weekday(date string) string {
	t, err := time.Parse(weather.DateLayout, date)
	if err != nil {
		return ""
	}
	return t.Format("Mon")
}

// isDaytime checks t against the sunrise and sunset of its own day.
func isDaytime(snap *Snapshot, t time.Time) bool {
	date := t.In(snap.Zone()).Format(weather.DateLayout)
	for _, d := range snap.Daily {
		if d.Date == date && !d.Sunrise.IsZero() && !d.Sunset.IsZero() {
			return !t.Before(d.Sunrise) && t.Before(d.Sunset)
		}
	}
	return snap.IsDay
}

func uvLevel(uv float64) string {
	switch {
	case uv < 3:
		return "Low"
	case uv < 6:
		return "Moderate"
	case uv < 8:
		return "High"
	case uv < 11:
		return "Very High"
	default:
		return "Extreme"
	}
}
