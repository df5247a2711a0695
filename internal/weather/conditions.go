package weather

// Condition describes a WMO weather interpretation code.
type Condition struct {
	Code        int    `json:"code"`
	Description string `json:"description"`
	DayIcon     string `json:"dayIcon"`
	NightIcon   string `json:"nightIcon"`
}

// Icon returns the icon for the time of day.
func (c Condition) Icon(isDay bool) string {
	if isDay {
		return c.DayIcon
	}
	return c.NightIcon
}

// UnknownCondition is returned for codes outside the WMO table.
var UnknownCondition = Condition{
	Code:        -1,
	Description: "Unknown",
	DayIcon:     "unknown",
	NightIcon:   "unknown",
}

var conditions = map[int]Condition{
	0:  {0, "Clear sky", "clear-day", "clear-night"},
	1:  {1, "Mainly clear", "mostly-clear-day", "mostly-clear-night"},
	2:  {2, "Partly cloudy", "partly-cloudy-day", "partly-cloudy-night"},
	3:  {3, "Overcast", "overcast", "overcast"},
	45: {45, "Fog", "fog-day", "fog-night"},
	48: {48, "Depositing rime fog", "fog-day", "fog-night"},
	51: {51, "Light drizzle", "drizzle", "drizzle"},
	53: {53, "Moderate drizzle", "drizzle", "drizzle"},
	55: {55, "Dense drizzle", "drizzle", "drizzle"},
	56: {56, "Light freezing drizzle", "sleet", "sleet"},
	57: {57, "Dense freezing drizzle", "sleet", "sleet"},
	61: {61, "Slight rain", "rain", "rain"},
	63: {63, "Moderate rain", "rain", "rain"},
	65: {65, "Heavy rain", "heavy-rain", "heavy-rain"},
	66: {66, "Light freezing rain", "sleet", "sleet"},
	67: {67, "Heavy freezing rain", "sleet", "sleet"},
	71: {71, "Slight snow fall", "snow", "snow"},
	73: {73, "Moderate snow fall", "snow", "snow"},
	75: {75, "Heavy snow fall", "heavy-snow", "heavy-snow"},
	77: {77, "Snow grains", "snow", "snow"},
	80: {80, "Slight rain showers", "showers-day", "showers-night"},
	81: {81, "Moderate rain showers", "showers-day", "showers-night"},
	82: {82, "Violent rain showers", "heavy-rain", "heavy-rain"},
	85: {85, "Slight snow showers", "snow-showers-day", "snow-showers-night"},
	86: {86, "Heavy snow showers", "heavy-snow", "heavy-snow"},
	95: {95, "Thunderstorm", "thunderstorm", "thunderstorm"},
	96: {96, "Thunderstorm with slight hail", "thunderstorm-hail", "thunderstorm-hail"},
	99: {99, "Thunderstorm with heavy hail", "thunderstorm-hail", "thunderstorm-hail"},
}

// LookupCondition returns the condition for a WMO code, or UnknownCondition.
func LookupCondition(code int) Condition {
	if c, ok := conditions[code]; ok {
		return c
	}
	return UnknownCondition
}
