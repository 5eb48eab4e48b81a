package models

// IconSyncProblem is the Feather icon shown when weather data is missing.
const IconSyncProblem = "alert-triangle"

// NoUnusualHoliday is the sentinel title stored when the unusual-holidays
// calendar has nothing for today. The banner is suppressed for it.
const NoUnusualHoliday = "Brak nietypowych świąt dzisiaj."

// DefaultTime returns the placeholder used when time.json is unreadable.
func DefaultTime() TimeData {
	return TimeData{Time: "??:??", Date: "Brak daty", Weekday: "Brak dnia"}
}

// DefaultWeather returns the placeholder used when weather.json is unreadable.
func DefaultWeather() WeatherData {
	return WeatherData{
		Icon:            IconSyncProblem,
		ForecastIcon:    IconSyncProblem,
		TempReal:        Placeholder,
		Humidity:        Placeholder,
		Pressure:        Placeholder,
		Sunrise:         "--:--",
		Sunset:          "--:--",
		ForecastTempMin: Placeholder,
		ForecastTempMax: Placeholder,
	}
}

// DefaultAirQuality returns the placeholder used when Airly data is
// unavailable. The same document is written on a first-run fetch failure.
func DefaultAirQuality() AirQualityData {
	return AirQualityData{
		Current: AirCurrent{
			Values: []AirValue{},
			Indexes: []AirIndex{
				{Name: "AIRLY_CAQI", Value: 0, Level: "UNKNOWN", Description: "Brak danych"},
			},
		},
	}
}

// DefaultCalendar returns the placeholder used when calendar.json is
// unreadable.
func DefaultCalendar() CalendarData {
	return CalendarData{
		UpcomingEvents: []Event{},
		EventDates:     []string{},
		HolidayDates:   []string{},
		MonthCalendar:  [][]DayCell{},
	}
}

// Snapshots groups every document the compositor reads for one frame.
type Snapshots struct {
	Time       TimeData
	Weather    WeatherData
	AirQuality AirQualityData
	Calendar   CalendarData
}

// DefaultSnapshots returns all placeholders.
func DefaultSnapshots() Snapshots {
	return Snapshots{
		Time:       DefaultTime(),
		Weather:    DefaultWeather(),
		AirQuality: DefaultAirQuality(),
		Calendar:   DefaultCalendar(),
	}
}
