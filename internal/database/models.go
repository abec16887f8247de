package database

import (
	"time"
)

// DateLayout is the calendar-day key used by daily_aqi.
const DateLayout = "2006-01-02"

// DailyAQI is the running aggregate of one location's readings on one day.
type DailyAQI struct {
	Location    string
	Date        time.Time
	AvgAQI      float64
	MinAQI      int
	MaxAQI      int
	SampleCount int
	UpdatedAt   time.Time
}

// Rounded returns the day's average as a whole AQI value.
func (d *DailyAQI) Rounded() int {
	return int(d.AvgAQI + 0.5)
}
