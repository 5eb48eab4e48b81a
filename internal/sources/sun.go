package sources

import (
	"math"
	"time"
)

const (
	julianUnixEpoch = 2440587.5
	julian2000      = 2451545.0
	secondsPerDay   = 86400.0
)

// SunTimes returns sunrise and sunset for the calendar day of date at the
// given position, using the NOAA-style sunrise equation with a -0.833°
// horizon. ok is false during polar day or night.
func SunTimes(date time.Time, lat, lon float64) (rise, set time.Time, ok bool) {
	noon := time.Date(date.Year(), date.Month(), date.Day(), 12, 0, 0, 0, time.UTC)
	jd := float64(noon.Unix())/secondsPerDay + julianUnixEpoch

	n := math.Ceil(jd - julian2000 + 0.0008)
	meanNoon := n - lon/360

	m := math.Mod(357.5291+0.98560028*meanNoon, 360)
	mr := rad(m)
	c := 1.9148*math.Sin(mr) + 0.02*math.Sin(2*mr) + 0.0003*math.Sin(3*mr)
	lambda := math.Mod(m+c+180+102.9372, 360)
	lr := rad(lambda)
	transit := julian2000 + meanNoon + 0.0053*math.Sin(mr) - 0.0069*math.Sin(2*lr)

	sinDecl := math.Sin(lr) * math.Sin(rad(23.4397))
	cosDecl := math.Cos(math.Asin(sinDecl))
	phi := rad(lat)
	cosOmega := (math.Sin(rad(-0.833)) - math.Sin(phi)*sinDecl) / (math.Cos(phi) * cosDecl)
	if cosOmega < -1 || cosOmega > 1 {
		return time.Time{}, time.Time{}, false
	}
	omega := math.Acos(cosOmega) * 180 / math.Pi

	return fromJulian(transit - omega/360), fromJulian(transit + omega/360), true
}

func rad(deg float64) float64 { return deg * math.Pi / 180 }

func fromJulian(j float64) time.Time {
	sec := (j - julianUnixEpoch) * secondsPerDay
	whole, frac := math.Modf(sec)
	return time.Unix(int64(whole), int64(frac*1e9)).UTC()
}
