package rst_simulator

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

const deg = math.Pi / 180

// localSiderealTime returns the local sidereal time in hours for a west
// positive longitude.
func localSiderealTime(t time.Time, longitude float64) float64 {
	jd := float64(t.UnixNano())/86400e9 + 2440587.5
	gmst := 18.697374558 + 24.06570982441908*(jd-2451545.0)
	return wrap(gmst-longitude/15, 24)
}

func wrap(v, period float64) float64 {
	v = math.Mod(v, period)
	if v < 0 {
		v += period
	}
	return v
}

// toHorizontal converts RA (hours) and Dec (degrees) to altitude and azimuth,
// azimuth measured from north through east.
func toHorizontal(ra, dec, lst, lat float64) (alt, az float64) {
	ha := (lst - ra) * 15 * deg
	d, phi := dec*deg, lat*deg

	alt = math.Asin(math.Sin(d)*math.Sin(phi) + math.Cos(d)*math.Cos(phi)*math.Cos(ha))
	az = math.Atan2(-math.Cos(d)*math.Sin(ha), math.Sin(d)*math.Cos(phi)-math.Cos(d)*math.Sin(phi)*math.Cos(ha))
	return alt / deg, wrap(az/deg, 360)
}

func toEquatorial(alt, az, lst, lat float64) (ra, dec float64) {
	a, z, phi := alt*deg, az*deg, lat*deg

	d := math.Asin(math.Sin(a)*math.Sin(phi) + math.Cos(a)*math.Cos(phi)*math.Cos(z))
	ha := math.Atan2(-math.Sin(z)*math.Cos(a), math.Cos(phi)*math.Sin(a)-math.Sin(phi)*math.Cos(a)*math.Cos(z))
	return wrap(lst-ha/deg/15, 24), d / deg
}

// split breaks v into whole units, minutes and seconds rounded to the given
// number of decimals.
func split(v float64, decimals int) (neg bool, units, minutes int, seconds float64) {
	neg = v < 0
	scale := math.Pow(10, float64(decimals))
	total := math.Round(math.Abs(v) * 3600 * scale)
	units = int(total / (3600 * scale))
	total -= float64(units) * 3600 * scale
	minutes = int(total / (60 * scale))
	total -= float64(minutes) * 60 * scale
	return neg, units, minutes, total / scale
}

func formatHours(h float64) string {
	_, hh, mm, ss := split(wrap(h, 24), 1)
	return fmt.Sprintf("%02d:%02d:%04.1f", hh%24, mm, ss)
}

func formatSigned(v float64) string {
	neg, dd, mm, ss := split(v, 0)
	sign := '+'
	if neg && (dd != 0 || mm != 0 || ss != 0) {
		sign = '-'
	}
	return fmt.Sprintf("%c%02d*%02d'%02d", sign, dd, mm, int(ss))
}

func formatAzimuth(v float64) string {
	_, dd, mm, ss := split(wrap(v, 360), 1)
	return fmt.Sprintf("%03d*%02d'%04.1f", dd%360, mm, ss)
}

// parseAngle reads "±DD*MM:SS.S", "DDD*MM'SS.S" or "HH:MM:SS.S".
func parseAngle(s string) (float64, error) {
	s = strings.TrimSpace(s)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimLeft(s, "+-")
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ':' || r == '*' || r == '\''
	})
	if len(fields) != 3 {
		return 0, fmt.Errorf("bad angle %q", s)
	}

	var v float64
	for i, f := range fields {
		x, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return 0, fmt.Errorf("bad angle %q: %v", s, err)
		}
		v += x / math.Pow(60, float64(i))
	}
	if neg {
		v = -v
	}
	return v, nil
}
