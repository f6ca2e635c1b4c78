package rst

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrParse is returned by the decoders for text that is not a valid
// sexagesimal value. It is never converted to a zero value.
var ErrParse = errors.New("parse failure")

// Format selects one of the sexagesimal encodings spoken by the controller.
// The mount silently ignores a target written in the wrong format, so every
// encoder is tied to exactly one tag.
type Format int

const (
	FormatHours       Format = iota // HH:MM:SS.S
	FormatSignedDMS                 // ±DD*MM'SS, site coordinates
	FormatSignedDMSt                // ±DD*MM:SS.S, declination and altitude targets
	FormatAzimuthDMSt               // DDD*MM'SS.S, azimuth targets
)

func (f Format) String() string {
	switch f {
	case FormatHours:
		return "HH:MM:SS.S"
	case FormatSignedDMS:
		return "±DD*MM'SS"
	case FormatSignedDMSt:
		return "±DD*MM:SS.S"
	case FormatAzimuthDMSt:
		return "DDD*MM'SS.S"
	default:
		return "unknown"
	}
}

// wireFormat describes the field layout of a Format.
type wireFormat struct {
	signed  bool
	width   int  // digits in the leading field
	unitSep byte // separator after the leading field
	minSep  byte // separator after the minutes field
	tenths  bool // seconds carry one decimal
	wrap    int  // modulus of the leading field, 0 when the value is not cyclic
}

var wireFormats = map[Format]wireFormat{
	FormatHours:       {width: 2, unitSep: ':', minSep: ':', tenths: true, wrap: 24},
	FormatSignedDMS:   {signed: true, width: 2, unitSep: '*', minSep: '\''},
	FormatSignedDMSt:  {signed: true, width: 2, unitSep: '*', minSep: ':', tenths: true},
	FormatAzimuthDMSt: {width: 3, unitSep: '*', minSep: '\'', tenths: true, wrap: 360},
}

// Encode renders v in the given wire format. Rounding is done once on the
// total number of (tenths of) seconds so carries propagate into minutes and
// the leading field.
func Encode(f Format, v float64) string {
	wf, ok := wireFormats[f]
	if !ok {
		return ""
	}

	sign := byte('+')
	if wf.wrap > 0 {
		v = math.Mod(v, float64(wf.wrap))
		if v < 0 {
			v += float64(wf.wrap)
		}
	} else if v < 0 {
		sign = '-'
		v = -v
	}

	perSecond := int64(1)
	if wf.tenths {
		perSecond = 10
	}
	perMinute := 60 * perSecond
	perUnit := 60 * perMinute

	n := int64(math.Round(v * float64(perUnit)))
	if n == 0 {
		sign = '+'
	}
	units := n / perUnit
	rem := n % perUnit
	minutes := rem / perMinute
	rem %= perMinute
	if wf.wrap > 0 {
		units %= int64(wf.wrap)
	}

	var sb strings.Builder
	if wf.signed {
		sb.WriteByte(sign)
	}
	fmt.Fprintf(&sb, "%0*d%c%02d%c", wf.width, units, wf.unitSep, minutes, wf.minSep)
	if wf.tenths {
		fmt.Fprintf(&sb, "%02d.%d", rem/perSecond, rem%perSecond)
	} else {
		fmt.Fprintf(&sb, "%02d", rem)
	}
	return sb.String()
}

// HoursToHMS encodes right ascension hours as HH:MM:SS.S.
func HoursToHMS(hours float64) string { return Encode(FormatHours, hours) }

// DegreesToSignedDMS encodes an angle as ±DD*MM'SS with rounded seconds.
func DegreesToSignedDMS(deg float64) string { return Encode(FormatSignedDMS, deg) }

// DegreesToSignedDMSt encodes an angle as ±DD*MM:SS.S.
func DegreesToSignedDMSt(deg float64) string { return Encode(FormatSignedDMSt, deg) }

// DegreesToAzimuthDMSt encodes an azimuth as DDD*MM'SS.S.
func DegreesToAzimuthDMSt(deg float64) string { return Encode(FormatAzimuthDMSt, deg) }

var separators = strings.NewReplacer("*", ":", "'", ":", "°", ":")

// parseSexagesimal splits s on any of the protocol separators and applies the
// sign once to the whole magnitude: "-10*30'00" is -10.5, not -9.5.
func parseSexagesimal(s string) (float64, error) {
	s = strings.TrimRight(strings.TrimSpace(s), "\"")
	neg := strings.HasPrefix(s, "-")
	body := strings.TrimLeft(s, "+-")

	fields := strings.Split(separators.Replace(body), ":")
	if len(fields) < 3 {
		return 0, fmt.Errorf("%w: %q has %d fields, need 3", ErrParse, s, len(fields))
	}

	var parts [3]float64
	for i := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(fields[i]), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: field %d of %q: %v", ErrParse, i, s, err)
		}
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, fmt.Errorf("%w: field %d of %q out of range", ErrParse, i, s)
		}
		parts[i] = v
	}
	if parts[1] >= 60 || parts[2] >= 60 {
		return 0, fmt.Errorf("%w: minutes or seconds out of range in %q", ErrParse, s)
	}

	mag := parts[0] + parts[1]/60 + parts[2]/3600
	if neg {
		return -mag, nil
	}
	return mag, nil
}

// Decode parses text produced by the mount (or by Encode) in format f.
func Decode(f Format, s string) (float64, error) {
	wf, ok := wireFormats[f]
	if !ok {
		return 0, fmt.Errorf("%w: unknown format %d", ErrParse, f)
	}

	v, err := parseSexagesimal(s)
	if err != nil {
		return 0, err
	}
	if !wf.signed && v < 0 {
		return 0, fmt.Errorf("%w: negative value %q for %s", ErrParse, s, f)
	}
	if wf.wrap > 0 && v >= float64(wf.wrap) {
		return 0, fmt.Errorf("%w: %q not below %d for %s", ErrParse, s, wf.wrap, f)
	}
	return v, nil
}

// ParseHours decodes HH:MM:SS[.S] into decimal hours.
func ParseHours(s string) (float64, error) { return Decode(FormatHours, s) }

// ParseSignedDegrees decodes ±DD*MM'SS or ±DD*MM:SS.S into decimal degrees.
func ParseSignedDegrees(s string) (float64, error) { return Decode(FormatSignedDMS, s) }

// ParseSiteAngle decodes a site coordinate that may carry a trailing
// hemisphere letter. The letter wins over any sign: N and W are positive,
// S and E negative (longitude is west-positive, as the mount reports it).
func ParseSiteAngle(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty site angle", ErrParse)
	}

	var dir byte
	switch last := s[len(s)-1]; last {
	case 'N', 'S', 'E', 'W':
		dir = last
		s = strings.TrimSpace(s[:len(s)-1])
	}

	v, err := parseSexagesimal(s)
	if err != nil {
		return 0, err
	}
	switch dir {
	case 'N', 'W':
		v = math.Abs(v)
	case 'S', 'E':
		v = -math.Abs(v)
	}
	return v, nil
}

// FormatTimezone encodes a UTC offset in hours as ±HH.
func FormatTimezone(hours float64) string {
	return fmt.Sprintf("%+03d", int(math.Round(hours)))
}

// ParseTimezone decodes ±HH[:MM] into signed hours.
func ParseTimezone(s string) (float64, error) {
	s = strings.TrimSpace(s)
	neg := strings.HasPrefix(s, "-")
	body := strings.TrimLeft(s, "+-")

	hh, mm, hasMinutes := strings.Cut(body, ":")
	h, err := strconv.Atoi(hh)
	if err != nil {
		return 0, fmt.Errorf("%w: timezone %q: %v", ErrParse, s, err)
	}
	v := float64(h)
	if hasMinutes {
		m, err := strconv.Atoi(mm)
		if err != nil || m < 0 || m >= 60 {
			return 0, fmt.Errorf("%w: timezone minutes in %q", ErrParse, s)
		}
		v += float64(m) / 60
	}
	if v > 14 {
		return 0, fmt.Errorf("%w: timezone %q out of range", ErrParse, s)
	}
	if neg {
		v = -v
	}
	return v, nil
}
