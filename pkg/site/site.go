// Package site provides the observing site location and local time the mount
// controller needs for its clock and pointing calculations.
package site

import (
	"fmt"
	"time"
)

// Provider supplies site data. Longitude is west positive, matching the mount
// convention; TimeZone is the current UTC offset in hours, DST included.
type Provider interface {
	LocalDateTime() time.Time
	Longitude() float64
	Latitude() float64
	TimeZone() float64
}

// StaticProvider returns a fixed location and the system clock in a fixed
// IANA time zone.
type StaticProvider struct {
	longitude float64
	latitude  float64
	loc       *time.Location
	now       func() time.Time
}

// NewStaticProvider creates a provider for the given coordinates. An empty
// zone name selects the local system zone.
func NewStaticProvider(longitude, latitude float64, zone string) (*StaticProvider, error) {
	if latitude < -90 || latitude > 90 {
		return nil, fmt.Errorf("invalid latitude: %f", latitude)
	}
	if longitude < -180 || longitude > 180 {
		return nil, fmt.Errorf("invalid longitude: %f", longitude)
	}

	loc := time.Local
	if zone != "" {
		var err error
		if loc, err = time.LoadLocation(zone); err != nil {
			return nil, fmt.Errorf("invalid time zone %q: %v", zone, err)
		}
	}

	return &StaticProvider{
		longitude: longitude,
		latitude:  latitude,
		loc:       loc,
		now:       time.Now,
	}, nil
}

func (p *StaticProvider) LocalDateTime() time.Time { return p.now().In(p.loc) }
func (p *StaticProvider) Longitude() float64       { return p.longitude }
func (p *StaticProvider) Latitude() float64        { return p.latitude }

func (p *StaticProvider) TimeZone() float64 {
	_, offset := p.LocalDateTime().Zone()
	return float64(offset) / 3600
}
