package site

import (
	"bufio"
	"context"
	"io"
	"strings"
	"sync"
	"time"

	nmea "github.com/adrianmo/go-nmea"
	"github.com/jpillora/backoff"
	log "github.com/sirupsen/logrus"
)

// GPSProvider takes the site position from NMEA sentences of a GPS receiver.
// Until the receiver reports a valid fix, and for the clock and time zone,
// it defers to a fallback provider.
type GPSProvider struct {
	fallback Provider
	logger   log.FieldLogger

	mu        sync.RWMutex
	fix       bool
	longitude float64 // west positive
	latitude  float64
	updated   time.Time
}

func NewGPSProvider(fallback Provider, logger log.FieldLogger) *GPSProvider {
	return &GPSProvider{
		fallback: fallback,
		logger:   logger.WithField("component", "gps"),
	}
}

// Run reads sentences from r until it is exhausted or ctx is cancelled.
func (g *GPSProvider) Run(ctx context.Context, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "$") {
			continue
		}
		g.HandleSentence(line)
	}
	return scanner.Err()
}

// Receive feeds the provider from the receiver returned by open until ctx is
// cancelled. A receiver that fails to open or whose stream ends is reopened
// after an increasing delay.
func (g *GPSProvider) Receive(ctx context.Context, open func() (io.ReadCloser, error)) {
	b := &backoff.Backoff{Min: time.Second, Max: time.Minute, Factor: 2}

	for {
		r, err := open()
		if err == nil {
			b.Reset()
			stop := context.AfterFunc(ctx, func() { r.Close() })
			err = g.Run(ctx, r)
			if stop() {
				r.Close()
			}
			if err == nil {
				err = io.EOF
			}
		}
		if ctx.Err() != nil {
			return
		}

		g.update(false, 0, 0)
		delay := b.Duration()
		g.logger.Warnf("GPS receiver failed: %v, retrying in %s", err, delay)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// HandleSentence updates the position from a single NMEA sentence.
func (g *GPSProvider) HandleSentence(line string) {
	sentence, err := nmea.Parse(line)
	if err != nil {
		g.logger.Debugf("Ignoring sentence %q: %v", line, err)
		return
	}

	switch sentence.DataType() {
	case nmea.TypeRMC:
		m := sentence.(nmea.RMC)
		g.update(m.Validity == nmea.ValidRMC, m.Latitude, m.Longitude)
	case nmea.TypeGGA:
		m := sentence.(nmea.GGA)
		g.update(m.FixQuality != nmea.Invalid, m.Latitude, m.Longitude)
	}
}

func (g *GPSProvider) update(valid bool, lat, lon float64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !valid {
		if g.fix {
			g.logger.Warn("GPS fix lost")
		}
		g.fix = false
		return
	}
	if !g.fix {
		g.logger.Infof("GPS fix acquired: lat %.5f lon %.5f", lat, lon)
	}
	g.fix = true
	g.latitude = lat
	// NMEA longitude is east positive.
	g.longitude = -lon
	g.updated = time.Now()
}

// HasFix reports whether the last sentence carried a valid position.
func (g *GPSProvider) HasFix() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.fix
}

func (g *GPSProvider) Longitude() float64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if !g.fix {
		return g.fallback.Longitude()
	}
	return g.longitude
}

func (g *GPSProvider) Latitude() float64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if !g.fix {
		return g.fallback.Latitude()
	}
	return g.latitude
}

func (g *GPSProvider) LocalDateTime() time.Time { return g.fallback.LocalDateTime() }
func (g *GPSProvider) TimeZone() float64        { return g.fallback.TimeZone() }
