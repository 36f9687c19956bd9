package notify

import (
	"context"
	"fmt"
	"log"
	"time"
)

// Notice is the human readable announcement sent when a broadcast starts
type Notice struct {
	SignalID  string    `json:"signal_id"`
	OwnerID   string    `json:"owner_id"`
	OwnerName string    `json:"owner_name"`
	Message   string    `json:"message"`
	PlaceName string    `json:"place_name,omitempty"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Geocoder resolves coordinates to a place name. An empty name with a nil
// error means nothing was found.
type Geocoder interface {
	ReverseGeocode(ctx context.Context, lat, lng float64) (string, error)
}

// Sink delivers notices to the outbound notification channel
type Sink interface {
	Send(ctx context.Context, n Notice) error
}

// Announcer enriches and forwards notices. Every failure is logged and
// swallowed; nothing here may affect the broadcast outcome.
type Announcer struct {
	geocoder       Geocoder
	sink           Sink
	geocodeTimeout time.Duration
}

// NewAnnouncer builds an Announcer; geocoder may be nil
func NewAnnouncer(geocoder Geocoder, sink Sink, geocodeTimeout time.Duration) *Announcer {
	return &Announcer{geocoder: geocoder, sink: sink, geocodeTimeout: geocodeTimeout}
}

// Announce looks up the place name and sends the notice. lat/lng must
// already be obfuscated.
func (a *Announcer) Announce(ctx context.Context, n Notice, lat, lng float64) {
	if a == nil || a.sink == nil {
		return
	}

	if a.geocoder != nil {
		gctx, cancel := context.WithTimeout(ctx, a.geocodeTimeout)
		place, err := a.geocoder.ReverseGeocode(gctx, lat, lng)
		cancel()
		if err != nil {
			log.Printf("[notify] reverse geocode for signal %s failed: %v", n.SignalID, err)
		} else {
			n.PlaceName = place
		}
	}

	n.Text = FormatText(n)
	if err := a.sink.Send(ctx, n); err != nil {
		log.Printf("[notify] sending notice for signal %s failed: %v", n.SignalID, err)
	}
}

// FormatText renders the notice body
func FormatText(n Notice) string {
	name := n.OwnerName
	if name == "" {
		name = "Someone"
	}
	if n.PlaceName != "" {
		return fmt.Sprintf("%s is out near %s: %s", name, n.PlaceName, n.Message)
	}
	return fmt.Sprintf("%s is out nearby: %s", name, n.Message)
}

// LogSink writes notices to the log, used when no channel is configured
type LogSink struct{}

func (LogSink) Send(ctx context.Context, n Notice) error {
	log.Printf("[notify] %s", n.Text)
	return nil
}
