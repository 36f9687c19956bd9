package model

import (
	"time"
)

// Status messages a broadcaster can pick from
const (
	MessageLookingForCompany = "Looking for company"
	MessageUpForADrink       = "Up for a drink"
	MessageLetsDance         = "Let's dance"
	MessageOpenToChat        = "Open to chat"
	MessageHeadingOutSoon    = "Heading out soon"
)

// Messages is the fixed set of allowed status messages
var Messages = []string{
	MessageLookingForCompany,
	MessageUpForADrink,
	MessageLetsDance,
	MessageOpenToChat,
	MessageHeadingOutSoon,
}

// ValidMessage reports whether msg belongs to Messages
func ValidMessage(msg string) bool {
	for _, m := range Messages {
		if m == msg {
			return true
		}
	}
	return false
}

// Owner holds the display attributes joined onto a signal on read
type Owner struct {
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url,omitempty"`
	Role      string `json:"role,omitempty"`
}

// PresenceSignal is one broadcaster's current obfuscated location.
// Coordinates stored here have always been through util.Jitter.
type PresenceSignal struct {
	ID             string     `json:"id" gorm:"primaryKey;size:32"`
	OwnerID        string     `json:"owner_id" gorm:"size:64;not null;index"`
	Latitude       float64    `json:"latitude" gorm:"not null"`
	Longitude      float64    `json:"longitude" gorm:"not null"`
	Message        string     `json:"message" gorm:"size:64;not null"`
	CreatedAt      time.Time  `json:"created_at" gorm:"not null"`
	ExpiresAt      time.Time  `json:"expires_at" gorm:"not null;index"`
	FlareExpiresAt *time.Time `json:"flare_expires_at,omitempty"`

	Owner *Owner `json:"owner,omitempty" gorm:"-"`
}

func (PresenceSignal) TableName() string {
	return "presence_signals"
}

// Active reports whether the signal has not expired yet at now
func (s *PresenceSignal) Active(now time.Time) bool {
	return s.ExpiresAt.After(now)
}

// Urgent reports whether a flare is running at now
func (s *PresenceSignal) Urgent(now time.Time) bool {
	return s.FlareExpiresAt != nil && s.FlareExpiresAt.After(now)
}

// Complete reports whether the record carries everything needed to render it
// without a re-read. Change-feed payloads are sometimes partial.
func (s *PresenceSignal) Complete() bool {
	return s.ID != "" && s.OwnerID != "" && !s.ExpiresAt.IsZero()
}

// Clone returns a deep copy so callers can't mutate shared state
func (s *PresenceSignal) Clone() *PresenceSignal {
	c := *s
	if s.FlareExpiresAt != nil {
		f := *s.FlareExpiresAt
		c.FlareExpiresAt = &f
	}
	if s.Owner != nil {
		o := *s.Owner
		c.Owner = &o
	}
	return &c
}
