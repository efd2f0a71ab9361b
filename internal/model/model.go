// Package model defines the value types shared between the proximity
// engine and the world state, kept separate from both so neither one
// has to import the other just to talk about positions and ids.
package model

// ClientID is an opaque, client-supplied identifier that names a
// logical client across reconnections.
type ClientID string

// ConnID is an opaque, server-minted identifier that names a single
// physical connection instance. Never reused.
type ConnID string

// Position is a client's last-known location in the virtual world.
type Position struct {
	ClientID ClientID
	MapID    int
	Channel  int
	GameID   int
	X        int
	Y        int
}

// Radii holds the (already squared) hysteresis thresholds the
// proximity engine evaluates candidates against.
type Radii struct {
	IntroductionRadius2  int64
	DisconnectionRadius2 int64
}

// NewRadii squares the configured introduction/disconnection radii.
func NewRadii(introduction, disconnection int) Radii {
	i := int64(introduction)
	d := int64(disconnection)
	return Radii{
		IntroductionRadius2:  i * i,
		DisconnectionRadius2: d * d,
	}
}
