// Package proximity implements the hysteresis-aware spatial predicate
// that decides which clients are "nearby" a reference position. It is
// a pure function over its inputs: it holds no state and takes no lock.
package proximity

import "github.com/flavio-simonelli/proxchat/internal/model"

// Nearby returns the set of candidate client ids considered nearby
// reference, evaluating each candidate independently under the
// hysteresis rule: a candidate already present in wasNearby uses the
// (wider) disconnection radius, any other candidate uses the
// (narrower) introduction radius.
//
// candidates should not include reference itself, but Nearby filters
// it out defensively in case a caller passes an unfiltered snapshot.
// wasNearby may be nil, which is equivalent to an empty set (every
// candidate is then evaluated as "new").
func Nearby(reference model.Position, candidates []model.Position, wasNearby map[model.ClientID]struct{}, radii model.Radii) []model.ClientID {
	var result []model.ClientID
	for _, other := range candidates {
		if other.ClientID == reference.ClientID {
			continue
		}
		if other.MapID != reference.MapID {
			continue
		}
		if other.Channel != reference.Channel {
			continue
		}
		if other.GameID != reference.GameID {
			continue
		}

		dx := int64(other.X - reference.X)
		dy := int64(other.Y - reference.Y)
		dist2 := dx*dx + dy*dy

		_, wasIn := wasNearby[other.ClientID]
		radius2 := radii.IntroductionRadius2
		if wasIn {
			radius2 = radii.DisconnectionRadius2
		}

		if dist2 <= radius2 {
			result = append(result, other.ClientID)
		}
	}
	return result
}

// ToSet converts a Nearby result into a membership set, the shape the
// world state caches as last_nearby.
func ToSet(ids []model.ClientID) map[model.ClientID]struct{} {
	set := make(map[model.ClientID]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
