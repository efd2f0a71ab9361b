package proximity

import (
	"reflect"
	"sort"
	"testing"

	"github.com/flavio-simonelli/proxchat/internal/model"
)

func pos(id string, mapID, channel, game, x, y int) model.Position {
	return model.Position{ClientID: model.ClientID(id), MapID: mapID, Channel: channel, GameID: game, X: x, Y: y}
}

func sorted(ids []model.ClientID) []model.ClientID {
	out := append([]model.ClientID(nil), ids...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func TestNearby(t *testing.T) {
	radii := model.NewRadii(20, 25)

	tests := []struct {
		name      string
		reference model.Position
		others    []model.Position
		wasNearby map[model.ClientID]struct{}
		want      []model.ClientID
	}{
		{
			name:      "B1: fresh introduction inside radius",
			reference: pos("A", 1, 0, 0, 0, 0),
			others:    []model.Position{pos("B", 1, 0, 0, 10, 0)}, // dist2 = 100 <= 400
			wasNearby: nil,
			want:      []model.ClientID{"B"},
		},
		{
			name:      "B1: fresh introduction just outside radius",
			reference: pos("A", 1, 0, 0, 0, 0),
			others:    []model.Position{pos("B", 1, 0, 0, 21, 0)}, // dist2 = 441 > 400
			wasNearby: nil,
			want:      nil,
		},
		{
			name:      "B2: hysteresis band holds an existing peer",
			reference: pos("A", 1, 0, 0, 0, 0),
			others:    []model.Position{pos("B", 1, 0, 0, 22, 0)}, // dist2 = 484, in (400,625]
			wasNearby: map[model.ClientID]struct{}{"B": {}},
			want:      []model.ClientID{"B"},
		},
		{
			name:      "B2: crossing the disconnection radius outward drops the peer",
			reference: pos("A", 1, 0, 0, 0, 0),
			others:    []model.Position{pos("B", 1, 0, 0, 26, 0)}, // dist2 = 676 > 625
			wasNearby: map[model.ClientID]struct{}{"B": {}},
			want:      nil,
		},
		{
			name:      "B3: different channel never nearby regardless of distance",
			reference: pos("A", 1, 0, 0, 0, 0),
			others:    []model.Position{pos("B", 1, 1, 0, 0, 0)}, // distance 0, wrong channel
			wasNearby: nil,
			want:      nil,
		},
		{
			name:      "different map filtered out",
			reference: pos("A", 1, 0, 0, 0, 0),
			others:    []model.Position{pos("B", 2, 0, 0, 0, 0)},
			wasNearby: nil,
			want:      nil,
		},
		{
			name:      "different game cohort filtered out",
			reference: pos("A", 1, 0, 1, 0, 0),
			others:    []model.Position{pos("B", 1, 0, 2, 0, 0)},
			wasNearby: nil,
			want:      nil,
		},
		{
			name:      "self is never a candidate",
			reference: pos("A", 1, 0, 0, 0, 0),
			others:    []model.Position{pos("A", 1, 0, 0, 0, 0)},
			wasNearby: nil,
			want:      nil,
		},
		{
			name:      "each candidate evaluated independently",
			reference: pos("A", 1, 0, 0, 0, 0),
			others: []model.Position{
				pos("B", 1, 0, 0, 10, 0),  // new, inside introduction radius
				pos("C", 1, 0, 0, 22, 0),  // existing, inside disconnection radius only
				pos("D", 1, 0, 0, 100, 0), // far away, excluded either way
			},
			wasNearby: map[model.ClientID]struct{}{"C": {}},
			want:      []model.ClientID{"B", "C"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sorted(Nearby(tt.reference, tt.others, tt.wasNearby, radii))
			want := sorted(tt.want)
			if !reflect.DeepEqual(got, want) {
				t.Fatalf("Nearby() = %v, want %v", got, want)
			}
		})
	}
}

func TestToSet(t *testing.T) {
	set := ToSet([]model.ClientID{"A", "B", "A"})
	if len(set) != 2 {
		t.Fatalf("ToSet() produced %d entries, want 2", len(set))
	}
	if _, ok := set["A"]; !ok {
		t.Fatalf("ToSet() missing expected member A")
	}
}
