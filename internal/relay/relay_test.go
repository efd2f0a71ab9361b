package relay

import (
	"testing"
	"time"

	"github.com/flavio-simonelli/proxchat/internal/logger"
	"github.com/flavio-simonelli/proxchat/internal/model"
	"github.com/flavio-simonelli/proxchat/internal/wire"
	"github.com/flavio-simonelli/proxchat/internal/world"
)

func newTestWorld() *world.State {
	return world.New(model.NewRadii(20, 25), &logger.NopLogger{})
}

func TestOfferDeliveredToTarget(t *testing.T) {
	w := newTestWorld()
	sink := w.RegisterConnection("conn-b", 4, func() {})
	w.Reregister("B", "conn-b")
	w.ApplyPosition("conn-b", model.Position{ClientID: "B", MapID: 1}, time.Now())

	r := New(w, &logger.NopLogger{}, nil)
	outcome := r.Offer("A", "B", "sdp-blob")
	if outcome != Delivered {
		t.Fatalf("expected Delivered, got %v", outcome)
	}

	select {
	case msg := <-sink.Receive():
		if msg.Type != wire.TagReceiveOffer {
			t.Fatalf("expected ReceiveOffer, got %s", msg.Type)
		}
		data, ok := msg.Data.(wire.ReceiveOfferData)
		if !ok {
			t.Fatalf("unexpected payload type %T", msg.Data)
		}
		if data.SenderID != "A" || data.Offer != "sdp-blob" {
			t.Fatalf("unexpected payload %+v", data)
		}
	default:
		t.Fatalf("expected a message enqueued on B's sink")
	}
}

func TestOfferTargetNotFound(t *testing.T) {
	w := newTestWorld()
	r := New(w, &logger.NopLogger{}, nil)
	if outcome := r.Offer("A", "ghost", "sdp"); outcome != TargetNotFound {
		t.Fatalf("expected TargetNotFound, got %v", outcome)
	}
}

func TestIceCandidateSinkFullIsSilentlyDropped(t *testing.T) {
	w := newTestWorld()
	sink := w.RegisterConnection("conn-b", 1, func() {})
	w.Reregister("B", "conn-b")
	w.ApplyPosition("conn-b", model.Position{ClientID: "B", MapID: 1}, time.Now())

	if !sink.TrySend(wire.ErrorMessage("filler")) {
		t.Fatalf("unexpected full sink while priming")
	}

	r := New(w, &logger.NopLogger{}, nil)
	outcome := r.IceCandidate("A", "B", "candidate-blob")
	if outcome != SinkFull {
		t.Fatalf("expected SinkFull, got %v", outcome)
	}
}
