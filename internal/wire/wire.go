// Package wire defines the JSON wire protocol exchanged with clients:
// a tagged envelope carrying one of the message shapes from spec.md §6.
package wire

import (
	"encoding/json"
	"fmt"
)

// Client -> server tags.
const (
	TagUpdatePosition    = "UpdatePosition"
	TagRequestPeerRefresh = "RequestPeerRefresh"
	TagSendOffer         = "SendOffer"
	TagSendAnswer        = "SendAnswer"
	TagSendIceCandidate  = "SendIceCandidate"
	TagDisconnect        = "Disconnect"
)

// Server -> client tags.
const (
	TagNearbyPeers         = "NearbyPeers"
	TagReceiveOffer        = "ReceiveOffer"
	TagReceiveAnswer       = "ReceiveAnswer"
	TagReceiveIceCandidate = "ReceiveIceCandidate"
	TagError               = "Error"
)

// Envelope is the outer shape of every frame in both directions.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// UpdatePositionData is the payload of a client UpdatePosition message.
type UpdatePositionData struct {
	ClientID string `json:"client_id"`
	MapID    int    `json:"map_id"`
	Channel  int    `json:"channel"`
	GameID   int    `json:"game_id"`
	X        int    `json:"x"`
	Y        int    `json:"y"`
}

// SendOfferData is the payload of a client SendOffer message.
type SendOfferData struct {
	TargetID string `json:"target_id"`
	Offer    string `json:"offer"`
}

type SendAnswerData struct {
	TargetID string `json:"target_id"`
	Answer   string `json:"answer"`
}

type SendIceCandidateData struct {
	TargetID  string `json:"target_id"`
	Candidate string `json:"candidate"`
}

// ReceiveOfferData etc. are the server-side mirror, stamped with the
// sender's client id.
type ReceiveOfferData struct {
	SenderID string `json:"sender_id"`
	Offer    string `json:"offer"`
}

type ReceiveAnswerData struct {
	SenderID string `json:"sender_id"`
	Answer   string `json:"answer"`
}

type ReceiveIceCandidateData struct {
	SenderID  string `json:"sender_id"`
	Candidate string `json:"candidate"`
}

// Outbound is a fully-formed server-to-client message ready to be
// serialized; building it ahead of the sink avoids doing JSON work
// while holding the world state lock.
type Outbound struct {
	Type string
	Data any
}

// Encode serializes an Outbound message into an Envelope's wire bytes.
func (o Outbound) Encode() ([]byte, error) {
	var raw json.RawMessage
	if o.Data != nil {
		b, err := json.Marshal(o.Data)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", o.Type, err)
		}
		raw = b
	}
	return json.Marshal(Envelope{Type: o.Type, Data: raw})
}

// NearbyPeers builds the NearbyPeers outbound message for a list of
// client ids rendered as plain strings.
func NearbyPeers(ids []string) Outbound {
	if ids == nil {
		ids = []string{}
	}
	return Outbound{Type: TagNearbyPeers, Data: ids}
}

// ErrorMessage builds the Error outbound message.
func ErrorMessage(msg string) Outbound {
	return Outbound{Type: TagError, Data: msg}
}

// ReceiveOffer/Answer/IceCandidate build their respective outbound messages.
func ReceiveOffer(senderID, offer string) Outbound {
	return Outbound{Type: TagReceiveOffer, Data: ReceiveOfferData{SenderID: senderID, Offer: offer}}
}

func ReceiveAnswer(senderID, answer string) Outbound {
	return Outbound{Type: TagReceiveAnswer, Data: ReceiveAnswerData{SenderID: senderID, Answer: answer}}
}

func ReceiveIceCandidate(senderID, candidate string) Outbound {
	return Outbound{Type: TagReceiveIceCandidate, Data: ReceiveIceCandidateData{SenderID: senderID, Candidate: candidate}}
}

// Decode parses a raw inbound frame into its envelope.
func Decode(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	return env, nil
}
