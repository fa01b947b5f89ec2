package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// MatchRequest is the body of an outbound match frame.
type MatchRequest struct {
	Algo    string `json:"algo"`
	Segment string `json:"segment"`
}

// DefaultMatchRequest is the fixed find-match request.
var DefaultMatchRequest = MatchRequest{Algo: "R", Segment: "modern"}

// MatchedResponse is the body of an inbound matched frame.
type MatchedResponse struct {
	Accepted bool     `json:"accepted"`
	ChatID   string   `json:"chatId"`
	Initiate bool     `json:"initiate"`
	Lang     []string `json:"lang"`
	Premium  bool     `json:"premium"`
	UDID     string   `json:"udid"`
}

// AcceptRequest is the body of an outbound accept frame.
type AcceptRequest struct {
	ChatID string `json:"chatId"`
}

// InboundMessage is the body of an inbound message frame.
type InboundMessage struct {
	By      string `json:"by"`
	ChatID  string `json:"chatId"`
	Content string `json:"content"`
	ID      string `json:"id"`
	TS      int64  `json:"ts"`
}

// SendMessage is the body of an outbound send frame.
type SendMessage struct {
	Content string `json:"content"`
	ID      string `json:"id"`
	To      string `json:"to"`
	TS      int64  `json:"ts"`
}

// AckRequest is the read receipt sent for every inbound message.
type AckRequest struct {
	ID     int64  `json:"id"`
	Ref    string `json:"ref"`
	Status string `json:"status"`
}

// StatusRead is the only receipt status the client emits.
const StatusRead = "read"

// StatusSent is assumed when an ack carries no status.
const StatusSent = "sent"

// DecodeError reports a payload that could not be decoded for a tag.
type DecodeError struct {
	Tag string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s payload: %v", e.Tag, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func decode(tag Tag, payload string, v any) error {
	if err := json.Unmarshal([]byte(payload), v); err != nil {
		return &DecodeError{Tag: tag.Name, Err: err}
	}
	return nil
}

// Encode marshals a payload for BuildFrame.
func Encode(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// DecodeMatched decodes a matched payload.
func DecodeMatched(payload string) (MatchedResponse, error) {
	var resp MatchedResponse
	err := decode(Matched, payload, &resp)
	return resp, err
}

// DecodeMessage decodes an inbound message payload.
func DecodeMessage(payload string) (InboundMessage, error) {
	var msg InboundMessage
	err := decode(Message, payload, &msg)
	return msg, err
}

// AckUpdate is a decoded server acknowledgment for one of our messages.
type AckUpdate struct {
	By     string
	Ref    string
	Status string
}

type ackPayload struct {
	By     string  `json:"by"`
	Ref    *string `json:"ref"`
	Status *string `json:"status"`
}

// DecodeAck decodes an ack payload. The ref must be a string; there is no
// timestamp fallback for acks. A missing status defaults to sent.
func DecodeAck(payload string) (AckUpdate, error) {
	var p ackPayload
	if err := decode(Ack, payload, &p); err != nil {
		return AckUpdate{}, err
	}
	if p.Ref == nil || *p.Ref == "" {
		return AckUpdate{}, &DecodeError{Tag: Ack.Name, Err: errors.New("missing ref")}
	}
	update := AckUpdate{By: p.By, Ref: *p.Ref, Status: StatusSent}
	if p.Status != nil && *p.Status != "" {
		update.Status = *p.Status
	}
	return update, nil
}

// RefKind tells how a seen frame points at a message.
type RefKind int

const (
	ByMessageID RefKind = iota + 1
	ByTimestamp
)

// Ref is the union carried in a seen frame: either the logical message id
// or the original send timestamp.
type Ref struct {
	Kind      RefKind
	MessageID string
	Timestamp int64
}

// SeenUpdate is a decoded seen frame.
type SeenUpdate struct {
	By     string
	Ref    Ref
	Status string
}

type seenPayload struct {
	By     string          `json:"by"`
	Ref    json.RawMessage `json:"ref"`
	Status string          `json:"status"`
}

// DecodeSeen decodes a seen payload, choosing the ref variant from the JSON
// token type.
func DecodeSeen(payload string) (SeenUpdate, error) {
	var p seenPayload
	if err := decode(Seen, payload, &p); err != nil {
		return SeenUpdate{}, err
	}
	ref, err := parseRef(p.Ref)
	if err != nil {
		return SeenUpdate{}, &DecodeError{Tag: Seen.Name, Err: err}
	}
	return SeenUpdate{By: p.By, Ref: ref, Status: p.Status}, nil
}

func parseRef(raw json.RawMessage) (Ref, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return Ref{}, errors.New("missing ref")
	}
	switch c := raw[0]; {
	case c == '"':
		var id string
		if err := json.Unmarshal(raw, &id); err != nil {
			return Ref{}, err
		}
		if id == "" {
			return Ref{}, errors.New("empty ref")
		}
		return Ref{Kind: ByMessageID, MessageID: id}, nil
	case c == '-' || (c >= '0' && c <= '9'):
		ts, err := strconv.ParseInt(string(raw), 10, 64)
		if err != nil {
			return Ref{}, fmt.Errorf("ref is not an integer timestamp: %w", err)
		}
		return Ref{Kind: ByTimestamp, Timestamp: ts}, nil
	default:
		return Ref{}, fmt.Errorf("unsupported ref %s", raw)
	}
}
