// Package match is the pairing state machine: Matching until the server
// pairs us, Matched while either side has yet to accept, Accepted once both
// have. It performs no I/O; callers run the returned Effects.
package match

import "github.com/bibekanandan892/peerchat/internal/wire"

// State is the pairing phase.
type State string

const (
	Matching State = "MATCHING"
	Matched  State = "MATCHED"
	Accepted State = "ACCEPTED"
)

// Effects are the side effects a transition asks for. Callers apply them in
// field order: clear the store, then send.
type Effects struct {
	ClearMessages bool
	SendMatch     bool
	SendAccept    *wire.AcceptRequest
	Changed       bool
}

// Snapshot is a copy of the session for readers outside the event loop.
type Snapshot struct {
	State           State    `json:"state"`
	ChatID          string   `json:"chat_id,omitempty"`
	PeerID          string   `json:"peer_id,omitempty"`
	Initiate        bool     `json:"initiate,omitempty"`
	Premium         bool     `json:"premium,omitempty"`
	Languages       []string `json:"languages,omitempty"`
	RequestedAccept bool     `json:"requested_accept"`
	PeerAccepted    bool     `json:"peer_accepted"`
}

// Session holds the pairing state. It is not safe for concurrent use; the
// engine's event loop owns it.
type Session struct {
	state           State
	chatID          string
	peerID          string
	initiate        bool
	premium         bool
	lang            []string
	requestedAccept bool
	peerAccepted    bool
}

// NewSession starts in Matching.
func NewSession() *Session {
	return &Session{state: Matching}
}

// State returns the current phase.
func (s *Session) State() State { return s.state }

// Snapshot copies the session.
func (s *Session) Snapshot() Snapshot {
	return Snapshot{
		State:           s.state,
		ChatID:          s.chatID,
		PeerID:          s.peerID,
		Initiate:        s.initiate,
		Premium:         s.premium,
		Languages:       append([]string(nil), s.lang...),
		RequestedAccept: s.requestedAccept,
		PeerAccepted:    s.peerAccepted,
	}
}

// Reset forgets the current pairing and asks for a fresh one. Used for an
// inbound leave, a user rematch and exiting an accepted chat.
func (s *Session) Reset() Effects {
	changed := s.state != Matching || s.chatID != ""
	*s = Session{state: Matching}
	return Effects{ClearMessages: true, SendMatch: true, Changed: changed}
}

// OnMatched applies an inbound matched frame.
func (s *Session) OnMatched(m wire.MatchedResponse) Effects {
	if !m.Accepted {
		s.state = Matched
		s.chatID = m.ChatID
		s.peerID = m.UDID
		s.initiate = m.Initiate
		s.premium = m.Premium
		s.lang = append([]string(nil), m.Lang...)
		s.requestedAccept = false
		s.peerAccepted = false
		return Effects{Changed: true}
	}

	switch s.state {
	case Accepted:
		return Effects{}
	case Matching:
		// Acceptance for a pairing we never saw.
		return Effects{}
	}
	if s.requestedAccept {
		s.state = Accepted
		return Effects{Changed: true}
	}
	if s.peerAccepted {
		return Effects{}
	}
	s.peerAccepted = true
	return Effects{Changed: true}
}

// Accept applies the local accept click. It is honoured only while Matched
// and only once per pairing.
func (s *Session) Accept() Effects {
	if s.state != Matched || s.requestedAccept {
		return Effects{}
	}
	s.requestedAccept = true
	eff := Effects{
		ClearMessages: true,
		SendAccept:    &wire.AcceptRequest{ChatID: s.chatID},
		Changed:       true,
	}
	if s.peerAccepted {
		s.state = Accepted
	}
	return eff
}
