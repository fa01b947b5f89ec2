// Package wire implements the tagged-array text protocol spoken over the
// chat socket. A frame looks like ["matched",{...}] and is recognised by its
// literal prefix. Connection lifecycle is folded into the same text stream as
// pseudo frames (OnOpen, OnClose, OnClosed, OnFailure<reason>]) that the
// transport synthesises; they never travel on the wire.
package wire

import "strings"

// Tag identifies a frame kind by the literal prefix it starts with.
type Tag struct {
	Name   string
	Route  string
	Pseudo bool
}

func (t Tag) String() string { return t.Name }

func wireTag(name string) Tag {
	return Tag{Name: name, Route: `["` + name + `",`}
}

var (
	Session = wireTag("session")
	Status  = wireTag("status")
	Match   = wireTag("match")
	Matched = wireTag("matched")
	Sync    = wireTag("sync")
	Accept  = wireTag("accept")
	Leave   = wireTag("leave")
	Message = wireTag("message")
	Ack     = wireTag("ack")
	Type    = wireTag("type")
	Send    = wireTag("send")
	Seen    = wireTag("seen")

	OnOpen    = Tag{Name: "OnOpen", Route: "OnOpen", Pseudo: true}
	OnClosing = Tag{Name: "OnClosing", Route: "OnClose", Pseudo: true}
	OnClosed  = Tag{Name: "OnClosed", Route: "OnClosed", Pseudo: true}
	OnFailure = Tag{Name: "OnFailure", Route: "OnFailure", Pseudo: true}
)

// classifyOrder is the dispatch order. OnClosed must be tried before
// OnClosing because "OnClosed" starts with "OnClose".
var classifyOrder = []Tag{
	Session, Status, Matched, Match, Sync, Accept, Leave,
	Message, Ack, Type, Send, Seen,
	OnOpen, OnClosed, OnClosing, OnFailure,
}

// Tags returns every known tag in dispatch order.
func Tags() []Tag {
	out := make([]Tag, len(classifyOrder))
	copy(out, classifyOrder)
	return out
}

// Classify reports which tag a frame belongs to. Wire tags match their
// prefix case-insensitively; pseudo tags must match exactly.
func Classify(frame string) (Tag, bool) {
	for _, tag := range classifyOrder {
		if tag.Pseudo {
			if strings.HasPrefix(frame, tag.Route) {
				return tag, true
			}
			continue
		}
		if hasPrefixFold(frame, tag.Route) {
			return tag, true
		}
	}
	return Tag{}, false
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}
