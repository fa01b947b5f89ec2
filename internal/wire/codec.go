package wire

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultSuffix terminates every frame.
const DefaultSuffix = "]"

// ErrMalformedFrame is returned when a frame does not carry the expected
// prefix or suffix.
var ErrMalformedFrame = errors.New("malformed frame")

// ExtractPayload returns the trimmed text between the tag prefix and the
// default suffix.
func ExtractPayload(tag Tag, frame string) (string, error) {
	return ExtractPayloadSuffix(tag, frame, DefaultSuffix)
}

// ExtractPayloadSuffix is ExtractPayload with an explicit suffix. The prefix
// comparison is exact.
func ExtractPayloadSuffix(tag Tag, frame, suffix string) (string, error) {
	if !strings.HasPrefix(frame, tag.Route) || !strings.HasSuffix(frame, suffix) ||
		len(frame) < len(tag.Route)+len(suffix) {
		return "", fmt.Errorf("%w: event %s: %q", ErrMalformedFrame, tag.Name, frame)
	}
	body := frame[len(tag.Route) : len(frame)-len(suffix)]
	return strings.TrimSpace(body), nil
}

// BuildFrame concatenates prefix, payload and the default suffix. The payload
// is not escaped; it must already be JSON text.
func BuildFrame(tag Tag, payload string) string {
	return BuildFrameSuffix(tag, payload, DefaultSuffix)
}

// BuildFrameSuffix is BuildFrame with an explicit suffix.
func BuildFrameSuffix(tag Tag, payload, suffix string) string {
	return tag.Route + payload + suffix
}

// FailureFrame synthesises the pseudo frame published when the socket fails.
func FailureFrame(reason string) string {
	return BuildFrame(OnFailure, reason)
}

// FailureReason extracts the error text from an OnFailure pseudo frame.
func FailureReason(frame string) string {
	reason, err := ExtractPayload(OnFailure, frame)
	if err != nil {
		return strings.TrimPrefix(frame, OnFailure.Route)
	}
	return reason
}
