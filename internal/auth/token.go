package auth

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

// GenerateToken derives the per-signup token: hex HMAC-MD5 of the device id
// keyed by the session id.
func GenerateToken(sessionID, deviceID string) string {
	mac := hmac.New(md5.New, []byte(sessionID))
	mac.Write([]byte(deviceID))
	return hex.EncodeToString(mac.Sum(nil))
}

// BasicAuthHeader builds the Authorization header value for a signup.
func BasicAuthHeader(deviceID, token string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(deviceID+":"+token))
}

// DeriveDeviceID turns a stable machine seed into a device id: SHA-256 of the
// seed, folded into a name-based (version 3) UUID, dashes removed, upper-cased.
func DeriveDeviceID(seed string) string {
	hash := sha256.Sum256([]byte(seed))
	sum := md5.Sum(hash[:])
	sum[6] = (sum[6] & 0x0f) | 0x30
	sum[8] = (sum[8] & 0x3f) | 0x80
	id := uuid.UUID(sum)
	return strings.ToUpper(strings.ReplaceAll(id.String(), "-", ""))
}
