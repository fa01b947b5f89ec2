package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/bibekanandan892/peerchat/internal/credentials"
	"go.uber.org/zap"
)

// MinNameLength is the shortest accepted user name.
const MinNameLength = 8

// ErrNameTooShort is returned by NormalizeName.
var ErrNameTooShort = errors.New("name too short")

// NormalizeName keeps only the letters and digits of name and rejects
// results shorter than MinNameLength.
func NormalizeName(name string) (string, error) {
	clean := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return -1
	}, name)
	if len([]rune(clean)) < MinNameLength {
		return "", fmt.Errorf("%w: %q has fewer than %d letters or digits", ErrNameTooShort, clean, MinNameLength)
	}
	return clean, nil
}

// Signup authenticates name on deviceID and stores the granted identity.
func Signup(ctx context.Context, c *Client, creds *credentials.Store, name, deviceID string) (*Response, error) {
	name, err := NormalizeName(name)
	if err != nil {
		return nil, err
	}
	req := NewRequest(name, deviceID)
	resp, err := c.Authenticate(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := creds.SetMany(map[credentials.Key]string{
		credentials.UdidName:     resp.UserID,
		credentials.Password:     req.Password,
		credentials.AuthToken:    resp.AuthToken,
		credentials.DeviceID:     deviceID,
		credentials.SessionToken: req.Token,
	}); err != nil {
		return nil, fmt.Errorf("save credentials: %w", err)
	}
	c.logger.Info("signed up", zap.String("udid", resp.UserID))
	return resp, nil
}
