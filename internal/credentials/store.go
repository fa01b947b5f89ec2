// Package credentials persists the per-session identity used to open the
// matching socket.
package credentials

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
)

// ErrMissing reports that a credential required to connect is absent.
var ErrMissing = errors.New("missing credentials")

// Key names one stored credential.
type Key string

const (
	UdidName     Key = "udid_name"
	Password     Key = "password"
	AuthToken    Key = "auth_token"
	DeviceID     Key = "device_id"
	SessionToken Key = "session_token"
)

// file is the on-disk layout. Every field is optional; nil fields are
// not written.
type file struct {
	UdidName     *string `toml:"udid_name"`
	Password     *string `toml:"password"`
	AuthToken    *string `toml:"auth_token"`
	DeviceID     *string `toml:"device_id"`
	SessionToken *string `toml:"session_token"`
}

func (f *file) field(k Key) (**string, error) {
	switch k {
	case UdidName:
		return &f.UdidName, nil
	case Password:
		return &f.Password, nil
	case AuthToken:
		return &f.AuthToken, nil
	case DeviceID:
		return &f.DeviceID, nil
	case SessionToken:
		return &f.SessionToken, nil
	}
	return nil, fmt.Errorf("unknown credential key %q", k)
}

// Credentials is the connection view of the store.
type Credentials struct {
	UserID   string // udid query parameter
	DeviceID string // devid
	Token    string // token
	Auth     string // auth
}

// Validate reports ErrMissing naming every empty field.
func (c Credentials) Validate() error {
	var missing []string
	if c.UserID == "" {
		missing = append(missing, string(UdidName))
	}
	if c.DeviceID == "" {
		missing = append(missing, string(DeviceID))
	}
	if c.Token == "" {
		missing = append(missing, string(SessionToken))
	}
	if c.Auth == "" {
		missing = append(missing, string(AuthToken))
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissing, strings.Join(missing, ", "))
	}
	return nil
}

// Store is a TOML-backed credential store. Reads hit the file each time so
// a signup from another process is picked up.
type Store struct {
	mu   sync.Mutex
	path string
}

// NewStore returns a store backed by path. The file need not exist yet.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the backing file.
func (s *Store) Path() string { return s.path }

// Get returns the value for k and whether it is set.
func (s *Store) Get(k Key) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.read()
	if err != nil {
		return "", false, err
	}
	p, err := f.field(k)
	if err != nil {
		return "", false, err
	}
	if *p == nil {
		return "", false, nil
	}
	return **p, true, nil
}

// Set stores v under k.
func (s *Store) Set(k Key, v string) error {
	return s.SetMany(map[Key]string{k: v})
}

// SetMany stores several values in one write.
func (s *Store) SetMany(values map[Key]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.read()
	if err != nil {
		return err
	}
	for k, v := range values {
		p, err := f.field(k)
		if err != nil {
			return err
		}
		*p = &v
	}
	return s.write(f)
}

// Credentials returns the connection view. Absent values are empty; use
// Validate to reject them.
func (s *Store) Credentials() (Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.read()
	if err != nil {
		return Credentials{}, err
	}
	deref := func(p *string) string {
		if p == nil {
			return ""
		}
		return *p
	}
	return Credentials{
		UserID:   deref(f.UdidName),
		DeviceID: deref(f.DeviceID),
		Token:    deref(f.SessionToken),
		Auth:     deref(f.AuthToken),
	}, nil
}

func (s *Store) read() (*file, error) {
	var f file
	if _, err := toml.DecodeFile(s.path, &f); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &f, nil
		}
		return nil, fmt.Errorf("read credentials: %w", err)
	}
	return &f, nil
}

func (s *Store) write(f *file) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(out).Encode(f)
	if closeErr := out.Close(); closeErr != nil && encErr == nil {
		encErr = closeErr
	}
	if encErr != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write credentials: %w", encErr)
	}
	return os.Rename(tmp, s.path)
}
