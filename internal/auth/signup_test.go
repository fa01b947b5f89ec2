package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/bibekanandan892/peerchat/internal/credentials"
)

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"peerone1", "peerone1", false},
		{"peer one!23", "peerone23", false},
		{"مرحبامرحبا", "مرحبامرحبا", false},
		{"short", "", true},
		{"a-b-c-d-e-f-g", "", true},
	}
	for _, tt := range tests {
		got, err := NormalizeName(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("NormalizeName(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if tt.wantErr && !errors.Is(err, ErrNameTooShort) {
			t.Errorf("NormalizeName(%q) error = %v, want ErrNameTooShort", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("NormalizeName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSignupStoresCredentials(t *testing.T) {
	var token string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token = r.URL.Query().Get("token")
		_, _ = w.Write([]byte(`{"udid":"granted_id","token":"auth-xyz"}`))
	}))
	defer srv.Close()

	store := credentials.NewStore(filepath.Join(t.TempDir(), "credentials.toml"))
	c := NewClient(srv.URL, "@fadfedx", "Agent/1.0", srv.Client(), nil)

	if _, err := Signup(context.Background(), c, store, "peer one 1", "DEVICE"); err != nil {
		t.Fatalf("Signup() error = %v", err)
	}

	creds, err := store.Credentials()
	if err != nil {
		t.Fatal(err)
	}
	want := credentials.Credentials{UserID: "granted_id", DeviceID: "DEVICE", Token: token, Auth: "auth-xyz"}
	if creds != want {
		t.Errorf("credentials = %+v, want %+v", creds, want)
	}
	if pw, ok, _ := store.Get(credentials.Password); !ok || pw != "peerone1" {
		t.Errorf("password = %q, %v", pw, ok)
	}
}

func TestSignupRejectsShortName(t *testing.T) {
	store := credentials.NewStore(filepath.Join(t.TempDir(), "credentials.toml"))
	c := NewClient("http://127.0.0.1:1", "@fadfedx", "", nil, nil)
	if _, err := Signup(context.Background(), c, store, "abc", "DEVICE"); !errors.Is(err, ErrNameTooShort) {
		t.Errorf("Signup() error = %v, want ErrNameTooShort", err)
	}
}
