package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/bibekanandan892/peerchat/internal/auth"
	"github.com/bibekanandan892/peerchat/internal/credentials"
	"github.com/bibekanandan892/peerchat/internal/logging"
	"github.com/bibekanandan892/peerchat/internal/session"
)

func runSignup(args []string) int {
	fs := flag.NewFlagSet("signup", flag.ExitOnError)
	sessionFlag := fs.String("session", "", "session name (overrides config default)")
	configFlag := fs.String("config", "", "config file (default ~/.peerchat/config.toml)")
	nameFlag := fs.String("name", "", fmt.Sprintf("user name, at least %d letters or digits", auth.MinNameLength))
	_ = fs.Parse(args)

	if *nameFlag == "" {
		fmt.Fprintln(os.Stderr, "usage: peerchatd signup [--session <name>] --name <user name>")
		return 2
	}

	sessionName, err := session.Resolve(*sessionFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	cfg, err := loadConfig(*configFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	if err := session.EnsureDir(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	logger, err := logging.New(session.LogPath(sessionName), sessionName, cfg.Log.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	creds := credentials.NewStore(session.CredentialsPath(sessionName))
	deviceID, ok, err := creds.Get(credentials.DeviceID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	if !ok || deviceID == "" {
		deviceID = auth.DeriveDeviceID(deviceSeed())
	}

	client := auth.NewClient(cfg.Server.AuthURL, cfg.Server.Endpoint, cfg.Server.UserAgent, nil, logger.Named("auth"))
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	resp, err := auth.Signup(ctx, client, creds, *nameFlag, deviceID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "signup failed: %v\n", err)
		return 1
	}
	fmt.Printf("Signed up as %s (session %s)\n", resp.UserID, sessionName)
	fmt.Printf("Credentials: %s\n", creds.Path())
	return 0
}

// deviceSeed identifies this machine: the systemd machine id when present,
// else the hostname.
func deviceSeed() string {
	for _, path := range []string{"/etc/machine-id", "/var/lib/dbus/machine-id"} {
		if data, err := os.ReadFile(path); err == nil {
			if id := strings.TrimSpace(string(data)); id != "" {
				return id
			}
		}
	}
	host, _ := os.Hostname()
	return host
}
