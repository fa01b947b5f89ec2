package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/bibekanandan892/peerchat/internal/api"
	"github.com/bibekanandan892/peerchat/internal/session"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	sessionName, err := session.Resolve(*sessionFlag)
	if err != nil {
		fail(err)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	socketPath := session.SocketPath(sessionName)
	if args[0] == "start" {
		cmdStart(sessionName, socketPath)
		return
	}

	c, err := api.Dial(socketPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot connect to daemon for session %q: %v\n", sessionName, err)
		os.Exit(1)
	}
	defer func() { _ = c.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch args[0] {
	case "status":
		cmdStatus(ctx, c, *jsonFlag)
	case "send":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: peerchatctl send <text>")
			os.Exit(1)
		}
		cmdSend(ctx, c, strings.Join(args[1:], " "), *jsonFlag)
	case "accept":
		check(c.Control.Accept(ctx))
		fmt.Println("Accept sent.")
	case "rematch":
		check(c.Control.Rematch(ctx))
		fmt.Println("Looking for a new match.")
	case "exit":
		check(c.Control.Exit(ctx))
		fmt.Println("Left the chat.")
	case "online":
		check(c.Control.Connectivity(ctx, true))
		fmt.Println("Network marked available.")
	case "offline":
		check(c.Control.Connectivity(ctx, false))
		fmt.Println("Network marked unavailable.")
	case "messages":
		cmdMessages(ctx, c, *jsonFlag)
	case "watch":
		cancel()
		namespace := ""
		if len(args) >= 2 {
			namespace = args[1]
		}
		cmdWatch(c, namespace)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: peerchatctl [--session <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  start            Start the daemon if it is not running")
	fmt.Fprintln(os.Stderr, "  status           Show connection and match state")
	fmt.Fprintln(os.Stderr, "  send <text>      Send a message to the current peer")
	fmt.Fprintln(os.Stderr, "  accept           Accept the current match")
	fmt.Fprintln(os.Stderr, "  rematch          Drop the match and look for another")
	fmt.Fprintln(os.Stderr, "  exit             Leave the chat")
	fmt.Fprintln(os.Stderr, "  online|offline   Report network availability")
	fmt.Fprintln(os.Stderr, "  messages         List the current chat")
	fmt.Fprintln(os.Stderr, "  watch [prefix]   Stream daemon events (e.g. message.)")
}

func cmdStatus(ctx context.Context, c *api.Client, jsonOut bool) {
	resp, err := c.Control.Status(ctx)
	check(err)
	if jsonOut {
		outputJSON(resp)
		return
	}
	f := resp.GetFields()
	m := f["match"].GetStructValue().GetFields()
	fmt.Printf("Session:   %s\n", f["session"].GetStringValue())
	fmt.Printf("Socket:    %s (connected: %v)\n", f["socket"].GetStringValue(), f["connected"].GetBoolValue())
	fmt.Printf("Match:     %s\n", m["state"].GetStringValue())
	if peer := m["peer_id"].GetStringValue(); peer != "" {
		fmt.Printf("Peer:      %s (chat %s)\n", peer, m["chat_id"].GetStringValue())
	}
	fmt.Printf("Outbox:    %d pending\n", int(f["outbox_depth"].GetNumberValue()))
	fmt.Printf("Messages:  %d\n", int(f["message_count"].GetNumberValue()))
	fmt.Printf("Uptime:    %dms\n", int64(f["uptime_ms"].GetNumberValue()))
	if f["exited"].GetBoolValue() {
		fmt.Println("Exited; run rematch to reconnect.")
	}
}

func cmdSend(ctx context.Context, c *api.Client, text string, jsonOut bool) {
	resp, err := c.Control.Send(ctx, text)
	check(err)
	if jsonOut {
		outputJSON(resp)
		return
	}
	fmt.Printf("Queued %s (%s)\n", resp.GetFields()["local_id"].GetStringValue(), resp.GetFields()["status"].GetStringValue())
}

func cmdMessages(ctx context.Context, c *api.Client, jsonOut bool) {
	resp, err := c.Control.ListMessages(ctx)
	check(err)
	if jsonOut {
		outputJSON(resp)
		return
	}
	if len(resp.GetValues()) == 0 {
		fmt.Println("No messages.")
		return
	}
	for _, v := range resp.GetValues() {
		printMessage(v.GetStructValue())
	}
}

func printMessage(m *structpb.Struct) {
	f := m.GetFields()
	at := time.UnixMilli(int64(f["sent_at"].GetNumberValue())).Format("15:04:05")
	who := f["sender_name"].GetStringValue()
	if f["from_me"].GetBoolValue() {
		who = "me"
	}
	line := fmt.Sprintf("[%s] %s: %s", at, who, f["body"].GetStringValue())
	if st := f["status"].GetStringValue(); st != "" && f["from_me"].GetBoolValue() {
		line += " (" + st + ")"
	}
	fmt.Println(line)
}

func cmdWatch(c *api.Client, namespace string) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stream, err := c.Control.WatchEvents(ctx, namespace)
	check(err)
	for {
		evt, err := stream.Recv()
		if errors.Is(err, io.EOF) || ctx.Err() != nil {
			return
		}
		check(err)
		outputJSON(evt)
	}
}

func cmdStart(sessionName, socketPath string) {
	if probeDaemon(socketPath) {
		fmt.Printf("Daemon already running for session %q.\n", sessionName)
		return
	}
	fmt.Fprintf(os.Stderr, "daemon not running for session %q, starting...\n", sessionName)
	if err := startDaemon(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "failed to start daemon: %v\n", err)
		os.Exit(1)
	}
	if !waitForDaemon(socketPath, 10*time.Second) {
		fmt.Fprintln(os.Stderr, "daemon did not become ready")
		os.Exit(1)
	}
	fmt.Printf("Daemon started for session %q.\n", sessionName)
}

// probeDaemon runs a gRPC health check against the control socket.
func probeDaemon(socketPath string) bool {
	c, err := api.Dial(socketPath)
	if err != nil {
		return false
	}
	defer func() { _ = c.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := c.Health.Check(ctx, &healthpb.HealthCheckRequest{Service: api.ControlServiceName})
	return err == nil && resp.GetStatus() == healthpb.HealthCheckResponse_SERVING
}

func startDaemon(sessionName string) error {
	executable, err := os.Executable()
	if err != nil {
		return err
	}
	peerchatd := filepath.Join(filepath.Dir(executable), "peerchatd")

	if _, err := os.Stat(peerchatd); err != nil {
		peerchatd = "peerchatd"
	}

	cmd := exec.Command(peerchatd, "--session", sessionName)
	// Inherit stderr so daemon startup errors are visible.
	cmd.Stderr = os.Stderr
	return cmd.Start()
}

func waitForDaemon(socketPath string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if probeDaemon(socketPath) {
			return true
		}
		time.Sleep(300 * time.Millisecond)
	}
	return false
}

func outputJSON(m proto.Message) {
	data, err := protojson.Marshal(m)
	if err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
		return
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		fmt.Println(string(data))
		return
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}

func check(err error) {
	if err != nil {
		fail(err)
	}
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
