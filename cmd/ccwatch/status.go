package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"golang.org/x/term"

	"ccwatch/internal/config"
	"ccwatch/internal/usage"
)

const statusTimeout = 5 * time.Second

// statusDoc is the slice of the daemon's status document the CLI renders.
type statusDoc struct {
	Version       string          `json:"version"`
	UptimeSec     int64           `json:"uptime_sec"`
	State         string          `json:"state"`
	ResumeAt      *time.Time      `json:"resume_at"`
	Snapshot      *usage.Snapshot `json:"snapshot"`
	Staleness     string          `json:"staleness"`
	LastError     string          `json:"last_error"`
	LastErrorKind string          `json:"last_error_kind"`
	AccessDenied  bool            `json:"access_denied"`
	EnvOverride   bool            `json:"env_override"`
	ManualKey     bool            `json:"manual_key"`
}

// runStatus queries a running daemon and prints its state, human-readable
// on a terminal and raw JSON otherwise.
func runStatus(args []string) int {
	flags := flag.NewFlagSet("ccwatch status", flag.ExitOnError)
	configPath := flags.String("config", config.DefaultConfigPath(), "Path to configuration file")
	addr := flags.String("addr", "", "Daemon address host:port (default from config)")
	asJSON := flags.Bool("json", false, "Print the raw JSON document")
	_ = flags.Parse(args)

	listen := *addr
	if listen == "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "ccwatch: %v\n", err)
			return 1
		}
		listen = cfg.Listen
	}

	body, err := fetchStatus(listen)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ccwatch: %v\n", err)
		return 1
	}

	if *asJSON || !term.IsTerminal(int(os.Stdout.Fd())) {
		os.Stdout.Write(body)
		fmt.Println()
		return 0
	}

	var doc statusDoc
	if err := json.Unmarshal(body, &doc); err != nil {
		fmt.Fprintf(os.Stderr, "ccwatch: unexpected status document: %v\n", err)
		return 1
	}
	renderStatus(os.Stdout, &doc, time.Now())
	return 0
}

func fetchStatus(addr string) ([]byte, error) {
	client := &http.Client{Timeout: statusTimeout}
	resp, err := client.Get("http://" + addr + "/v0/status")
	if err != nil {
		return nil, fmt.Errorf("daemon not reachable at %s: %w", addr, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("daemon answered %s", resp.Status)
	}
	return body, nil
}

func renderStatus(w io.Writer, doc *statusDoc, now time.Time) {
	fmt.Fprintf(w, "state       %s\n", doc.State)
	if doc.ResumeAt != nil {
		fmt.Fprintf(w, "resumes     %s\n", doc.ResumeAt.Local().Format(time.Kitchen))
	}
	if doc.Snapshot != nil {
		if doc.Snapshot.FiveHour != nil {
			fmt.Fprintf(w, "5h window   %s\n", formatWindow(doc.Snapshot.FiveHour, now))
		}
		if doc.Snapshot.SevenDay != nil {
			fmt.Fprintf(w, "7d window   %s\n", formatWindow(doc.Snapshot.SevenDay, now))
		}
		fmt.Fprintf(w, "fetched     %s ago (%s)\n", formatDuration(now.Sub(doc.Snapshot.FetchedAt)), doc.Staleness)
	} else {
		fmt.Fprintln(w, "usage       no snapshot yet")
	}
	if doc.AccessDenied {
		fmt.Fprintln(w, "credential  keychain access denied; retry from the app or the API")
	}
	switch {
	case doc.EnvOverride:
		fmt.Fprintln(w, "credential  environment token override active")
	case doc.ManualKey:
		fmt.Fprintln(w, "credential  manual API key configured")
	}
	if doc.LastError != "" {
		fmt.Fprintf(w, "last error  %s (%s)\n", doc.LastError, doc.LastErrorKind)
	}
	fmt.Fprintf(w, "daemon      %s, up %s\n", doc.Version, formatDuration(time.Duration(doc.UptimeSec)*time.Second))
}

func formatWindow(win *usage.Window, now time.Time) string {
	until := win.ResetsAt.Sub(now)
	if until <= 0 {
		return fmt.Sprintf("%.0f%% used, reset due", win.Utilization)
	}
	return fmt.Sprintf("%.0f%% used, resets in %s", win.Utilization, formatDuration(until))
}

func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
	default:
		return fmt.Sprintf("%dd%dh", int(d.Hours())/24, int(d.Hours())%24)
	}
}
