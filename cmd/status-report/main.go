// Package main mails a server status report to operators through the
// notifier's configured mail transports.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"notifier/internal/bootstrap"
	"notifier/internal/config"
	"notifier/internal/events"
	"notifier/internal/sender/email"
)

func main() {
	var (
		envFile, to string
		report      events.StatusReport
		timeout     time.Duration
	)
	flag.StringVar(&envFile, "env-file", ".env", "Optional dotenv file read before the environment")
	flag.StringVar(&to, "to", "", "Report recipients (comma-separated)")
	flag.IntVar(&report.TotalServers, "total", 0, "Number of monitored servers")
	flag.IntVar(&report.UpServers, "up", 0, "Number of servers up")
	flag.IntVar(&report.DownServers, "down", 0, "Number of servers down")
	flag.IntVar(&report.TotalIncidentsToday, "incidents", 0, "Incidents recorded today")
	flag.DurationVar(&timeout, "timeout", time.Minute, "Upper bound for sending the report")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, nil)))

	if err := run(envFile, splitList(to), report, timeout); err != nil {
		slog.Error("Status report failed", "error", err)
		os.Exit(1)
	}
}

func run(envFile string, to []string, report events.StatusReport, timeout time.Duration) error {
	if len(to) == 0 {
		return fmt.Errorf("to cannot be empty")
	}
	if err := validateReport(report); err != nil {
		return err
	}

	cfg, err := config.Load(envFile)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	transport, err := bootstrap.MailTransport(ctx, cfg)
	if err != nil {
		return err
	}

	report.GeneratedAt = time.Now().UTC()
	slog.Info("Sending status report",
		"recipients", len(to),
		"total_servers", report.TotalServers,
		"down_servers", report.DownServers,
	)
	return email.NewSender(cfg.Smtp.Username, transport).SendStatusReport(ctx, to, report)
}

func validateReport(r events.StatusReport) error {
	if r.TotalServers < 0 || r.UpServers < 0 || r.DownServers < 0 || r.TotalIncidentsToday < 0 {
		return fmt.Errorf("counters cannot be negative")
	}
	if r.UpServers+r.DownServers > r.TotalServers {
		return fmt.Errorf("up (%d) + down (%d) exceeds total (%d)", r.UpServers, r.DownServers, r.TotalServers)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
