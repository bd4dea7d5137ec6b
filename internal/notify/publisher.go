// Package notify publishes finished-run events to NATS for downstream
// consumers (dashboards, chat bots, deploy hooks).
package notify

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"git.home.luguber.info/inful/autobuild/internal/daemon/events"
)

// RunEvent is the wire shape of a finished build run.
type RunEvent struct {
	Profile    string    `json:"profile"`
	RunID      string    `json:"run_id"`
	PID        int       `json:"pid,omitempty"`
	Status     string    `json:"status"`
	ExitCode   int       `json:"exit_code"`
	Note       string    `json:"note,omitempty"`
	LogFile    string    `json:"log_file,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Timestamp  time.Time `json:"timestamp"` // when the event was published
}

// Publisher holds a NATS connection bound to one subject. Publishes are
// fire-and-forget core NATS messages; run notifications are advisory and a
// missed one carries no build-state consequence.
type Publisher struct {
	conn    *nats.Conn
	subject string
}

// NewPublisher connects to NATS. The connection retries in the background on
// interruption, so a broker restart does not take the daemon down with it.
func NewPublisher(url, subject string) (*Publisher, error) {
	if url == "" {
		return nil, fmt.Errorf("nats url is required")
	}
	if subject == "" {
		return nil, fmt.Errorf("nats subject is required")
	}

	conn, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	slog.Info("NATS run notifications enabled",
		slog.String("url", url),
		slog.String("subject", subject))

	return &Publisher{conn: conn, subject: subject}, nil
}

// Publish sends one finished run to the configured subject.
func (p *Publisher) Publish(run events.RunFinished) error {
	evt := RunEvent{
		Profile:    run.Profile,
		RunID:      run.RunID,
		PID:        run.PID,
		Status:     run.Status,
		ExitCode:   run.ExitCode,
		Note:       run.Note,
		LogFile:    run.LogFile,
		StartedAt:  run.StartedAt,
		FinishedAt: run.FinishedAt,
		Timestamp:  time.Now().UTC(),
	}

	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal run event: %w", err)
	}

	if err := p.conn.Publish(p.subject, data); err != nil {
		return fmt.Errorf("failed to publish run event: %w", err)
	}

	slog.Debug("Published run notification",
		slog.String("profile", run.Profile),
		slog.String("run_id", run.RunID),
		slog.String("status", run.Status))
	return nil
}

// Close flushes pending messages and drops the connection.
func (p *Publisher) Close() error {
	if p.conn != nil {
		if err := p.conn.Flush(); err != nil {
			slog.Warn("Failed to flush NATS connection", slog.String("error", err.Error()))
		}
		p.conn.Close()
	}
	return nil
}
