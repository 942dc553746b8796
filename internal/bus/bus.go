// Package bus publishes engine lifecycle events to NATS so external
// observers (dashboards, alerting pipelines) can follow scans,
// position opens/closes, and critical alerts without polling the
// persisted-state files. This is additive telemetry, not a control
// path: nothing in internal/supervisor or internal/strategy blocks on
// a publish succeeding. Grounded on the teacher's
// internal/orchestrator/messagebus.go connection setup (reconnect
// handling, structured logging), narrowed from its full
// agent-to-agent request/reply/broadcast protocol down to fire-and-
// forget event publishing, since the funding-arb engine has no
// agent-to-agent messaging concern.
package bus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// Event subjects published under Config.Prefix (default "fundingbot.").
const (
	SubjectScanCompleted   = "scan.completed"
	SubjectPositionOpened  = "position.opened"
	SubjectPositionClosed  = "position.closed"
	SubjectPositionReduced = "position.reduced"
	SubjectAlertCritical   = "alert.critical"
)

// Config configures the publisher's NATS connection.
type Config struct {
	URL    string
	Prefix string
}

// DefaultConfig returns the engine's default bus settings.
func DefaultConfig() Config {
	return Config{URL: "nats://localhost:4222", Prefix: "fundingbot."}
}

// Event is the envelope published for every subject.
type Event struct {
	ID        uuid.UUID              `json:"id"`
	Subject   string                 `json:"subject"`
	Timestamp time.Time              `json:"timestamp"`
	Payload   map[string]interface{} `json:"payload"`
}

// Publisher is a thin fire-and-forget wrapper over a NATS connection.
// A nil *Publisher is valid and every publish call becomes a no-op, so
// callers can wire it unconditionally and skip it only when no NATS
// URL is configured.
type Publisher struct {
	nc     *nats.Conn
	prefix string
	log    zerolog.Logger
}

// Connect dials NATS and returns a Publisher. Reconnection is handled
// by the nats.go client itself per the teacher's connection options.
func Connect(cfg Config, log zerolog.Logger) (*Publisher, error) {
	if cfg.Prefix == "" {
		cfg.Prefix = "fundingbot."
	}
	nc, err := nats.Connect(
		cfg.URL,
		nats.Name("fundingbot-engine"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("bus disconnected from NATS")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("bus reconnected to NATS")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return &Publisher{nc: nc, prefix: cfg.Prefix, log: log.With().Str("component", "bus").Logger()}, nil
}

// Close closes the underlying connection without draining it. Safe on a nil
// Publisher.
func (p *Publisher) Close() {
	if p == nil || p.nc == nil {
		return
	}
	p.nc.Close()
}

// publish marshals and sends an event, logging (not returning) a
// failure — publish failures never abort the scan/monitor tick that
// triggered them.
func (p *Publisher) publish(subject string, payload map[string]interface{}) {
	if p == nil || p.nc == nil {
		return
	}
	evt := Event{
		ID:        uuid.New(),
		Subject:   subject,
		Timestamp: time.Now(),
		Payload:   payload,
	}
	data, err := json.Marshal(evt)
	if err != nil {
		p.log.Warn().Err(err).Str("subject", subject).Msg("failed to marshal bus event")
		return
	}
	if err := p.nc.Publish(p.prefix+subject, data); err != nil {
		p.log.Warn().Err(err).Str("subject", subject).Msg("failed to publish bus event")
	}
}

// ScanCompleted announces a finished scan tick's opportunity count.
func (p *Publisher) ScanCompleted(opportunityCount int, strategyName string) {
	p.publish(SubjectScanCompleted, map[string]interface{}{
		"opportunity_count": opportunityCount,
		"strategy":          strategyName,
	})
}

// PositionOpened announces a newly hedged position.
func (p *Publisher) PositionOpened(positionID string, sizeUSD float64) {
	p.publish(SubjectPositionOpened, map[string]interface{}{
		"position_id": positionID,
		"size_usd":    sizeUSD,
	})
}

// PositionClosed announces a closed position's realised PnL.
func (p *Publisher) PositionClosed(positionID string, pnlUSD float64) {
	p.publish(SubjectPositionClosed, map[string]interface{}{
		"position_id": positionID,
		"pnl_usd":     pnlUSD,
	})
}

// PositionReduced announces a partial close.
func (p *Publisher) PositionReduced(positionID string, fraction float64) {
	p.publish(SubjectPositionReduced, map[string]interface{}{
		"position_id": positionID,
		"fraction":    fraction,
	})
}

// AlertCritical mirrors a critical alerts.Manager event onto the bus so
// external subscribers don't have to also be a Telegram chat member.
func (p *Publisher) AlertCritical(title, message string) {
	p.publish(SubjectAlertCritical, map[string]interface{}{
		"title":   title,
		"message": message,
	})
}
