package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shineum/mailr/internal/config"
	"github.com/shineum/mailr/internal/provider"
	"github.com/shineum/mailr/internal/provider/graph"
	"github.com/shineum/mailr/internal/provider/ses"
	"github.com/shineum/mailr/internal/provider/smtp"
	"github.com/shineum/mailr/internal/provider/stdout"
)

// selectTransport chooses the mail transport and the sender used when an
// intent names none. An explicit transport must be fully configured; without
// one the first configured of smtp, graph and ses wins, falling back to stdout.
func selectTransport(ctx context.Context, cfg *config.Config, log *slog.Logger) (provider.Provider, string, error) {
	name := cfg.Transport
	autodetected := name == ""
	if autodetected {
		switch {
		case cfg.SMTPConfigured():
			name = config.TransportSMTP
		case cfg.GraphConfigured():
			name = config.TransportGraph
		case cfg.SESConfigured():
			name = config.TransportSES
		default:
			name = config.TransportStdout
		}
	}

	switch name {
	case config.TransportSMTP:
		if !cfg.SMTPConfigured() {
			return nil, "", errors.New("smtp transport selected but SMTP_HOST is required")
		}
		log.Info("using SMTP transport",
			"host", cfg.SMTP.Host,
			"port", cfg.SMTP.Port,
			"auth_enabled", cfg.SMTPAuthEnabled(),
			"auto_detected", autodetected,
		)
		return smtp.New(smtp.Config{
			Host:               cfg.SMTP.Host,
			Port:               cfg.SMTP.Port,
			Username:           cfg.SMTP.Username,
			Password:           cfg.SMTP.Password,
			From:               cfg.SMTP.From,
			InsecureSkipVerify: cfg.SMTP.InsecureSkipVerify,
		}), cfg.SMTP.From, nil

	case config.TransportGraph:
		if !cfg.GraphConfigured() {
			return nil, "", errors.New("graph transport selected but GRAPH_TENANT_ID, GRAPH_CLIENT_ID, GRAPH_CLIENT_SECRET, and GRAPH_SENDER are required")
		}
		log.Info("using Microsoft Graph transport", "sender", cfg.Graph.Sender, "auto_detected", autodetected)
		return graph.New(graph.Config{
			TenantID:     cfg.Graph.TenantID,
			ClientID:     cfg.Graph.ClientID,
			ClientSecret: cfg.Graph.ClientSecret,
			Sender:       cfg.Graph.Sender,
		}), cfg.Graph.Sender, nil

	case config.TransportSES:
		if !cfg.SESConfigured() {
			return nil, "", errors.New("ses transport selected but SES_REGION and SES_SENDER are required")
		}
		log.Info("using AWS SES transport",
			"region", cfg.SES.Region,
			"sender", cfg.SES.Sender,
			"auto_detected", autodetected,
		)
		p, err := ses.New(ctx, ses.Config{
			Region:          cfg.SES.Region,
			AccessKeyID:     cfg.SES.AccessKeyID,
			SecretAccessKey: cfg.SES.SecretAccessKey,
			Sender:          cfg.SES.Sender,
		})
		if err != nil {
			return nil, "", fmt.Errorf("failed to create SES transport: %w", err)
		}
		return p, cfg.SES.Sender, nil

	case config.TransportStdout:
		log.Info("using stdout transport", "auto_detected", autodetected)
		return stdout.New(), "", nil

	default:
		return nil, "", fmt.Errorf("unknown transport %q", name)
	}
}
