// Package services holds the built-in integration backends registered at
// startup: an HL7 gateway plus lab, pharmacy, and insurance stand-ins.
// Each implements the registry service interface; the engine never sees
// their internals.
package services

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/orchestrator/internal/orchestrator/registry"
	"github.com/ehr/orchestrator/internal/platform/hl7v2"
)

// HL7Gateway builds HL7 v2 messages from the execution payload and,
// when the step configures an endpoint, delivers them over MLLP.
// Without an endpoint the encoded message is returned for a downstream
// step to carry.
type HL7Gateway struct {
	sendingApp string
	sendingFac string
	logger     zerolog.Logger
}

// NewHL7Gateway creates the HL7 service with the local system identity
// stamped into MSH-3/MSH-4.
func NewHL7Gateway(sendingApp, sendingFac string, logger zerolog.Logger) *HL7Gateway {
	return &HL7Gateway{
		sendingApp: sendingApp,
		sendingFac: sendingFac,
		logger:     logger.With().Str("component", "hl7-gateway").Logger(),
	}
}

// Invoke handles the send-message operation. Step config keys:
// message_type, receiving_app, receiving_fac, endpoint (host:port),
// timeout_ms.
func (g *HL7Gateway) Invoke(ctx context.Context, operation string, input, config map[string]interface{}) (map[string]interface{}, error) {
	if operation != "send-message" {
		return nil, fmt.Errorf("hl7: unknown operation %q", operation)
	}

	opts := hl7v2.BuildOptions{
		SendingApp:   g.sendingApp,
		SendingFac:   g.sendingFac,
		ReceivingApp: cfgString(config, "receiving_app"),
		ReceivingFac: cfgString(config, "receiving_fac"),
		MessageType:  cfgString(config, "message_type"),
	}
	msg, err := hl7v2.Build(opts, input)
	if err != nil {
		return nil, err
	}

	out := map[string]interface{}{}
	for k, v := range input {
		out[k] = v
	}
	out["hl7_control_id"] = msg.ControlID
	out["hl7_message"] = string(msg.Encode())

	endpoint := cfgString(config, "endpoint")
	if endpoint == "" {
		return out, nil
	}

	timeout := 10 * time.Second
	if ms, ok := config["timeout_ms"].(float64); ok && ms > 0 {
		timeout = time.Duration(ms) * time.Millisecond
	}
	ack, err := hl7v2.NewClient(endpoint, timeout).Send(ctx, msg)
	if err != nil {
		return nil, err
	}
	code, err := hl7v2.AckCode(ack)
	if err != nil {
		return nil, err
	}
	if code != "AA" {
		return nil, fmt.Errorf("hl7: message %s rejected with %s", msg.ControlID, code)
	}
	g.logger.Debug().Str("control_id", msg.ControlID).Str("endpoint", endpoint).
		Msg("message acknowledged")
	out["hl7_ack_code"] = code
	return out, nil
}

// HealthStatus reports the gateway itself; endpoints are per-step, so
// there is nothing remote to probe here.
func (g *HL7Gateway) HealthStatus(context.Context) registry.ProbeResult {
	return registry.ProbeResult{Status: "UP"}
}

func cfgString(config map[string]interface{}, key string) string {
	s, _ := config[key].(string)
	return s
}
