// Package hl7v2 builds outbound HL7 v2 messages and moves them over MLLP.
// The engine treats message internals as opaque; only the hl7 integration
// service reaches in here.
package hl7v2

import (
	"fmt"
	"strings"
	"time"
)

// Message is an ordered list of pipe-delimited segments. The first segment
// is always MSH.
type Message struct {
	Type      string // MSH-9, e.g. "ADT^A01"
	ControlID string // MSH-10
	segments  []string
}

// BuildOptions identifies the sending and receiving systems for MSH.
type BuildOptions struct {
	SendingApp   string
	SendingFac   string
	ReceivingApp string
	ReceivingFac string
	MessageType  string // defaults to "ADT^A01"
	ControlID    string // defaults to a timestamp-derived id
	Version      string // defaults to "2.5.1"
}

// Build assembles a message from a workflow payload. Recognized payload
// fields (patient.id, patient.family, patient.given, patient.birth_date,
// patient.gender, order.id, order.code) populate PID and ORC/OBR segments;
// everything else is ignored.
func Build(opts BuildOptions, payload map[string]interface{}) (*Message, error) {
	if opts.MessageType == "" {
		opts.MessageType = "ADT^A01"
	}
	if opts.Version == "" {
		opts.Version = "2.5.1"
	}
	now := time.Now().UTC()
	if opts.ControlID == "" {
		opts.ControlID = "MSG" + now.Format("20060102150405.000")
	}

	msh := strings.Join([]string{
		"MSH", "^~\\&",
		opts.SendingApp, opts.SendingFac,
		opts.ReceivingApp, opts.ReceivingFac,
		now.Format("20060102150405"), "",
		opts.MessageType, opts.ControlID, "P", opts.Version,
	}, "|")

	m := &Message{
		Type:      opts.MessageType,
		ControlID: opts.ControlID,
		segments:  []string{msh},
	}

	if patient, ok := payload["patient"].(map[string]interface{}); ok {
		m.segments = append(m.segments, pidSegment(patient))
	}
	if order, ok := payload["order"].(map[string]interface{}); ok {
		m.segments = append(m.segments,
			"ORC|NW|"+str(order["id"]),
			"OBR|1|"+str(order["id"])+"||"+str(order["code"]))
	}
	if len(m.segments) == 1 {
		return nil, fmt.Errorf("hl7v2: payload has neither patient nor order")
	}
	return m, nil
}

func pidSegment(patient map[string]interface{}) string {
	name := str(patient["family"])
	if given := str(patient["given"]); given != "" {
		name += "^" + given
	}
	return strings.Join([]string{
		"PID", "1", "", str(patient["id"]), "",
		name, "", str(patient["birth_date"]), str(patient["gender"]),
	}, "|")
}

func str(v interface{}) string {
	s, _ := v.(string)
	return s
}

// Encode renders the message with \r segment separators.
func (m *Message) Encode() []byte {
	return []byte(strings.Join(m.segments, "\r"))
}

// Segments returns the rendered segments in order.
func (m *Message) Segments() []string {
	out := make([]string, len(m.segments))
	copy(out, m.segments)
	return out
}

// AckCode extracts MSA-1 from a raw acknowledgment. "AA" means accepted.
func AckCode(raw []byte) (string, error) {
	text := strings.ReplaceAll(string(raw), "\n", "\r")
	for _, line := range strings.Split(text, "\r") {
		if strings.HasPrefix(line, "MSA|") {
			fields := strings.Split(line, "|")
			if len(fields) > 1 {
				return fields[1], nil
			}
		}
	}
	return "", fmt.Errorf("hl7v2: no MSA segment in acknowledgment")
}
