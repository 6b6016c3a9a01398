// Package message defines the telemetry messages exchanged between scooters
// and the server, and their JSON wire encoding.
package message

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrMalformedPayload is returned when bytes cannot be decoded into a known message.
var ErrMalformedPayload = errors.New("malformed payload")

// Type is the tag carried in the "type" field of every message.
type Type string

const (
	TypeRegister Type = "register"
	TypeLocation Type = "location"
	TypeStatus   Type = "status"
	TypeCommand  Type = "command"
	TypeAck      Type = "ack"
)

// Valid reports whether t is one of the known message types.
func (t Type) Valid() bool {
	switch t {
	case TypeRegister, TypeLocation, TypeStatus, TypeCommand, TypeAck:
		return true
	default:
		return false
	}
}

// Location is a position in floating point degrees.
type Location struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Status is a point-in-time vehicle state report.
type Status struct {
	BatteryLevel float64 `json:"battery_level"`
	IsLocked     bool    `json:"is_locked"`
	Speed        int     `json:"speed"`
}

// Message is the envelope shared by every transport. Only the fields that
// belong to Type are populated.
type Message struct {
	Type      Type      `json:"type"`
	ScooterID string    `json:"scooter_id,omitempty"`
	Location  *Location `json:"location,omitempty"`
	Battery   *float64  `json:"battery,omitempty"`
	Status    *Status   `json:"status,omitempty"`
	Command   string    `json:"command,omitempty"`
	SendTime  float64   `json:"send_time,omitempty"`
	Ack       string    `json:"ack,omitempty"`
}

// NewRegister announces a scooter to the server.
func NewRegister(scooterID string) Message {
	return Message{Type: TypeRegister, ScooterID: scooterID}
}

// NewLocation reports a position and the remaining battery (rounded to one decimal).
func NewLocation(scooterID string, loc Location, battery float64) Message {
	b := round1(battery)
	return Message{Type: TypeLocation, ScooterID: scooterID, Location: &loc, Battery: &b}
}

// NewStatus reports lock state and speed. Speed is forced to zero when locked.
func NewStatus(scooterID string, battery float64, locked bool, speed int) Message {
	if locked {
		speed = 0
	}
	return Message{
		Type:      TypeStatus,
		ScooterID: scooterID,
		Status:    &Status{BatteryLevel: round1(battery), IsLocked: locked, Speed: speed},
	}
}

// NewCommand builds a server command stamped with its origination time.
func NewCommand(name string, at time.Time) Message {
	return Message{Type: TypeCommand, Command: name, SendTime: Timestamp(at)}
}

// NewAck acknowledges cmd. The command's SendTime is copied unmodified so the
// server can correlate the ack and compute the round trip.
func NewAck(cmd Message, scooterID string) Message {
	return Message{
		Type:      TypeAck,
		ScooterID: scooterID,
		Ack:       fmt.Sprintf("command '%s' received", cmd.Command),
		SendTime:  cmd.SendTime,
	}
}

// Timestamp converts t to float seconds since the Unix epoch.
func Timestamp(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// Time converts float seconds since the Unix epoch back to a time.Time.
func Time(ts float64) time.Time {
	sec, frac := math.Modf(ts)
	return time.Unix(int64(sec), int64(frac*float64(time.Second)))
}

// Encode returns the compact JSON encoding of m.
func Encode(m Message) ([]byte, error) {
	if !m.Type.Valid() {
		return nil, fmt.Errorf("encode: unknown message type %q", m.Type)
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Type, err)
	}
	return b, nil
}

// Decode parses one message. It fails with ErrMalformedPayload when the bytes
// are not a JSON object or carry no recognized type tag.
func Decode(b []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(b, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if !m.Type.Valid() {
		return Message{}, fmt.Errorf("%w: unknown type %q", ErrMalformedPayload, m.Type)
	}
	return m, nil
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
