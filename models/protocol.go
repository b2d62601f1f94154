package models

import (
	"encoding/json"
	"fmt"
)

// Message type discriminators used by the bridge wire protocol.
const (
	TypeCommand             = "command"
	TypeEvent               = "event"
	TypeRawData             = "raw_data"
	TypeProcessedData       = "processed_data"
	TypeSensorData          = "sensor_data"
	TypeHealthCheckResponse = "health_check_response"
)

// Commands accepted by the bridge.
const (
	CmdCheckDeviceConnection = "check_device_connection"
	CmdCheckBluetoothStatus  = "check_bluetooth_status"
	CmdScanDevices           = "scan_devices"
	CmdConnectDevice         = "connect_device"
	CmdDisconnectDevice      = "disconnect_device"
	CmdStartStreaming        = "start_streaming"
	CmdStopStreaming         = "stop_streaming"
	CmdHealthCheck           = "health_check"
)

// Event types emitted by the bridge.
const (
	EventDeviceInfo             = "device_info"
	EventDeviceConnected        = "device_connected"
	EventDeviceDisconnected     = "device_disconnected"
	EventDeviceConnectionFailed = "device_connection_failed"
	EventStreamStarted          = "stream_started"
	EventStreamStopped          = "stream_stopped"
	EventBatteryStatus          = "battery_status"
	EventSignalQuality          = "signal_quality"
	EventScanResult             = "scan_result"
)

// Command is a client-to-bridge control message.
type Command struct {
	Type    string         `json:"type"`
	Command string         `json:"command"`
	Payload map[string]any `json:"payload,omitempty"`
}

// NewCommand builds a command frame ready for marshalling.
func NewCommand(name string, payload map[string]any) *Command {
	return &Command{
		Type:    TypeCommand,
		Command: name,
		Payload: payload,
	}
}

// Event is a bridge-to-client notification.
type Event struct {
	Type      string          `json:"type"`
	EventType string          `json:"event_type"`
	Data      json.RawMessage `json:"data"`
}

// SensorFrame carries one batch of samples for a single sensor type.
type SensorFrame struct {
	Type       string    `json:"type"`
	SensorType string    `json:"sensor_type"`
	DeviceID   string    `json:"device_id"`
	Timestamp  float64   `json:"timestamp"`
	Data       []float64 `json:"data"`
}

// HealthCheckResponse is the bridge's acknowledgement of a health_check command.
type HealthCheckResponse struct {
	Type             string `json:"type"`
	Status           string `json:"status"`
	ClientsConnected int    `json:"clients_connected"`
	IsStreaming      bool   `json:"is_streaming"`
	DeviceConnected  bool   `json:"device_connected"`
}

// DeviceInfo is the data payload of a device_info / device_connected event.
type DeviceInfo struct {
	DeviceID string   `json:"device_id"`
	Name     string   `json:"name,omitempty"`
	Address  string   `json:"address,omitempty"`
	Channels []string `json:"channels,omitempty"`
}

// BatteryStatus is the data payload of a battery_status event.
type BatteryStatus struct {
	DeviceID string  `json:"device_id"`
	Level    float64 `json:"level"`
}

// InboundMessage is the decoded form of one bridge frame. Exactly one of
// Event, Frame or Health is set, matching Kind.
type InboundMessage struct {
	Kind   string
	Event  *Event
	Frame  *SensorFrame
	Health *HealthCheckResponse
}

// DecodeInbound classifies and decodes a raw frame from the bridge. A frame
// whose type discriminator is unknown or whose body does not match its
// declared shape is a protocol error; callers log and drop it.
func DecodeInbound(raw []byte) (*InboundMessage, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("undecodable frame: %w", err)
	}

	switch head.Type {
	case TypeEvent:
		var ev Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, fmt.Errorf("malformed event frame: %w", err)
		}
		if ev.EventType == "" {
			return nil, fmt.Errorf("event frame missing event_type")
		}
		return &InboundMessage{Kind: TypeEvent, Event: &ev}, nil

	case TypeRawData, TypeProcessedData, TypeSensorData:
		var sf SensorFrame
		if err := json.Unmarshal(raw, &sf); err != nil {
			return nil, fmt.Errorf("malformed sensor frame: %w", err)
		}
		if sf.SensorType == "" {
			return nil, fmt.Errorf("sensor frame missing sensor_type")
		}
		return &InboundMessage{Kind: head.Type, Frame: &sf}, nil

	case TypeHealthCheckResponse:
		var hc HealthCheckResponse
		if err := json.Unmarshal(raw, &hc); err != nil {
			return nil, fmt.Errorf("malformed health_check_response: %w", err)
		}
		return &InboundMessage{Kind: TypeHealthCheckResponse, Health: &hc}, nil

	default:
		return nil, fmt.Errorf("unknown frame type %q", head.Type)
	}
}
