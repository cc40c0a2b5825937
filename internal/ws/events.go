package ws

import "time"

// Event names pushed to frontend clients.
const (
	EventQRGenerated           = "QR_GENERATED"
	EventQRTimeout             = "QR_TIMEOUT"
	EventPairingCode           = "PAIRING_CODE"
	EventInstanceStatusChanged = "INSTANCE_STATUS_CHANGED"
	EventInstanceError         = "INSTANCE_ERROR"
)

// WsEvent is the envelope for every realtime event.
type WsEvent struct {
	Event     string      `json:"event"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

type QRGeneratedData struct {
	InstanceID string    `json:"instance_id"`
	QRData     string    `json:"qr_data"`
	ExpiresAt  time.Time `json:"expires_at"`
}

type PairingCodeData struct {
	InstanceID  string `json:"instance_id"`
	PhoneNumber string `json:"phone_number"`
	Code        string `json:"code"`
}

type InstanceStatusChangedData struct {
	InstanceID  string `json:"instance_id"`
	State       string `json:"state"`
	IsConnected bool   `json:"is_connected"`
	Reason      string `json:"reason,omitempty"`
}
