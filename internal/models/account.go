package models

import (
	"strings"
	"time"
)

// InstanceStatus is the connection status last reported by the gateway.
// Known values are normalized; anything else is kept as reported.
type InstanceStatus string

const (
	InstanceStatusNone       InstanceStatus = ""
	InstanceStatusOpen       InstanceStatus = "OPEN"
	InstanceStatusClose      InstanceStatus = "CLOSE"
	InstanceStatusConnecting InstanceStatus = "CONNECTING"
	InstanceStatusUnknown    InstanceStatus = "UNKNOWN"
)

// NormalizeInstanceStatus maps a gateway state string to an InstanceStatus.
func NormalizeInstanceStatus(state string) InstanceStatus {
	switch strings.ToLower(strings.TrimSpace(state)) {
	case "":
		return InstanceStatusNone
	case "open":
		return InstanceStatusOpen
	case "close", "closed":
		return InstanceStatusClose
	case "connecting":
		return InstanceStatusConnecting
	case "unknown":
		return InstanceStatusUnknown
	default:
		return InstanceStatus(state)
	}
}

// InstanceState is the locally cached view of an account's gateway instance.
type InstanceState struct {
	InstanceName *string        `json:"instanceName"`
	Status       InstanceStatus `json:"status"`
	QRImage      *string        `json:"qrImage"`
	PairingCode  *string        `json:"pairingCode"`
}

// HasInstance reports whether an instance is bound to the account.
func (s InstanceState) HasInstance() bool {
	return s.InstanceName != nil && *s.InstanceName != ""
}

// Name returns the instance name or an empty string.
func (s InstanceState) Name() string {
	if s.InstanceName == nil {
		return ""
	}
	return *s.InstanceName
}

// Normalized enforces the open-means-paired invariant: an OPEN instance never
// carries a QR image or pairing code.
func (s InstanceState) Normalized() InstanceState {
	if s.Status == InstanceStatusOpen {
		s.QRImage = nil
		s.PairingCode = nil
	}
	return s
}

// Account owns at most one gateway instance.
type Account struct {
	ID        string        `json:"id"`
	Username  string        `json:"username"`
	Name      string        `json:"name"`
	Instance  InstanceState `json:"instance"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
}
