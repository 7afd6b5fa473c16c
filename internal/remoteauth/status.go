package remoteauth

import "github.com/pscheid92/voicebridge/internal/domain"

// State names the steps of the remote-auth handshake as exposed to polling
// clients.
type State string

const (
	StateConnecting   State = "connecting"
	StateWaitingForQr State = "waiting_for_qr"
	StateQrReady      State = "qr_ready"
	StateScanned      State = "scanned"
	StateCompleting   State = "completing"
	StateCompleted    State = "completed"
	StateError        State = "error"
	StateCancelled    State = "cancelled"
)

// Terminal reports whether the flow has finished; terminal sessions are
// swept from the registry on the next start.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateError || s == StateCancelled
}

// Status is the polled view of a flow. Only the fields relevant to the
// current state are populated.
type Status struct {
	State   State               `json:"status"`
	QrURL   string              `json:"qr_url,omitempty"`
	RaURL   string              `json:"ra_url,omitempty"`
	Auth    *domain.LoginResult `json:"auth,omitempty"`
	Message string              `json:"message,omitempty"`
}

func statusOf(state State) Status {
	return Status{State: state}
}

func errorStatus(message string) Status {
	return Status{State: StateError, Message: message}
}
