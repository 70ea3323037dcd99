package terminal

import (
	"context"
	"strings"
)

// ConnectionStatus is the reader connection state owned by the Manager.
type ConnectionStatus string

const (
	NotConnected  ConnectionStatus = "not_connected"
	Connecting    ConnectionStatus = "connecting"
	Connected     ConnectionStatus = "connected"
	Disconnecting ConnectionStatus = "disconnecting"
)

// PaymentStatus is the payment collection state owned by the Manager.
type PaymentStatus string

const (
	PaymentIdle       PaymentStatus = "idle"
	PaymentProcessing PaymentStatus = "processing"
	PaymentReading    PaymentStatus = "reading"
	PaymentConfirming PaymentStatus = "confirming"
	PaymentSucceeded  PaymentStatus = "succeeded"
	PaymentFailed     PaymentStatus = "failed"
	PaymentCanceled   PaymentStatus = "canceled"
)

// Active reports whether a collection is in flight.
func (s PaymentStatus) Active() bool {
	switch s {
	case PaymentProcessing, PaymentReading, PaymentConfirming:
		return true
	}
	return false
}

// Final reports whether the status ends a collection.
func (s PaymentStatus) Final() bool {
	switch s {
	case PaymentSucceeded, PaymentFailed, PaymentCanceled:
		return true
	}
	return false
}

// Reader is a card reader as reported by the vendor SDK. It is only
// referenced locally, never mutated.
type Reader struct {
	ID           string `json:"id"`
	Label        string `json:"label,omitempty"`
	DeviceType   string `json:"device_type"`
	Status       string `json:"status,omitempty"`
	SerialNumber string `json:"serial_number,omitempty"`
	Location     string `json:"location,omitempty"`
	Simulated    bool   `json:"simulated,omitempty"`
}

// DisplayName returns the label, falling back to the id.
func (r Reader) DisplayName() string {
	if r.Label != "" {
		return r.Label
	}
	return r.ID
}

// PaymentIntent is the SDK's view of a payment intent during collection.
type PaymentIntent struct {
	ID           string `json:"id"`
	ClientSecret string `json:"-"`
	Status       string `json:"status"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
}

// IntentIDFromSecret extracts the payment intent id from a client secret of
// the form pi_xxx_secret_yyy.
func IntentIDFromSecret(clientSecret string) string {
	if i := strings.Index(clientSecret, "_secret_"); i > 0 {
		return clientSecret[:i]
	}
	return clientSecret
}

// DiscoveryConfig selects which readers the SDK should look for.
type DiscoveryConfig struct {
	Simulated bool   `json:"simulated,omitempty"`
	Location  string `json:"location,omitempty"`
}

// SDK is the vendor terminal surface the Manager drives. Implementations
// report vendor failures as *SDKError.
type SDK interface {
	DiscoverReaders(ctx context.Context, cfg DiscoveryConfig) ([]Reader, error)
	ConnectReader(ctx context.Context, reader Reader) (*Reader, error)
	DisconnectReader(ctx context.Context) error
	CollectPaymentMethod(ctx context.Context, clientSecret string) (*PaymentIntent, error)
	ProcessPayment(ctx context.Context, intent *PaymentIntent) (*PaymentIntent, error)
	CancelCollectPaymentMethod(ctx context.Context) error
	ClearReaderDisplay(ctx context.Context) error
}

// SDKOptions are handed to a Loader when the SDK instance is created.
type SDKOptions struct {
	FetchConnectionToken         func(ctx context.Context) (string, error)
	OnUnexpectedReaderDisconnect func()
}

// Loader creates an SDK instance. A nil SDK with a nil error means the SDK
// could not be loaded.
type Loader func(ctx context.Context, opts SDKOptions) (SDK, error)
