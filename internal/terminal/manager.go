// Package terminal tracks the reader connection and payment collection state
// around a vendor terminal SDK.
package terminal

import (
	"context"
	"sync"

	"terminal-pointofsale/internal/messages"

	"github.com/sirupsen/logrus"
)

// Config wires a Manager to its SDK loader and observers.
type Config struct {
	Loader                       Loader
	FetchConnectionToken         func(ctx context.Context) (string, error)
	LocationID                   string
	OnUnexpectedReaderDisconnect func()
	OnConnectionStatusChange     func(ConnectionStatus)
	OnPaymentStatusChange        func(PaymentStatus)
	Logger                       *logrus.Entry
}

// Manager owns one SDK instance and the two status machines driven by it.
//
// Status callbacks run outside mu but under notifyMu, so observers see
// transitions in order and may call back into the Manager's getters.
type Manager struct {
	initMu   sync.Mutex
	notifyMu sync.Mutex
	mu       sync.Mutex

	config           Config
	logger           *logrus.Entry
	sdk              SDK
	locationID       string
	connectedReader  *Reader
	connectionStatus ConnectionStatus
	paymentStatus    PaymentStatus

	// collection identifies the current payment collection; canceled marks
	// it as interrupted so later SDK results cannot advance it.
	collection uint64
	canceled   bool
	prepared   bool
}

// NewManager creates a Manager. Initialize must be called before use.
func NewManager(config Config) *Manager {
	logger := config.Logger
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Manager{
		config:           config,
		logger:           logger.WithField("component", "terminal"),
		locationID:       config.LocationID,
		connectionStatus: NotConnected,
		paymentStatus:    PaymentIdle,
	}
}

// Initialize loads the SDK. Calling it again after success is a no-op.
func (m *Manager) Initialize(ctx context.Context) error {
	m.initMu.Lock()
	defer m.initMu.Unlock()

	if m.IsInitialized() {
		m.logger.Info("Terminal already initialized")
		return nil
	}
	if m.config.Loader == nil {
		m.logger.Error("No terminal SDK loader configured")
		return &Error{Op: "initialize", Message: messages.SDKLoadFailed, Err: ErrSDKUnavailable}
	}

	sdk, err := m.config.Loader(ctx, SDKOptions{
		FetchConnectionToken:         m.config.FetchConnectionToken,
		OnUnexpectedReaderDisconnect: m.handleUnexpectedDisconnect,
	})
	if err != nil {
		m.logger.Errorf("Failed to initialize terminal: %v", err)
		return normalize("initialize", err, messages.SDKLoadFailed)
	}
	if sdk == nil {
		m.logger.Error("Failed to initialize terminal: SDK not loaded")
		return &Error{Op: "initialize", Message: messages.SDKLoadFailed, Err: ErrSDKUnavailable}
	}

	m.mu.Lock()
	m.sdk = sdk
	m.mu.Unlock()

	m.logger.Info("Terminal initialized successfully")
	return nil
}

// SetLocation changes the location used for non-simulated discovery.
func (m *Manager) SetLocation(locationID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locationID = locationID
}

// DiscoverReaders lists readers at the configured location, or whatever the
// SDK finds when no location is set. simulated asks for simulated readers.
func (m *Manager) DiscoverReaders(ctx context.Context, simulated bool) ([]Reader, error) {
	m.mu.Lock()
	sdk := m.sdk
	location := m.locationID
	m.mu.Unlock()

	if sdk == nil {
		return nil, &Error{Op: "discover", Message: messages.TerminalNotReady, Err: ErrNotInitialized}
	}

	cfg := DiscoveryConfig{Simulated: simulated, Location: location}

	readers, err := sdk.DiscoverReaders(ctx, cfg)
	if err != nil {
		m.logger.Errorf("Failed to discover readers: %v", err)
		return nil, normalize("discover", err, messages.DiscoverFailed)
	}
	if readers == nil {
		readers = []Reader{}
	}
	m.logger.Debugf("Discovered %d readers (simulated=%t)", len(readers), simulated)
	return readers, nil
}

// ConnectToReader connects to reader, always passing through Connecting.
// It is refused without any state change unless the manager is
// NotConnected; disconnect first to switch readers.
func (m *Manager) ConnectToReader(ctx context.Context, reader Reader) error {
	sdk, err := m.beginConnect()
	if err != nil {
		return err
	}

	connected, err := sdk.ConnectReader(ctx, reader)
	if err != nil {
		m.setConnectionStatus(NotConnected, nil, true)
		m.logger.Errorf("Failed to connect to reader %s: %v", reader.ID, err)
		return normalize("connect", err, messages.ConnectFailed)
	}
	if connected == nil {
		connected = &reader
	}

	m.setConnectionStatus(Connected, connected, true)
	m.logger.Infof("Connected to reader: %s (%s)", connected.ID, connected.DisplayName())
	return nil
}

// beginConnect claims the connection machine for a connect, moving it from
// NotConnected to Connecting in one step.
func (m *Manager) beginConnect() (SDK, error) {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	sdk := m.sdk
	if sdk == nil {
		m.mu.Unlock()
		return nil, &Error{Op: "connect", Message: messages.TerminalNotReady, Err: ErrNotInitialized}
	}
	if m.connectionStatus != NotConnected {
		status := m.connectionStatus
		m.mu.Unlock()
		m.logger.Warningf("Connect refused while %s", status)
		return nil, &Error{Op: "connect", Message: messages.AlreadyConnected, Err: ErrAlreadyConnected}
	}
	m.connectionStatus = Connecting
	cb := m.config.OnConnectionStatusChange
	m.mu.Unlock()

	if cb != nil {
		cb(Connecting)
	}
	return sdk, nil
}

// DisconnectReader disconnects the current reader. With no reader connected
// it does nothing.
func (m *Manager) DisconnectReader(ctx context.Context) error {
	m.mu.Lock()
	sdk := m.sdk
	reader := m.connectedReader
	m.mu.Unlock()

	if sdk == nil {
		return &Error{Op: "disconnect", Message: messages.TerminalNotReady, Err: ErrNotInitialized}
	}
	if reader == nil {
		m.logger.Info("No reader connected")
		return nil
	}

	m.setConnectionStatus(Disconnecting, nil, false)

	if err := sdk.DisconnectReader(ctx); err != nil {
		m.setConnectionStatus(Connected, reader, true)
		m.logger.Errorf("Failed to disconnect reader: %v", err)
		return normalize("disconnect", err, messages.DisconnectFailed)
	}

	m.setConnectionStatus(NotConnected, nil, true)
	m.logger.Info("Disconnected from reader")
	return nil
}

// PreparePayment opens a collection in the Processing state while the
// payment intent is being created. The next CollectPayment continues it.
// A collection already in flight makes it fail with ErrPaymentInProgress.
func (m *Manager) PreparePayment() error {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	if err := m.requireReaderLocked("prepare"); err != nil {
		m.mu.Unlock()
		return err
	}
	if m.paymentStatus.Active() {
		m.mu.Unlock()
		return &Error{Op: "prepare", Message: messages.PaymentInProgress, Err: ErrPaymentInProgress}
	}
	m.collection++
	m.canceled = false
	m.prepared = true
	changed := m.paymentStatus != PaymentProcessing
	m.paymentStatus = PaymentProcessing
	cb := m.config.OnPaymentStatusChange
	m.mu.Unlock()

	if changed && cb != nil {
		cb(PaymentProcessing)
	}
	return nil
}

// AbortPayment ends a prepared collection that never reached the reader,
// leaving Failed, or Canceled when a cancel already landed.
func (m *Manager) AbortPayment() {
	m.mu.Lock()
	if !m.prepared {
		m.mu.Unlock()
		return
	}
	m.prepared = false
	id := m.collection
	m.mu.Unlock()

	m.advancePayment(id, PaymentFailed)
}

// CollectPayment collects a card for the intent behind clientSecret and
// confirms it: Reading, then Confirming, then Succeeded or Failed. A cancel
// that lands while Processing or Reading wins, leaving Canceled.
func (m *Manager) CollectPayment(ctx context.Context, clientSecret string) error {
	m.mu.Lock()
	if err := m.requireReaderLocked("collect"); err != nil {
		m.mu.Unlock()
		return err
	}
	sdk := m.sdk
	if m.prepared {
		m.prepared = false
	} else {
		m.collection++
		m.canceled = false
	}
	id := m.collection
	m.mu.Unlock()

	if !m.advancePayment(id, PaymentReading) {
		return canceledError("collect")
	}

	intent, err := sdk.CollectPaymentMethod(ctx, clientSecret)
	if err != nil {
		if IsCanceled(err) || m.collectionCanceled(id) {
			m.advancePayment(id, PaymentCanceled)
			m.logger.Info("Payment collection canceled")
			return canceledError("collect")
		}
		m.advancePayment(id, PaymentFailed)
		m.logger.Errorf("Failed to collect payment: %v", err)
		return normalize("collect", err, messages.CollectFailed)
	}

	if !m.advancePayment(id, PaymentConfirming) {
		m.logger.Info("Payment collection canceled before confirmation")
		return canceledError("collect")
	}

	if intent == nil {
		m.advancePayment(id, PaymentFailed)
		m.logger.Error("Failed to collect payment: no payment intent returned")
		return &Error{Op: "collect", Message: messages.IntentMissing, Err: ErrIntentMissing}
	}

	processed, err := sdk.ProcessPayment(ctx, intent)
	if err != nil {
		m.advancePayment(id, PaymentFailed)
		m.logger.Errorf("Failed to process payment: %v", err)
		return normalize("process", err, messages.ConfirmFailed)
	}

	m.advancePayment(id, PaymentSucceeded)
	if processed != nil {
		intent = processed
	}
	m.logger.Infof("Payment processed successfully: %s (%d %s)", intent.ID, intent.Amount, intent.Currency)
	return nil
}

// CancelPayment interrupts the current collection. Collections still in
// Processing or Reading end Canceled; once Confirming the SDK decides.
func (m *Manager) CancelPayment(ctx context.Context) error {
	m.mu.Lock()
	if err := m.requireReaderLocked("cancel"); err != nil {
		m.mu.Unlock()
		return err
	}
	sdk := m.sdk
	id := m.collection
	interruptible := m.paymentStatus == PaymentProcessing || m.paymentStatus == PaymentReading
	if interruptible {
		m.canceled = true
	}
	m.mu.Unlock()

	if err := sdk.CancelCollectPaymentMethod(ctx); err != nil {
		if interruptible {
			m.mu.Lock()
			// the collect may already have stopped on the mark
			if m.collection == id && m.paymentStatus != PaymentCanceled {
				m.canceled = false
			}
			m.mu.Unlock()
		}
		m.logger.Errorf("Failed to cancel payment: %v", err)
		return normalize("cancel", err, messages.CancelCollectFailed)
	}

	if interruptible {
		m.advancePayment(id, PaymentCanceled)
	}
	m.logger.Info("Payment collection canceled")
	return nil
}

// ClearReaderDisplay resets the reader screen.
func (m *Manager) ClearReaderDisplay(ctx context.Context) error {
	m.mu.Lock()
	if err := m.requireReaderLocked("clear_display"); err != nil {
		m.mu.Unlock()
		return err
	}
	sdk := m.sdk
	m.mu.Unlock()

	if err := sdk.ClearReaderDisplay(ctx); err != nil {
		m.logger.Errorf("Failed to clear reader display: %v", err)
		return normalize("clear_display", err, messages.ClearDisplayFailed)
	}
	m.logger.Info("Reader display cleared")
	return nil
}

// ConnectionStatus returns the current connection status.
func (m *Manager) ConnectionStatus() ConnectionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connectionStatus
}

// PaymentStatus returns the current payment status.
func (m *Manager) PaymentStatus() PaymentStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paymentStatus
}

// ConnectedReader returns a copy of the connected reader, or nil.
func (m *Manager) ConnectedReader() *Reader {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.connectedReader == nil {
		return nil
	}
	r := *m.connectedReader
	return &r
}

// IsInitialized reports whether the SDK has been loaded.
func (m *Manager) IsInitialized() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sdk != nil
}

func (m *Manager) handleUnexpectedDisconnect() {
	m.logger.Warning("Unexpected reader disconnect")
	m.setConnectionStatus(NotConnected, nil, true)
	if m.config.OnUnexpectedReaderDisconnect != nil {
		m.config.OnUnexpectedReaderDisconnect()
	}
}

func (m *Manager) requireReaderLocked(op string) error {
	if m.sdk == nil {
		return &Error{Op: op, Message: messages.TerminalNotReady, Err: ErrNotInitialized}
	}
	if m.connectedReader == nil {
		return &Error{Op: op, Message: messages.NoReaderConnected, Err: ErrNoReader}
	}
	return nil
}

func (m *Manager) collectionCanceled(id uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.collection == id && m.canceled
}

// setConnectionStatus moves the connection machine. When setReader is true
// the connected reader is replaced by reader.
func (m *Manager) setConnectionStatus(status ConnectionStatus, reader *Reader, setReader bool) {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	m.connectionStatus = status
	if setReader {
		m.connectedReader = reader
	}
	cb := m.config.OnConnectionStatusChange
	m.mu.Unlock()

	if cb != nil {
		cb(status)
	}
}

// advancePayment moves collection id to status. It reports false when the
// collection was superseded or canceled; a canceled collection is moved to
// Canceled instead.
func (m *Manager) advancePayment(id uint64, status PaymentStatus) bool {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	if id != m.collection {
		m.mu.Unlock()
		return false
	}
	ok := true
	if m.canceled && status != PaymentCanceled {
		status = PaymentCanceled
		ok = false
	}
	changed := m.paymentStatus != status
	m.paymentStatus = status
	cb := m.config.OnPaymentStatusChange
	m.mu.Unlock()

	if changed && cb != nil {
		cb(status)
	}
	return ok
}

func canceledError(op string) error {
	return &Error{Op: op, Message: messages.PaymentWasCanceled, Err: ErrPaymentCanceled}
}
