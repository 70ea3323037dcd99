package simulator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"terminal-pointofsale/internal/drivers"
	"terminal-pointofsale/internal/terminal"
)

const (
	Name = "simulator"

	defaultTapDelay = 1500 * time.Millisecond
	defaultReaders  = 1
)

func init() {
	drivers.Register(Name, New)
}

// Config controls the in-memory readers.
type Config struct {
	TapDelay time.Duration
	Readers  int
	Location string
}

type rawConfig struct {
	TapDelay string `json:"tap_delay"`
	Readers  int    `json:"readers"`
	Location string `json:"location"`
}

// ParseConfig reads the driver block; unknown keys are ignored.
func ParseConfig(raw json.RawMessage) (Config, error) {
	cfg := Config{TapDelay: defaultTapDelay, Readers: defaultReaders}
	if len(raw) == 0 {
		return cfg, nil
	}

	var rc rawConfig
	if err := json.Unmarshal(raw, &rc); err != nil {
		return cfg, fmt.Errorf("invalid simulator config: %w", err)
	}
	if rc.TapDelay != "" {
		d, err := time.ParseDuration(rc.TapDelay)
		if err != nil {
			return cfg, fmt.Errorf("invalid tap_delay %q: %w", rc.TapDelay, err)
		}
		cfg.TapDelay = d
	}
	if rc.Readers > 0 {
		cfg.Readers = rc.Readers
	}
	cfg.Location = rc.Location
	return cfg, nil
}

// Driver hands out simulated SDK instances and keeps the latest one for
// event injection.
type Driver struct {
	logger *logrus.Entry
	cfg    Config

	mu  sync.Mutex
	sdk *SDK
}

func New(logger *logrus.Entry, raw json.RawMessage) (drivers.Driver, error) {
	cfg, err := ParseConfig(raw)
	if err != nil {
		return nil, err
	}
	return NewDriver(logger, cfg), nil
}

func NewDriver(logger *logrus.Entry, cfg Config) *Driver {
	if cfg.Readers <= 0 {
		cfg.Readers = defaultReaders
	}
	return &Driver{logger: logger, cfg: cfg}
}

func (d *Driver) Name() string { return Name }

func (d *Driver) Load(_ context.Context, opts terminal.SDKOptions) (terminal.SDK, error) {
	sdk := newSDK(d.logger, d.cfg, opts)

	d.mu.Lock()
	d.sdk = sdk
	d.mu.Unlock()

	d.logger.Infof("Simulated terminal loaded with %d reader(s), tap delay %s", d.cfg.Readers, d.cfg.TapDelay)
	return sdk, nil
}

func (d *Driver) DeclineNext() {
	if sdk := d.current(); sdk != nil {
		sdk.DeclineNext()
	}
}

func (d *Driver) DisconnectReader() error {
	sdk := d.current()
	if sdk == nil {
		return fmt.Errorf("simulator not loaded")
	}
	return sdk.SimulateDisconnect()
}

func (d *Driver) current() *SDK {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sdk
}

// SDK is an in-memory terminal. Card taps complete after the tap delay.
type SDK struct {
	logger *logrus.Entry
	cfg    Config
	opts   terminal.SDKOptions

	mu          sync.Mutex
	readers     []terminal.Reader
	connected   *terminal.Reader
	token       string
	collecting  chan struct{}
	declineNext bool
}

func newSDK(logger *logrus.Entry, cfg Config, opts terminal.SDKOptions) *SDK {
	readers := make([]terminal.Reader, 0, cfg.Readers)
	for i := 1; i <= cfg.Readers; i++ {
		readers = append(readers, terminal.Reader{
			ID:           fmt.Sprintf("tmr_simulated_%d", i),
			Label:        fmt.Sprintf("Simulated WisePOS E %d", i),
			DeviceType:   "simulated_wisepos_e",
			Status:       "online",
			SerialNumber: fmt.Sprintf("SIM-%04d", i),
			Location:     cfg.Location,
			Simulated:    true,
		})
	}
	return &SDK{logger: logger, cfg: cfg, opts: opts, readers: readers}
}

// DiscoverReaders only finds readers for simulated discovery; there is no
// physical hardware behind this driver.
func (s *SDK) DiscoverReaders(ctx context.Context, cfg terminal.DiscoveryConfig) ([]terminal.Reader, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !cfg.Simulated {
		return []terminal.Reader{}, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]terminal.Reader, len(s.readers))
	copy(out, s.readers)
	return out, nil
}

func (s *SDK) ConnectReader(ctx context.Context, reader terminal.Reader) (*terminal.Reader, error) {
	if err := s.ensureToken(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connected != nil {
		return nil, &terminal.SDKError{Code: "already_connected", Message: "Already connected to a reader."}
	}
	for _, r := range s.readers {
		if r.ID == reader.ID {
			connected := r
			s.connected = &connected
			return &connected, nil
		}
	}
	return nil, &terminal.SDKError{Code: "reader_not_found"}
}

func (s *SDK) ensureToken(ctx context.Context) error {
	s.mu.Lock()
	have := s.token != ""
	s.mu.Unlock()
	if have {
		return nil
	}
	if s.opts.FetchConnectionToken == nil {
		return &terminal.SDKError{Code: "connection_token_missing"}
	}

	token, err := s.opts.FetchConnectionToken(ctx)
	if err != nil {
		return err
	}
	if token == "" {
		return &terminal.SDKError{Code: "connection_token_missing"}
	}

	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
	return nil
}

func (s *SDK) DisconnectReader(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connected == nil {
		return &terminal.SDKError{Code: "no_reader"}
	}
	s.connected = nil
	s.stopCollectingLocked()
	return nil
}

func (s *SDK) CollectPaymentMethod(ctx context.Context, clientSecret string) (*terminal.PaymentIntent, error) {
	s.mu.Lock()
	if s.connected == nil {
		s.mu.Unlock()
		return nil, &terminal.SDKError{Code: "no_reader"}
	}
	if s.collecting != nil {
		s.mu.Unlock()
		return nil, &terminal.SDKError{Code: "reader_busy", Message: "The reader is busy."}
	}
	if clientSecret == "" {
		s.mu.Unlock()
		return nil, &terminal.SDKError{Code: "invalid_client_secret"}
	}
	stop := make(chan struct{})
	s.collecting = stop
	delay := s.cfg.TapDelay
	s.mu.Unlock()

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		s.finishCollect(stop)
		return nil, ctx.Err()
	case <-stop:
		s.mu.Lock()
		lost := s.connected == nil
		s.mu.Unlock()
		if lost {
			return nil, &terminal.SDKError{Code: "reader_disconnected"}
		}
		return nil, &terminal.SDKError{Code: terminal.CodeCanceled, Message: "The collection was canceled."}
	case <-timer.C:
	}

	s.finishCollect(stop)
	return &terminal.PaymentIntent{
		ID:           terminal.IntentIDFromSecret(clientSecret),
		ClientSecret: clientSecret,
		Status:       "requires_confirmation",
	}, nil
}

func (s *SDK) finishCollect(stop chan struct{}) {
	s.mu.Lock()
	if s.collecting == stop {
		s.collecting = nil
	}
	s.mu.Unlock()
}

func (s *SDK) ProcessPayment(ctx context.Context, intent *terminal.PaymentIntent) (*terminal.PaymentIntent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	decline := s.declineNext
	s.declineNext = false
	s.mu.Unlock()

	if decline {
		return nil, &terminal.SDKError{Code: "card_declined", Message: "Your card was declined."}
	}

	processed := *intent
	processed.Status = "succeeded"
	return &processed, nil
}

func (s *SDK) CancelCollectPaymentMethod(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopCollectingLocked()
	return nil
}

func (s *SDK) ClearReaderDisplay(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connected == nil {
		return &terminal.SDKError{Code: "no_reader"}
	}
	return nil
}

// DeclineNext makes the next processed payment fail as a card decline.
func (s *SDK) DeclineNext() {
	s.mu.Lock()
	s.declineNext = true
	s.mu.Unlock()
}

// SimulateDisconnect drops the connected reader and reports it through the
// unexpected disconnect callback.
func (s *SDK) SimulateDisconnect() error {
	s.mu.Lock()
	if s.connected == nil {
		s.mu.Unlock()
		return fmt.Errorf("no simulated reader connected")
	}
	s.logger.Warningf("Simulating unexpected disconnect of %s", s.connected.ID)
	s.connected = nil
	s.stopCollectingLocked()
	callback := s.opts.OnUnexpectedReaderDisconnect
	s.mu.Unlock()

	if callback != nil {
		callback()
	}
	return nil
}

func (s *SDK) stopCollectingLocked() {
	if s.collecting != nil {
		close(s.collecting)
		s.collecting = nil
	}
}
