// Package stripeterminal drives Stripe smart readers through the
// server-driven Terminal API.
package stripeterminal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"

	"terminal-pointofsale/internal/drivers"
	"terminal-pointofsale/internal/messages"
	"terminal-pointofsale/internal/payments"
	"terminal-pointofsale/internal/terminal"
)

const (
	Name = "stripe"

	simulatedDeviceType = string(stripe.TerminalReaderDeviceTypeSimulatedWisePOSE)
	simulatedRegCode    = "simulated-wpe"
	declinedTestCard    = "4000000000000002"

	defaultPollInterval      = time.Second
	defaultHeartbeatInterval = 10 * time.Second
)

func init() {
	drivers.Register(Name, New)
}

type Config struct {
	SecretKey         string
	APIURL            string
	PollInterval      time.Duration
	HeartbeatInterval time.Duration
	Live              bool
}

type rawConfig struct {
	SecretKey         string `json:"secret_key"`
	APIURL            string `json:"api_url"`
	PollInterval      string `json:"poll_interval"`
	HeartbeatInterval string `json:"heartbeat_interval"`
	Live              bool   `json:"live"`
}

func ParseConfig(raw json.RawMessage) (Config, error) {
	cfg := Config{PollInterval: defaultPollInterval, HeartbeatInterval: defaultHeartbeatInterval}
	var rc rawConfig
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &rc); err != nil {
			return cfg, fmt.Errorf("invalid stripe terminal config: %w", err)
		}
	}
	if rc.SecretKey == "" {
		return cfg, fmt.Errorf("stripe terminal driver requires secret_key")
	}
	cfg.SecretKey = rc.SecretKey
	cfg.APIURL = rc.APIURL
	cfg.Live = rc.Live

	for _, d := range []struct {
		value string
		into  *time.Duration
	}{
		{rc.PollInterval, &cfg.PollInterval},
		{rc.HeartbeatInterval, &cfg.HeartbeatInterval},
	} {
		if d.value == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.value)
		if err != nil || parsed <= 0 {
			return cfg, fmt.Errorf("invalid interval %q", d.value)
		}
		*d.into = parsed
	}
	return cfg, nil
}

type Driver struct {
	logger *logrus.Entry
	cfg    Config
	api    *client.API

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
	return &Driver{
		logger: logger,
		cfg:    cfg,
		api:    client.New(cfg.SecretKey, payments.StripeBackends(cfg.APIURL)),
	}
}

func (d *Driver) Name() string { return Name }

func (d *Driver) Load(_ context.Context, opts terminal.SDKOptions) (terminal.SDK, error) {
	sdk := &SDK{logger: d.logger, cfg: d.cfg, api: d.api, opts: opts}

	d.mu.Lock()
	if d.sdk != nil {
		d.sdk.stopHeartbeat()
	}
	d.sdk = sdk
	d.mu.Unlock()

	d.logger.Infof("Stripe server-driven terminal loaded (live=%t)", d.cfg.Live)
	return sdk, nil
}

// Stop ends the reader heartbeat of the loaded SDK.
func (d *Driver) Stop() error {
	d.mu.Lock()
	sdk := d.sdk
	d.mu.Unlock()
	if sdk != nil {
		sdk.stopHeartbeat()
	}
	return nil
}

// DeclineNext makes the next card presented on a simulated reader a
// declining test card.
func (d *Driver) DeclineNext() {
	d.mu.Lock()
	sdk := d.sdk
	d.mu.Unlock()
	if sdk != nil {
		sdk.mu.Lock()
		sdk.declineNext = true
		sdk.mu.Unlock()
	}
}

func (d *Driver) DisconnectReader() error {
	return fmt.Errorf("stripe readers cannot be disconnected remotely")
}

// SDK adapts the reader REST resources to the terminal.SDK surface. A
// collection is a process_payment_intent action polled until it settles.
type SDK struct {
	logger *logrus.Entry
	cfg    Config
	api    *client.API
	opts   terminal.SDKOptions

	mu              sync.Mutex
	reader          *terminal.Reader
	tokenFetched    bool
	declineNext     bool
	collecting      chan struct{}
	heartbeatCancel context.CancelFunc
}

func (s *SDK) DiscoverReaders(ctx context.Context, cfg terminal.DiscoveryConfig) ([]terminal.Reader, error) {
	if cfg.Simulated && s.cfg.Live {
		return nil, &terminal.SDKError{Code: "simulator_unavailable", Message: messages.SimulatorNotAllowed}
	}

	params := &stripe.TerminalReaderListParams{}
	params.Context = ctx
	if cfg.Simulated {
		params.DeviceType = stripe.String(simulatedDeviceType)
	}
	if cfg.Location != "" {
		params.Location = stripe.String(cfg.Location)
	}

	readers := []terminal.Reader{}
	iter := s.api.TerminalReaders.List(params)
	for iter.Next() {
		readers = append(readers, fromStripeReader(iter.TerminalReader()))
	}
	if err := iter.Err(); err != nil {
		return nil, sdkError(err)
	}

	// Simulated readers only exist once registered to a location.
	if cfg.Simulated && len(readers) == 0 && cfg.Location != "" {
		created, err := s.registerSimulated(ctx, cfg.Location)
		if err != nil {
			return nil, err
		}
		readers = append(readers, *created)
	}
	return readers, nil
}

func (s *SDK) registerSimulated(ctx context.Context, location string) (*terminal.Reader, error) {
	params := &stripe.TerminalReaderParams{
		RegistrationCode: stripe.String(simulatedRegCode),
		Location:         stripe.String(location),
		Label:            stripe.String("Simulated WisePOS E"),
	}
	params.Context = ctx

	r, err := s.api.TerminalReaders.New(params)
	if err != nil {
		return nil, sdkError(err)
	}
	s.logger.Infof("Registered simulated reader %s at %s", r.ID, location)
	reader := fromStripeReader(r)
	return &reader, nil
}

func (s *SDK) ConnectReader(ctx context.Context, reader terminal.Reader) (*terminal.Reader, error) {
	if err := s.ensureToken(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	already := s.reader != nil
	s.mu.Unlock()
	if already {
		return nil, &terminal.SDKError{Code: "already_connected", Message: "Already connected to a reader."}
	}

	r, err := s.getReader(ctx, reader.ID)
	if err != nil {
		return nil, err
	}
	if r.Status != "online" {
		return nil, &terminal.SDKError{Code: "reader_offline", Message: messages.ReaderOffline}
	}
	connected := fromStripeReader(r)

	hbCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.reader = &connected
	s.heartbeatCancel = cancel
	s.mu.Unlock()

	go s.heartbeat(hbCtx, connected.ID)
	return &connected, nil
}

func (s *SDK) ensureToken(ctx context.Context) error {
	s.mu.Lock()
	fetched := s.tokenFetched
	s.mu.Unlock()
	if fetched {
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
	s.tokenFetched = true
	s.mu.Unlock()
	return nil
}

// heartbeat polls the connected reader and reports it gone once it stops
// answering as online.
func (s *SDK) heartbeat(ctx context.Context, readerID string) {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		params := &stripe.TerminalReaderParams{}
		params.Context = ctx
		r, err := s.api.TerminalReaders.Get(readerID, params)
		if ctx.Err() != nil {
			return
		}

		lost := false
		if err != nil {
			var se *stripe.Error
			lost = errors.As(err, &se) && se.HTTPStatusCode == http.StatusNotFound
			if !lost {
				s.logger.Warningf("Reader heartbeat for %s failed: %v", readerID, err)
				continue
			}
		} else if r.Deleted || r.Status != "online" {
			lost = true
		}

		if lost {
			s.mu.Lock()
			if s.reader == nil || s.reader.ID != readerID {
				s.mu.Unlock()
				return
			}
			s.reader = nil
			s.stopCollectingLocked()
			s.heartbeatCancel = nil
			callback := s.opts.OnUnexpectedReaderDisconnect
			s.mu.Unlock()

			s.logger.Warningf("Reader %s went offline", readerID)
			if callback != nil {
				callback()
			}
			return
		}
	}
}

func (s *SDK) stopHeartbeat() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.heartbeatCancel != nil {
		s.heartbeatCancel()
		s.heartbeatCancel = nil
	}
}

func (s *SDK) DisconnectReader(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reader == nil {
		return &terminal.SDKError{Code: "no_reader"}
	}
	if s.heartbeatCancel != nil {
		s.heartbeatCancel()
		s.heartbeatCancel = nil
	}
	s.stopCollectingLocked()
	s.reader = nil
	return nil
}

func (s *SDK) CollectPaymentMethod(ctx context.Context, clientSecret string) (*terminal.PaymentIntent, error) {
	s.mu.Lock()
	if s.reader == nil {
		s.mu.Unlock()
		return nil, &terminal.SDKError{Code: "no_reader"}
	}
	if s.collecting != nil {
		s.mu.Unlock()
		return nil, &terminal.SDKError{Code: "reader_busy", Message: "The reader is busy."}
	}
	reader := *s.reader
	stop := make(chan struct{})
	s.collecting = stop
	decline := s.declineNext
	s.declineNext = false
	s.mu.Unlock()
	defer s.finishCollect(stop)

	intentID := terminal.IntentIDFromSecret(clientSecret)
	params := &stripe.TerminalReaderProcessPaymentIntentParams{PaymentIntent: stripe.String(intentID)}
	params.Context = ctx
	if _, err := s.api.TerminalReaders.ProcessPaymentIntent(reader.ID, params); err != nil {
		return nil, sdkError(err)
	}

	if reader.Simulated {
		present := &stripe.TestHelpersTerminalReaderPresentPaymentMethodParams{}
		present.Context = ctx
		if decline {
			present.CardPresent = &stripe.TestHelpersTerminalReaderPresentPaymentMethodCardPresentParams{
				Number: stripe.String(declinedTestCard),
			}
		}
		if _, err := s.api.TestHelpersTerminalReaders.PresentPaymentMethod(reader.ID, present); err != nil {
			return nil, sdkError(err)
		}
	}

	if err := s.awaitAction(ctx, reader.ID, stop); err != nil {
		return nil, err
	}
	return &terminal.PaymentIntent{ID: intentID, ClientSecret: clientSecret, Status: "processing"}, nil
}

// awaitAction polls the reader until its current action leaves in_progress.
func (s *SDK) awaitAction(ctx context.Context, readerID string, stop <-chan struct{}) error {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return &terminal.SDKError{Code: terminal.CodeCanceled, Message: "The collection was canceled."}
		case <-ticker.C:
		}

		r, err := s.getReader(ctx, readerID)
		if err != nil {
			return err
		}
		if r.Action == nil {
			continue
		}
		switch r.Action.Status {
		case stripe.TerminalReaderActionStatusSucceeded:
			return nil
		case stripe.TerminalReaderActionStatusFailed:
			return &terminal.SDKError{Code: r.Action.FailureCode, Message: r.Action.FailureMessage}
		}
	}
}

func (s *SDK) finishCollect(stop chan struct{}) {
	s.mu.Lock()
	if s.collecting == stop {
		s.collecting = nil
	}
	s.mu.Unlock()
}

// ProcessPayment confirms the outcome: the reader action already processed
// the intent, so this checks the intent settled.
func (s *SDK) ProcessPayment(ctx context.Context, intent *terminal.PaymentIntent) (*terminal.PaymentIntent, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := s.api.PaymentIntents.Get(intent.ID, params)
	if err != nil {
		return nil, sdkError(err)
	}

	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded, stripe.PaymentIntentStatusRequiresCapture:
		return &terminal.PaymentIntent{
			ID:           pi.ID,
			ClientSecret: intent.ClientSecret,
			Status:       string(pi.Status),
			Amount:       pi.Amount,
			Currency:     string(pi.Currency),
		}, nil
	}

	msg := ""
	if pi.LastPaymentError != nil {
		msg = pi.LastPaymentError.Msg
	}
	return nil, &terminal.SDKError{Code: "payment_" + string(pi.Status), Message: msg}
}

func (s *SDK) CancelCollectPaymentMethod(ctx context.Context) error {
	s.mu.Lock()
	if s.reader == nil || s.collecting == nil {
		s.mu.Unlock()
		return nil
	}
	readerID := s.reader.ID
	s.mu.Unlock()

	params := &stripe.TerminalReaderCancelActionParams{}
	params.Context = ctx
	if _, err := s.api.TerminalReaders.CancelAction(readerID, params); err != nil {
		return sdkError(err)
	}

	s.mu.Lock()
	s.stopCollectingLocked()
	s.mu.Unlock()
	return nil
}

// ClearReaderDisplay cancels whatever the reader is showing, returning it
// to the splash screen.
func (s *SDK) ClearReaderDisplay(ctx context.Context) error {
	s.mu.Lock()
	if s.reader == nil {
		s.mu.Unlock()
		return &terminal.SDKError{Code: "no_reader"}
	}
	readerID := s.reader.ID
	s.mu.Unlock()

	params := &stripe.TerminalReaderCancelActionParams{}
	params.Context = ctx
	if _, err := s.api.TerminalReaders.CancelAction(readerID, params); err != nil {
		return sdkError(err)
	}
	return nil
}

func (s *SDK) getReader(ctx context.Context, id string) (*stripe.TerminalReader, error) {
	params := &stripe.TerminalReaderParams{}
	params.Context = ctx
	r, err := s.api.TerminalReaders.Get(id, params)
	if err != nil {
		return nil, sdkError(err)
	}
	return r, nil
}

func (s *SDK) stopCollectingLocked() {
	if s.collecting != nil {
		close(s.collecting)
		s.collecting = nil
	}
}

func fromStripeReader(r *stripe.TerminalReader) terminal.Reader {
	reader := terminal.Reader{
		ID:           r.ID,
		Label:        r.Label,
		DeviceType:   string(r.DeviceType),
		Status:       r.Status,
		SerialNumber: r.SerialNumber,
		Simulated:    string(r.DeviceType) == simulatedDeviceType,
	}
	if r.Location != nil {
		reader.Location = r.Location.ID
	}
	return reader
}

// sdkError carries the API error payload so the manager can show its
// message.
func sdkError(err error) error {
	var se *stripe.Error
	if errors.As(err, &se) {
		return &terminal.SDKError{Code: string(se.Code), Message: se.Msg}
	}
	return err
}
