// Package session holds the operator-facing terminal state: one terminal
// manager, the readers last discovered and the last error to show.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"terminal-pointofsale/internal/core"
	"terminal-pointofsale/internal/messages"
	"terminal-pointofsale/internal/payments"
	"terminal-pointofsale/internal/terminal"
)

const subscriberBuffer = 8

// State is the snapshot rendered by the dashboard.
type State struct {
	Initialized       bool                      `json:"initialized"`
	Mode              string                    `json:"mode"`
	ConnectionStatus  terminal.ConnectionStatus `json:"connection_status"`
	PaymentStatus     terminal.PaymentStatus    `json:"payment_status"`
	ConnectedReader   *terminal.Reader          `json:"connected_reader"`
	DiscoveredReaders []terminal.Reader         `json:"discovered_readers"`
	IsDiscovering     bool                      `json:"is_discovering"`
	Error             string                    `json:"error,omitempty"`
	PaymentIntentID   string                    `json:"payment_intent_id,omitempty"`
	Amount            int64                     `json:"amount,omitempty"`
	LastPayment       *core.PaymentRecord       `json:"last_payment,omitempty"`
	UpdatedAt         time.Time                 `json:"updated_at"`
}

// Actions are the server actions the session calls.
type Actions interface {
	CreateConnectionToken(ctx context.Context) (string, error)
	CreatePaymentIntent(ctx context.Context, amount int64, currency string) (*payments.Intent, error)
	CancelPaymentIntent(ctx context.Context, id string) (*payments.Intent, error)
}

// Journal records finished collections.
type Journal interface {
	RecordPayment(rec core.PaymentRecord) error
	DailySummary(day time.Time) (core.DailySummary, error)
}

type Config struct {
	Loader     terminal.Loader
	Actions    Actions
	Journal    Journal
	LocationID string
	Currency   string
	Live       bool
	Logger     *logrus.Entry
}

type Session struct {
	mu       sync.Mutex
	state    State
	manager  *terminal.Manager
	actions  Actions
	journal  Journal
	currency string
	live     bool
	logger   *logrus.Entry

	subsMu sync.Mutex
	subs   map[chan State]struct{}

	// collections started with StartCollect
	wg sync.WaitGroup
}

func New(cfg Config) *Session {
	mode := "test"
	if cfg.Live {
		mode = "live"
	}
	currency := cfg.Currency
	if currency == "" {
		currency = payments.DefaultCurrency
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}

	s := &Session{
		actions:  cfg.Actions,
		journal:  cfg.Journal,
		currency: currency,
		live:     cfg.Live,
		logger:   logger.WithField("component", "session"),
		subs:     make(map[chan State]struct{}),
		state: State{
			Mode:              mode,
			ConnectionStatus:  terminal.NotConnected,
			PaymentStatus:     terminal.PaymentIdle,
			DiscoveredReaders: []terminal.Reader{},
			UpdatedAt:         time.Now(),
		},
	}

	s.manager = terminal.NewManager(terminal.Config{
		Loader:                       cfg.Loader,
		FetchConnectionToken:         s.fetchConnectionToken,
		LocationID:                   cfg.LocationID,
		OnUnexpectedReaderDisconnect: s.onUnexpectedDisconnect,
		OnConnectionStatusChange:     s.onConnectionStatus,
		OnPaymentStatusChange:        s.onPaymentStatus,
		Logger:                       logger,
	})
	return s
}

func (s *Session) fetchConnectionToken(ctx context.Context) (string, error) {
	secret, err := s.actions.CreateConnectionToken(ctx)
	if err != nil {
		s.logger.Errorf("Error fetching connection token: %v", err)
		return "", err
	}
	if secret == "" {
		return "", errors.New(messages.ConnectionTokenMissing)
	}
	return secret, nil
}

func (s *Session) onConnectionStatus(status terminal.ConnectionStatus) {
	reader := s.manager.ConnectedReader()
	s.update(func(st *State) {
		core.LogStateTransition(s.logger, "connection", string(st.ConnectionStatus), string(status))
		st.ConnectionStatus = status
		st.ConnectedReader = reader
	})
}

func (s *Session) onPaymentStatus(status terminal.PaymentStatus) {
	s.update(func(st *State) {
		core.LogStateTransition(s.logger, "payment", string(st.PaymentStatus), string(status))
		st.PaymentStatus = status
	})
}

func (s *Session) onUnexpectedDisconnect() {
	s.update(func(st *State) {
		st.ConnectedReader = nil
		st.ConnectionStatus = terminal.NotConnected
		st.Error = messages.UnexpectedDisconnect
	})
}

// Initialize loads the terminal SDK. It is a no-op once initialized.
func (s *Session) Initialize(ctx context.Context) State {
	if s.manager.IsInitialized() {
		return s.Snapshot()
	}
	s.setError("")

	if err := s.manager.Initialize(ctx); err != nil {
		s.logger.Errorf("Terminal initialization error: %v", err)
		return s.fail(err, messages.TerminalInitFailed)
	}
	return s.update(func(st *State) { st.Initialized = true })
}

// DiscoverReaders replaces the discovered reader list.
func (s *Session) DiscoverReaders(ctx context.Context, simulated bool) State {
	if !s.manager.IsInitialized() {
		return s.fail(nil, messages.TerminalNotReady)
	}
	if simulated && s.live {
		return s.fail(nil, messages.SimulatorNotAllowed)
	}

	s.update(func(st *State) {
		st.Error = ""
		st.IsDiscovering = true
	})

	readers, err := s.manager.DiscoverReaders(ctx, simulated)
	if err != nil {
		s.logger.Errorf("Reader discovery error: %v", err)
		s.update(func(st *State) { st.IsDiscovering = false })
		return s.fail(err, messages.DiscoverFailed)
	}

	return s.update(func(st *State) {
		st.IsDiscovering = false
		st.DiscoveredReaders = readers
		if len(readers) == 0 {
			st.Error = messages.NoReadersFound
		}
	})
}

// ConnectToReader connects to a reader from the last discovery.
func (s *Session) ConnectToReader(ctx context.Context, readerID string) State {
	if !s.manager.IsInitialized() {
		return s.fail(nil, messages.TerminalNotReady)
	}

	reader, ok := s.findReader(readerID)
	if !ok {
		return s.fail(nil, messages.UnknownReader)
	}
	s.setError("")

	if err := s.manager.ConnectToReader(ctx, reader); err != nil {
		s.logger.Errorf("Reader connection error: %v", err)
		return s.fail(err, messages.ReaderConnectFailed)
	}
	return s.Snapshot()
}

func (s *Session) findReader(id string) (terminal.Reader, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.state.DiscoveredReaders {
		if r.ID == id {
			return r, true
		}
	}
	return terminal.Reader{}, false
}

func (s *Session) DisconnectReader(ctx context.Context) State {
	if !s.manager.IsInitialized() {
		return s.fail(nil, messages.TerminalNotReady)
	}
	s.setError("")

	if err := s.manager.DisconnectReader(ctx); err != nil {
		s.logger.Errorf("Reader disconnection error: %v", err)
		return s.fail(err, messages.ReaderDisconnectFail)
	}
	return s.Snapshot()
}

// CollectPayment runs one collection to its end: create the intent, collect
// the card, record the outcome.
func (s *Session) CollectPayment(ctx context.Context, amount int64) State {
	intent, state, ok := s.beginCollect(ctx, amount)
	if !ok {
		return state
	}
	return s.finishCollect(ctx, amount, intent)
}

// StartCollect creates the intent and leaves the card collection running in
// the background. Use Wait to block until it ends.
func (s *Session) StartCollect(ctx context.Context, amount int64) State {
	intent, state, ok := s.beginCollect(ctx, amount)
	if !ok {
		return state
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.finishCollect(context.Background(), amount, intent)
	}()
	return s.Snapshot()
}

// Wait blocks until background collections have ended or ctx is done.
func (s *Session) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown cancels an active collection, releases the reader and waits for
// background collections to record their outcome.
func (s *Session) Shutdown(ctx context.Context) error {
	if st := s.Snapshot(); st.ConnectedReader != nil {
		if st.PaymentStatus.Active() {
			s.CancelPayment(ctx)
		}
		s.DisconnectReader(ctx)
	}
	if err := s.Wait(ctx); err != nil {
		s.logger.Warningf("Payment collection still running at shutdown: %v", err)
		return err
	}
	return nil
}

func (s *Session) beginCollect(ctx context.Context, amount int64) (*payments.Intent, State, bool) {
	if !s.manager.IsInitialized() {
		return nil, s.fail(nil, messages.TerminalNotReady), false
	}
	if s.manager.ConnectedReader() == nil {
		return nil, s.fail(nil, messages.NoReaderConnected), false
	}
	if amount <= 0 {
		return nil, s.fail(nil, messages.InvalidAmount), false
	}

	// refuses a second collection while one is in flight
	if err := s.manager.PreparePayment(); err != nil {
		return nil, s.fail(err, messages.CollectFailed), false
	}
	s.update(func(st *State) {
		st.Error = ""
		st.PaymentIntentID = ""
		st.Amount = amount
	})

	intent, err := s.actions.CreatePaymentIntent(ctx, amount, s.Currency())
	if err != nil {
		s.manager.AbortPayment()
		s.logger.Errorf("Payment collection error: %v", err)
		s.record(amount, nil, err)
		return nil, s.fail(err, messages.CollectFailed), false
	}
	s.update(func(st *State) { st.PaymentIntentID = intent.ID })
	return intent, State{}, true
}

func (s *Session) finishCollect(ctx context.Context, amount int64, intent *payments.Intent) State {
	err := s.manager.CollectPayment(ctx, intent.ClientSecret)
	if err != nil && terminal.IsCanceled(err) {
		// the intent must not stay collectable once the operator canceled
		if _, cancelErr := s.actions.CancelPaymentIntent(context.Background(), intent.ID); cancelErr != nil {
			s.logger.Warningf("Failed to cancel payment intent %s: %v", intent.ID, cancelErr)
		}
		s.record(amount, intent, nil)
		return s.Snapshot()
	}

	s.record(amount, intent, err)
	if err != nil {
		s.logger.Errorf("Payment collection error: %v", err)
		return s.fail(err, messages.CollectFailed)
	}
	return s.Snapshot()
}

func (s *Session) record(amount int64, intent *payments.Intent, collectErr error) {
	status := string(s.manager.PaymentStatus())
	now := time.Now()
	rec := core.PaymentRecord{
		ID:         uuid.NewString(),
		Amount:     amount,
		Currency:   s.Currency(),
		Status:     status,
		CreatedAt:  now,
		FinishedAt: now,
	}
	if intent != nil {
		rec.PaymentIntentID = intent.ID
		if intent.Currency != "" {
			rec.Currency = intent.Currency
		}
	}
	if reader := s.manager.ConnectedReader(); reader != nil {
		rec.ReaderID = reader.ID
	}
	if collectErr != nil {
		rec.Error = collectErr.Error()
	}

	s.update(func(st *State) { st.LastPayment = &rec })

	if s.journal == nil {
		return
	}
	if err := s.journal.RecordPayment(rec); err != nil {
		s.logger.Errorf("Failed to journal payment %s: %v", rec.ID, err)
	}
}

func (s *Session) CancelPayment(ctx context.Context) State {
	if !s.manager.IsInitialized() {
		return s.fail(nil, messages.TerminalNotReady)
	}
	s.setError("")

	if err := s.manager.CancelPayment(ctx); err != nil {
		s.logger.Errorf("Payment cancellation error: %v", err)
		return s.fail(err, messages.CancelCollectFailed)
	}
	return s.Snapshot()
}

func (s *Session) ClearReaderDisplay(ctx context.Context) State {
	if !s.manager.IsInitialized() {
		return s.fail(nil, messages.TerminalNotReady)
	}
	s.setError("")

	if err := s.manager.ClearReaderDisplay(ctx); err != nil {
		s.logger.Errorf("Clear display error: %v", err)
		return s.fail(err, messages.ClearDisplayFailed)
	}
	return s.Snapshot()
}

// SetLocation changes the location used for discovery.
func (s *Session) SetLocation(locationID string) {
	s.manager.SetLocation(locationID)
}

// SetCurrency changes the currency for new intents.
func (s *Session) SetCurrency(currency string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currency = currency
}

func (s *Session) Currency() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currency
}

// Summary returns the journal totals for day.
func (s *Session) Summary(day time.Time) (core.DailySummary, error) {
	if s.journal == nil {
		return core.DailySummary{Date: day.Format("2006-01-02")}, nil
	}
	return s.journal.DailySummary(day)
}

func (s *Session) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyLocked()
}

// Subscribe returns a channel of snapshots, starting with the current one.
// Snapshots are dropped for a subscriber that falls behind. Call the
// returned func to unsubscribe.
func (s *Session) Subscribe() (<-chan State, func()) {
	ch := make(chan State, subscriberBuffer)
	ch <- s.Snapshot()

	s.subsMu.Lock()
	s.subs[ch] = struct{}{}
	s.subsMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subsMu.Lock()
			delete(s.subs, ch)
			s.subsMu.Unlock()
			close(ch)
		})
	}
}

func (s *Session) publish(st State) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for ch := range s.subs {
		select {
		case ch <- st:
		default:
			s.logger.Debug("Dropping state snapshot for slow subscriber")
		}
	}
}

func (s *Session) update(fn func(*State)) State {
	s.mu.Lock()
	fn(&s.state)
	s.state.UpdatedAt = time.Now()
	st := s.copyLocked()
	s.mu.Unlock()

	s.publish(st)
	return st
}

func (s *Session) setError(msg string) {
	s.update(func(st *State) { st.Error = msg })
}

// fail records err's operator message, or fallback when err carries none.
func (s *Session) fail(err error, fallback string) State {
	return s.update(func(st *State) { st.Error = errorMessage(err, fallback) })
}

func errorMessage(err error, fallback string) string {
	var te *terminal.Error
	var ae *payments.ActionError
	switch {
	case errors.As(err, &te):
		return te.Message
	case errors.As(err, &ae):
		return ae.Message
	}
	return fallback
}

func (s *Session) copyLocked() State {
	st := s.state
	st.DiscoveredReaders = append([]terminal.Reader(nil), s.state.DiscoveredReaders...)
	if st.DiscoveredReaders == nil {
		st.DiscoveredReaders = []terminal.Reader{}
	}
	if s.state.ConnectedReader != nil {
		r := *s.state.ConnectedReader
		st.ConnectedReader = &r
	}
	if s.state.LastPayment != nil {
		p := *s.state.LastPayment
		st.LastPayment = &p
	}
	return st
}
