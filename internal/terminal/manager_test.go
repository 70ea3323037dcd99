package terminal

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

type fakeSDK struct {
	mu sync.Mutex

	readers       []Reader
	discoverCfg   DiscoveryConfig
	discoverErr   error
	connectErr    error
	disconnectErr error
	collectErr    error
	processErr    error
	cancelErr     error
	clearErr      error
	nilIntent     bool

	// collectGate, when set, blocks CollectPaymentMethod until it is closed
	// or the collection is canceled.
	collectGate chan struct{}
	cancelCh    chan struct{}
	collecting  chan struct{}

	connectCalls int
	cancelCalls  int
	clearCalls   int
}

func (f *fakeSDK) DiscoverReaders(ctx context.Context, cfg DiscoveryConfig) ([]Reader, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.discoverCfg = cfg
	if f.discoverErr != nil {
		return nil, f.discoverErr
	}
	return f.readers, nil
}

func (f *fakeSDK) ConnectReader(ctx context.Context, reader Reader) (*Reader, error) {
	f.mu.Lock()
	f.connectCalls++
	f.mu.Unlock()
	if f.connectErr != nil {
		return nil, f.connectErr
	}
	r := reader
	r.Status = "online"
	return &r, nil
}

func (f *fakeSDK) DisconnectReader(ctx context.Context) error {
	return f.disconnectErr
}

func (f *fakeSDK) CollectPaymentMethod(ctx context.Context, clientSecret string) (*PaymentIntent, error) {
	f.mu.Lock()
	gate := f.collectGate
	if gate != nil {
		f.cancelCh = make(chan struct{})
	}
	cancelCh := f.cancelCh
	collecting := f.collecting
	f.mu.Unlock()

	if collecting != nil {
		close(collecting)
	}
	if gate != nil {
		select {
		case <-gate:
		case <-cancelCh:
			return nil, &SDKError{Code: CodeCanceled, Message: "collection canceled"}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.collectErr != nil {
		return nil, f.collectErr
	}
	if f.nilIntent {
		return nil, nil
	}
	return &PaymentIntent{ID: IntentIDFromSecret(clientSecret), ClientSecret: clientSecret, Status: "requires_confirmation", Amount: 1000, Currency: "jpy"}, nil
}

func (f *fakeSDK) ProcessPayment(ctx context.Context, intent *PaymentIntent) (*PaymentIntent, error) {
	if f.processErr != nil {
		return nil, f.processErr
	}
	done := *intent
	done.Status = "succeeded"
	return &done, nil
}

func (f *fakeSDK) CancelCollectPaymentMethod(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelCalls++
	if f.cancelErr != nil {
		return f.cancelErr
	}
	if f.cancelCh != nil {
		close(f.cancelCh)
		f.cancelCh = nil
	}
	return nil
}

func (f *fakeSDK) ClearReaderDisplay(ctx context.Context) error {
	f.clearCalls++
	return f.clearErr
}

type recorder struct {
	mu          sync.Mutex
	connection  []ConnectionStatus
	payment     []PaymentStatus
	disconnects int
}

func (r *recorder) onConnection(s ConnectionStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connection = append(r.connection, s)
}

func (r *recorder) onPayment(s PaymentStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payment = append(r.payment, s)
}

func (r *recorder) payments() []PaymentStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]PaymentStatus(nil), r.payment...)
}

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func newTestManager(t *testing.T, sdk *fakeSDK) (*Manager, *recorder, *SDKOptions) {
	t.Helper()
	rec := &recorder{}
	var opts SDKOptions
	m := NewManager(Config{
		Loader: func(ctx context.Context, o SDKOptions) (SDK, error) {
			opts = o
			return sdk, nil
		},
		OnConnectionStatusChange:     rec.onConnection,
		OnPaymentStatusChange:        rec.onPayment,
		OnUnexpectedReaderDisconnect: func() { rec.disconnects++ },
		Logger:                       testLogger(),
	})
	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	return m, rec, &opts
}

func connect(t *testing.T, m *Manager) {
	t.Helper()
	if err := m.ConnectToReader(context.Background(), Reader{ID: "tmr_1", Label: "Front desk"}); err != nil {
		t.Fatalf("ConnectToReader failed: %v", err)
	}
}

func TestOperationsRequireInitialization(t *testing.T) {
	m := NewManager(Config{Logger: testLogger()})
	ctx := context.Background()

	ops := map[string]func() error{
		"discover": func() error { _, err := m.DiscoverReaders(ctx, false); return err },
		"connect":  func() error { return m.ConnectToReader(ctx, Reader{ID: "tmr_1"}) },
		"disconnect": func() error {
			return m.DisconnectReader(ctx)
		},
		"collect": func() error { return m.CollectPayment(ctx, "pi_1_secret_x") },
		"cancel":  func() error { return m.CancelPayment(ctx) },
		"clear":   func() error { return m.ClearReaderDisplay(ctx) },
	}

	for name, op := range ops {
		t.Run(name, func(t *testing.T) {
			err := op()
			if !errors.Is(err, ErrNotInitialized) {
				t.Fatalf("Expected ErrNotInitialized, got %v", err)
			}
			if err.Error() != "ターミナルが初期化されていません" {
				t.Errorf("Unexpected message: %q", err.Error())
			}
		})
	}
}

func TestInitializeFailures(t *testing.T) {
	t.Run("nil loader", func(t *testing.T) {
		m := NewManager(Config{Logger: testLogger()})
		if err := m.Initialize(context.Background()); !errors.Is(err, ErrSDKUnavailable) {
			t.Errorf("Expected ErrSDKUnavailable, got %v", err)
		}
	})

	t.Run("loader returns nothing", func(t *testing.T) {
		m := NewManager(Config{
			Loader: func(ctx context.Context, o SDKOptions) (SDK, error) { return nil, nil },
			Logger: testLogger(),
		})
		err := m.Initialize(context.Background())
		if err == nil || err.Error() != "Stripe Terminal SDKの読み込みに失敗しました" {
			t.Errorf("Expected SDK load failure, got %v", err)
		}
		if m.IsInitialized() {
			t.Error("Manager should not be initialized")
		}
	})

	t.Run("second initialize is a no-op", func(t *testing.T) {
		loads := 0
		m := NewManager(Config{
			Loader: func(ctx context.Context, o SDKOptions) (SDK, error) {
				loads++
				return &fakeSDK{}, nil
			},
			Logger: testLogger(),
		})
		for i := 0; i < 2; i++ {
			if err := m.Initialize(context.Background()); err != nil {
				t.Fatalf("Initialize failed: %v", err)
			}
		}
		if loads != 1 {
			t.Errorf("Expected loader to run once, ran %d times", loads)
		}
	})
}

func TestOperationsRequireReader(t *testing.T) {
	m, _, _ := newTestManager(t, &fakeSDK{})
	ctx := context.Background()

	for name, op := range map[string]func() error{
		"collect": func() error { return m.CollectPayment(ctx, "pi_1_secret_x") },
		"cancel":  func() error { return m.CancelPayment(ctx) },
		"clear":   func() error { return m.ClearReaderDisplay(ctx) },
		"prepare": func() error { return m.PreparePayment() },
	} {
		if err := op(); !errors.Is(err, ErrNoReader) {
			t.Errorf("%s: expected ErrNoReader, got %v", name, err)
		}
	}
}

func TestDisconnectWithoutReaderIsNoop(t *testing.T) {
	m, rec, _ := newTestManager(t, &fakeSDK{})

	if err := m.DisconnectReader(context.Background()); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(rec.connection) != 0 {
		t.Errorf("Expected no status changes, got %v", rec.connection)
	}
	if m.ConnectionStatus() != NotConnected {
		t.Errorf("Expected not_connected, got %s", m.ConnectionStatus())
	}
}

func TestDiscoveryConfig(t *testing.T) {
	sdk := &fakeSDK{readers: []Reader{{ID: "tmr_1"}}}
	m, _, _ := newTestManager(t, sdk)
	ctx := context.Background()

	if _, err := m.DiscoverReaders(ctx, true); err != nil {
		t.Fatal(err)
	}
	if !sdk.discoverCfg.Simulated || sdk.discoverCfg.Location != "" {
		t.Errorf("Simulated discovery config wrong: %+v", sdk.discoverCfg)
	}

	m.SetLocation("tml_123")
	readers, err := m.DiscoverReaders(ctx, false)
	if err != nil {
		t.Fatal(err)
	}
	if sdk.discoverCfg.Simulated || sdk.discoverCfg.Location != "tml_123" {
		t.Errorf("Location discovery config wrong: %+v", sdk.discoverCfg)
	}
	if len(readers) != 1 {
		t.Errorf("Expected 1 reader, got %d", len(readers))
	}

	if _, err := m.DiscoverReaders(ctx, true); err != nil {
		t.Fatal(err)
	}
	if !sdk.discoverCfg.Simulated || sdk.discoverCfg.Location != "tml_123" {
		t.Errorf("Simulated discovery should keep the location: %+v", sdk.discoverCfg)
	}
}

func TestErrorNormalization(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"payload message", &SDKError{Code: "reader_busy", Message: "Reader is busy"}, "Reader is busy"},
		{"payload without message", &SDKError{Code: "reader_busy"}, "リーダーの検出に失敗しました"},
		{"plain error", errors.New("socket closed"), "リーダーの検出に失敗しました"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _, _ := newTestManager(t, &fakeSDK{discoverErr: tt.err})
			_, err := m.DiscoverReaders(context.Background(), false)
			if err == nil {
				t.Fatal("Expected error")
			}
			if err.Error() != tt.want {
				t.Errorf("got %q, want %q", err.Error(), tt.want)
			}
			if !errors.Is(err, tt.err) {
				t.Error("Normalized error should wrap the SDK error")
			}
		})
	}
}

func TestConnectTransitions(t *testing.T) {
	t.Run("success passes through connecting", func(t *testing.T) {
		m, rec, _ := newTestManager(t, &fakeSDK{})
		connect(t, m)

		want := []ConnectionStatus{Connecting, Connected}
		if len(rec.connection) != len(want) {
			t.Fatalf("got %v, want %v", rec.connection, want)
		}
		for i := range want {
			if rec.connection[i] != want[i] {
				t.Errorf("transition %d: got %s, want %s", i, rec.connection[i], want[i])
			}
		}
		if r := m.ConnectedReader(); r == nil || r.ID != "tmr_1" {
			t.Errorf("Expected connected reader tmr_1, got %+v", r)
		}
	})

	t.Run("failure returns to not_connected", func(t *testing.T) {
		m, rec, _ := newTestManager(t, &fakeSDK{connectErr: &SDKError{Message: ""}})
		err := m.ConnectToReader(context.Background(), Reader{ID: "tmr_1"})
		if err == nil || err.Error() != "接続に失敗しました" {
			t.Fatalf("Expected connect failure, got %v", err)
		}
		if got := rec.connection; len(got) != 2 || got[0] != Connecting || got[1] != NotConnected {
			t.Errorf("Unexpected transitions %v", got)
		}
		if m.ConnectedReader() != nil {
			t.Error("No reader should be connected")
		}
	})
}

func TestConnectWhileConnected(t *testing.T) {
	sdk := &fakeSDK{}
	m, rec, _ := newTestManager(t, sdk)
	connect(t, m)

	err := m.ConnectToReader(context.Background(), Reader{ID: "tmr_2"})
	if !errors.Is(err, ErrAlreadyConnected) {
		t.Fatalf("Expected ErrAlreadyConnected, got %v", err)
	}
	if err.Error() != "既にリーダーに接続されています" {
		t.Errorf("Unexpected message %q", err.Error())
	}
	if sdk.connectCalls != 1 {
		t.Errorf("Expected the SDK to see 1 connect, got %d", sdk.connectCalls)
	}
	if len(rec.connection) != 2 {
		t.Errorf("Refused connect must not move the status, got %v", rec.connection)
	}
	if r := m.ConnectedReader(); m.ConnectionStatus() != Connected || r == nil || r.ID != "tmr_1" {
		t.Fatalf("Expected tmr_1 still connected, got %s %+v", m.ConnectionStatus(), r)
	}

	// the reader can still be released and reconnected
	if err := m.DisconnectReader(context.Background()); err != nil {
		t.Fatalf("DisconnectReader failed: %v", err)
	}
	if err := m.ConnectToReader(context.Background(), Reader{ID: "tmr_2"}); err != nil {
		t.Fatalf("Reconnect failed: %v", err)
	}
	if r := m.ConnectedReader(); r == nil || r.ID != "tmr_2" {
		t.Errorf("Expected tmr_2 connected, got %+v", r)
	}
}

func TestDisconnectTransitions(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		m, rec, _ := newTestManager(t, &fakeSDK{})
		connect(t, m)
		if err := m.DisconnectReader(context.Background()); err != nil {
			t.Fatal(err)
		}
		got := rec.connection[2:]
		if len(got) != 2 || got[0] != Disconnecting || got[1] != NotConnected {
			t.Errorf("Unexpected transitions %v", got)
		}
		if m.ConnectedReader() != nil {
			t.Error("Reader should be cleared")
		}
	})

	t.Run("failure keeps the reader", func(t *testing.T) {
		sdk := &fakeSDK{}
		m, _, _ := newTestManager(t, sdk)
		connect(t, m)
		sdk.disconnectErr = &SDKError{Message: "busy"}
		if err := m.DisconnectReader(context.Background()); err == nil || err.Error() != "busy" {
			t.Fatalf("Expected busy error, got %v", err)
		}
		if m.ConnectionStatus() != Connected || m.ConnectedReader() == nil {
			t.Errorf("Expected reader still connected, status %s", m.ConnectionStatus())
		}
	})
}

func TestCollectPayment(t *testing.T) {
	tests := []struct {
		name       string
		sdk        *fakeSDK
		wantStatus PaymentStatus
		wantMsg    string
		wantSeq    []PaymentStatus
	}{
		{
			name:       "happy path",
			sdk:        &fakeSDK{},
			wantStatus: PaymentSucceeded,
			wantSeq:    []PaymentStatus{PaymentReading, PaymentConfirming, PaymentSucceeded},
		},
		{
			name:       "collect declined",
			sdk:        &fakeSDK{collectErr: &SDKError{Code: "card_declined", Message: "Your card was declined."}},
			wantStatus: PaymentFailed,
			wantMsg:    "Your card was declined.",
			wantSeq:    []PaymentStatus{PaymentReading, PaymentFailed},
		},
		{
			name:       "missing intent",
			sdk:        &fakeSDK{nilIntent: true},
			wantStatus: PaymentFailed,
			wantMsg:    "支払いインテントが見つかりません",
			wantSeq:    []PaymentStatus{PaymentReading, PaymentConfirming, PaymentFailed},
		},
		{
			name:       "processing fails",
			sdk:        &fakeSDK{processErr: errors.New("network")},
			wantStatus: PaymentFailed,
			wantMsg:    "支払いの確認に失敗しました",
			wantSeq:    []PaymentStatus{PaymentReading, PaymentConfirming, PaymentFailed},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, rec, _ := newTestManager(t, tt.sdk)
			connect(t, m)

			err := m.CollectPayment(context.Background(), "pi_123_secret_abc")
			if tt.wantMsg == "" && err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if tt.wantMsg != "" && (err == nil || err.Error() != tt.wantMsg) {
				t.Fatalf("got error %v, want %q", err, tt.wantMsg)
			}
			if m.PaymentStatus() != tt.wantStatus {
				t.Errorf("Status: got %s, want %s", m.PaymentStatus(), tt.wantStatus)
			}
			got := rec.payments()
			if len(got) != len(tt.wantSeq) {
				t.Fatalf("Sequence: got %v, want %v", got, tt.wantSeq)
			}
			for i := range got {
				if got[i] != tt.wantSeq[i] {
					t.Errorf("Sequence[%d]: got %s, want %s", i, got[i], tt.wantSeq[i])
				}
			}
		})
	}
}

func TestCancelWhileReading(t *testing.T) {
	sdk := &fakeSDK{collectGate: make(chan struct{}), collecting: make(chan struct{})}
	m, rec, _ := newTestManager(t, sdk)
	connect(t, m)

	done := make(chan error, 1)
	go func() { done <- m.CollectPayment(context.Background(), "pi_123_secret_abc") }()

	<-sdk.collecting
	if err := m.CancelPayment(context.Background()); err != nil {
		t.Fatalf("CancelPayment failed: %v", err)
	}

	select {
	case err := <-done:
		if !errors.Is(err, ErrPaymentCanceled) {
			t.Errorf("Expected ErrPaymentCanceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("CollectPayment did not return after cancel")
	}

	if m.PaymentStatus() != PaymentCanceled {
		t.Errorf("Expected canceled, got %s", m.PaymentStatus())
	}
	for _, s := range rec.payments() {
		if s == PaymentSucceeded {
			t.Error("Canceled collection must never report succeeded")
		}
	}
}

func TestCancelWinsOverLateCardRead(t *testing.T) {
	// The card is read just as the cancel lands: the SDK still returns an
	// intent, but the collection must not be confirmed.
	sdk := &fakeSDK{collectGate: make(chan struct{}), collecting: make(chan struct{}), cancelErr: nil}
	m, _, _ := newTestManager(t, sdk)
	connect(t, m)

	done := make(chan error, 1)
	go func() { done <- m.CollectPayment(context.Background(), "pi_123_secret_abc") }()
	<-sdk.collecting

	// Mark the collection canceled, then let the SDK report a read.
	m.mu.Lock()
	m.canceled = true
	m.mu.Unlock()
	sdk.mu.Lock()
	sdk.cancelCh = nil
	sdk.mu.Unlock()
	close(sdk.collectGate)

	err := <-done
	if !errors.Is(err, ErrPaymentCanceled) {
		t.Fatalf("Expected ErrPaymentCanceled, got %v", err)
	}
	if m.PaymentStatus() != PaymentCanceled {
		t.Errorf("Expected canceled, got %s", m.PaymentStatus())
	}
}

func TestCancelWhileProcessing(t *testing.T) {
	sdk := &fakeSDK{}
	m, _, _ := newTestManager(t, sdk)
	connect(t, m)

	if err := m.PreparePayment(); err != nil {
		t.Fatal(err)
	}
	if m.PaymentStatus() != PaymentProcessing {
		t.Fatalf("Expected processing, got %s", m.PaymentStatus())
	}
	if err := m.CancelPayment(context.Background()); err != nil {
		t.Fatal(err)
	}
	if m.PaymentStatus() != PaymentCanceled {
		t.Fatalf("Expected canceled, got %s", m.PaymentStatus())
	}

	err := m.CollectPayment(context.Background(), "pi_123_secret_abc")
	if !errors.Is(err, ErrPaymentCanceled) {
		t.Errorf("Collect after cancel should fail as canceled, got %v", err)
	}
	if m.PaymentStatus() != PaymentCanceled {
		t.Errorf("Expected canceled to stick, got %s", m.PaymentStatus())
	}

	// a fresh collection is allowed afterwards
	if err := m.CollectPayment(context.Background(), "pi_456_secret_def"); err != nil {
		t.Fatalf("New collection failed: %v", err)
	}
	if m.PaymentStatus() != PaymentSucceeded {
		t.Errorf("Expected succeeded, got %s", m.PaymentStatus())
	}
}

func TestAbortPayment(t *testing.T) {
	sdk := &fakeSDK{}
	m, _, _ := newTestManager(t, sdk)
	connect(t, m)

	// nothing prepared
	m.AbortPayment()
	if m.PaymentStatus() != PaymentIdle {
		t.Fatalf("Expected idle, got %s", m.PaymentStatus())
	}

	if err := m.PreparePayment(); err != nil {
		t.Fatal(err)
	}
	m.AbortPayment()
	if m.PaymentStatus() != PaymentFailed {
		t.Errorf("Expected failed, got %s", m.PaymentStatus())
	}

	if err := m.PreparePayment(); err != nil {
		t.Fatal(err)
	}
	if err := m.CancelPayment(context.Background()); err != nil {
		t.Fatal(err)
	}
	m.AbortPayment()
	if m.PaymentStatus() != PaymentCanceled {
		t.Errorf("Expected canceled to win, got %s", m.PaymentStatus())
	}
}

func TestPrepareWhileCollecting(t *testing.T) {
	m, _, _ := newTestManager(t, &fakeSDK{})
	connect(t, m)

	if err := m.PreparePayment(); err != nil {
		t.Fatal(err)
	}
	if err := m.PreparePayment(); !errors.Is(err, ErrPaymentInProgress) {
		t.Fatalf("Expected ErrPaymentInProgress, got %v", err)
	}

	// the first collection keeps its id and completes
	if err := m.CollectPayment(context.Background(), "pi_1_secret_a"); err != nil {
		t.Fatalf("CollectPayment failed: %v", err)
	}
	if m.PaymentStatus() != PaymentSucceeded {
		t.Errorf("Expected succeeded, got %s", m.PaymentStatus())
	}
	if err := m.PreparePayment(); err != nil {
		t.Errorf("Prepare after a finished collection failed: %v", err)
	}
}

func TestConcurrentPrepare(t *testing.T) {
	m, _, _ := newTestManager(t, &fakeSDK{})
	connect(t, m)

	const callers = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	won := 0
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if err := m.PreparePayment(); err == nil {
				mu.Lock()
				won++
				mu.Unlock()
			} else if !errors.Is(err, ErrPaymentInProgress) {
				t.Errorf("Unexpected error %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if won != 1 {
		t.Errorf("Expected exactly 1 collection to be prepared, got %d", won)
	}
}

func TestCancelFailureWhileIdle(t *testing.T) {
	sdk := &fakeSDK{cancelErr: &SDKError{}}
	m, _, _ := newTestManager(t, sdk)
	connect(t, m)

	err := m.CancelPayment(context.Background())
	if err == nil || err.Error() != "支払いのキャンセルに失敗しました" {
		t.Fatalf("Expected cancel failure, got %v", err)
	}
	if m.PaymentStatus() != PaymentIdle {
		t.Errorf("Idle status should be untouched, got %s", m.PaymentStatus())
	}
}

func TestUnexpectedDisconnect(t *testing.T) {
	m, rec, opts := newTestManager(t, &fakeSDK{})
	connect(t, m)

	opts.OnUnexpectedReaderDisconnect()

	if m.ConnectionStatus() != NotConnected {
		t.Errorf("Expected not_connected, got %s", m.ConnectionStatus())
	}
	if m.ConnectedReader() != nil {
		t.Error("Reader should be cleared")
	}
	if rec.disconnects != 1 {
		t.Errorf("Expected 1 disconnect notification, got %d", rec.disconnects)
	}
}

func TestClearReaderDisplay(t *testing.T) {
	sdk := &fakeSDK{}
	m, _, _ := newTestManager(t, sdk)
	connect(t, m)

	if err := m.ClearReaderDisplay(context.Background()); err != nil {
		t.Fatal(err)
	}
	sdk.clearErr = errors.New("boom")
	if err := m.ClearReaderDisplay(context.Background()); err == nil || err.Error() != "ディスプレイのクリアに失敗しました" {
		t.Errorf("Expected clear failure, got %v", err)
	}
	if sdk.clearCalls != 2 {
		t.Errorf("Expected 2 clear calls, got %d", sdk.clearCalls)
	}
}

func TestIntentIDFromSecret(t *testing.T) {
	if got := IntentIDFromSecret("pi_3Abc_secret_XyZ"); got != "pi_3Abc" {
		t.Errorf("got %s", got)
	}
	if got := IntentIDFromSecret("pi_plain"); got != "pi_plain" {
		t.Errorf("got %s", got)
	}
}
