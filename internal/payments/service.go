package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"terminal-pointofsale/internal/core"
	"terminal-pointofsale/internal/messages"
)

const DefaultCurrency = "jpy"

var (
	ErrInvalidAmount    = errors.New(messages.InvalidAmount)
	ErrIntentIDRequired = errors.New(messages.IntentIDRequired)
)

// Intent is the subset of a payment intent the point of sale needs.
type Intent struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret,omitempty"`
	Status       string `json:"status"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
}

// CreateParams describes a card-present, automatically captured intent.
type CreateParams struct {
	Amount         int64
	Currency       string
	IdempotencyKey string
}

// Backend is the hosted payment API.
type Backend interface {
	CreateConnectionToken(ctx context.Context) (string, error)
	CreatePaymentIntent(ctx context.Context, params CreateParams) (*Intent, error)
	CapturePaymentIntent(ctx context.Context, id string) (*Intent, error)
	CancelPaymentIntent(ctx context.Context, id string) (*Intent, error)
	GetPaymentIntent(ctx context.Context, id string) (*Intent, error)
}

// Auditor records each action outcome.
type Auditor interface {
	Log(action string, fields map[string]interface{}, err error) error
}

// ActionError is a failed server action. Error returns the operator-facing
// message; Validation marks failures rejected before reaching the backend.
type ActionError struct {
	Action     string
	Message    string
	Validation bool
	Err        error
}

func (e *ActionError) Error() string { return e.Message }

func (e *ActionError) Unwrap() error { return e.Err }

// IsValidation reports whether err was rejected without calling the backend.
func IsValidation(err error) bool {
	var ae *ActionError
	return errors.As(err, &ae) && ae.Validation
}

type Config struct {
	Backend     Backend
	Idempotency core.IdempotencyStore
	Audit       Auditor
	Logger      *logrus.Entry
	Currency    string

	// Consecutive backend failures before the breaker opens, and how long
	// it stays open.
	BreakerThreshold uint32
	BreakerTimeout   time.Duration
}

// Service exposes the server actions. It holds no payment state of its own.
type Service struct {
	backend  Backend
	idem     core.IdempotencyStore
	audit    Auditor
	logger   *logrus.Entry
	currency string
	breaker  *gobreaker.CircuitBreaker
}

func NewService(cfg Config) *Service {
	if cfg.Idempotency == nil {
		cfg.Idempotency = core.NewMemoryIdempotencyStore()
	}
	if cfg.Currency == "" {
		cfg.Currency = DefaultCurrency
	}
	if cfg.BreakerThreshold == 0 {
		cfg.BreakerThreshold = 5
	}
	if cfg.BreakerTimeout == 0 {
		cfg.BreakerTimeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.NewEntry(logrus.StandardLogger())
	}

	s := &Service{
		backend:  cfg.Backend,
		idem:     cfg.Idempotency,
		audit:    cfg.Audit,
		logger:   cfg.Logger,
		currency: strings.ToLower(cfg.Currency),
	}

	threshold := cfg.BreakerThreshold
	s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "payment-api",
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			s.logger.Warningf("Circuit breaker %s: %s -> %s", name, from, to)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})

	return s
}

// BreakerState names the breaker state for metrics.
func (s *Service) BreakerState() string {
	return s.breaker.State().String()
}

// Currency is the default currency for new intents.
func (s *Service) Currency() string {
	return s.currency
}

func (s *Service) CreateConnectionToken(ctx context.Context) (string, error) {
	res, err := s.breaker.Execute(func() (interface{}, error) {
		return s.backend.CreateConnectionToken(ctx)
	})
	if err != nil {
		return "", s.fail("connection_token", nil, messages.ConnectionTokenFailed, err)
	}
	s.record("connection_token", nil, nil)
	return res.(string), nil
}

func (s *Service) CreatePaymentIntent(ctx context.Context, amount int64, currency string) (*Intent, error) {
	return s.createIntent(ctx, CreateParams{Amount: amount, Currency: currency})
}

// CreatePaymentIntentOnce is CreatePaymentIntent deduplicated by key. A
// repeated key returns the first result; a key still being served fails.
func (s *Service) CreatePaymentIntentOnce(ctx context.Context, key string, amount int64, currency string) (*Intent, error) {
	if key == "" {
		return s.CreatePaymentIntent(ctx, amount, currency)
	}

	stored, err := s.idem.Begin(ctx, key)
	switch {
	case errors.Is(err, core.ErrInProgress):
		return nil, s.invalid("create_payment_intent", map[string]interface{}{"idempotency_key": key}, messages.RequestInProgress, err)
	case err != nil:
		return nil, s.fail("create_payment_intent", map[string]interface{}{"idempotency_key": key}, messages.IntentCreateFailed, err)
	case stored != nil:
		var intent Intent
		if err := json.Unmarshal(stored, &intent); err != nil {
			return nil, s.fail("create_payment_intent", map[string]interface{}{"idempotency_key": key}, messages.IntentCreateFailed, err)
		}
		s.logger.Infof("Replaying payment intent %s for idempotency key %s", intent.ID, key)
		return &intent, nil
	}

	intent, err := s.createIntent(ctx, CreateParams{Amount: amount, Currency: currency, IdempotencyKey: key})
	if err != nil {
		if abandonErr := s.idem.Abandon(ctx, key); abandonErr != nil {
			s.logger.Warningf("Failed to release idempotency key %s: %v", key, abandonErr)
		}
		return nil, err
	}

	data, _ := json.Marshal(intent)
	if err := s.idem.Complete(ctx, key, data); err != nil {
		s.logger.Warningf("Failed to store idempotency result for %s: %v", key, err)
	}
	return intent, nil
}

func (s *Service) createIntent(ctx context.Context, params CreateParams) (*Intent, error) {
	if params.Currency == "" {
		params.Currency = s.currency
	}
	params.Currency = strings.ToLower(params.Currency)
	fields := map[string]interface{}{"amount": params.Amount, "currency": params.Currency}

	if params.Amount <= 0 {
		return nil, s.invalid("create_payment_intent", fields, messages.InvalidAmount, ErrInvalidAmount)
	}

	res, err := s.breaker.Execute(func() (interface{}, error) {
		return s.backend.CreatePaymentIntent(ctx, params)
	})
	if err != nil {
		return nil, s.fail("create_payment_intent", fields, messages.IntentCreateFailed, err)
	}

	intent := res.(*Intent)
	fields["id"] = intent.ID
	s.record("create_payment_intent", fields, nil)
	return intent, nil
}

func (s *Service) CapturePaymentIntent(ctx context.Context, id string) (*Intent, error) {
	return s.byID(ctx, "capture_payment_intent", id, messages.CaptureFailed, s.backend.CapturePaymentIntent)
}

func (s *Service) CancelPaymentIntent(ctx context.Context, id string) (*Intent, error) {
	return s.byID(ctx, "cancel_payment_intent", id, messages.IntentCancelFailed, s.backend.CancelPaymentIntent)
}

func (s *Service) GetPaymentIntent(ctx context.Context, id string) (*Intent, error) {
	return s.byID(ctx, "get_payment_intent", id, messages.IntentRetrieveFailed, s.backend.GetPaymentIntent)
}

func (s *Service) byID(ctx context.Context, action, id, fallback string, call func(context.Context, string) (*Intent, error)) (*Intent, error) {
	fields := map[string]interface{}{"id": id}
	if strings.TrimSpace(id) == "" {
		return nil, s.invalid(action, fields, messages.IntentIDRequired, ErrIntentIDRequired)
	}

	res, err := s.breaker.Execute(func() (interface{}, error) {
		return call(ctx, id)
	})
	if err != nil {
		return nil, s.fail(action, fields, fallback, err)
	}

	intent := res.(*Intent)
	fields["status"] = intent.Status
	s.record(action, fields, nil)
	return intent, nil
}

func (s *Service) invalid(action string, fields map[string]interface{}, msg string, cause error) error {
	err := &ActionError{Action: action, Message: msg, Validation: true, Err: cause}
	s.logger.Infof("%s rejected: %s", action, msg)
	s.record(action, fields, err)
	return err
}

func (s *Service) fail(action string, fields map[string]interface{}, msg string, cause error) error {
	err := &ActionError{Action: action, Message: msg, Err: cause}
	s.logger.Errorf("%s failed: %v", action, cause)
	s.record(action, fields, fmt.Errorf("%s: %w", msg, cause))
	return err
}

func (s *Service) record(action string, fields map[string]interface{}, err error) {
	if s.audit == nil {
		return
	}
	if auditErr := s.audit.Log(action, fields, err); auditErr != nil {
		s.logger.Warningf("Failed to audit %s: %v", action, auditErr)
	}
}
