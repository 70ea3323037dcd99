package terminal

import (
	"errors"

	"terminal-pointofsale/internal/messages"
)

var (
	ErrNotInitialized  = errors.New(messages.TerminalNotReady)
	ErrNoReader        = errors.New(messages.NoReaderConnected)
	ErrSDKUnavailable  = errors.New(messages.SDKLoadFailed)
	ErrPaymentCanceled = errors.New(messages.PaymentWasCanceled)
	ErrIntentMissing   = errors.New(messages.IntentMissing)

	ErrAlreadyConnected  = errors.New(messages.AlreadyConnected)
	ErrPaymentInProgress = errors.New(messages.PaymentInProgress)
)

// SDKError is the error payload returned by the vendor SDK.
type SDKError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

func (e *SDKError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Code
}

// Error is a failed terminal operation. Its message is the single
// human-readable string shown to the operator.
type Error struct {
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Err }

// normalize turns any SDK failure into an *Error carrying the payload
// message, or fallback when the payload has none.
func normalize(op string, err error, fallback string) error {
	if err == nil {
		return nil
	}
	var te *Error
	if errors.As(err, &te) {
		return err
	}
	msg := fallback
	var sdkErr *SDKError
	if errors.As(err, &sdkErr) {
		if sdkErr.Message != "" {
			msg = sdkErr.Message
		}
	} else if errors.Is(err, ErrPaymentCanceled) {
		msg = messages.PaymentWasCanceled
	}
	return &Error{Op: op, Message: msg, Err: err}
}

// IsCanceled reports whether err is a collection that lost to a cancel.
func IsCanceled(err error) bool {
	if errors.Is(err, ErrPaymentCanceled) {
		return true
	}
	var sdkErr *SDKError
	return errors.As(err, &sdkErr) && sdkErr.Code == CodeCanceled
}

// CodeCanceled is the SDK error code for a collection canceled on request.
const CodeCanceled = "canceled"
