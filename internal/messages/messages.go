// Package messages holds the Japanese operator-facing text shown by the
// point-of-sale service and its CLI.
package messages

import (
	"fmt"
	"strconv"
	"strings"
)

// Terminal manager errors.
const (
	SDKLoadFailed        = "Stripe Terminal SDKの読み込みに失敗しました"
	TerminalNotReady     = "ターミナルが初期化されていません"
	NoReaderConnected    = "リーダーが接続されていません"
	DiscoverFailed       = "リーダーの検出に失敗しました"
	ConnectFailed        = "接続に失敗しました"
	DisconnectFailed     = "切断に失敗しました"
	CollectFailed        = "支払いの受け付けに失敗しました"
	IntentMissing        = "支払いインテントが見つかりません"
	ConfirmFailed        = "支払いの確認に失敗しました"
	CancelCollectFailed  = "支払いのキャンセルに失敗しました"
	ClearDisplayFailed   = "ディスプレイのクリアに失敗しました"
	PaymentWasCanceled   = "支払いがキャンセルされました"
	ReaderOffline        = "リーダーがオフラインです"
	TerminalInitFailed   = "ターミナルの初期化に失敗しました"
	ReaderConnectFailed  = "リーダーへの接続に失敗しました"
	ReaderDisconnectFail = "リーダーの切断に失敗しました"
	AlreadyConnected     = "既にリーダーに接続されています"
)

// Session (hook) messages.
const (
	NoReadersFound         = "リーダーが見つかりません。Stripe認定リーダーが接続されているか確認してください。"
	UnknownReader          = "リーダーが見つかりません"
	UnexpectedDisconnect   = "リーダーが予期せず切断されました"
	SimulatorNotAllowed    = "本番モードではシミュレーターを使用できません"
	InvalidAmountEntered   = "有効な金額を入力してください"
	ConnectionTokenMissing = "接続トークンを取得できませんでした"
	PaymentInProgress      = "別の支払いを処理中です"
)

// Server action errors.
const (
	ConnectionTokenFailed = "接続トークンの作成に失敗しました"
	InvalidAmount         = "無効な金額です"
	IntentCreateFailed    = "支払いインテントの作成に失敗しました"
	IntentIDRequired      = "支払いインテントIDが必要です"
	CaptureFailed         = "支払いのキャプチャに失敗しました"
	IntentCancelFailed    = "支払いのキャンセルに失敗しました"
	IntentRetrieveFailed  = "支払い情報の取得に失敗しました"
	RequestInProgress     = "同じリクエストを処理中です"
)

// MinimumAmountYen is the smallest amount the dashboard offers.
const MinimumAmountYen = 50

// Tone classifies a status for display.
type Tone string

const (
	ToneSuccess Tone = "success"
	TonePending Tone = "pending"
	ToneFailure Tone = "failure"
	ToneNeutral Tone = "neutral"
)

// StatusTone maps a connection or payment status to its display tone.
func StatusTone(status string) Tone {
	switch status {
	case "connected", "succeeded":
		return ToneSuccess
	case "connecting", "processing", "reading", "confirming":
		return TonePending
	case "not_connected", "failed":
		return ToneFailure
	default:
		return ToneNeutral
	}
}

// ConnectionLabel returns the label for a connection status.
func ConnectionLabel(status string) string {
	switch status {
	case "not_connected":
		return "未接続"
	case "connecting":
		return "接続中"
	case "connected":
		return "接続済み"
	case "disconnecting":
		return "切断中"
	default:
		return status
	}
}

// InitializedLabel returns the terminal initialization label.
func InitializedLabel(initialized bool) string {
	if initialized {
		return "初期化済み"
	}
	return "未初期化"
}

// PaymentMessage returns the operator prompt for a payment status. Statuses
// without a prompt return "".
func PaymentMessage(status string) string {
	switch status {
	case "processing":
		return "支払いを準備中..."
	case "reading":
		return "カードをタップまたは挿入してください..."
	case "confirming":
		return "支払いを処理中..."
	case "succeeded":
		return "支払いが完了しました！"
	case "failed":
		return "支払いに失敗しました。もう一度お試しください。"
	case "canceled":
		return "支払いがキャンセルされました。"
	default:
		return ""
	}
}

// ModeLabel returns the badge for the configured API mode.
func ModeLabel(mode string) string {
	if mode == "live" {
		return "本番モード"
	}
	return "テストモード"
}

// FormatYen renders an amount in yen with thousands separators, e.g. ¥1,000.
func FormatYen(amount int64) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	digits := strconv.FormatInt(amount, 10)
	var b strings.Builder
	for i, r := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	return fmt.Sprintf("%s¥%s", sign, b.String())
}

// FormatCount renders a processed-payment count, e.g. 3件.
func FormatCount(n int) string {
	return fmt.Sprintf("%d件", n)
}

// FormatRate renders a success rate, or --% when nothing was processed.
func FormatRate(rate float64, processed int) string {
	if processed == 0 {
		return "--%"
	}
	return fmt.Sprintf("%.0f%%", rate*100)
}
