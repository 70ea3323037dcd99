package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"terminal-pointofsale/internal/messages"
)

// terminalState mirrors the service's session snapshot.
type terminalState struct {
	Initialized       bool           `json:"initialized"`
	Mode              string         `json:"mode"`
	ConnectionStatus  string         `json:"connection_status"`
	PaymentStatus     string         `json:"payment_status"`
	ConnectedReader   *reader        `json:"connected_reader"`
	DiscoveredReaders []reader       `json:"discovered_readers"`
	IsDiscovering     bool           `json:"is_discovering"`
	Error             string         `json:"error,omitempty"`
	PaymentIntentID   string         `json:"payment_intent_id,omitempty"`
	Amount            int64          `json:"amount,omitempty"`
	LastPayment       *paymentRecord `json:"last_payment,omitempty"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

type reader struct {
	ID           string `json:"id"`
	Label        string `json:"label,omitempty"`
	DeviceType   string `json:"device_type"`
	Status       string `json:"status,omitempty"`
	SerialNumber string `json:"serial_number,omitempty"`
	Simulated    bool   `json:"simulated,omitempty"`
}

func (r reader) displayName() string {
	if r.Label != "" {
		return r.Label
	}
	return r.ID
}

type paymentRecord struct {
	ID              string    `json:"id"`
	PaymentIntentID string    `json:"payment_intent_id,omitempty"`
	Amount          int64     `json:"amount"`
	Currency        string    `json:"currency"`
	Status          string    `json:"status"`
	ReaderID        string    `json:"reader_id,omitempty"`
	Error           string    `json:"error,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

type dailySummary struct {
	Date        string  `json:"date"`
	TotalAmount int64   `json:"total_amount"`
	Processed   int     `json:"processed"`
	Succeeded   int     `json:"succeeded"`
	SuccessRate float64 `json:"success_rate"`
}

type intent struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret,omitempty"`
	Status       string `json:"status"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
}

// OutputFormatter prints either JSON or the operator text view.
type OutputFormatter struct {
	jsonMode bool
	out      io.Writer
}

func newOutputFormatter(cmd *cobra.Command) *OutputFormatter {
	jsonMode, _ := cmd.Flags().GetBool("json")
	return &OutputFormatter{jsonMode: jsonMode, out: cmd.OutOrStdout()}
}

// Print writes data as JSON in JSON mode and calls render otherwise.
func (f *OutputFormatter) Print(data interface{}, render func(io.Writer)) error {
	if f.jsonMode {
		jsonBytes, err := json.MarshalIndent(data, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Fprintln(f.out, string(jsonBytes))
		return nil
	}
	render(f.out)
	return nil
}

func renderState(w io.Writer, st terminalState) {
	fmt.Fprintf(w, "[%s]\n", messages.ModeLabel(st.Mode))
	fmt.Fprintf(w, "ターミナル: %s\n", messages.InitializedLabel(st.Initialized))
	fmt.Fprintf(w, "接続状態:   %s\n", toneMark(st.ConnectionStatus, messages.ConnectionLabel(st.ConnectionStatus)))
	if st.ConnectedReader != nil {
		fmt.Fprintf(w, "リーダー:   %s (%s)\n", st.ConnectedReader.displayName(), st.ConnectedReader.DeviceType)
	}
	if msg := messages.PaymentMessage(st.PaymentStatus); msg != "" {
		line := msg
		if st.Amount > 0 {
			line = fmt.Sprintf("%s %s", messages.FormatYen(st.Amount), msg)
		}
		fmt.Fprintf(w, "支払い:     %s\n", toneMark(st.PaymentStatus, line))
	}
	if st.IsDiscovering {
		fmt.Fprintln(w, "リーダーを検索中...")
	}
	if len(st.DiscoveredReaders) > 0 && st.ConnectedReader == nil {
		renderReaders(w, st.DiscoveredReaders)
	}
	if st.Error != "" {
		fmt.Fprintf(w, "エラー: %s\n", st.Error)
	}
}

func renderReaders(w io.Writer, readers []reader) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tTYPE\tSTATUS")
	for _, r := range readers {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.ID, r.displayName(), r.DeviceType, r.Status)
	}
	tw.Flush()
}

func renderSummary(w io.Writer, s dailySummary) {
	fmt.Fprintf(w, "本日の取引: %s\n", messages.FormatYen(s.TotalAmount))
	fmt.Fprintf(w, "処理件数:   %s\n", messages.FormatCount(s.Processed))
	fmt.Fprintf(w, "成功率:     %s\n", messages.FormatRate(s.SuccessRate, s.Processed))
}

func renderPayments(w io.Writer, records []paymentRecord) {
	if len(records) == 0 {
		fmt.Fprintln(w, "取引はありません")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tAMOUNT\tSTATUS\tINTENT\tERROR")
	for _, r := range records {
		amount := messages.FormatYen(r.Amount)
		if r.Currency != "" && r.Currency != "jpy" {
			amount = fmt.Sprintf("%d %s", r.Amount, strings.ToUpper(r.Currency))
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.CreatedAt.Local().Format("15:04:05"), amount, r.Status, r.PaymentIntentID, r.Error)
	}
	tw.Flush()
}

func renderIntent(w io.Writer, in intent) {
	fmt.Fprintf(w, "%s  %s  %d %s\n", in.ID, in.Status, in.Amount, strings.ToUpper(in.Currency))
}

// toneMark prefixes text with a marker for the status tone.
func toneMark(status, text string) string {
	switch messages.StatusTone(status) {
	case messages.ToneSuccess:
		return "● " + text
	case messages.TonePending:
		return "◌ " + text
	case messages.ToneFailure:
		return "✕ " + text
	default:
		return "  " + text
	}
}
