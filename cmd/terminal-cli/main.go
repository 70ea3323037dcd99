package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"terminal-pointofsale/internal/messages"
)

const defaultServiceURL = "http://localhost:8080"

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "terminal-cli",
		Short: "Operator console for the terminal point-of-sale service",
		Long: `terminal-cli drives a running terminal-pointofsale service: discover and
connect a card reader, collect payments and inspect the day's takings.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	serviceURL := os.Getenv("POS_SERVICE_URL")
	if serviceURL == "" {
		serviceURL = defaultServiceURL
	}
	rootCmd.PersistentFlags().String("url", serviceURL, "Service base URL")
	rootCmd.PersistentFlags().Duration("timeout", 30*time.Second, "Request timeout")
	rootCmd.PersistentFlags().Bool("json", false, "Output in JSON format")

	rootCmd.AddCommand(
		statusCmd(),
		stateCommand("initialize", "Load the terminal SDK", "initialize", cobra.NoArgs, nil),
		discoverCmd(),
		stateCommand("connect <reader-id>", "Connect to a discovered reader", "connect", cobra.ExactArgs(1),
			func(args []string) interface{} { return map[string]string{"reader_id": args[0]} }),
		collectCmd(),
		stateCommand("cancel", "Cancel the payment in progress", "cancel", cobra.NoArgs, nil),
		stateCommand("clear", "Clear the reader display", "clear_display", cobra.NoArgs, nil),
		stateCommand("disconnect", "Disconnect the reader", "disconnect", cobra.NoArgs, nil),
		intentCmd(),
		paymentsCmd(),
		watchCmd(),
	)
	return rootCmd
}

func clientFor(cmd *cobra.Command) *apiClient {
	url, _ := cmd.Flags().GetString("url")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	return newAPIClient(url, timeout)
}

// parseAmount reads a yen amount, accepting "1,000" and "¥1000" forms.
func parseAmount(raw string) (int64, error) {
	cleaned := strings.NewReplacer(",", "", "¥", "", "￥", "").Replace(strings.TrimSpace(raw))
	amount, err := strconv.ParseInt(cleaned, 10, 64)
	if err != nil || amount < messages.MinimumAmountYen {
		return 0, errors.New(messages.InvalidAmountEntered)
	}
	return amount, nil
}

// stateCommand builds a command that posts to a terminal route and prints
// the returned snapshot. A snapshot carrying an error exits non-zero.
func stateCommand(use, short, action string, args cobra.PositionalArgs, body func([]string) interface{}) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, argv []string) error {
			var payload interface{}
			if body != nil {
				payload = body(argv)
			}
			st, err := clientFor(cmd).terminal(cmd.Context(), action, payload)
			if err != nil {
				return err
			}
			return printState(cmd, st)
		},
	}
}

func printState(cmd *cobra.Command, st terminalState) error {
	out := newOutputFormatter(cmd)
	if err := out.Print(st, func(w io.Writer) { renderState(w, st) }); err != nil {
		return err
	}
	if st.Error != "" {
		return errors.New(st.Error)
	}
	return nil
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the terminal state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := clientFor(cmd).state(cmd.Context())
			if err != nil {
				return err
			}
			return newOutputFormatter(cmd).Print(st, func(w io.Writer) { renderState(w, st) })
		},
	}
}

func discoverCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Discover card readers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			simulated, _ := cmd.Flags().GetBool("simulated")
			st, err := clientFor(cmd).terminal(cmd.Context(), fmt.Sprintf("discover?simulated=%t", simulated), nil)
			if err != nil {
				return err
			}
			out := newOutputFormatter(cmd)
			if err := out.Print(st, func(w io.Writer) { renderReaders(w, st.DiscoveredReaders) }); err != nil {
				return err
			}
			if st.Error != "" {
				return errors.New(st.Error)
			}
			return nil
		},
	}
	cmd.Flags().Bool("simulated", false, "Discover simulated readers")
	return cmd
}

func collectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "collect <amount>",
		Short: "Collect a card payment in yen",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := parseAmount(args[0])
			if err != nil {
				return err
			}
			client := clientFor(cmd)
			st, err := client.terminal(cmd.Context(), "collect", map[string]int64{"amount": amount})
			if err != nil {
				return err
			}
			if wait, _ := cmd.Flags().GetBool("wait"); !wait || st.Error != "" {
				return printState(cmd, st)
			}

			st, err = waitForPayment(cmd, client)
			if err != nil {
				return err
			}
			return printState(cmd, st)
		},
	}
	cmd.Flags().Bool("wait", true, "Wait until the payment finishes")
	return cmd
}

// waitForPayment polls until the collection ends, printing each payment
// prompt once in text mode.
func waitForPayment(cmd *cobra.Command, client *apiClient) (terminalState, error) {
	jsonMode, _ := cmd.Flags().GetBool("json")
	last := ""
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		st, err := client.state(cmd.Context())
		if err != nil {
			return st, err
		}
		if st.PaymentStatus != last {
			last = st.PaymentStatus
			if msg := messages.PaymentMessage(last); msg != "" && !jsonMode {
				fmt.Fprintln(cmd.ErrOrStderr(), msg)
			}
		}
		switch st.PaymentStatus {
		case "succeeded", "failed", "canceled", "idle":
			return st, nil
		}

		select {
		case <-cmd.Context().Done():
			return st, cmd.Context().Err()
		case <-ticker.C:
		}
	}
}

func intentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "intent",
		Short: "Call the payment intent server actions directly",
	}

	create := &cobra.Command{
		Use:   "create <amount>",
		Short: "Create a card-present payment intent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return errors.New(messages.InvalidAmountEntered)
			}
			currency, _ := cmd.Flags().GetString("currency")
			key, _ := cmd.Flags().GetString("idempotency-key")

			headers := map[string]string{}
			if key != "" {
				headers["Idempotency-Key"] = key
			}
			var in intent
			body := map[string]interface{}{"amount": amount, "currency": currency}
			if err := clientFor(cmd).do(cmd.Context(), http.MethodPost, "/actions/payment_intents", body, headers, &in); err != nil {
				return err
			}
			return newOutputFormatter(cmd).Print(in, func(w io.Writer) { renderIntent(w, in) })
		},
	}
	create.Flags().String("currency", "", "Currency (service default when empty)")
	create.Flags().String("idempotency-key", "", "Replay-safe request key")

	byID := func(use, short, method, suffix string) *cobra.Command {
		return &cobra.Command{
			Use:   use + " <payment-intent-id>",
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				var in intent
				if err := clientFor(cmd).do(cmd.Context(), method, "/actions/payment_intents/"+args[0]+suffix, nil, nil, &in); err != nil {
					return err
				}
				return newOutputFormatter(cmd).Print(in, func(w io.Writer) { renderIntent(w, in) })
			},
		}
	}

	cmd.AddCommand(
		create,
		byID("get", "Show a payment intent", http.MethodGet, ""),
		byID("capture", "Capture a payment intent", http.MethodPost, "/capture"),
		byID("cancel", "Cancel a payment intent", http.MethodPost, "/cancel"),
	)
	return cmd
}

func paymentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "payments",
		Short: "List recent payments and today's summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			client := clientFor(cmd)

			var records []paymentRecord
			if err := client.do(cmd.Context(), http.MethodGet, fmt.Sprintf("/payments?limit=%d", limit), nil, nil, &records); err != nil {
				return err
			}
			var metrics struct {
				Today dailySummary `json:"today"`
			}
			if err := client.do(cmd.Context(), http.MethodGet, "/metrics", nil, nil, &metrics); err != nil {
				return err
			}

			data := map[string]interface{}{"today": metrics.Today, "payments": records}
			return newOutputFormatter(cmd).Print(data, func(w io.Writer) {
				renderSummary(w, metrics.Today)
				fmt.Fprintln(w)
				renderPayments(w, records)
			})
		},
	}
	cmd.Flags().Int("limit", 20, "Number of payments to list")
	return cmd
}

func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Follow the terminal state live",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := clientFor(cmd).stream(cmd.Context())
			if err != nil {
				return err
			}
			defer conn.Close()

			go func() {
				<-cmd.Context().Done()
				conn.Close()
			}()

			out := newOutputFormatter(cmd)
			for {
				var msg struct {
					Type string        `json:"type"`
					Data terminalState `json:"data"`
				}
				if err := conn.ReadJSON(&msg); err != nil {
					if cmd.Context().Err() != nil {
						return nil
					}
					return fmt.Errorf("state stream closed: %w", err)
				}
				st := msg.Data
				if err := out.Print(st, func(w io.Writer) {
					fmt.Fprintf(w, "--- %s\n", st.UpdatedAt.Local().Format("15:04:05"))
					renderState(w, st)
				}); err != nil {
					return err
				}
			}
		},
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
