package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"terminal-pointofsale/internal/core"
	"terminal-pointofsale/internal/messages"
)

// state is the subset of the terminal snapshot the scenarios check.
type state struct {
	Initialized       bool   `json:"initialized"`
	ConnectionStatus  string `json:"connection_status"`
	PaymentStatus     string `json:"payment_status"`
	DiscoveredReaders []struct {
		ID string `json:"id"`
	} `json:"discovered_readers"`
	Error string `json:"error"`
}

type runner struct {
	baseURL string
	http    *http.Client
	logger  *logrus.Entry
	passed  int
	failed  int
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "Service base URL (simulator driver)")
	amountsFile := flag.String("amounts", "", "Optional file with one yen amount per line to replay")
	flag.Parse()

	root, err := core.NewLogger(os.Stderr, "info", "text")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	r := &runner{
		baseURL: strings.TrimRight(*baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		logger:  core.ComponentLogger(root, "simulation-test"),
	}

	fmt.Println("=== Terminal Simulation Scenarios ===")

	fmt.Println("\n1. Connecting a simulated reader...")
	if !r.connect() {
		fmt.Println("\n=== Aborted: no reader ===")
		os.Exit(1)
	}

	fmt.Println("\n2. Collecting payments...")
	amounts := []int64{50, 1000, 12800}
	if *amountsFile != "" {
		if amounts, err = readAmounts(*amountsFile); err != nil {
			r.logger.Fatalf("Failed to read amounts: %v", err)
		}
	}
	for _, amount := range amounts {
		r.collect(amount, "succeeded")
	}

	fmt.Println("\n3. Declined card...")
	if _, err := r.post("/simulator/decline", nil); err != nil {
		r.fail("enable decline", err)
	} else {
		r.collect(900, "failed")
	}

	fmt.Println("\n4. Cancel while reading...")
	r.cancelWhileReading(2500)

	fmt.Println("\n5. Unexpected reader disconnect...")
	r.unexpectedDisconnect()

	fmt.Println("\n6. Daily summary...")
	r.summary()

	fmt.Printf("\n=== Simulation Complete: %d passed, %d failed ===\n", r.passed, r.failed)
	if r.failed > 0 {
		os.Exit(1)
	}
}

func (r *runner) connect() bool {
	st, err := r.post("/terminal/initialize", nil)
	if err != nil || !st.Initialized {
		r.fail("initialize", errOr(err, st.Error))
		return false
	}
	st, err = r.post("/terminal/discover?simulated=true", nil)
	if err != nil || len(st.DiscoveredReaders) == 0 {
		r.fail("discover", errOr(err, st.Error))
		return false
	}
	readerID := st.DiscoveredReaders[0].ID
	st, err = r.post("/terminal/connect", map[string]string{"reader_id": readerID})
	if err != nil || st.ConnectionStatus != "connected" {
		r.fail("connect", errOr(err, st.Error))
		return false
	}
	r.pass(fmt.Sprintf("connected to %s", readerID))
	return true
}

func (r *runner) collect(amount int64, want string) {
	name := fmt.Sprintf("collect %s", messages.FormatYen(amount))
	st, err := r.post("/terminal/collect", map[string]int64{"amount": amount})
	if err != nil || st.Error != "" {
		r.fail(name, errOr(err, st.Error))
		return
	}
	st, err = r.awaitPayment()
	if err != nil {
		r.fail(name, err)
		return
	}
	if st.PaymentStatus != want {
		r.fail(name, fmt.Errorf("got %s, want %s (%s)", st.PaymentStatus, want, st.Error))
		return
	}
	r.pass(fmt.Sprintf("%s -> %s", name, messages.PaymentMessage(st.PaymentStatus)))
}

func (r *runner) cancelWhileReading(amount int64) {
	if _, err := r.post("/terminal/collect", map[string]int64{"amount": amount}); err != nil {
		r.fail("start collect", err)
		return
	}
	if _, err := r.waitFor(func(st state) bool { return st.PaymentStatus == "reading" }); err != nil {
		r.fail("reach reading", err)
		return
	}
	if _, err := r.post("/terminal/cancel", nil); err != nil {
		r.fail("cancel", err)
		return
	}
	st, err := r.awaitPayment()
	if err != nil || st.PaymentStatus != "canceled" {
		r.fail("cancel while reading", errOr(err, "got "+st.PaymentStatus))
		return
	}
	r.pass("cancel while reading -> canceled")
}

func (r *runner) unexpectedDisconnect() {
	if _, err := r.post("/simulator/disconnect", nil); err != nil {
		r.fail("simulate disconnect", err)
		return
	}
	st, err := r.waitFor(func(st state) bool { return st.ConnectionStatus == "not_connected" })
	if err != nil {
		r.fail("disconnect", err)
		return
	}
	if st.Error != messages.UnexpectedDisconnect {
		r.fail("disconnect message", fmt.Errorf("got %q", st.Error))
		return
	}
	r.pass("unexpected disconnect -> " + st.Error)
}

func (r *runner) summary() {
	var metrics struct {
		Today struct {
			TotalAmount int64   `json:"total_amount"`
			Processed   int     `json:"processed"`
			SuccessRate float64 `json:"success_rate"`
		} `json:"today"`
	}
	if err := r.request(http.MethodGet, "/metrics", nil, &metrics); err != nil {
		r.fail("metrics", err)
		return
	}
	t := metrics.Today
	r.pass(fmt.Sprintf("本日の取引 %s / 処理件数 %s / 成功率 %s",
		messages.FormatYen(t.TotalAmount), messages.FormatCount(t.Processed), messages.FormatRate(t.SuccessRate, t.Processed)))
}

func (r *runner) awaitPayment() (state, error) {
	return r.waitFor(func(st state) bool {
		switch st.PaymentStatus {
		case "succeeded", "failed", "canceled":
			return true
		}
		return false
	})
}

func (r *runner) waitFor(cond func(state) bool) (state, error) {
	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		var st state
		if err := r.request(http.MethodGet, "/terminal/state", nil, &st); err != nil {
			return st, err
		}
		if cond(st) {
			return st, nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return state{}, fmt.Errorf("timed out")
}

func (r *runner) post(path string, body interface{}) (state, error) {
	var st state
	err := r.request(http.MethodPost, path, body, &st)
	return st, err
}

// request retries transport failures with backoff; HTTP answers are final.
func (r *runner) request(method, path string, body interface{}, out interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return err
		}
	}

	backoff := 200 * time.Millisecond
	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		req, err := http.NewRequestWithContext(context.Background(), method, r.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := r.http.Do(req)
		if err != nil {
			lastErr = err
			r.logger.Warningf("%s %s failed (attempt %d): %v", method, path, attempt, err)
			time.Sleep(backoff)
			backoff *= 2
			continue
		}
		data, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return err
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("%s %s: HTTP %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(data)))
		}
		return json.Unmarshal(data, out)
	}
	return lastErr
}

func (r *runner) pass(what string) {
	r.passed++
	fmt.Printf("  ✓ %s\n", what)
}

func (r *runner) fail(what string, err error) {
	r.failed++
	fmt.Printf("  ✗ %s: %v\n", what, err)
}

func errOr(err error, msg string) error {
	if err != nil {
		return err
	}
	return fmt.Errorf("%s", msg)
}

func readAmounts(path string) ([]int64, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = file.Close() }()

	var amounts []int64
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		var amount int64
		if _, err := fmt.Sscan(line, &amount); err != nil || amount < messages.MinimumAmountYen {
			return nil, fmt.Errorf("invalid amount %q", line)
		}
		amounts = append(amounts, amount)
	}
	return amounts, scanner.Err()
}
