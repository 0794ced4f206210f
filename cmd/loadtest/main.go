package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const (
	idempotencyHeader = "Idempotency-Key"
	staffHeader       = "X-Staff-ID"
)

type loadMode string

const (
	modeCreate            loadMode = "create"
	modeCreatePay         loadMode = "create-pay"
	modeCreatePayComplete loadMode = "create-pay-complete"
)

type config struct {
	baseURL     string
	total       int
	totalSet    bool
	duration    time.Duration
	concurrency int
	timeout     time.Duration
	mode        loadMode
	cancelRate  int
	productID   int64
	sizeID      int64
	quantity    int
	staffID     string
	outputPath  string
}

func parseConfig(args []string) (config, error) {
	var (
		cfg       config
		modeValue string
	)

	fs := flag.NewFlagSet("loadtest", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&cfg.baseURL, "url", "http://localhost:8080/api/v1", "HTTP API base URL")
	fs.IntVar(&cfg.total, "total", 400, "total scenarios to execute in count mode; in duration mode only used when explicitly set")
	fs.DurationVar(&cfg.duration, "duration", 0, "optional time-based run duration (e.g. 10m, 15m)")
	fs.IntVar(&cfg.concurrency, "concurrency", 40, "number of concurrent workers")
	fs.DurationVar(&cfg.timeout, "timeout", 5*time.Second, "per-request timeout")
	fs.StringVar(&modeValue, "mode", string(modeCreate), "load mode: create | create-pay | create-pay-complete")
	fs.IntVar(&cfg.cancelRate, "cancel-rate", 0, "percent of paid orders canceled instead of completed (0..100)")
	fs.Int64Var(&cfg.productID, "product-id", 1, "catalog product id")
	fs.Int64Var(&cfg.sizeID, "size-id", 0, "product size id (0 = base price)")
	fs.IntVar(&cfg.quantity, "quantity", 1, "line quantity")
	fs.StringVar(&cfg.staffID, "staff-id", "loadtest", "value of X-Staff-ID header")
	fs.StringVar(&cfg.outputPath, "output", "", "optional JSON report output file path")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	fs.Visit(func(f *flag.Flag) {
		if f.Name == "total" {
			cfg.totalSet = true
		}
	})

	mode, err := parseMode(modeValue)
	if err != nil {
		return cfg, err
	}
	cfg.mode = mode
	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")

	switch {
	case cfg.baseURL == "":
		return cfg, errors.New("url is required")
	case cfg.duration < 0:
		return cfg, errors.New("duration must be >= 0")
	case cfg.duration == 0 && cfg.total <= 0:
		return cfg, errors.New("total must be > 0 when duration is not set")
	case cfg.duration > 0 && cfg.totalSet && cfg.total <= 0:
		return cfg, errors.New("total must be > 0 when explicitly set with duration")
	case cfg.concurrency <= 0:
		return cfg, errors.New("concurrency must be > 0")
	case cfg.timeout <= 0:
		return cfg, errors.New("timeout must be > 0")
	case cfg.quantity <= 0:
		return cfg, errors.New("quantity must be > 0")
	case cfg.productID <= 0:
		return cfg, errors.New("product-id must be > 0")
	case cfg.cancelRate < 0 || cfg.cancelRate > 100:
		return cfg, errors.New("cancel-rate must be between 0 and 100")
	}

	return cfg, nil
}

func parseMode(value string) (loadMode, error) {
	switch mode := loadMode(strings.TrimSpace(value)); mode {
	case modeCreate, modeCreatePay, modeCreatePayComplete:
		return mode, nil
	default:
		return "", fmt.Errorf("unsupported mode: %s", value)
	}
}

func main() {
	cfg, err := parseConfig(os.Args[1:])
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	result := runLoad(context.Background(), cfg, newHTTPClient(cfg))

	printReport(os.Stdout, result, cfg)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to write report: %v\n", err)
			os.Exit(1)
		}
	}

	if result.FailedScenarios > 0 {
		os.Exit(1)
	}
}

func newHTTPClient(cfg config) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = cfg.concurrency
	return &http.Client{Transport: transport, Timeout: cfg.timeout}
}

func runLoad(ctx context.Context, cfg config, client *http.Client) report {
	startedAt := time.Now()
	runID := uuid.NewString()
	col := newCollector()

	jobs := make(chan int, cfg.concurrency*2)
	var (
		failures int64
		wg       sync.WaitGroup
	)
	for range cfg.concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				if err := runScenario(ctx, client, cfg, id, runID, col); err != nil {
					atomic.AddInt64(&failures, 1)
				}
			}
		}()
	}

	dispatchJobs(jobs, cfg)
	wg.Wait()

	result := col.buildReport(startedAt, time.Since(startedAt))
	if result.FailedScenarios == 0 && failures > 0 {
		result.FailedScenarios = failures
		result.ErrorRate = ratio(result.FailedScenarios, result.TotalScenarios)
	}
	return result
}

func dispatchJobs(jobs chan<- int, cfg config) {
	defer close(jobs)

	if cfg.duration <= 0 {
		for i := range cfg.total {
			jobs <- i
		}
		return
	}

	timer := time.NewTimer(cfg.duration)
	defer timer.Stop()

	for i := 0; ; i++ {
		if cfg.totalSet && i >= cfg.total {
			return
		}
		select {
		case <-timer.C:
			return
		case jobs <- i:
		}
	}
}

type orderSnapshot struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	FinalPrice int64  `json:"final_price"`
}

// runScenario проводит заказ по выбранному сценарию: создание, оплата наличными, выдача или отмена.
func runScenario(ctx context.Context, client *http.Client, cfg config, index int, runID string, col *collector) error {
	scenarioStart := time.Now()
	scenarioCode := http.StatusOK
	defer func() {
		col.record(scenarioMethod, time.Since(scenarioStart), scenarioCode)
	}()

	line := map[string]any{"product_id": cfg.productID, "quantity": cfg.quantity}
	if cfg.sizeID > 0 {
		line["size_id"] = cfg.sizeID
	}

	var order orderSnapshot
	code, err := call(ctx, client, cfg, col, "CreateOrder", http.MethodPost, "/orders",
		fmt.Sprintf("lt-create-%s-%d", runID, index),
		map[string]any{"lines": []any{line}, "note": "loadtest"},
		&order,
	)
	if err != nil {
		scenarioCode = code
		return err
	}
	if order.ID == "" {
		scenarioCode = http.StatusInternalServerError
		return errors.New("create response returned empty order id")
	}
	if cfg.mode == modeCreate {
		return nil
	}

	code, err = call(ctx, client, cfg, col, "PayCash", http.MethodPost, "/orders/"+order.ID+"/pay/cash",
		fmt.Sprintf("lt-pay-%s-%d", runID, index),
		map[string]any{"amount": order.FinalPrice},
		nil,
	)
	if err != nil {
		scenarioCode = code
		return err
	}
	if cfg.mode == modeCreatePay {
		return nil
	}

	target := "COMPLETED"
	if shouldCancelScenario(index, cfg.cancelRate) {
		target = "CANCELED"
	}
	code, err = call(ctx, client, cfg, col, "UpdateStatus", http.MethodPatch, "/orders/"+order.ID+"/status",
		fmt.Sprintf("lt-status-%s-%d", runID, index),
		map[string]any{"status": target},
		nil,
	)
	if err != nil {
		scenarioCode = code
		return err
	}
	return nil
}

// call выполняет один запрос и записывает его в collector. При ошибке возвращается HTTP-код или 0.
func call(
	ctx context.Context,
	client *http.Client,
	cfg config,
	col *collector,
	method, httpMethod, path, key string,
	body any,
	out any,
) (int, error) {
	start := time.Now()
	code, err := doJSON(ctx, client, cfg, httpMethod, path, key, body, out)
	col.record(method, time.Since(start), code)
	return code, err
}

func doJSON(ctx context.Context, client *http.Client, cfg config, method, path, key string, body, out any) (int, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, cfg.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(idempotencyHeader, key)
	req.Header.Set(staffHeader, cfg.staffID)

	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func shouldCancelScenario(index, cancelRate int) bool {
	if cancelRate <= 0 {
		return false
	}
	if cancelRate >= 100 {
		return true
	}
	return index%100 < cancelRate
}
