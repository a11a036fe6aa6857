package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	sessionHeader     = "X-Session-Key"
	idempotencyHeader = "Idempotency-Key"
)

type loadMode string

const (
	modeAdd         loadMode = "add"
	modeAddCheckout loadMode = "add-checkout"
)

func parseMode(value string) (loadMode, error) {
	mode := loadMode(strings.TrimSpace(value))
	if mode != modeAdd && mode != modeAddCheckout {
		return "", fmt.Errorf("unsupported mode: %s", value)
	}
	return mode, nil
}

// config держит разобранные флаги прогона. totalSet отличает явный
// -total от значения по умолчанию: в режиме по времени лимит действует
// только когда задан явно.
type config struct {
	baseURL     string
	total       int
	totalSet    bool
	duration    time.Duration
	concurrency int
	timeout     time.Duration
	mode        loadMode
	itemsPerRun int
	identifier  string
	outputPath  string
}

func parseConfig() (config, error) {
	var (
		cfg           config
		modeValue     string
		timeoutValue  string
		durationValue string
	)

	flag.StringVar(&cfg.baseURL, "addr", "http://localhost:8080", "storefront base URL")
	flag.IntVar(&cfg.total, "total", 400, "scenario count; with -duration it only caps the run when set explicitly")
	flag.StringVar(&durationValue, "duration", "0s", "run for this long instead of a fixed count (e.g. 10m)")
	flag.IntVar(&cfg.concurrency, "concurrency", 40, "concurrent workers")
	flag.StringVar(&timeoutValue, "timeout", "5s", "per-request timeout")
	flag.StringVar(&modeValue, "mode", string(modeAddCheckout), "load mode: add | add-checkout")
	flag.IntVar(&cfg.itemsPerRun, "items", 3, "items added per scenario")
	flag.StringVar(&cfg.identifier, "identifier", "load", "checkout identifier prefix")
	flag.StringVar(&cfg.outputPath, "output", "", "write the JSON report to this file")
	flag.Parse()

	flag.CommandLine.Visit(func(f *flag.Flag) {
		if f.Name == "total" {
			cfg.totalSet = true
		}
	})

	var err error
	if cfg.timeout, err = time.ParseDuration(strings.TrimSpace(timeoutValue)); err != nil {
		return cfg, fmt.Errorf("parse timeout: %w", err)
	}
	if cfg.duration, err = time.ParseDuration(strings.TrimSpace(durationValue)); err != nil {
		return cfg, fmt.Errorf("parse duration: %w", err)
	}
	if cfg.mode, err = parseMode(modeValue); err != nil {
		return cfg, err
	}
	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")

	return cfg, cfg.validate()
}

func (c config) validate() error {
	switch {
	case c.duration < 0:
		return errors.New("duration must be >= 0")
	case c.duration == 0 && c.total <= 0:
		return errors.New("total must be > 0 when duration is not set")
	case c.duration > 0 && c.totalSet && c.total <= 0:
		return errors.New("total must be > 0 when explicitly set with duration")
	case c.concurrency <= 0:
		return errors.New("concurrency must be > 0")
	case c.timeout <= 0:
		return errors.New("timeout must be > 0")
	case c.itemsPerRun <= 0:
		return errors.New("items must be > 0")
	case strings.TrimSpace(c.identifier) == "":
		return errors.New("identifier is required")
	case c.baseURL == "":
		return errors.New("addr is required")
	}
	return nil
}

type latencySummary struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

type methodReport struct {
	Calls     int64            `json:"calls"`
	Success   int64            `json:"success"`
	Failed    int64            `json:"failed"`
	ErrorRate float64          `json:"error_rate"`
	Statuses  map[string]int64 `json:"statuses"`
	LatencyMs latencySummary   `json:"latency_ms"`
}

type report struct {
	StartedAt         time.Time               `json:"started_at"`
	DurationSeconds   float64                 `json:"duration_seconds"`
	TotalScenarios    int64                   `json:"total_scenarios"`
	SuccessScenarios  int64                   `json:"success_scenarios"`
	FailedScenarios   int64                   `json:"failed_scenarios"`
	ErrorRate         float64                 `json:"error_rate"`
	RPS               float64                 `json:"rps"`
	ScenarioLatencyMs latencySummary          `json:"scenario_latency_ms"`
	Methods           map[string]methodReport `json:"methods"`
}

type callSeries struct {
	calls     int64
	success   int64
	failed    int64
	statuses  map[string]int64
	latencies []float64
}

func (s *callSeries) observe(latency time.Duration, status int) {
	s.calls++
	if status >= 200 && status < 300 {
		s.success++
	} else {
		s.failed++
	}
	s.statuses[strconv.Itoa(status)]++
	s.latencies = append(s.latencies, float64(latency.Microseconds())/1000.0)
}

func (s *callSeries) toReport() methodReport {
	statuses := make(map[string]int64, len(s.statuses))
	for code, count := range s.statuses {
		statuses[code] = count
	}
	return methodReport{
		Calls:     s.calls,
		Success:   s.success,
		Failed:    s.failed,
		ErrorRate: ratio(s.failed, s.calls),
		Statuses:  statuses,
		LatencyMs: buildLatencySummary(s.latencies),
	}
}

type collector struct {
	mu     sync.Mutex
	series map[string]*callSeries
}

func newCollector() *collector {
	return &collector{series: make(map[string]*callSeries)}
}

func (c *collector) record(method string, latency time.Duration, status int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	series, ok := c.series[method]
	if !ok {
		series = &callSeries{statuses: make(map[string]int64)}
		c.series[method] = series
	}
	series.observe(latency, status)
}

func (c *collector) buildReport(startedAt time.Time, duration time.Duration) report {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := report{
		StartedAt:       startedAt.UTC(),
		DurationSeconds: duration.Seconds(),
		Methods:         make(map[string]methodReport, len(c.series)),
	}
	for name, series := range c.series {
		result.Methods[name] = series.toReport()
	}

	if scenario, ok := result.Methods["scenario"]; ok {
		result.TotalScenarios = scenario.Calls
		result.SuccessScenarios = scenario.Success
		result.FailedScenarios = scenario.Failed
		result.ErrorRate = scenario.ErrorRate
		result.ScenarioLatencyMs = scenario.LatencyMs
	}
	if duration > 0 {
		result.RPS = float64(result.TotalScenarios) / duration.Seconds()
	}

	return result
}

type catalogPayload struct {
	Products []struct {
		ID string `json:"id"`
	} `json:"products"`
}

// fetchProductIDs читает каталог витрины один раз перед прогоном.
func fetchProductIDs(client *http.Client, baseURL string) ([]string, error) {
	resp, err := client.Get(baseURL + "/api/catalog")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("catalog request failed with status %d", resp.StatusCode)
	}

	var payload catalogPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, err
	}
	if len(payload.Products) == 0 {
		return nil, errors.New("catalog is empty")
	}

	ids := make([]string, len(payload.Products))
	for i, product := range payload.Products {
		ids[i] = product.ID
	}
	return ids, nil
}

// scenarioRunner гоняет один сценарий покупателя: набрать товары в
// корзину и, в режиме add-checkout, оформить заказ.
type scenarioRunner struct {
	client   *http.Client
	cfg      config
	products []string
	runID    string
	col      *collector
}

func (r *scenarioRunner) run(index int) error {
	start := time.Now()
	status := http.StatusOK
	defer func() {
		r.col.record("scenario", time.Since(start), status)
	}()

	session := fmt.Sprintf("lt-%s-%d", r.runID, index)

	for i := 0; i < r.cfg.itemsPerRun; i++ {
		productID := r.products[(index+i)%len(r.products)]
		code, err := r.addItem(session, productID)
		if err != nil || code != http.StatusOK {
			status = failureStatus(code, err)
			return fmt.Errorf("add item %s: status=%d err=%v", productID, code, err)
		}
	}

	if r.cfg.mode == modeAdd {
		return nil
	}

	idemKey := fmt.Sprintf("lt-checkout-%s-%d", r.runID, index)
	identifier := fmt.Sprintf("%s-%d", r.cfg.identifier, index)
	code, err := r.checkout(session, identifier, idemKey)
	if err != nil || code != http.StatusOK {
		status = failureStatus(code, err)
		return fmt.Errorf("checkout: status=%d err=%v", code, err)
	}
	return nil
}

func (r *scenarioRunner) addItem(session, productID string) (int, error) {
	body, _ := json.Marshal(map[string]string{"product_id": productID})

	start := time.Now()
	status, err := r.post("/api/cart/items", session, "", body)
	r.col.record("AddItem", time.Since(start), status)
	return status, err
}

func (r *scenarioRunner) checkout(session, identifier, idemKey string) (int, error) {
	body, _ := json.Marshal(map[string]string{"identifier": identifier})

	start := time.Now()
	status, err := r.post("/api/checkout", session, idemKey, body)
	r.col.record("Checkout", time.Since(start), status)
	return status, err
}

func (r *scenarioRunner) post(path, session, idemKey string, body []byte) (int, error) {
	req, err := http.NewRequest(http.MethodPost, r.cfg.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(sessionHeader, session)
	if idemKey != "" {
		req.Header.Set(idempotencyHeader, idemKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.StatusCode, nil
}

func failureStatus(status int, err error) int {
	if err != nil || status == 0 {
		return http.StatusInternalServerError
	}
	return status
}

func main() {
	cfg, err := parseConfig()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "loadtest: %v\n", err)
		os.Exit(1)
	}

	client := &http.Client{Timeout: cfg.timeout}

	productIDs, err := fetchProductIDs(client, cfg.baseURL)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "loadtest: catalog fetch: %v\n", err)
		os.Exit(1)
	}

	startedAt := time.Now()
	runner := &scenarioRunner{
		client:   client,
		cfg:      cfg,
		products: productIDs,
		runID:    fmt.Sprintf("%d-%d", startedAt.UnixNano(), os.Getpid()),
		col:      newCollector(),
	}

	jobs := make(chan int, cfg.concurrency*2)
	var failures int64
	var wg sync.WaitGroup

	wg.Add(cfg.concurrency)
	for workerID := 0; workerID < cfg.concurrency; workerID++ {
		go func() {
			defer wg.Done()
			for index := range jobs {
				if runErr := runner.run(index); runErr != nil {
					atomic.AddInt64(&failures, 1)
				}
			}
		}()
	}

	dispatchJobs(jobs, cfg)
	wg.Wait()

	result := runner.col.buildReport(startedAt, time.Since(startedAt))
	if result.FailedScenarios == 0 && failures > 0 {
		result.FailedScenarios = failures
		result.ErrorRate = ratio(result.FailedScenarios, result.TotalScenarios)
	}

	printReport(result, cfg)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "loadtest: write report: %v\n", err)
			os.Exit(1)
		}
	}

	if result.FailedScenarios > 0 {
		os.Exit(1)
	}
}

// dispatchJobs кормит воркеров номерами сценариев: либо ровно total
// штук, либо пока не истечёт duration (с опциональным потолком total).
func dispatchJobs(jobs chan<- int, cfg config) {
	defer close(jobs)

	if cfg.duration <= 0 {
		for i := 0; i < cfg.total; i++ {
			jobs <- i
		}
		return
	}

	deadline := time.NewTimer(cfg.duration)
	defer deadline.Stop()

	for i := 0; ; i++ {
		if cfg.totalSet && i >= cfg.total {
			return
		}
		select {
		case <-deadline.C:
			return
		case jobs <- i:
		}
	}
}

func writeJSONReport(path string, result report) error {
	cleanPath := filepath.Clean(path)
	if cleanPath == "." || cleanPath == string(filepath.Separator) {
		return errors.New("report path must name a file")
	}
	if cleanPath == ".." || strings.HasPrefix(cleanPath, ".."+string(filepath.Separator)) {
		return fmt.Errorf("report path escapes the working directory: %s", path)
	}

	// #nosec G304 -- путь задан явным CLI-флагом для локального отчёта.
	file, err := os.Create(cleanPath)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

func printReport(result report, cfg config) {
	fmt.Println("Load test summary")
	fmt.Printf("mode=%s run=%s total=%d success=%d failed=%d error_rate=%.4f\n",
		cfg.mode, runTarget(cfg),
		result.TotalScenarios, result.SuccessScenarios, result.FailedScenarios, result.ErrorRate)
	fmt.Printf("duration=%.2fs rps=%.2f\n", result.DurationSeconds, result.RPS)

	lat := result.ScenarioLatencyMs
	fmt.Printf("scenario latency ms: min=%.2f avg=%.2f p50=%.2f p95=%.2f p99=%.2f max=%.2f\n",
		lat.Min, lat.Avg, lat.P50, lat.P95, lat.P99, lat.Max)

	names := make([]string, 0, len(result.Methods))
	for name := range result.Methods {
		if name != "scenario" {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	for _, name := range names {
		stats := result.Methods[name]
		fmt.Printf("%s: calls=%d success=%d failed=%d error_rate=%.4f p95=%.2fms\n",
			name, stats.Calls, stats.Success, stats.Failed, stats.ErrorRate, stats.LatencyMs.P95)
	}
}

func runTarget(cfg config) string {
	switch {
	case cfg.duration <= 0:
		return fmt.Sprintf("count:%d", cfg.total)
	case cfg.totalSet:
		return fmt.Sprintf("duration:%s,max-total:%d", cfg.duration, cfg.total)
	default:
		return fmt.Sprintf("duration:%s", cfg.duration)
	}
}

func buildLatencySummary(values []float64) latencySummary {
	if len(values) == 0 {
		return latencySummary{}
	}

	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	var sum float64
	for _, value := range sorted {
		sum += value
	}

	return latencySummary{
		Min: sorted[0],
		Max: sorted[len(sorted)-1],
		Avg: sum / float64(len(sorted)),
		P50: percentile(sorted, 50),
		P95: percentile(sorted, 95),
		P99: percentile(sorted, 99),
	}
}

// percentile интерполирует значение по уже отсортированному срезу.
func percentile(sorted []float64, p float64) float64 {
	switch len(sorted) {
	case 0:
		return 0
	case 1:
		return sorted[0]
	}

	rank := (p / 100.0) * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}
	weight := rank - float64(lower)
	return sorted[lower] + (sorted[upper]-sorted[lower])*weight
}

func ratio(failed, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(failed) / float64(total)
}
