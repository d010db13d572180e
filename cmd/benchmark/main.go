// Benchmark tool for replaying labeled transaction data against a ruleset.
//
// Usage:
//   go run cmd/benchmark/main.go -csv /path/to/labeled.csv -ruleset <rulesetID> -url http://localhost:8080
//
// This tool:
//   1. Reads labeled transaction data (CSV with an expected decision column)
//   2. Sends each transaction to the ruleset's execute endpoint
//   3. Compares the resolved decision with the expected label
//   4. Calculates accuracy, a decision confusion matrix, and throughput
//
// Expected CSV columns: amount, mcc, country, card_present, tags, expected
// where expected is a decision action (e.g. BLOCK, REVIEW) or NONE.
package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// LabeledTransaction represents a row from the labeled dataset
type LabeledTransaction struct {
	Amount      float64
	MCC         string
	Country     string
	CardPresent bool
	Tags        []string
	Expected    string // decision action, or "NONE" for no match
}

// ExecuteRequest is the execute endpoint request format
type ExecuteRequest struct {
	Payload map[string]any `json:"payload"`
}

// ExecuteResponse is the subset of the outcome the benchmark needs
type ExecuteResponse struct {
	Matched  bool `json:"matched"`
	Decision *struct {
		Action string `json:"action"`
	} `json:"decision"`
	EntriesEvaluated int     `json:"entriesEvaluated"`
	DurationMs       float64 `json:"durationMs"`
}

// Metrics tracks benchmark results
type Metrics struct {
	Correct   int64
	Incorrect int64

	TotalProcessed int64
	TotalErrors    int64

	ProcessingTimeMs int64

	mu        sync.Mutex
	confusion map[string]map[string]int64 // expected -> actual -> count
}

func (m *Metrics) record(expected, actual string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.confusion == nil {
		m.confusion = make(map[string]map[string]int64)
	}
	if m.confusion[expected] == nil {
		m.confusion[expected] = make(map[string]int64)
	}
	m.confusion[expected][actual]++
}

func main() {
	// Parse flags
	csvPath := flag.String("csv", "", "Path to labeled transaction CSV file")
	baseURL := flag.String("url", "http://localhost:8080", "Harrier base URL")
	rulesetID := flag.String("ruleset", "", "Ruleset ID to execute against")
	actor := flag.String("actor", "benchmark", "Actor for requests")
	limit := flag.Int("limit", 10000, "Maximum transactions to process (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	verbose := flag.Bool("verbose", false, "Print each transaction result")
	flag.Parse()

	if *csvPath == "" || *rulesetID == "" {
		fmt.Println("Usage: benchmark -csv /path/to/labeled.csv -ruleset <rulesetID> [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║          HARRIER BENCHMARK - Ruleset Decision Replay          ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nCSV File:    %s\n", *csvPath)
	fmt.Printf("Harrier URL: %s\n", *baseURL)
	fmt.Printf("Ruleset:     %s\n", *rulesetID)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Limit:       %d\n", *limit)
	fmt.Println()

	// Check Harrier is running
	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Harrier not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Harrier is running:")
		fmt.Println("  cd harrier && go run cmd/harrier/main.go")
		os.Exit(1)
	}
	fmt.Println("✓ Harrier is healthy")

	// Read labeled data
	fmt.Printf("\nReading labeled data from %s...\n", *csvPath)
	transactions, err := readLabeledCSV(*csvPath, *limit)
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✓ Loaded %d transactions\n", len(transactions))

	// Run benchmark
	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(transactions, *baseURL, *rulesetID, *actor, *workers, *verbose)
	duration := time.Since(startTime)

	// Print results
	printResults(metrics, duration)
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func readLabeledCSV(path string, limit int) ([]LabeledTransaction, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)

	// Read header
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	// Map column indices
	colIndex := make(map[string]int)
	for i, col := range header {
		colIndex[strings.ToLower(strings.TrimSpace(col))] = i
	}
	for _, required := range []string{"amount", "expected"} {
		if _, ok := colIndex[required]; !ok {
			return nil, fmt.Errorf("missing required column %q", required)
		}
	}

	field := func(record []string, name string) string {
		idx, ok := colIndex[name]
		if !ok || idx >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[idx])
	}

	var transactions []LabeledTransaction
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue // Skip malformed rows
		}

		amount, _ := strconv.ParseFloat(field(record, "amount"), 64)
		cardPresent := field(record, "card_present") == "1" || strings.EqualFold(field(record, "card_present"), "true")

		var tags []string
		if raw := field(record, "tags"); raw != "" {
			tags = strings.Split(raw, "|")
		}

		expected := strings.ToUpper(field(record, "expected"))
		if expected == "" {
			expected = "NONE"
		}

		transactions = append(transactions, LabeledTransaction{
			Amount:      amount,
			MCC:         field(record, "mcc"),
			Country:     field(record, "country"),
			CardPresent: cardPresent,
			Tags:        tags,
			Expected:    expected,
		})

		if limit > 0 && len(transactions) >= limit {
			break
		}
	}

	return transactions, nil
}

func runBenchmark(transactions []LabeledTransaction, baseURL, rulesetID, actor string, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{}
	executeURL := fmt.Sprintf("%s/rulesets/%s/execute", baseURL, rulesetID)

	// Create work channel
	work := make(chan LabeledTransaction, 100)
	var wg sync.WaitGroup

	// Start workers
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for tx := range work {
				start := time.Now()
				actual, err := executeOne(client, executeURL, actor, tx)
				atomic.AddInt64(&metrics.ProcessingTimeMs, time.Since(start).Milliseconds())
				atomic.AddInt64(&metrics.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("  ERROR amount=%.2f: %v\n", tx.Amount, err)
					}
					continue
				}

				metrics.record(tx.Expected, actual)
				if actual == tx.Expected {
					atomic.AddInt64(&metrics.Correct, 1)
				} else {
					atomic.AddInt64(&metrics.Incorrect, 1)
					if verbose {
						fmt.Printf("  MISMATCH amount=%.2f mcc=%s: expected %s, got %s\n",
							tx.Amount, tx.MCC, tx.Expected, actual)
					}
				}
			}
		}()
	}

	// Feed work
	for _, tx := range transactions {
		work <- tx
	}
	close(work)
	wg.Wait()

	return metrics
}

func executeOne(client *http.Client, url, actor string, tx LabeledTransaction) (string, error) {
	payload := map[string]any{
		"txn": map[string]any{
			"amount":    tx.Amount,
			"mcc":       tx.MCC,
			"country":   tx.Country,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		},
		"card": map[string]any{
			"present": tx.CardPresent,
		},
	}
	if len(tx.Tags) > 0 {
		payload["account"] = map[string]any{"tags": tx.Tags}
	}

	body, err := json.Marshal(ExecuteRequest{Payload: payload})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor", actor)

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var outcome ExecuteResponse
	if err := json.NewDecoder(resp.Body).Decode(&outcome); err != nil {
		return "", err
	}
	if !outcome.Matched || outcome.Decision == nil {
		return "NONE", nil
	}
	return outcome.Decision.Action, nil
}

func printResults(m *Metrics, duration time.Duration) {
	total := atomic.LoadInt64(&m.TotalProcessed)
	correct := atomic.LoadInt64(&m.Correct)
	errors := atomic.LoadInt64(&m.TotalErrors)
	scored := total - errors

	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                        RESULTS                                ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nProcessed:   %d transactions in %s\n", total, duration.Round(time.Millisecond))
	if duration > 0 {
		fmt.Printf("Throughput:  %.1f txn/sec\n", float64(total)/duration.Seconds())
	}
	if total > 0 {
		fmt.Printf("Avg latency: %.1f ms\n", float64(atomic.LoadInt64(&m.ProcessingTimeMs))/float64(total))
	}
	fmt.Printf("Errors:      %d\n", errors)

	if scored > 0 {
		fmt.Printf("\nAccuracy:    %.2f%% (%d/%d)\n", 100*float64(correct)/float64(scored), correct, scored)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.confusion) > 0 {
		fmt.Println("\nConfusion matrix (expected -> actual):")
		for expected, actuals := range m.confusion {
			for actual, count := range actuals {
				marker := " "
				if expected != actual {
					marker = "✗"
				}
				fmt.Printf("  %s %-8s -> %-8s %d\n", marker, expected, actual, count)
			}
		}
	}
	fmt.Println()
}
