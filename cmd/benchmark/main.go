// Benchmark tool for testing FraudShield against labeled checkout sessions.
//
// Usage:
//   go run cmd/benchmark/main.go -csv /path/to/sessions.csv -url http://localhost:8080
//
// This tool:
//   1. Reads labeled checkout session data (with fraud labels), or
//      synthesizes a mixed workload when no CSV is given
//   2. Sends each session to FraudShield for evaluation
//   3. Compares FraudShield's verdict (isFraud) with the actual labels
//   4. Calculates precision, recall, F1-score and latency percentiles
package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// LabeledSession represents one checkout session with its fraud label.
type LabeledSession struct {
	SessionID  string
	VisitorID  string
	Confidence float64
	Incognito  bool
	IsFraud    bool
}

// EvaluateRequest is the FraudShield API request format.
type EvaluateRequest struct {
	SessionID       string          `json:"sessionId"`
	MerchantID      string          `json:"merchantId"`
	FingerprintData FingerprintData `json:"fingerprintData"`
}

// FingerprintData is the device signal bundle.
type FingerprintData struct {
	VisitorID  string  `json:"visitorId"`
	Confidence float64 `json:"confidence"`
	Incognito  bool    `json:"incognito"`
}

// EvaluateResponse is the FraudShield API response format.
type EvaluateResponse struct {
	RiskScore       int    `json:"riskScore"`
	IsFraud         bool   `json:"isFraud"`
	EvaluationID    string `json:"evaluationId"`
	RequiresCaptcha bool   `json:"requiresCaptcha"`
}

// Metrics tracks benchmark results.
type Metrics struct {
	TruePositives  int64 // Fraud flagged as fraud
	FalsePositives int64 // Non-fraud flagged as fraud
	TrueNegatives  int64 // Non-fraud passed
	FalseNegatives int64 // Fraud passed (missed fraud!)

	TotalProcessed int64
	TotalFraud     int64
	TotalNonFraud  int64
	TotalErrors    int64

	mu        sync.Mutex
	latencies []time.Duration
}

func (m *Metrics) observe(d time.Duration) {
	m.mu.Lock()
	m.latencies = append(m.latencies, d)
	m.mu.Unlock()
}

func (m *Metrics) percentile(p float64) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.latencies) == 0 {
		return 0
	}
	sorted := make([]time.Duration, len(m.latencies))
	copy(sorted, m.latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(p * float64(len(sorted)-1))
	return sorted[idx]
}

func main() {
	csvPath := flag.String("csv", "", "Path to labeled session CSV file (synthetic workload when empty)")
	baseURL := flag.String("url", "http://localhost:8080", "FraudShield base URL")
	merchantID := flag.String("merchant", "benchmark-test", "Merchant ID for requests")
	limit := flag.Int("limit", 10000, "Maximum sessions to process (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	fraudRate := flag.Float64("fraud-rate", 0.1, "Fraud share of the synthetic workload (0.0-1.0)")
	verbose := flag.Bool("verbose", false, "Print each session result")
	flag.Parse()

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║        FRAUDSHIELD BENCHMARK - Checkout Risk Evaluation       ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nFraudShield URL:  %s\n", *baseURL)
	fmt.Printf("Merchant ID:      %s\n", *merchantID)
	fmt.Printf("Workers:          %d\n", *workers)
	fmt.Printf("Limit:            %d\n", *limit)
	fmt.Println()

	// Check FraudShield is running
	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: FraudShield not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure FraudShield is running:")
		fmt.Println("  go run cmd/fraudshield/main.go")
		os.Exit(1)
	}
	fmt.Println("✓ FraudShield is healthy")

	var sessions []LabeledSession
	var err error
	if *csvPath != "" {
		fmt.Printf("\nReading session data from %s...\n", *csvPath)
		sessions, err = readSessionCSV(*csvPath, *limit)
		if err != nil {
			fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
			os.Exit(1)
		}
	} else {
		fmt.Printf("\nSynthesizing %d sessions (fraud rate %.2f)...\n", *limit, *fraudRate)
		sessions = synthesizeSessions(*limit, *fraudRate)
	}
	fmt.Printf("✓ Loaded %d sessions\n", len(sessions))

	fraudCount := 0
	for _, s := range sessions {
		if s.IsFraud {
			fraudCount++
		}
	}
	fmt.Printf("  - Fraud:     %d (%.2f%%)\n", fraudCount, 100*float64(fraudCount)/float64(len(sessions)))
	fmt.Printf("  - Non-fraud: %d (%.2f%%)\n", len(sessions)-fraudCount, 100*float64(len(sessions)-fraudCount)/float64(len(sessions)))

	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(sessions, *baseURL, *merchantID, *workers, *verbose)
	duration := time.Since(startTime)

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

// readSessionCSV reads labeled sessions. Expected columns:
// sessionid, visitorid, confidence, incognito, isfraud.
func readSessionCSV(path string, limit int) ([]LabeledSession, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	colIndex := make(map[string]int)
	for i, col := range header {
		colIndex[strings.ToLower(col)] = i
	}

	var sessions []LabeledSession
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue // Skip malformed rows
		}

		confidence, _ := strconv.ParseFloat(record[colIndex["confidence"]], 64)

		sessions = append(sessions, LabeledSession{
			SessionID:  record[colIndex["sessionid"]],
			VisitorID:  record[colIndex["visitorid"]],
			Confidence: confidence,
			Incognito:  record[colIndex["incognito"]] == "1",
			IsFraud:    record[colIndex["isfraud"]] == "1",
		})

		if limit > 0 && len(sessions) >= limit {
			break
		}
	}

	return sessions, nil
}

// synthesizeSessions builds a mixed workload. Fraudulent sessions share a
// small visitor pool with weak fingerprints, so velocity and confidence
// signals both fire; clean sessions get unique visitors and strong
// fingerprints.
func synthesizeSessions(count int, fraudRate float64) []LabeledSession {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	sessions := make([]LabeledSession, 0, count)

	for i := 0; i < count; i++ {
		isFraud := rng.Float64() < fraudRate
		s := LabeledSession{
			SessionID: fmt.Sprintf("bench_sess_%d", i),
			IsFraud:   isFraud,
		}
		if isFraud {
			s.VisitorID = fmt.Sprintf("bench_bot_%d", rng.Intn(5))
			s.Confidence = rng.Float64() * 0.3
			s.Incognito = true
		} else {
			s.VisitorID = fmt.Sprintf("bench_visitor_%d", i)
			s.Confidence = 0.7 + rng.Float64()*0.3
		}
		sessions = append(sessions, s)
	}

	return sessions
}

func runBenchmark(sessions []LabeledSession, baseURL, merchantID string, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{}

	work := make(chan LabeledSession, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for s := range work {
				start := time.Now()
				result, err := evaluateSession(client, baseURL, merchantID, s)
				elapsed := time.Since(start)

				metrics.observe(elapsed)
				atomic.AddInt64(&metrics.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: %s -> %v\n", s.SessionID, err)
					}
					continue
				}

				if s.IsFraud {
					atomic.AddInt64(&metrics.TotalFraud, 1)
				} else {
					atomic.AddInt64(&metrics.TotalNonFraud, 1)
				}

				predicted := result.IsFraud
				actual := s.IsFraud

				if predicted && actual {
					atomic.AddInt64(&metrics.TruePositives, 1)
				} else if predicted && !actual {
					atomic.AddInt64(&metrics.FalsePositives, 1)
				} else if !predicted && !actual {
					atomic.AddInt64(&metrics.TrueNegatives, 1)
				} else { // !predicted && actual
					atomic.AddInt64(&metrics.FalseNegatives, 1)
				}

				if verbose {
					status := "✓"
					if predicted != actual {
						status = "✗"
					}
					fmt.Printf("%s %-20s | Fraud: %-5v | Score: %3d | Verdict: %-5v | Captcha: %v\n",
						status,
						s.SessionID,
						s.IsFraud,
						result.RiskScore,
						result.IsFraud,
						result.RequiresCaptcha,
					)
				}
			}
		}()
	}

	for _, s := range sessions {
		work <- s
	}
	close(work)

	wg.Wait()

	return metrics
}

func evaluateSession(client *http.Client, baseURL, merchantID string, s LabeledSession) (*EvaluateResponse, error) {
	req := EvaluateRequest{
		SessionID:  s.SessionID,
		MerchantID: merchantID,
		FingerprintData: FingerprintData{
			VisitorID:  s.VisitorID,
			Confidence: s.Confidence,
			Incognito:  s.Incognito,
		},
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/evaluate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result EvaluateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return &result, nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      BENCHMARK RESULTS                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n📊 DATASET STATISTICS\n")
	fmt.Printf("   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   Total Fraud:      %d\n", m.TotalFraud)
	fmt.Printf("   Total Non-Fraud:  %d\n", m.TotalNonFraud)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)

	fmt.Printf("\n📈 CONFUSION MATRIX\n")
	fmt.Println("                        Predicted")
	fmt.Println("                   Fraud       Clean")
	fmt.Println("              ┌──────────┬──────────┐")
	fmt.Printf("   Actual  F  │ %8d │ %8d │  (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Println("              ├──────────┼──────────┤")
	fmt.Printf("          NF  │ %8d │ %8d │  (FP, TN)\n", m.FalsePositives, m.TrueNegatives)
	fmt.Println("              └──────────┴──────────┘")

	precision := float64(0)
	if m.TruePositives+m.FalsePositives > 0 {
		precision = float64(m.TruePositives) / float64(m.TruePositives+m.FalsePositives)
	}

	recall := float64(0)
	if m.TruePositives+m.FalseNegatives > 0 {
		recall = float64(m.TruePositives) / float64(m.TruePositives+m.FalseNegatives)
	}

	f1 := float64(0)
	if precision+recall > 0 {
		f1 = 2 * (precision * recall) / (precision + recall)
	}

	accuracy := float64(0)
	total := m.TruePositives + m.TrueNegatives + m.FalsePositives + m.FalseNegatives
	if total > 0 {
		accuracy = float64(m.TruePositives+m.TrueNegatives) / float64(total)
	}

	fmt.Printf("\n🎯 DETECTION METRICS\n")
	fmt.Printf("   Precision:  %.4f  (of flagged sessions, how many were actual fraud)\n", precision)
	fmt.Printf("   Recall:     %.4f  (of fraud, how many did we catch)\n", recall)
	fmt.Printf("   F1-Score:   %.4f  (harmonic mean of precision & recall)\n", f1)
	fmt.Printf("   Accuracy:   %.4f  (overall correct predictions)\n", accuracy)

	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		tps := float64(m.TotalProcessed) / duration.Seconds()
		fmt.Printf("   Latency p50:      %v\n", m.percentile(0.50).Round(time.Microsecond))
		fmt.Printf("   Latency p95:      %v\n", m.percentile(0.95).Round(time.Microsecond))
		fmt.Printf("   Latency p99:      %v\n", m.percentile(0.99).Round(time.Microsecond))
		fmt.Printf("   Throughput:       %.2f sessions/sec\n", tps)
	}

	fmt.Println()
}
