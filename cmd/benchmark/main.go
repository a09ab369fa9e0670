// Benchmark tool for evaluating fraudflow predictions.
//
// Usage:
//
//	go run ./cmd/benchmark -csv /tmp/predicted.csv [-url http://localhost:8080]
//
// This tool:
//  1. Reads a predicted.csv written by the score stage
//  2. Compares FraudPrediction with the Class label of every row
//  3. Calculates precision, recall, F1-score and the confusion matrix
//  4. With -url, fetches each row from GET /transactions/{key} and checks the
//     loaded prediction matches the staged one
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/fraudflow/internal/dataset"
	"github.com/opensource-finance/fraudflow/internal/domain"
	"github.com/opensource-finance/fraudflow/internal/model"
)

// LoadCheck tracks the comparison of staged and loaded predictions.
type LoadCheck struct {
	Checked    int64
	Matched    int64
	Mismatched int64
	Missing    int64
	Errors     int64

	ProcessingTimeMs int64
}

func main() {
	csvPath := flag.String("csv", "", "Path to predicted.csv")
	baseURL := flag.String("url", "", "fraudflow base URL; empty skips the load check")
	limit := flag.Int("limit", 0, "Maximum rows to check over HTTP (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	verbose := flag.Bool("verbose", false, "Print each mismatched row")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: benchmark -csv /path/to/predicted.csv [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║        FRAUDFLOW BENCHMARK - Credit Card Fraud Scoring        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nCSV File:    %s\n", *csvPath)
	if *baseURL != "" {
		fmt.Printf("API URL:     %s\n", *baseURL)
		fmt.Printf("Workers:     %d\n", *workers)
		fmt.Printf("Limit:       %d\n", *limit)
	}
	fmt.Println()

	rows, err := readScored(*csvPath)
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(domain.ExitCode(err))
	}
	fmt.Printf("✓ Loaded %d scored rows\n", len(rows))

	yTrue := make([]int, len(rows))
	yPred := make([]int, len(rows))
	for i, r := range rows {
		yTrue[i] = r.Class
		yPred[i] = r.FraudPrediction
	}
	printResults(model.NewConfusion(yTrue, yPred))

	if *baseURL == "" {
		return
	}

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: fraudflow not reachable at %s: %v\n", *baseURL, err)
		os.Exit(1)
	}
	fmt.Println("✓ fraudflow is healthy")

	if *limit > 0 && *limit < len(rows) {
		rows = rows[:*limit]
	}

	start := time.Now()
	check := checkLoaded(*baseURL, rows, *workers, *verbose)
	printLoadCheck(check, time.Since(start))

	if check.Mismatched > 0 || check.Missing > 0 {
		os.Exit(1)
	}
}

func readScored(path string) ([]domain.ScoredTransaction, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSourceNotFound, err)
	}
	defer f.Close()

	r, err := dataset.NewReader(f)
	if err != nil {
		return nil, err
	}
	layout, err := dataset.NewScoredLayout(r.Header)
	if err != nil {
		return nil, err
	}

	var rows []domain.ScoredTransaction
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		s, err := layout.Parse(rec)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", r.Line(), err)
		}
		rows = append(rows, s)
	}
	return rows, nil
}

func checkHealth(baseURL string) error {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned %d", resp.StatusCode)
	}
	return nil
}

func checkLoaded(baseURL string, rows []domain.ScoredTransaction, workers int, verbose bool) *LoadCheck {
	if workers < 1 {
		workers = 1
	}
	m := &LoadCheck{}
	client := &http.Client{Timeout: 10 * time.Second}

	jobs := make(chan domain.ScoredTransaction, workers*2)
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for row := range jobs {
				start := time.Now()
				got, status, err := fetchTransaction(client, baseURL, row.Key)
				atomic.AddInt64(&m.ProcessingTimeMs, time.Since(start).Milliseconds())
				atomic.AddInt64(&m.Checked, 1)

				switch {
				case err != nil:
					atomic.AddInt64(&m.Errors, 1)
				case status == http.StatusNotFound:
					atomic.AddInt64(&m.Missing, 1)
					if verbose {
						fmt.Printf("   missing  %s\n", row.Key)
					}
				case got.FraudPrediction != row.FraudPrediction:
					atomic.AddInt64(&m.Mismatched, 1)
					if verbose {
						fmt.Printf("   mismatch %s staged=%d loaded=%d\n", row.Key, row.FraudPrediction, got.FraudPrediction)
					}
				default:
					atomic.AddInt64(&m.Matched, 1)
				}

				if n := atomic.LoadInt64(&m.Checked); n%1000 == 0 {
					fmt.Printf("   Checked %d/%d rows...\n", n, len(rows))
				}
			}
		}()
	}

	for _, row := range rows {
		jobs <- row
	}
	close(jobs)
	wg.Wait()

	return m
}

func fetchTransaction(client *http.Client, baseURL, key string) (*domain.ScoredTransaction, int, error) {
	resp, err := client.Get(baseURL + "/transactions/" + url.PathEscape(key))
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, resp.StatusCode, nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, resp.StatusCode, fmt.Errorf("status %d: %s", resp.StatusCode, string(body))
	}

	var tx domain.ScoredTransaction
	if err := json.NewDecoder(resp.Body).Decode(&tx); err != nil {
		return nil, resp.StatusCode, err
	}
	return &tx, resp.StatusCode, nil
}

func printResults(c model.Confusion) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      BENCHMARK RESULTS                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n📊 DATASET STATISTICS\n")
	fmt.Printf("   Total Rows:       %d\n", c.Total())
	fmt.Printf("   Total Fraud:      %d\n", c.TP+c.FN)
	fmt.Printf("   Total Non-Fraud:  %d\n", c.TN+c.FP)

	fmt.Printf("\n📈 CONFUSION MATRIX\n")
	fmt.Println("                        Predicted")
	fmt.Println("                   FRAUD     LEGIT")
	fmt.Println("              ┌──────────┬──────────┐")
	fmt.Printf("   Actual  F  │ %8d │ %8d │  (TP, FN)\n", c.TP, c.FN)
	fmt.Println("              ├──────────┼──────────┤")
	fmt.Printf("          NF  │ %8d │ %8d │  (FP, TN)\n", c.FP, c.TN)
	fmt.Println("              └──────────┴──────────┘")

	precision, recall, f1 := c.PrecisionRecallF1()

	fmt.Printf("\n🎯 DETECTION METRICS\n")
	fmt.Printf("   Precision:  %.4f  (of flagged rows, how many were actual fraud)\n", precision)
	fmt.Printf("   Recall:     %.4f  (of fraud, how many did we catch)\n", recall)
	fmt.Printf("   F1-Score:   %.4f  (harmonic mean of precision & recall)\n", f1)
	fmt.Printf("   Accuracy:   %.4f  (overall correct predictions)\n", c.Accuracy())

	// Predictions cover training rows too, so these run optimistic next to
	// the holdout metrics recorded on the run.
	fmt.Printf("\n💡 INTERPRETATION\n")
	if recall >= 0.9 {
		fmt.Println("   ✅ Excellent recall - catching most fraud")
	} else if recall >= 0.7 {
		fmt.Println("   ⚠️  Good recall - but missing some fraud")
	} else if recall >= 0.5 {
		fmt.Println("   ⚠️  Moderate recall - significant fraud being missed")
	} else {
		fmt.Println("   ❌ Poor recall - most fraud is being missed!")
	}

	if precision >= 0.5 {
		fmt.Println("   ✅ Good precision - flags are meaningful")
	} else if precision >= 0.2 {
		fmt.Println("   ⚠️  Low precision - many false alarms")
	} else {
		fmt.Println("   ❌ Very low precision - mostly false alarms")
	}

	fmt.Println()
}

func printLoadCheck(m *LoadCheck, duration time.Duration) {
	fmt.Printf("\n🗄️  LOAD CHECK\n")
	fmt.Printf("   Checked:          %d\n", m.Checked)
	fmt.Printf("   Matched:          %d\n", m.Matched)
	fmt.Printf("   Mismatched:       %d\n", m.Mismatched)
	fmt.Printf("   Missing:          %d\n", m.Missing)
	fmt.Printf("   Errors:           %d\n", m.Errors)

	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.Checked > 0 {
		avgMs := float64(m.ProcessingTimeMs) / float64(m.Checked)
		rps := float64(m.Checked) / duration.Seconds()
		fmt.Printf("   Avg Latency:      %.2f ms\n", avgMs)
		fmt.Printf("   Throughput:       %.2f rows/sec\n", rps)
	}
	fmt.Println()
}
