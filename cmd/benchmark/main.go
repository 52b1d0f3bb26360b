// Benchmark tool for exercising Kestrel with synthetic ledger data.
//
// Usage:
//   go run cmd/benchmark/main.go -accounts 400 -url http://localhost:8080
//   go run cmd/benchmark/main.go -csv /path/to/ledger.csv
//
// This tool:
//   1. Generates a synthetic account population (or reads a ledger CSV)
//   2. Ingests the events through POST /events in batches
//   3. Triggers a full batch score via POST /score
//   4. Reports score distribution per archetype, risk bands and throughput
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/loader"
	"github.com/opensource-finance/kestrel/internal/report"
)

// ingestRequest matches the POST /events body.
type ingestRequest struct {
	Events []domain.Event `json:"events"`
}

// scoreResponse matches the POST /score body.
type scoreResponse struct {
	Summary report.Summary        `json:"summary"`
	Results []*domain.ScoreResult `json:"results"`
}

// metrics tracks benchmark progress.
type metrics struct {
	BatchesSent   int64
	EventsSent    int64
	IngestErrors  int64
	IngestTimeMs  int64
	ScoreDuration time.Duration
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	tenantID := flag.String("tenant", "benchmark-test", "Tenant ID for requests")
	csvPath := flag.String("csv", "", "Optional ledger CSV to ingest instead of synthetic data")
	accounts := flag.Int("accounts", 400, "Number of synthetic accounts to generate")
	seed := flag.Int64("seed", 42, "Seed for the synthetic generator")
	batchSize := flag.Int("batch", 500, "Events per ingest request")
	workers := flag.Int("workers", 10, "Number of concurrent ingest workers")
	verbose := flag.Bool("verbose", false, "Print each scored account")
	flag.Parse()

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║         KESTREL BENCHMARK - Ledger Scoring Throughput         ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nKestrel URL: %s\n", *baseURL)
	fmt.Printf("Tenant ID:   %s\n", *tenantID)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Batch Size:  %d\n", *batchSize)
	if *csvPath != "" {
		fmt.Printf("CSV File:    %s\n", *csvPath)
	} else {
		fmt.Printf("Accounts:    %d (seed %d)\n", *accounts, *seed)
	}
	fmt.Println()

	// Check Kestrel is running
	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Kestrel is running:")
		fmt.Println("  cd kestrel && go run cmd/kestrel/main.go")
		os.Exit(1)
	}
	fmt.Println("✓ Kestrel is healthy")

	// Build the event set
	var events []domain.Event
	if *csvPath != "" {
		file, err := os.Open(*csvPath)
		if err != nil {
			fmt.Printf("ERROR: Failed to open CSV: %v\n", err)
			os.Exit(1)
		}
		events, err = loader.ReadCSV(file)
		file.Close()
		if err != nil {
			fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
			os.Exit(1)
		}
	} else {
		events = loader.NewGenerator(*seed).Population(*accounts)
	}
	fmt.Printf("✓ Prepared %d events\n", len(events))

	// Ingest in batches
	fmt.Printf("\nIngesting with %d workers...\n", *workers)
	m := &metrics{}
	ingestStart := time.Now()
	runIngest(events, *baseURL, *tenantID, *batchSize, *workers, m)
	ingestDuration := time.Since(ingestStart)

	if m.IngestErrors > 0 {
		fmt.Printf("⚠ %d of %d batches failed\n", m.IngestErrors, m.BatchesSent)
	}
	fmt.Printf("✓ Ingested %d events in %v\n", m.EventsSent, ingestDuration.Round(time.Millisecond))

	// Trigger a full batch score
	fmt.Println("\nScoring the stored ledger...")
	scoreStart := time.Now()
	scored, err := scoreBatch(*baseURL, *tenantID)
	if err != nil {
		fmt.Printf("ERROR: Scoring failed: %v\n", err)
		os.Exit(1)
	}
	m.ScoreDuration = time.Since(scoreStart)
	fmt.Printf("✓ Scored %d accounts in %v\n", scored.Summary.Accounts, m.ScoreDuration.Round(time.Millisecond))

	if *verbose {
		fmt.Println()
		for i, r := range scored.Results {
			fmt.Printf("%-4d %-44s %4d %s\n", i+1, r.Account, r.Score, report.RiskBand(r.Score))
		}
	}

	printResults(m, scored, ingestDuration, *csvPath == "")
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

func runIngest(events []domain.Event, baseURL, tenantID string, batchSize, numWorkers int, m *metrics) {
	work := make(chan []domain.Event, numWorkers)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 30 * time.Second}

			for batch := range work {
				start := time.Now()
				err := ingestBatch(client, baseURL, tenantID, batch)
				atomic.AddInt64(&m.IngestTimeMs, time.Since(start).Milliseconds())
				atomic.AddInt64(&m.BatchesSent, 1)

				if err != nil {
					atomic.AddInt64(&m.IngestErrors, 1)
					continue
				}
				atomic.AddInt64(&m.EventsSent, int64(len(batch)))
			}
		}()
	}

	for start := 0; start < len(events); start += batchSize {
		end := start + batchSize
		if end > len(events) {
			end = len(events)
		}
		work <- events[start:end]
	}
	close(work)

	wg.Wait()
}

func ingestBatch(client *http.Client, baseURL, tenantID string, batch []domain.Event) error {
	body, err := json.Marshal(ingestRequest{Events: batch})
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, baseURL+"/events", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", tenantID)

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

func scoreBatch(baseURL, tenantID string) (*scoreResponse, error) {
	client := &http.Client{Timeout: 5 * time.Minute}

	req, err := http.NewRequest(http.MethodPost, baseURL+"/score", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Tenant-ID", tenantID)

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result scoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

// archetypeFor recovers the archetype of a synthetic account from its index.
// The generator cycles archetypes, so account 0x...1 is healthy, 0x...2 is
// flash-loan, and so on.
func archetypeFor(account string) string {
	archetypes := []string{
		loader.ArchetypeLiquidated, // index divisible by 4 maps to the last archetype
		loader.ArchetypeHealthy,
		loader.ArchetypeFlashLoan,
		loader.ArchetypeLeveraged,
	}

	var index int64
	if _, err := fmt.Sscanf(account, "0x%x", &index); err != nil {
		return "unknown"
	}
	return archetypes[index%4]
}

func printResults(m *metrics, scored *scoreResponse, ingestDuration time.Duration, synthetic bool) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      BENCHMARK RESULTS                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n📊 SCORE SUMMARY\n")
	fmt.Printf("   Accounts Scored:  %d\n", scored.Summary.Accounts)
	fmt.Printf("   Mean Score:       %.2f\n", scored.Summary.MeanScore)
	fmt.Printf("   Score Range:      [%d, %d]\n", scored.Summary.MinScore, scored.Summary.MaxScore)

	fmt.Printf("\n🎯 RISK BANDS\n")
	bands := []string{report.BandLow, report.BandModerate, report.BandElevated, report.BandHigh, report.BandSevere}
	for _, band := range bands {
		count := scored.Summary.Bands[band]
		bar := strings.Repeat("█", count*40/max(scored.Summary.Accounts, 1))
		fmt.Printf("   %-10s %5d  %s\n", band, count, bar)
	}

	if synthetic {
		fmt.Printf("\n🧬 SCORES BY ARCHETYPE\n")
		byArchetype := make(map[string][]int)
		for _, r := range scored.Results {
			arch := archetypeFor(r.Account)
			byArchetype[arch] = append(byArchetype[arch], r.Score)
		}

		names := make([]string, 0, len(byArchetype))
		for name := range byArchetype {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			scores := byArchetype[name]
			var total, minScore, maxScore int
			minScore, maxScore = 101, -1
			for _, s := range scores {
				total += s
				if s < minScore {
					minScore = s
				}
				if s > maxScore {
					maxScore = s
				}
			}
			mean := float64(total) / float64(len(scores))
			fmt.Printf("   %-12s n=%-5d mean=%6.2f  range=[%d, %d]\n", name, len(scores), mean, minScore, maxScore)
		}
	}

	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Ingest Duration:  %v\n", ingestDuration.Round(time.Millisecond))
	if m.EventsSent > 0 && ingestDuration > 0 {
		fmt.Printf("   Ingest Rate:      %.2f events/sec\n", float64(m.EventsSent)/ingestDuration.Seconds())
	}
	if m.BatchesSent > 0 {
		fmt.Printf("   Avg Batch Time:   %.2f ms\n", float64(m.IngestTimeMs)/float64(m.BatchesSent))
	}
	fmt.Printf("   Score Duration:   %v\n", m.ScoreDuration.Round(time.Millisecond))
	if scored.Summary.Accounts > 0 && m.ScoreDuration > 0 {
		fmt.Printf("   Score Rate:       %.2f accounts/sec\n", float64(scored.Summary.Accounts)/m.ScoreDuration.Seconds())
	}

	fmt.Println()
}
