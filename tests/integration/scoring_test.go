//go:build integration
// +build integration

// Package integration provides end-to-end tests for the Kestrel scoring engine.
//
// These tests verify the COMPLETE scoring pipeline:
//
//	Events → Aggregation → Features → Population Stats → Score → Bands
//
// Run with: go test -tags=integration -v ./tests/integration/...
//
// UNDERSTANDING THE DOMAIN:
//
// 1. EVENT: One immutable ledger action (deposit, borrow, repay, withdraw,
//    liquidation) for an account.
//
// 2. FEATURE VECTOR: Derived behavioral measurements for an account with at
//    least 5 events (repayment ratio, leverage, flash-loan likeness, ...).
//
// 3. POPULATION STATS: Batch-wide min/max per feature. Scores are relative to
//    the scored batch, so the whole ledger is scored together.
//
// 4. SCORE: Bounded integer in [0,100]; higher is healthier. Each score
//    carries a named behavior breakdown with sub-scores in [-1,1].
//
// 5. FLAG: An advisory annotation from an analyst-defined CEL rule. Flags
//    explain scores but never change them.
//
// These tests expect a running server with an empty ledger for the test
// tenant. Start one with: go run cmd/kestrel/main.go
package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"testing"
	"time"
)

// TestConfig holds test environment configuration
type TestConfig struct {
	BaseURL  string
	TenantID string
}

func getTestConfig() TestConfig {
	baseURL := os.Getenv("KESTREL_TEST_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return TestConfig{
		BaseURL: baseURL,
		// Unique tenant per run keeps the ledger isolated between runs.
		TenantID: fmt.Sprintf("itest-%d", time.Now().UnixNano()),
	}
}

// ============================================================================
// API Request/Response Types (matching Kestrel's API contract)
// ============================================================================

type Event struct {
	Account   string    `json:"account"`
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	Asset     string    `json:"asset"`
	Amount    float64   `json:"amount"`
}

type IngestRequest struct {
	Events []Event `json:"events"`
}

type IngestResponse struct {
	Ingested int    `json:"ingested"`
	TraceID  string `json:"traceId"`
}

type ScoreResult struct {
	Account        string             `json:"account"`
	Score          int                `json:"score"`
	BehaviorScores map[string]float64 `json:"behaviorScores"`
	Flags          []FlagResult       `json:"flags"`
}

type FlagResult struct {
	RuleID   string `json:"ruleId"`
	Name     string `json:"name"`
	Severity string `json:"severity"`
}

type Summary struct {
	Accounts  int            `json:"accounts"`
	MeanScore float64        `json:"meanScore"`
	MinScore  int            `json:"minScore"`
	MaxScore  int            `json:"maxScore"`
	Bands     map[string]int `json:"bands"`
}

type ScoreResponse struct {
	Summary Summary        `json:"summary"`
	Results []*ScoreResult `json:"results"`
}

// ============================================================================
// Test Helper Functions
// ============================================================================

func doRequest(t *testing.T, config TestConfig, method, path string, body any, out any) int {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("Failed to marshal request: %v", err)
		}
	}

	httpReq, err := http.NewRequest(method, config.BaseURL+path, &buf)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Tenant-ID", config.TenantID)

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(httpReq)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response: %v", err)
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			t.Fatalf("Failed to unmarshal response: %v (body: %s)", err, string(respBody))
		}
	}

	return resp.StatusCode
}

// seedLedger ingests a small two-account population: one steady account that
// deposits and repays, one that borrows heavily and gets liquidated.
func seedLedger(t *testing.T, config TestConfig) (steady, distressed string) {
	t.Helper()

	steady = "0xsteady-" + config.TenantID
	distressed = "0xdistressed-" + config.TenantID
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	events := []Event{
		{Account: steady, Timestamp: base, Action: "deposit", Asset: "USDC", Amount: 10000},
		{Account: steady, Timestamp: base.AddDate(0, 0, 7), Action: "deposit", Asset: "WETH", Amount: 2000},
		{Account: steady, Timestamp: base.AddDate(0, 0, 14), Action: "deposit", Asset: "DAI", Amount: 1500},
		{Account: steady, Timestamp: base.AddDate(0, 0, 20), Action: "borrow", Asset: "USDC", Amount: 3000},
		{Account: steady, Timestamp: base.AddDate(0, 0, 45), Action: "repay", Asset: "USDC", Amount: 3000},
		{Account: steady, Timestamp: base.AddDate(0, 0, 60), Action: "deposit", Asset: "WBTC", Amount: 500},

		{Account: distressed, Timestamp: base, Action: "deposit", Asset: "USDC", Amount: 5000},
		{Account: distressed, Timestamp: base.AddDate(0, 0, 1), Action: "borrow", Asset: "USDC", Amount: 4500},
		{Account: distressed, Timestamp: base.AddDate(0, 0, 3), Action: "liquidation", Asset: "USDC", Amount: 1000},
		{Account: distressed, Timestamp: base.AddDate(0, 0, 5), Action: "liquidation", Asset: "USDC", Amount: 1000},
		{Account: distressed, Timestamp: base.AddDate(0, 0, 9), Action: "liquidation", Asset: "USDC", Amount: 1000},
	}

	var resp IngestResponse
	status := doRequest(t, config, http.MethodPost, "/events", IngestRequest{Events: events}, &resp)
	if status != http.StatusAccepted {
		t.Fatalf("Expected status 202 for ingest, got %d", status)
	}
	if resp.Ingested != len(events) {
		t.Fatalf("Expected %d events ingested, got %d", len(events), resp.Ingested)
	}

	return steady, distressed
}

// ============================================================================
// SCENARIO 1: Full Batch Scoring
// ============================================================================

func TestBatchScoring(t *testing.T) {
	/*
	   SCENARIO: Two accounts with opposite behavior are ingested and the
	   whole ledger is scored in one batch.

	   EXPECTED BEHAVIOR:
	   - Both accounts have >= 5 events, so both qualify for scoring
	   - Every score is within [0,100]
	   - Every result carries the full 10-behavior breakdown in [-1,1]
	   - The summary counts both accounts and assigns each a risk band
	*/
	config := getTestConfig()
	seedLedger(t, config)

	var scored ScoreResponse
	status := doRequest(t, config, http.MethodPost, "/score", nil, &scored)
	if status != http.StatusOK {
		t.Fatalf("Expected status 200 for score, got %d", status)
	}

	if scored.Summary.Accounts != 2 {
		t.Fatalf("Expected 2 scored accounts, got %d", scored.Summary.Accounts)
	}

	for _, result := range scored.Results {
		if result.Score < 0 || result.Score > 100 {
			t.Errorf("Score out of bounds for %s: %d", result.Account, result.Score)
		}
		if len(result.BehaviorScores) != 10 {
			t.Errorf("Expected 10 behavior scores for %s, got %d", result.Account, len(result.BehaviorScores))
		}
		for name, sub := range result.BehaviorScores {
			if sub < -1 || sub > 1 {
				t.Errorf("Behavior %s out of [-1,1] for %s: %f", name, result.Account, sub)
			}
		}
	}

	bandTotal := 0
	for _, count := range scored.Summary.Bands {
		bandTotal += count
	}
	if bandTotal != scored.Summary.Accounts {
		t.Errorf("Band counts (%d) do not cover all accounts (%d)", bandTotal, scored.Summary.Accounts)
	}
}

// ============================================================================
// SCENARIO 2: Below Minimum Activity
// ============================================================================

func TestSparseAccountNotScored(t *testing.T) {
	/*
	   SCENARIO: An account with fewer than 5 events is ingested alongside
	   the scored population.

	   EXPECTED BEHAVIOR:
	   - The sparse account is stored but excluded from scoring
	   - GET /scores/{account} returns 404 for it
	*/
	config := getTestConfig()
	seedLedger(t, config)

	sparse := "0xsparse-" + config.TenantID
	status := doRequest(t, config, http.MethodPost, "/events", IngestRequest{
		Events: []Event{
			{Account: sparse, Timestamp: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), Action: "deposit", Asset: "USDC", Amount: 100},
			{Account: sparse, Timestamp: time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC), Action: "withdraw", Asset: "USDC", Amount: 50},
		},
	}, nil)
	if status != http.StatusAccepted {
		t.Fatalf("Expected status 202, got %d", status)
	}

	var scored ScoreResponse
	doRequest(t, config, http.MethodPost, "/score", nil, &scored)
	for _, result := range scored.Results {
		if result.Account == sparse {
			t.Errorf("Sparse account should not have been scored")
		}
	}

	status = doRequest(t, config, http.MethodGet, "/scores/"+sparse, nil, nil)
	if status != http.StatusNotFound {
		t.Errorf("Expected status 404 for sparse account, got %d", status)
	}
}

// ============================================================================
// SCENARIO 3: Score Retrieval After Batch
// ============================================================================

func TestScoreRetrieval(t *testing.T) {
	/*
	   SCENARIO: After a batch run, individual and listed scores are
	   retrievable and agree with the batch response.
	*/
	config := getTestConfig()
	steady, _ := seedLedger(t, config)

	var scored ScoreResponse
	doRequest(t, config, http.MethodPost, "/score", nil, &scored)

	var batchScore int
	for _, result := range scored.Results {
		if result.Account == steady {
			batchScore = result.Score
		}
	}

	var single ScoreResult
	status := doRequest(t, config, http.MethodGet, "/scores/"+steady, nil, &single)
	if status != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", status)
	}
	if single.Score != batchScore {
		t.Errorf("Retrieved score %d does not match batch score %d", single.Score, batchScore)
	}

	var listed ScoreResponse
	status = doRequest(t, config, http.MethodGet, "/scores", nil, &listed)
	if status != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", status)
	}
	if listed.Summary.Accounts != scored.Summary.Accounts {
		t.Errorf("Listed %d accounts, batch scored %d", listed.Summary.Accounts, scored.Summary.Accounts)
	}
}

// ============================================================================
// SCENARIO 4: Flag Rules Annotate Scores
// ============================================================================

func TestFlagRuleAnnotation(t *testing.T) {
	/*
	   SCENARIO: An analyst creates a CEL flag rule for liquidation activity,
	   reloads the engine and rescores the ledger.

	   EXPECTED BEHAVIOR:
	   - The distressed account (3 liquidations in 11 events) matches the rule
	   - The steady account (no liquidations) does not
	   - Flags never move the numeric score; they only annotate it
	*/
	config := getTestConfig()
	steady, distressed := seedLedger(t, config)

	ruleID := "itest-liquidated-" + config.TenantID
	status := doRequest(t, config, http.MethodPost, "/flags", map[string]any{
		"id":         ruleID,
		"name":       "Recently Liquidated",
		"expression": "liquidation_ratio > 0.1",
		"severity":   "critical",
		"enabled":    true,
	}, nil)
	if status != http.StatusCreated {
		t.Fatalf("Expected status 201 for flag create, got %d", status)
	}

	status = doRequest(t, config, http.MethodPost, "/flags/reload", nil, nil)
	if status != http.StatusOK {
		t.Fatalf("Expected status 200 for reload, got %d", status)
	}
	defer doRequest(t, config, http.MethodDelete, "/flags/"+ruleID, nil, nil)

	var scored ScoreResponse
	doRequest(t, config, http.MethodPost, "/score", nil, &scored)

	for _, result := range scored.Results {
		flagged := false
		for _, flag := range result.Flags {
			if flag.RuleID == ruleID {
				flagged = true
				if flag.Severity != "critical" {
					t.Errorf("Expected critical severity, got %s", flag.Severity)
				}
			}
		}

		switch result.Account {
		case distressed:
			if !flagged {
				t.Errorf("Distressed account should carry the liquidation flag")
			}
		case steady:
			if flagged {
				t.Errorf("Steady account should not carry the liquidation flag")
			}
		}
	}
}
