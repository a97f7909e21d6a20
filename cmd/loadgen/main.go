// Load generator for exercising medaudit with labelled claim data.
//
// Usage:
//
//	go run ./cmd/loadgen -csv /path/to/claims.csv -url http://localhost:8080
//
// Each CSV row is submitted with POST /bills and evaluated with
// POST /bills/{claimID}/evaluate. When the file carries an is_fraud column,
// a bill counts as flagged if its decision is REJECTED or its risk level is
// high, and the tool reports a confusion matrix against the labels.
//
// Expected columns (header names, case-insensitive): claim_id, patient_id,
// provider_id, provider_npi, procedure_code, diagnosis_code, billed_amount,
// allowed_amount, bill_date (YYYY-MM-DD), documentation, is_fraud.
package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// claimRow is one labelled bill read from the CSV file.
type claimRow struct {
	ClaimID       string
	PatientID     string
	ProviderID    string
	ProviderNPI   string
	ProcedureCode string
	DiagnosisCode string
	BilledAmount  *float64
	AllowedAmount *float64
	BillDate      time.Time
	Documentation string
	IsFraud       bool
	Labelled      bool
}

// billRequest matches the POST /bills body.
type billRequest struct {
	ClaimID           string    `json:"claimId"`
	PatientID         string    `json:"patientId"`
	ProviderID        string    `json:"providerId"`
	ProviderNPI       string    `json:"providerNpi,omitempty"`
	ProcedureCode     string    `json:"procedureCode,omitempty"`
	DiagnosisCode     string    `json:"diagnosisCode,omitempty"`
	BilledAmount      *float64  `json:"billedAmount,omitempty"`
	AllowedAmount     *float64  `json:"allowedAmount,omitempty"`
	DocumentationText string    `json:"documentationText,omitempty"`
	BillDate          time.Time `json:"billDate"`
}

// evaluationResponse is the subset of the evaluation payload the tool reads.
type evaluationResponse struct {
	ID          string `json:"id"`
	ChainResult struct {
		FinalDecision string  `json:"finalDecision"`
		FraudScore    float64 `json:"fraudScore"`
	} `json:"chainResult"`
	Risk *struct {
		FinalFraudScore float64 `json:"finalFraudScore"`
		RiskLevel       string  `json:"riskLevel"`
	} `json:"risk"`
}

func (r *evaluationResponse) flagged() bool {
	if r.ChainResult.FinalDecision == "REJECTED" {
		return true
	}
	return r.Risk != nil && r.Risk.RiskLevel == "high"
}

// Metrics tracks run results.
type Metrics struct {
	TruePositives  int64
	FalsePositives int64
	TrueNegatives  int64
	FalseNegatives int64

	TotalProcessed int64
	TotalLabelled  int64
	TotalErrors    int64

	mu        sync.Mutex
	decisions map[string]int64
	levels    map[string]int64
	latencies []time.Duration
}

func (m *Metrics) record(res *evaluationResponse, elapsed time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decisions[res.ChainResult.FinalDecision]++
	if res.Risk != nil {
		m.levels[res.Risk.RiskLevel]++
	}
	m.latencies = append(m.latencies, elapsed)
}

func main() {
	csvPath := flag.String("csv", "", "Path to claims CSV file")
	baseURL := flag.String("url", "http://localhost:8080", "medaudit base URL")
	limit := flag.Int("limit", 10000, "Maximum bills to submit (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	verbose := flag.Bool("verbose", false, "Print each bill result")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: loadgen -csv /path/to/claims.csv [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Printf("CSV file:  %s\n", *csvPath)
	fmt.Printf("URL:       %s\n", *baseURL)
	fmt.Printf("Workers:   %d\n", *workers)
	fmt.Printf("Limit:     %d\n\n", *limit)

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: medaudit not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nStart it with: go run ./cmd/medaudit serve")
		os.Exit(1)
	}

	rows, err := readClaimsCSV(*csvPath, *limit)
	if err != nil {
		fmt.Printf("ERROR: failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Loaded %d bills\n", len(rows))

	start := time.Now()
	m := run(rows, *baseURL, *workers, *verbose)
	printResults(m, time.Since(start))
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

func readClaimsCSV(path string, limit int) ([]claimRow, error) {
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
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{"claim_id", "patient_id", "provider_id"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("missing column %q", required)
		}
	}

	field := func(record []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}
	amount := func(record []string, name string) *float64 {
		v, err := strconv.ParseFloat(field(record, name), 64)
		if err != nil {
			return nil
		}
		return &v
	}

	var rows []claimRow
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			continue
		}

		row := claimRow{
			ClaimID:       field(record, "claim_id"),
			PatientID:     field(record, "patient_id"),
			ProviderID:    field(record, "provider_id"),
			ProviderNPI:   field(record, "provider_npi"),
			ProcedureCode: field(record, "procedure_code"),
			DiagnosisCode: field(record, "diagnosis_code"),
			BilledAmount:  amount(record, "billed_amount"),
			AllowedAmount: amount(record, "allowed_amount"),
			Documentation: field(record, "documentation"),
		}
		if d, err := time.Parse(time.DateOnly, field(record, "bill_date")); err == nil {
			row.BillDate = d
		}
		if label := field(record, "is_fraud"); label != "" {
			row.Labelled = true
			row.IsFraud = label == "1" || strings.EqualFold(label, "true")
		}

		rows = append(rows, row)
		if limit > 0 && len(rows) >= limit {
			break
		}
	}
	return rows, nil
}

func run(rows []claimRow, baseURL string, numWorkers int, verbose bool) *Metrics {
	m := &Metrics{
		decisions: make(map[string]int64),
		levels:    make(map[string]int64),
	}

	work := make(chan claimRow, 100)
	var wg sync.WaitGroup
	for range numWorkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for row := range work {
				start := time.Now()
				res, err := submitAndEvaluate(client, baseURL, row)
				elapsed := time.Since(start)
				atomic.AddInt64(&m.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&m.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: %s -> %v\n", row.ClaimID, err)
					}
					continue
				}
				m.record(res, elapsed)

				if row.Labelled {
					atomic.AddInt64(&m.TotalLabelled, 1)
					predicted, actual := res.flagged(), row.IsFraud
					switch {
					case predicted && actual:
						atomic.AddInt64(&m.TruePositives, 1)
					case predicted && !actual:
						atomic.AddInt64(&m.FalsePositives, 1)
					case !predicted && !actual:
						atomic.AddInt64(&m.TrueNegatives, 1)
					default:
						atomic.AddInt64(&m.FalseNegatives, 1)
					}
				}

				if verbose {
					level := "-"
					if res.Risk != nil {
						level = res.Risk.RiskLevel
					}
					fmt.Printf("%-16s | %-8s | %-15s | risk %-6s | fraud label %v\n",
						row.ClaimID, row.ProcedureCode, res.ChainResult.FinalDecision, level, row.IsFraud)
				}
			}
		}()
	}

	for _, row := range rows {
		work <- row
	}
	close(work)
	wg.Wait()
	return m
}

func submitAndEvaluate(client *http.Client, baseURL string, row claimRow) (*evaluationResponse, error) {
	body, err := json.Marshal(billRequest{
		ClaimID:           row.ClaimID,
		PatientID:         row.PatientID,
		ProviderID:        row.ProviderID,
		ProviderNPI:       row.ProviderNPI,
		ProcedureCode:     row.ProcedureCode,
		DiagnosisCode:     row.DiagnosisCode,
		BilledAmount:      row.BilledAmount,
		AllowedAmount:     row.AllowedAmount,
		DocumentationText: row.Documentation,
		BillDate:          row.BillDate,
	})
	if err != nil {
		return nil, err
	}

	resp, err := client.Post(baseURL+"/bills", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("submit: status %d", resp.StatusCode)
	}

	resp, err = client.Post(baseURL+"/bills/"+row.ClaimID+"/evaluate", "application/json", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("evaluate: status %d", resp.StatusCode)
	}

	var res evaluationResponse
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, err
	}
	return &res, nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\n== RESULTS ==")
	fmt.Printf("Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("Errors:     %d\n", m.TotalErrors)

	fmt.Println("\nDecisions:")
	for _, d := range []string{"APPROVED", "REVIEW_REQUIRED", "PENDING", "REJECTED"} {
		fmt.Printf("  %-16s %d\n", d, m.decisions[d])
	}
	fmt.Println("Risk levels:")
	for _, l := range []string{"low", "medium", "high"} {
		fmt.Printf("  %-16s %d\n", l, m.levels[l])
	}

	if m.TotalLabelled > 0 {
		precision := ratio(m.TruePositives, m.TruePositives+m.FalsePositives)
		recall := ratio(m.TruePositives, m.TruePositives+m.FalseNegatives)
		f1 := 0.0
		if precision+recall > 0 {
			f1 = 2 * precision * recall / (precision + recall)
		}

		fmt.Println("\nConfusion matrix (flagged = REJECTED or high risk):")
		fmt.Printf("               flagged  cleared\n")
		fmt.Printf("  fraud       %8d %8d\n", m.TruePositives, m.FalseNegatives)
		fmt.Printf("  legitimate  %8d %8d\n", m.FalsePositives, m.TrueNegatives)
		fmt.Printf("\nPrecision: %.4f\nRecall:    %.4f\nF1:        %.4f\n", precision, recall, f1)
	}

	fmt.Printf("\nDuration:   %v\n", duration.Round(time.Millisecond))
	if n := len(m.latencies); n > 0 {
		slices.Sort(m.latencies)
		fmt.Printf("p50 latency: %v\n", m.latencies[n/2].Round(time.Microsecond))
		fmt.Printf("p99 latency: %v\n", m.latencies[min(n-1, n*99/100)].Round(time.Microsecond))
		fmt.Printf("Throughput:  %.2f bills/sec\n", float64(m.TotalProcessed)/duration.Seconds())
	}
	fmt.Println()
}

func ratio(num, den int64) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}
