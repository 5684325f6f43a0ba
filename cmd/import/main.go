// Import tool for loading receivables into Kite from a CSV export.
//
// Usage:
//   go run ./cmd/import -csv /path/to/invoices.csv -url http://localhost:8080 -tenant acme
//
// This tool:
//   1. Reads invoices (invoice_id, customer_id, total_amount, due_date, ...)
//   2. Opens a debt case for each through POST /cases
//   3. Optionally runs the escalation rules for every new case
//   4. Reports created, rejected and escalation outcomes with throughput
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
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
)

// Invoice is a row from the receivables export.
type Invoice struct {
	InvoiceID     string
	CustomerID    string
	CustomerName  string
	CustomerEmail string
	CustomerPhone string
	TotalAmount   decimal.Decimal
	PaidAmount    decimal.Decimal
	Currency      string
	DueDate       string
}

// CreateCaseRequest is the Kite POST /cases body.
type CreateCaseRequest struct {
	InvoiceID     string          `json:"invoiceId"`
	CustomerID    string          `json:"customerId"`
	CustomerName  string          `json:"customerName,omitempty"`
	CustomerEmail string          `json:"customerEmail,omitempty"`
	CustomerPhone string          `json:"customerPhone,omitempty"`
	TotalAmount   decimal.Decimal `json:"totalAmount"`
	PaidAmount    decimal.Decimal `json:"paidAmount"`
	Currency      string          `json:"currency"`
	DueDate       string          `json:"dueDate"`
}

// EvaluateResponse is the part of the POST /cases/{id}/evaluate reply we read.
type EvaluateResponse struct {
	Executions []struct {
		Result string `json:"result"`
	} `json:"executions"`
}

// Metrics tracks import results
type Metrics struct {
	Created  int64
	Rejected int64 // 4xx from the API, usually a bad row
	Errors   int64 // transport failures and 5xx

	Evaluated       int64
	RulesSuccessful int64
	RulesPartial    int64
	RulesFailed     int64

	ProcessingTimeMs int64
}

var errRejected = errors.New("rejected")

func main() {
	csvPath := flag.String("csv", "", "Path to receivables CSV file")
	baseURL := flag.String("url", "http://localhost:8080", "Kite base URL")
	tenantID := flag.String("tenant", "", "Tenant ID for requests")
	limit := flag.Int("limit", 0, "Maximum invoices to import (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	evaluate := flag.Bool("evaluate", false, "Run escalation rules for each created case")
	verbose := flag.Bool("verbose", false, "Print each invoice result")
	flag.Parse()

	if *csvPath == "" || *tenantID == "" {
		fmt.Println("Usage: import -csv /path/to/invoices.csv -tenant <id> [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("+---------------------------------------------------------------+")
	fmt.Println("|                 KITE IMPORT - Receivables                     |")
	fmt.Println("+---------------------------------------------------------------+")
	fmt.Printf("\nCSV File:    %s\n", *csvPath)
	fmt.Printf("Kite URL:    %s\n", *baseURL)
	fmt.Printf("Tenant ID:   %s\n", *tenantID)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Evaluate:    %v\n", *evaluate)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Kite not reachable at %s: %v\n", *baseURL, err)
		os.Exit(1)
	}
	fmt.Println("Kite is healthy")

	invoices, skipped, err := readInvoicesCSV(*csvPath, *limit)
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Loaded %d invoices (%d unparseable rows skipped)\n", len(invoices), skipped)

	fmt.Printf("\nImporting with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runImport(invoices, *baseURL, *tenantID, *workers, *evaluate, *verbose)
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

// readInvoicesCSV maps columns by header name so exports may order them freely.
func readInvoicesCSV(path string, limit int) ([]Invoice, int, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read header: %w", err)
	}
	colIndex := make(map[string]int)
	for i, col := range header {
		colIndex[strings.ToLower(strings.TrimSpace(col))] = i
	}
	for _, required := range []string{"invoice_id", "customer_id", "total_amount", "due_date"} {
		if _, ok := colIndex[required]; !ok {
			return nil, 0, fmt.Errorf("missing column %q", required)
		}
	}

	field := func(record []string, name string) string {
		i, ok := colIndex[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	var invoices []Invoice
	skipped := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			skipped++
			continue
		}

		total, err := decimal.NewFromString(field(record, "total_amount"))
		if err != nil {
			skipped++
			continue
		}
		paid := decimal.Zero
		if raw := field(record, "paid_amount"); raw != "" {
			if paid, err = decimal.NewFromString(raw); err != nil {
				skipped++
				continue
			}
		}

		invoices = append(invoices, Invoice{
			InvoiceID:     field(record, "invoice_id"),
			CustomerID:    field(record, "customer_id"),
			CustomerName:  field(record, "customer_name"),
			CustomerEmail: field(record, "customer_email"),
			CustomerPhone: field(record, "customer_phone"),
			TotalAmount:   total,
			PaidAmount:    paid,
			Currency:      field(record, "currency"),
			DueDate:       field(record, "due_date"),
		})

		if limit > 0 && len(invoices) >= limit {
			break
		}
	}

	return invoices, skipped, nil
}

func runImport(invoices []Invoice, baseURL, tenantID string, numWorkers int, evaluate, verbose bool) *Metrics {
	metrics := &Metrics{}

	work := make(chan Invoice, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for inv := range work {
				start := time.Now()
				caseID, err := createCase(client, baseURL, tenantID, inv)
				if err == nil && evaluate {
					var result *EvaluateResponse
					if result, err = evaluateCase(client, baseURL, tenantID, caseID); err == nil {
						atomic.AddInt64(&metrics.Evaluated, 1)
						for _, exec := range result.Executions {
							switch exec.Result {
							case "success":
								atomic.AddInt64(&metrics.RulesSuccessful, 1)
							case "partial":
								atomic.AddInt64(&metrics.RulesPartial, 1)
							default:
								atomic.AddInt64(&metrics.RulesFailed, 1)
							}
						}
					}
				}
				atomic.AddInt64(&metrics.ProcessingTimeMs, time.Since(start).Milliseconds())

				switch {
				case caseID != "":
					atomic.AddInt64(&metrics.Created, 1)
				case errors.Is(err, errRejected):
					atomic.AddInt64(&metrics.Rejected, 1)
				default:
					atomic.AddInt64(&metrics.Errors, 1)
				}

				if verbose {
					status := "ok"
					if err != nil {
						status = err.Error()
					}
					fmt.Printf("%-20s | %-12s | %12s %-3s | due %-10s | %s\n",
						inv.InvoiceID, inv.CustomerID, inv.TotalAmount.StringFixed(2), inv.Currency, inv.DueDate, status)
				}
			}
		}()
	}

	for _, inv := range invoices {
		work <- inv
	}
	close(work)

	wg.Wait()

	return metrics
}

func createCase(client *http.Client, baseURL, tenantID string, inv Invoice) (string, error) {
	var created struct {
		ID string `json:"id"`
	}
	err := post(client, baseURL+"/cases", tenantID, CreateCaseRequest{
		InvoiceID:     inv.InvoiceID,
		CustomerID:    inv.CustomerID,
		CustomerName:  inv.CustomerName,
		CustomerEmail: inv.CustomerEmail,
		CustomerPhone: inv.CustomerPhone,
		TotalAmount:   inv.TotalAmount,
		PaidAmount:    inv.PaidAmount,
		Currency:      inv.Currency,
		DueDate:       inv.DueDate,
	}, http.StatusCreated, &created)
	return created.ID, err
}

func evaluateCase(client *http.Client, baseURL, tenantID, caseID string) (*EvaluateResponse, error) {
	var result EvaluateResponse
	if err := post(client, baseURL+"/cases/"+caseID+"/evaluate", tenantID, nil, http.StatusOK, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func post(client *http.Client, url, tenantID string, payload any, want int, out any) error {
	var body io.Reader = http.NoBody
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}

	httpReq, err := http.NewRequest(http.MethodPost, url, body)
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Tenant-ID", tenantID)

	resp, err := client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return fmt.Errorf("%w: %s", errRejected, apiErr.Error)
		}
		return fmt.Errorf("status %d: %s", resp.StatusCode, apiErr.Error)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\n+---------------------------------------------------------------+")
	fmt.Println("|                        IMPORT RESULTS                         |")
	fmt.Println("+---------------------------------------------------------------+")

	total := m.Created + m.Rejected + m.Errors
	fmt.Printf("\nCASES\n")
	fmt.Printf("   Processed:  %d\n", total)
	fmt.Printf("   Created:    %d\n", m.Created)
	fmt.Printf("   Rejected:   %d\n", m.Rejected)
	fmt.Printf("   Errors:     %d\n", m.Errors)

	if m.Evaluated > 0 {
		fmt.Printf("\nESCALATION\n")
		fmt.Printf("   Cases evaluated:  %d\n", m.Evaluated)
		fmt.Printf("   Rules succeeded:  %d\n", m.RulesSuccessful)
		fmt.Printf("   Rules partial:    %d\n", m.RulesPartial)
		fmt.Printf("   Rules failed:     %d\n", m.RulesFailed)
	}

	fmt.Printf("\nPERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if total > 0 {
		avgMs := float64(m.ProcessingTimeMs) / float64(total)
		rate := float64(total) / duration.Seconds()
		fmt.Printf("   Avg Latency:      %.2f ms\n", avgMs)
		fmt.Printf("   Throughput:       %.2f invoices/sec\n", rate)
	}

	fmt.Println()
}
