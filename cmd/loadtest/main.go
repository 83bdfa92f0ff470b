package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Result records one HTTP exchange for the summary.
type Result struct {
	Status int
	Body   []byte
	Err    error
}

type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

func main() {
	baseURL := flag.String("base", "http://localhost:8080", "server base url")
	vendorID := flag.Uint("vendor", 1, "vendor id")
	storeID := flag.Uint("store", 1, "store id")
	customerID := flag.Uint("customer", 2, "customer id")
	price := flag.String("price", "45", "unit price of the single cart line")
	attempts := flag.Int("n", 200, "concurrent settlement attempts of the same code")
	concurrency := flag.Int("c", 50, "max concurrency")
	flag.Parse()

	client := &http.Client{Timeout: 10 * time.Second}

	before, err := balance(client, *baseURL, *customerID, *storeID)
	if err != nil {
		fail("read balance", err)
	}

	issued, err := issue(client, *baseURL, *vendorID, *storeID, *price)
	if err != nil {
		fail("issue", err)
	}
	fmt.Printf("issued %s code=%s points=%s\n", issued.ReferenceNumber, issued.ShortCode, issued.TotalPoints)

	// 1) one code, many concurrent claims by the same customer: exactly one
	// settlement may be fresh, the rest must be replays or rate limited
	results := settleMany(client, *baseURL, issued.ShortCode, *customerID, *attempts, *concurrency)
	fresh, replayed := 0, 0
	for _, r := range results {
		if r.Err != nil || r.Status != http.StatusOK {
			continue
		}
		var env envelope
		var res struct {
			Replayed bool `json:"replayed"`
		}
		if json.Unmarshal(r.Body, &env) == nil && json.Unmarshal(env.Data, &res) == nil {
			if res.Replayed {
				replayed++
			} else {
				fresh++
			}
		}
	}
	printSummary("same_code", results)
	fmt.Printf("  fresh=%d replayed=%d\n", fresh, replayed)

	after, err := balance(client, *baseURL, *customerID, *storeID)
	if err != nil {
		fail("read balance", err)
	}
	want := before.Add(issued.TotalPoints)
	fmt.Printf("balance before=%s after=%s expected=%s\n", before, after, want)
	if fresh != 1 || !after.Equal(want) {
		fmt.Println("FAIL: double settlement or lost update")
		os.Exit(1)
	}
	fmt.Println("OK")
}

type issuedTx struct {
	ReferenceNumber string          `json:"reference_number"`
	ShortCode       string          `json:"short_code"`
	TotalPoints     decimal.Decimal `json:"total_points"`
}

func issue(client *http.Client, baseURL string, vendorID, storeID uint, price string) (issuedTx, error) {
	body := map[string]any{
		"vendor_id": vendorID,
		"store_id":  storeID,
		"items": []map[string]any{
			{"product_id": 1, "product_name": "loadtest", "quantity": 1, "unit_price": price},
		},
	}
	r := post(client, baseURL+"/transactions", body)
	if r.Err != nil {
		return issuedTx{}, r.Err
	}
	if r.Status != http.StatusOK {
		return issuedTx{}, fmt.Errorf("status=%d body=%s", r.Status, r.Body)
	}
	var env envelope
	if err := json.Unmarshal(r.Body, &env); err != nil {
		return issuedTx{}, err
	}
	var out issuedTx
	err := json.Unmarshal(env.Data, &out)
	return out, err
}

func settleMany(client *http.Client, baseURL, code string, customerID uint, total, concurrency int) []Result {
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	results := make([]Result, total)

	for i := 0; i < total; i++ {
		wg.Add(1)
		sem <- struct{}{}
		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()
			results[idx] = post(client, baseURL+"/transactions/code", map[string]any{
				"code":        code,
				"customer_id": customerID,
			})
		}(i)
	}
	wg.Wait()
	return results
}

func balance(client *http.Client, baseURL string, customerID, storeID uint) (decimal.Decimal, error) {
	resp, err := client.Get(fmt.Sprintf("%s/points/%d", baseURL, customerID))
	if err != nil {
		return decimal.Zero, err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return decimal.Zero, fmt.Errorf("status=%d body=%s", resp.StatusCode, b)
	}
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return decimal.Zero, err
	}
	var balances []struct {
		StoreID     uint            `json:"store_id"`
		TotalPoints decimal.Decimal `json:"total_points"`
	}
	if err := json.Unmarshal(env.Data, &balances); err != nil {
		return decimal.Zero, err
	}
	for _, bal := range balances {
		if bal.StoreID == storeID {
			return bal.TotalPoints, nil
		}
	}
	return decimal.Zero, nil
}

func post(client *http.Client, url string, body any) Result {
	b, _ := json.Marshal(body)
	req, _ := http.NewRequest(http.MethodPost, url, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return Result{Err: err}
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	return Result{Status: resp.StatusCode, Body: out}
}

// printSummary prints the status code distribution.
func printSummary(name string, results []Result) {
	count := map[int]int{}
	errCount := 0
	for _, r := range results {
		if r.Err != nil {
			errCount++
			continue
		}
		count[r.Status]++
	}
	fmt.Printf("[%s] http status summary:\n", name)
	for _, code := range []int{200, 400, 409, 410, 429, 500, 503} {
		if count[code] > 0 {
			fmt.Printf("  %d -> %d\n", code, count[code])
		}
	}
	if errCount > 0 {
		fmt.Printf("  errors -> %d\n", errCount)
	}
}

func fail(step string, err error) {
	fmt.Fprintf(os.Stderr, "%s failed: %v\n", step, err)
	os.Exit(1)
}
