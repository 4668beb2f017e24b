// loadgen fires concurrent seckill requests at a running server and checks
// that admissions match the configured stock exactly.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

type seckillRequest struct {
	VoucherID int64 `json:"voucher_id"`
	UserID    int64 `json:"user_id"`
}

func main() {
	var (
		target    = flag.String("target", "http://localhost:8080", "server base URL")
		voucherID = flag.Int64("voucher", 1, "voucher id to attack")
		stock     = flag.Int("stock", 100, "expected initial stock")
		requests  = flag.Int("requests", 500, "total concurrent requests")
	)
	flag.Parse()

	client := &http.Client{Timeout: 10 * time.Second}
	url := *target + "/api/voucher/seckill"

	var admitted, soldOut, duplicate, failed atomic.Int32
	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < *requests; i++ {
		wg.Add(1)
		go func(userID int64) {
			defer wg.Done()

			body, _ := json.Marshal(seckillRequest{VoucherID: *voucherID, UserID: userID})
			resp, err := client.Post(url, "application/json", bytes.NewReader(body))
			if err != nil {
				failed.Add(1)
				return
			}
			resp.Body.Close()

			switch resp.StatusCode {
			case http.StatusOK:
				admitted.Add(1)
			case http.StatusGone:
				soldOut.Add(1)
			case http.StatusConflict:
				duplicate.Add(1)
			default:
				failed.Add(1)
			}
		}(int64(i + 1))
	}

	wg.Wait()
	elapsed := time.Since(start)

	fmt.Println("========== LOADGEN RESULTS ==========")
	fmt.Printf("Expected Stock:  %d\n", *stock)
	fmt.Printf("Total Requests:  %d\n", *requests)
	fmt.Printf("Admitted:        %d\n", admitted.Load())
	fmt.Printf("Sold Out:        %d\n", soldOut.Load())
	fmt.Printf("Duplicate:       %d\n", duplicate.Load())
	fmt.Printf("Failed:          %d\n", failed.Load())
	fmt.Printf("Duration:        %v\n", elapsed)
	fmt.Println("=====================================")

	if admitted.Load() == int32(*stock) {
		fmt.Println("PASS: admissions match stock exactly")
	} else {
		log.Printf("FAIL: expected %d admissions, got %d", *stock, admitted.Load())
	}
}
