package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Drives concurrent duplicate claims at a running rewardsd to observe the
// at-most-once payout property from the outside: for one (user, quiz) the
// server must report exactly one fresh payout and the same signature on
// every replay.
var (
	targetURL   string
	concurrency int
	duration    time.Duration
	token       string
	quizID      int64
	wallet      string
)

var (
	totalRequests uint64
	freshPaid     uint64
	replays       uint64
	retryable503  uint64
	rejected      uint64
	failOther     uint64
)

var signatures sync.Map // signature -> struct{}

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	flag.DurationVar(&duration, "duration", 30*time.Second, "Test duration")
	flag.StringVar(&token, "token", "", "Bearer token of the test user")
	flag.Int64Var(&quizID, "quiz", 1, "Quiz ID to claim")
	flag.StringVar(&wallet, "wallet", "", "Destination wallet address")
}

func main() {
	flag.Parse()
	if token == "" || wallet == "" {
		log.Fatal("-token and -wallet are required")
	}
	log.Printf("Starting claim load: quiz %d | Workers: %d | Duration: %s", quizID, concurrency, duration)

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(concurrency)

	for i := 0; i < concurrency; i++ {
		go worker(&wg, start)
	}

	wg.Wait()
	printResults(time.Since(start))
}

func worker(wg *sync.WaitGroup, start time.Time) {
	defer wg.Done()
	client := &http.Client{Timeout: 90 * time.Second}

	payload, _ := json.Marshal(map[string]interface{}{
		"quiz_id":        quizID,
		"wallet_address": wallet,
	})

	for time.Since(start) < duration {
		req, _ := http.NewRequest("POST", targetURL+"/api/v1/claims", bytes.NewBuffer(payload))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := client.Do(req)
		if err != nil {
			atomic.AddUint64(&failOther, 1)
			continue
		}
		atomic.AddUint64(&totalRequests, 1)

		switch resp.StatusCode {
		case 200:
			var body struct {
				AlreadyRewarded bool   `json:"already_rewarded"`
				TxSignature     string `json:"tx_signature"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&body); err == nil {
				if body.TxSignature != "" {
					signatures.Store(body.TxSignature, struct{}{})
				}
				if body.AlreadyRewarded {
					atomic.AddUint64(&replays, 1)
				} else {
					atomic.AddUint64(&freshPaid, 1)
				}
			}
		case 503:
			atomic.AddUint64(&retryable503, 1)
		case 400, 401, 404, 409:
			atomic.AddUint64(&rejected, 1)
		default:
			atomic.AddUint64(&failOther, 1)
		}
		resp.Body.Close()
	}
}

func printResults(d time.Duration) {
	uniqueSigs := 0
	signatures.Range(func(_, _ interface{}) bool {
		uniqueSigs++
		return true
	})

	results := map[string]interface{}{
		"duration_sec":      d.Seconds(),
		"total_requests":    atomic.LoadUint64(&totalRequests),
		"fresh_paid":        atomic.LoadUint64(&freshPaid),
		"idempotent_replay": atomic.LoadUint64(&replays),
		"retryable_503":     atomic.LoadUint64(&retryable503),
		"rejected":          atomic.LoadUint64(&rejected),
		"errors":            atomic.LoadUint64(&failOther),
		"unique_signatures": uniqueSigs,
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(results)

	if uniqueSigs > 1 {
		log.Printf("WARNING: observed %d distinct signatures for one claim", uniqueSigs)
	}
}
