package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/punchamoorthee/auctionops/internal/models"
)

var (
	targetURL   string
	concurrency int
	duration    time.Duration
	workload    string
	auctionList string
	bidders     int
)

var (
	totalRequests uint64
	accepted201   uint64
	replayed      uint64 // Idempotent-Replayed responses
	rejected422   uint64
	contended409  uint64
	failOther     uint64
)

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent bidders")
	flag.DurationVar(&duration, "duration", 30*time.Second, "Test duration")
	flag.StringVar(&workload, "workload", "hotspot", "Workload type: uniform | hotspot")
	flag.StringVar(&auctionList, "auctions", "", "Comma-separated auction ids (seeder output)")
	flag.IntVar(&bidders, "bidders", 1000, "Number of seeded bidder wallets")
}

func main() {
	flag.Parse()
	auctions := strings.Split(auctionList, ",")
	if auctionList == "" || len(auctions) == 0 {
		log.Fatal("at least one auction id is required (-auctions)")
	}
	log.Printf("Starting Benchmark: %s | Workers: %d | Duration: %s | Auctions: %d", workload, concurrency, duration, len(auctions))

	ctx, cancel := context.WithTimeout(context.Background(), duration)
	defer cancel()

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < concurrency; i++ {
		w := worker{id: i, auctions: auctions, next: make(map[string]int64)}
		g.Go(func() error { return w.run(gctx) })
	}
	if err := g.Wait(); err != nil {
		log.Fatal(err)
	}
	printResults(time.Since(start))
}

type worker struct {
	id       int
	auctions []string
	// next holds the amount this worker will bid per auction, raised from
	// minimum_amount hints in rejections.
	next map[string]int64
}

func (w *worker) run(ctx context.Context) error {
	client := &http.Client{Timeout: 5 * time.Second}
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(w.id)))

	for ctx.Err() == nil {
		auctionID := w.pickAuction(rng)
		bidderID := fmt.Sprintf("bidder-%d", rng.Intn(bidders)+1)
		amount := w.next[auctionID]
		if amount == 0 {
			amount = 10000
		}

		body, _ := json.Marshal(models.PlaceBidRequest{Amount: amount})
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, targetURL+"/api/v1/auctions/"+auctionID+"/bids", bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Bidder-ID", bidderID)
		req.Header.Set("Idempotency-Key", fmt.Sprintf("bench-%d-%d", w.id, time.Now().UnixNano()))

		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() == nil {
				atomic.AddUint64(&failOther, 1)
			}
			continue
		}

		atomic.AddUint64(&totalRequests, 1)
		if resp.Header.Get("Idempotent-Replayed") != "" {
			atomic.AddUint64(&replayed, 1)
		}
		var out models.BidResponse
		_ = json.NewDecoder(resp.Body).Decode(&out)
		resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusCreated:
			atomic.AddUint64(&accepted201, 1)
			w.next[auctionID] = amount + 500
		case http.StatusUnprocessableEntity:
			atomic.AddUint64(&rejected422, 1)
			if out.MinimumAmount > 0 {
				w.next[auctionID] = out.MinimumAmount
			}
		case http.StatusConflict:
			atomic.AddUint64(&contended409, 1)
		default:
			atomic.AddUint64(&failOther, 1)
		}
	}
	return nil
}

func (w *worker) pickAuction(rng *rand.Rand) string {
	// Hotspot: 90% of traffic goes to the first auction
	if workload == "hotspot" && rng.Float32() < 0.90 {
		return w.auctions[0]
	}
	return w.auctions[rng.Intn(len(w.auctions))]
}

func printResults(d time.Duration) {
	total := atomic.LoadUint64(&totalRequests)
	a201 := atomic.LoadUint64(&accepted201)
	r422 := atomic.LoadUint64(&rejected422)
	c409 := atomic.LoadUint64(&contended409)
	fErr := atomic.LoadUint64(&failOther)

	var contendedRate float64
	if total > 0 {
		contendedRate = float64(c409) / float64(total) * 100
	}

	results := map[string]any{
		"workload":           workload,
		"duration_sec":       d.Seconds(),
		"total_requests":     total,
		"throughput_rps":     float64(total) / d.Seconds(),
		"accepted":           a201,
		"replayed":           atomic.LoadUint64(&replayed),
		"rejected":           r422,
		"contended":          c409,
		"contended_rate_pct": contendedRate,
		"errors":             fErr,
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(results)

	filename := fmt.Sprintf("results_%s.json", workload)
	file, err := os.Create(filename)
	if err != nil {
		log.Printf("write results: %v", err)
		return
	}
	defer file.Close()
	json.NewEncoder(file).Encode(results)
}
