package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/slot-reservation-engine/internal/config"
	"github.com/hackgods/slot-reservation-engine/internal/db"
	"github.com/hackgods/slot-reservation-engine/internal/schedule"
)

type SimConfig struct {
	APIBaseURL   string
	Duration     time.Duration
	Workers      int
	Contenders   int
	Targets      int
	BookingRatio float64
	CancelRatio  float64
	ReadRatio    float64
	ServiceLimit int
	PostgresDSN  string
	Location     *time.Location
}

// target is one bookable slot of one service date.
type target struct {
	ServiceID uuid.UUID
	Date      string
	Start     string
	End       string
}

type bookableSlot struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

type DataPool struct {
	Services     []schedule.Template
	mu           sync.RWMutex
	reservations []uuid.UUID
}

func (dp *DataPool) AddReservation(id uuid.UUID) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.reservations = append(dp.reservations, id)
}

func (dp *DataPool) GetRandomReservation(rng *rand.Rand) (uuid.UUID, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.reservations) == 0 {
		return uuid.Nil, false
	}
	return dp.reservations[rng.Intn(len(dp.reservations))], true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success bool, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	if success {
		atomic.AddInt64(&om.Success, 1)
	} else if conflict {
		atomic.AddInt64(&om.Conflict, 1)
	} else {
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, fastest, slowest, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)

	sort.Slice(latencies, func(i, j int) bool {
		return latencies[i] < latencies[j]
	})

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	fastest = latencies[0]
	slowest = latencies[len(latencies)-1]
	p50 = latencies[min(len(latencies)*50/100, len(latencies)-1)]
	p95 = latencies[min(len(latencies)*95/100, len(latencies)-1)]

	return avg, fastest, slowest, p50, p95
}

type Metrics struct {
	Contended    OperationMetrics
	Booking      OperationMetrics
	Cancel       OperationMetrics
	ReadByID     OperationMetrics
	Availability OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics

	contendedTargets int
	violations       []string
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("simulator starting")

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	log.Printf("config: duration=%s workers=%d contenders=%d targets=%d booking=%.2f cancel=%.2f read=%.2f",
		cfg.Duration, cfg.Workers, cfg.Contenders, cfg.Targets, cfg.BookingRatio, cfg.CancelRatio, cfg.ReadRatio)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pgPool.Close()

	services, err := schedule.NewPgRepository(pgPool).ListActive(ctx)
	if err != nil {
		log.Fatalf("load services: %v", err)
	}
	if len(services) == 0 {
		log.Fatal("no active services loaded, run cmd/seed first")
	}
	if len(services) > cfg.ServiceLimit {
		services = services[:cfg.ServiceLimit]
	}
	log.Printf("loaded: %d active services", len(services))

	sim := &Simulator{
		config: cfg,
		pool:   &DataPool{Services: services},
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}

	sim.RunContention()
	sim.Run()
	sim.PrintReport()

	if len(sim.violations) > 0 {
		os.Exit(1)
	}
}

func loadConfig() SimConfig {
	baseCfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load base config: %v", err)
	}

	cfg := SimConfig{
		APIBaseURL:   getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:     getDuration("SIM_DURATION", 30*time.Second),
		Workers:      getInt("SIM_WORKERS", 10),
		Contenders:   getInt("SIM_CONTENDERS", 20),
		Targets:      getInt("SIM_TARGETS", 25),
		BookingRatio: getFloat("SIM_BOOKING_RATIO", 0.5),
		CancelRatio:  getFloat("SIM_CANCEL_RATIO", 0.1),
		ReadRatio:    getFloat("SIM_READ_RATIO", 0.4),
		ServiceLimit: getInt("SIM_SERVICE_LIMIT", 200),
		PostgresDSN:  baseCfg.PostgresDSN,
		Location:     baseCfg.Location,
	}

	// Normalize ratios
	total := cfg.BookingRatio + cfg.CancelRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.CancelRatio /= total
		cfg.ReadRatio /= total
	}

	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.PostgresDSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required (set in .env or environment)")
	}
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Contenders < 2 {
		return fmt.Errorf("SIM_CONTENDERS must be >= 2")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	return nil
}

// RunContention fires Contenders identical reservation requests at each target slot
// at once. At most one of them may win.
func (s *Simulator) RunContention() {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	ctx := context.Background()

	log.Printf("contention phase: %d targets x %d contenders", s.config.Targets, s.config.Contenders)

	for i := 0; i < s.config.Targets; i++ {
		tpl := s.pool.Services[rng.Intn(len(s.pool.Services))]
		t, ok := s.pickTarget(ctx, rng, tpl)
		if !ok {
			continue
		}
		s.contendedTargets++

		var (
			wg      sync.WaitGroup
			winners atomic.Int64
			startCh = make(chan struct{})
		)
		for c := 0; c < s.config.Contenders; c++ {
			wg.Add(1)
			go func(c int) {
				defer wg.Done()
				<-startCh
				status, id := s.reserve(ctx, t, fmt.Sprintf("sim-contender-%d", c), &s.metrics.Contended)
				if status == http.StatusCreated {
					winners.Add(1)
					s.pool.AddReservation(id)
				}
			}(c)
		}
		close(startCh)
		wg.Wait()

		if w := winners.Load(); w > 1 {
			s.violations = append(s.violations,
				fmt.Sprintf("service=%s date=%s %s-%s: %d winners", t.ServiceID, t.Date, t.Start, t.End, w))
		}
	}
}

// pickTarget asks the API for the bookable slots of a random date in the service's
// booking window.
func (s *Simulator) pickTarget(ctx context.Context, rng *rand.Rand, tpl schedule.Template) (target, bool) {
	first, last := tpl.Window(schedule.DateOf(time.Now().In(s.config.Location)))
	days := int(last.Sub(first).Hours()/24) + 1

	for attempt := 0; attempt < 5; attempt++ {
		date := first.AddDate(0, 0, rng.Intn(days)).Format(time.DateOnly)

		start := time.Now()
		req, _ := http.NewRequestWithContext(ctx, http.MethodGet,
			fmt.Sprintf("%s/services/%s/availability?date=%s", s.config.APIBaseURL, tpl.ServiceID, date), nil)
		resp, err := s.client.Do(req)
		latency := time.Since(start)
		if err != nil {
			s.metrics.Availability.Record(latency, false, false)
			continue
		}

		var body struct {
			Bookable []bookableSlot `json:"bookable"`
		}
		decodeErr := json.NewDecoder(resp.Body).Decode(&body)
		resp.Body.Close()
		ok := resp.StatusCode == http.StatusOK && decodeErr == nil
		s.metrics.Availability.Record(latency, ok, false)
		if !ok || len(body.Bookable) == 0 {
			continue
		}

		b := body.Bookable[rng.Intn(len(body.Bookable))]
		return target{ServiceID: tpl.ServiceID, Date: date, Start: b.StartTime, End: b.EndTime}, true
	}
	return target{}, false
}

func (s *Simulator) reserve(ctx context.Context, t target, requester string, om *OperationMetrics) (int, uuid.UUID) {
	body, _ := json.Marshal(map[string]string{
		"service_id":    t.ServiceID.String(),
		"date":          t.Date,
		"start_time":    t.Start,
		"end_time":      t.End,
		"requester_ref": requester,
	})

	start := time.Now()
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, s.config.APIBaseURL+"/reservations", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		om.Record(latency, false, false)
		return 0, uuid.Nil
	}
	defer resp.Body.Close()

	var id uuid.UUID
	if resp.StatusCode == http.StatusCreated {
		var created struct {
			ID uuid.UUID `json:"id"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&created)
		id = created.ID
	}

	// 503 means the retry budget ran out, which is expected under contention
	conflict := resp.StatusCode == http.StatusConflict || resp.StatusCode == http.StatusServiceUnavailable
	om.Record(latency, resp.StatusCode == http.StatusCreated, conflict)
	return resp.StatusCode, id
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	log.Printf("starting mixed load for %s with %d workers", s.config.Duration, s.config.Workers)

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	log.Println("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))
	requester := fmt.Sprintf("sim-worker-%d", workerID)

	for {
		select {
		case <-ctx.Done():
			return
		default:
			r := rng.Float64()
			switch {
			case r < s.config.BookingRatio:
				tpl := s.pool.Services[rng.Intn(len(s.pool.Services))]
				if t, ok := s.pickTarget(ctx, rng, tpl); ok {
					if status, id := s.reserve(ctx, t, requester, &s.metrics.Booking); status == http.StatusCreated {
						s.pool.AddReservation(id)
					}
				}
			case r < s.config.BookingRatio+s.config.CancelRatio:
				s.doCancel(ctx, rng)
			default:
				s.doReadByID(ctx, rng)
			}
		}
	}
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand) {
	id, ok := s.pool.GetRandomReservation(rng)
	if !ok {
		return
	}

	start := time.Now()
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/reservations/%s/cancel", s.config.APIBaseURL, id), nil)

	resp, err := s.client.Do(req)
	latency := time.Since(start)

	success, conflict := false, false
	if err == nil {
		defer resp.Body.Close()
		success = resp.StatusCode == http.StatusOK
		conflict = resp.StatusCode == http.StatusConflict
	}

	s.metrics.Cancel.Record(latency, success, conflict)
}

func (s *Simulator) doReadByID(ctx context.Context, rng *rand.Rand) {
	id, ok := s.pool.GetRandomReservation(rng)
	if !ok {
		return
	}

	start := time.Now()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/reservations/%s", s.config.APIBaseURL, id), nil)

	resp, err := s.client.Do(req)
	latency := time.Since(start)

	success := false
	if err == nil {
		defer resp.Body.Close()
		success = resp.StatusCode == http.StatusOK
	}

	s.metrics.ReadByID.Record(latency, success, false)
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Printf("Contended slots: %d (x%d requests)\n", s.contendedTargets, s.config.Contenders)
	fmt.Println()

	printOperationReport("Contended reserve", &s.metrics.Contended)
	printOperationReport("Reserve", &s.metrics.Booking)
	printOperationReport("Cancel", &s.metrics.Cancel)
	printOperationReport("Read by ID", &s.metrics.ReadByID)
	printOperationReport("Availability", &s.metrics.Availability)

	if len(s.violations) == 0 {
		fmt.Println("Double bookings: none")
		return
	}
	fmt.Printf("Double bookings: %d\n", len(s.violations))
	for _, v := range s.violations {
		fmt.Printf("  %s\n", v)
	}
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, fastest, slowest, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), fastest.Round(time.Millisecond), slowest.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

// Helper functions

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func repeat(s string, n int) string {
	return strings.Repeat(s, n)
}
