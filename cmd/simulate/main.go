package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
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
	"github.com/rs/zerolog"

	"github.com/hackgods/specialist-scheduling/internal/api"
	"github.com/hackgods/specialist-scheduling/internal/config"
	"github.com/hackgods/specialist-scheduling/internal/logging"
)

type SimConfig struct {
	APIBaseURL     string
	Duration       time.Duration
	Workers        int
	BookingRatio   float64
	ConfirmRatio   float64
	CancelRatio    float64
	ReadRatio      float64
	PatientCount   int
	ProgramLimit   int
	OrganizationID uuid.UUID
	JWTSecret      string
}

type DataPool struct {
	Patients []uuid.UUID
	Programs []uuid.UUID
	Slots    []uuid.UUID

	mu           sync.RWMutex
	appointments []uuid.UUID
}

func (dp *DataPool) AddAppointment(id uuid.UUID) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, id)
}

func (dp *DataPool) RandomAppointment(rng *rand.Rand) (uuid.UUID, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return uuid.Nil, false
	}
	return dp.appointments[rng.Intn(len(dp.appointments))], true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case success:
		atomic.AddInt64(&om.Success, 1)
	case conflict:
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	om.mu.Unlock()

	if len(latencies) == 0 {
		return 0, 0, 0, 0, 0
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]
	p50 = latencies[percentileIndex(len(latencies), 50)]
	p95 = latencies[percentileIndex(len(latencies), 95)]
	return avg, min, max, p50, p95
}

func percentileIndex(n, p int) int {
	idx := n * p / 100
	if idx >= n {
		idx = n - 1
	}
	return idx
}

type Metrics struct {
	Booking      OperationMetrics
	Confirm      OperationMetrics
	Cancel       OperationMetrics
	ReadByID     OperationMetrics
	ListSlots    OperationMetrics
	Availability OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	auth    func(*http.Request)
	metrics Metrics
	logger  zerolog.Logger
}

func main() {
	logger := logging.New("dev", getEnv("LOG_LEVEL", "info"), "").With().Str("service", "simulate").Logger()

	cfg, err := loadConfig()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	logger.Info().
		Dur("duration", cfg.Duration).
		Int("workers", cfg.Workers).
		Float64("booking", cfg.BookingRatio).
		Float64("confirm", cfg.ConfirmRatio).
		Float64("cancel", cfg.CancelRatio).
		Float64("read", cfg.ReadRatio).
		Msg("simulator starting")

	auth, err := authenticator(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("auth setup")
	}

	sim := &Simulator{
		config: cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		auth:   auth,
		logger: logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if sim.pool, err = sim.loadDataPool(ctx); err != nil {
		logger.Fatal().Err(err).Msg("load data pool")
	}
	logger.Info().
		Int("patients", len(sim.pool.Patients)).
		Int("programs", len(sim.pool.Programs)).
		Int("slots", len(sim.pool.Slots)).
		Msg("data pool loaded")

	sim.Run()
	sim.PrintReport()
}

func loadConfig() (SimConfig, error) {
	base, err := config.Load()
	if err != nil {
		return SimConfig{}, err
	}

	cfg := SimConfig{
		APIBaseURL:   strings.TrimRight(getEnv("SIM_API_BASE_URL", "http://localhost:8080"), "/"),
		Duration:     getDuration("SIM_DURATION", 30*time.Second),
		Workers:      getInt("SIM_WORKERS", 10),
		BookingRatio: getFloat("SIM_BOOKING_RATIO", 0.5),
		ConfirmRatio: getFloat("SIM_CONFIRM_RATIO", 0.15),
		CancelRatio:  getFloat("SIM_CANCEL_RATIO", 0.05),
		ReadRatio:    getFloat("SIM_READ_RATIO", 0.3),
		PatientCount: getInt("SIM_PATIENTS", 500),
		ProgramLimit: getInt("SIM_PROGRAM_LIMIT", 100),
		JWTSecret:    base.JWTSecret,
	}

	org := os.Getenv("SIM_ORGANIZATION_ID")
	if org == "" {
		return cfg, fmt.Errorf("SIM_ORGANIZATION_ID is required (the seed command prints one)")
	}
	if cfg.OrganizationID, err = uuid.Parse(org); err != nil {
		return cfg, fmt.Errorf("SIM_ORGANIZATION_ID: %w", err)
	}
	if cfg.Workers <= 0 {
		return cfg, fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return cfg, fmt.Errorf("SIM_DURATION must be > 0")
	}

	total := cfg.BookingRatio + cfg.ConfirmRatio + cfg.CancelRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.ConfirmRatio /= total
		cfg.CancelRatio /= total
		cfg.ReadRatio /= total
	}
	return cfg, nil
}

// authenticator signs a bearer token when a secret is configured and falls
// back to the development identity headers otherwise.
func authenticator(cfg SimConfig) (func(*http.Request), error) {
	userID := uuid.New()
	if cfg.JWTSecret == "" {
		return func(r *http.Request) {
			r.Header.Set("X-User-ID", userID.String())
			r.Header.Set("X-Organization-ID", cfg.OrganizationID.String())
		}, nil
	}
	token, err := api.IssueToken([]byte(cfg.JWTSecret), userID, cfg.OrganizationID, cfg.Duration+time.Hour)
	if err != nil {
		return nil, err
	}
	return func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+token)
	}, nil
}

func (s *Simulator) loadDataPool(ctx context.Context) (*DataPool, error) {
	dp := &DataPool{}
	for i := 0; i < s.config.PatientCount; i++ {
		dp.Patients = append(dp.Patients, uuid.New())
	}

	var programs []api.ProgramResponse
	if err := s.getJSON(ctx, fmt.Sprintf("/programs?limit=%d", s.config.ProgramLimit), &programs); err != nil {
		return nil, fmt.Errorf("load programs: %w", err)
	}
	for _, p := range programs {
		dp.Programs = append(dp.Programs, p.ID)

		var slots []api.SlotResponse
		if err := s.getJSON(ctx, fmt.Sprintf("/programs/%s/slots?state=available", p.ID), &slots); err != nil {
			return nil, fmt.Errorf("load slots for %s: %w", p.ID, err)
		}
		for _, sl := range slots {
			dp.Slots = append(dp.Slots, sl.ID)
		}
	}

	if len(dp.Programs) == 0 {
		return nil, fmt.Errorf("no programs found, run the seed command first")
	}
	if len(dp.Slots) == 0 {
		return nil, fmt.Errorf("no available slots found")
	}
	return dp, nil
}

func (s *Simulator) getJSON(ctx context.Context, path string, out any) error {
	resp, err := s.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("GET %s: %s: %s", path, resp.Status, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (s *Simulator) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	s.auth(req)
	return s.client.Do(req)
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	s.logger.Info().Dur("duration", s.config.Duration).Int("workers", s.config.Workers).Msg("starting simulation")

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}
	wg.Wait()

	s.logger.Info().Msg("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))
	c := s.config

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		r := rng.Float64()
		switch {
		case r < c.BookingRatio:
			s.doBooking(ctx, rng)
		case r < c.BookingRatio+c.ConfirmRatio:
			s.doAppointmentAction(ctx, rng, "confirm", &s.metrics.Confirm)
		case r < c.BookingRatio+c.ConfirmRatio+c.CancelRatio:
			s.doAppointmentAction(ctx, rng, "cancel", &s.metrics.Cancel)
		default:
			switch rng.Intn(3) {
			case 0:
				s.doReadByID(ctx, rng)
			case 1:
				s.doListSlots(ctx, rng)
			case 2:
				s.doAvailability(ctx, rng)
			}
		}
	}
}

// timed runs one request and classifies the response. ok and conflict decide
// what counts as success and as a scheduling conflict for the operation.
func (s *Simulator) timed(om *OperationMetrics, send func() (*http.Response, error), ok int, onSuccess func(*http.Response)) {
	start := time.Now()
	resp, err := send()
	latency := time.Since(start)

	success, conflict := false, false
	if err == nil {
		defer resp.Body.Close()
		switch resp.StatusCode {
		case ok:
			success = true
			if onSuccess != nil {
				onSuccess(resp)
			}
		case http.StatusConflict:
			conflict = true
		}
	} else if ctxErr(err) {
		return
	}
	om.Record(latency, success, conflict)
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	slotID := s.pool.Slots[rng.Intn(len(s.pool.Slots))]
	body := api.BookAppointmentRequest{
		PatientID: s.pool.Patients[rng.Intn(len(s.pool.Patients))],
		SlotID:    &slotID,
	}

	s.timed(&s.metrics.Booking, func() (*http.Response, error) {
		return s.do(ctx, http.MethodPost, "/appointments", body)
	}, http.StatusCreated, func(resp *http.Response) {
		var appt api.AppointmentResponse
		if err := json.NewDecoder(resp.Body).Decode(&appt); err == nil && appt.ID != uuid.Nil {
			s.pool.AddAppointment(appt.ID)
		}
	})
}

func (s *Simulator) doAppointmentAction(ctx context.Context, rng *rand.Rand, action string, om *OperationMetrics) {
	id, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}
	var body any
	if action == "cancel" {
		body = api.CancelAppointmentRequest{Reason: "simulated cancellation"}
	}
	s.timed(om, func() (*http.Response, error) {
		return s.do(ctx, http.MethodPost, fmt.Sprintf("/appointments/%s/%s", id, action), body)
	}, http.StatusOK, nil)
}

func (s *Simulator) doReadByID(ctx context.Context, rng *rand.Rand) {
	id, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}
	s.timed(&s.metrics.ReadByID, func() (*http.Response, error) {
		return s.do(ctx, http.MethodGet, "/appointments/"+id.String(), nil)
	}, http.StatusOK, nil)
}

func (s *Simulator) doListSlots(ctx context.Context, rng *rand.Rand) {
	programID := s.pool.Programs[rng.Intn(len(s.pool.Programs))]
	s.timed(&s.metrics.ListSlots, func() (*http.Response, error) {
		return s.do(ctx, http.MethodGet, fmt.Sprintf("/programs/%s/slots?state=available", programID), nil)
	}, http.StatusOK, nil)
}

func (s *Simulator) doAvailability(ctx context.Context, rng *rand.Rand) {
	slotID := s.pool.Slots[rng.Intn(len(s.pool.Slots))]

	var slot api.SlotResponse
	if err := s.getJSON(ctx, "/slots/"+slotID.String(), &slot); err != nil {
		return
	}
	path := fmt.Sprintf("/availability?specialist_id=%s&date=%s&start=%s&end=%s",
		slot.SpecialistID, slot.Date, slot.Start, slot.End)
	s.timed(&s.metrics.Availability, func() (*http.Response, error) {
		return s.do(ctx, http.MethodGet, path, nil)
	}, http.StatusOK, nil)
}

func ctxErr(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Println()

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Confirm", &s.metrics.Confirm)
	printOperationReport("Cancel", &s.metrics.Cancel)
	printOperationReport("Read by ID", &s.metrics.ReadByID)
	printOperationReport("List available slots", &s.metrics.ListSlots)
	printOperationReport("Check availability", &s.metrics.Availability)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}
	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)
	avg, min, max, p50, p95 := om.Stats()

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
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

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
