package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"

	"github.com/hackgods/medical-appointment-booking/internal/api"
	"github.com/hackgods/medical-appointment-booking/internal/logging"
)

// simulate drives concurrent bookings through the HTTP API and then checks
// every touched calendar for overlapping intervals.

type SimConfig struct {
	APIBaseURL  string
	Duration    time.Duration
	Workers     int
	Patients    int
	CancelRatio float64
	RepeatRatio float64 // share of bookings made by an already-booked patient
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

func (om *OperationMetrics) Percentile(p int) time.Duration {
	om.mu.Lock()
	defer om.mu.Unlock()
	if len(om.Latencies) == 0 {
		return 0
	}
	sorted := make([]time.Duration, len(om.Latencies))
	copy(sorted, om.Latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := len(sorted) * p / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

type Simulator struct {
	cfg     SimConfig
	client  *http.Client
	log     *logging.Logger
	doctors []api.DoctorResponse
	people  []api.CreateBookingRequest

	mu        sync.Mutex
	booked    []uuid.UUID
	seen      map[int]bool
	returning []int // indexes of people with at least one booking

	bookings OperationMetrics
	cancels  OperationMetrics
	reads    OperationMetrics
	newSeen  int64
	retSeen  int64
}

func main() {
	cfg := SimConfig{}
	flag.StringVar(&cfg.APIBaseURL, "api", "http://localhost:8080", "API base URL")
	flag.DurationVar(&cfg.Duration, "duration", 30*time.Second, "how long to run")
	flag.IntVar(&cfg.Workers, "workers", 16, "concurrent clients")
	flag.IntVar(&cfg.Patients, "patients", 200, "distinct people to book for")
	flag.Float64Var(&cfg.CancelRatio, "cancel-ratio", 0.1, "share of operations that cancel a booking")
	flag.Float64Var(&cfg.RepeatRatio, "repeat-ratio", 0.3, "share of bookings by returning patients")
	flag.Parse()

	log := logging.New("info").With("service", "simulate")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sim := &Simulator{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log,
		seen:   make(map[int]bool),
	}
	if err := sim.loadDoctors(ctx); err != nil {
		log.Error("load doctors", "error", err)
		os.Exit(1)
	}
	sim.generatePeople()

	log.Info("simulation starting", "workers", cfg.Workers, "duration", cfg.Duration, "doctors", len(sim.doctors))
	sim.Run(ctx)
	sim.PrintReport()

	if overlaps := sim.VerifyCalendars(context.Background()); overlaps > 0 {
		log.Error("overlapping intervals found", "count", overlaps)
		os.Exit(1)
	}
	log.Info("calendars verified, no overlaps")
}

func (s *Simulator) loadDoctors(ctx context.Context) error {
	if err := s.getJSON(ctx, "/doctors", &s.doctors); err != nil {
		return err
	}
	if len(s.doctors) == 0 {
		return fmt.Errorf("no doctors found, run cmd/seed first")
	}
	return nil
}

func (s *Simulator) generatePeople() {
	faker := gofakeit.New(uint64(time.Now().UnixNano()))
	s.people = make([]api.CreateBookingRequest, s.cfg.Patients)
	for i := range s.people {
		dob := faker.DateRange(time.Date(1950, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2010, 1, 1, 0, 0, 0, 0, time.UTC))
		s.people[i] = api.CreateBookingRequest{
			FullName: faker.Name(),
			DOB:      dob.Format("01/02/2006"),
			Phone:    faker.Phone(),
			Email:    faker.Email(),
		}
	}
}

func (s *Simulator) Run(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, s.cfg.Duration)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < s.cfg.Workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(id)))
			for runCtx.Err() == nil {
				if rng.Float64() < s.cfg.CancelRatio {
					s.doCancel(runCtx, rng)
				} else {
					s.doBooking(runCtx, rng)
				}
			}
		}(i)
	}
	wg.Wait()
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	idx := rng.Intn(len(s.people))
	s.mu.Lock()
	if len(s.returning) > 0 && rng.Float64() < s.cfg.RepeatRatio {
		idx = s.returning[rng.Intn(len(s.returning))]
	}
	s.mu.Unlock()

	req := s.people[idx]
	// returning patients often type their name differently
	if rng.Intn(2) == 0 {
		req.FullName = strings.ToUpper(req.FullName)
	}
	req.DoctorID = s.doctors[rng.Intn(len(s.doctors))].ID.String()

	var resp api.BookingResponse
	start := time.Now()
	status, err := s.postJSON(ctx, "/bookings", req, &resp)
	latency := time.Since(start)
	if ctx.Err() != nil {
		return
	}

	switch {
	case err == nil && status == http.StatusCreated:
		s.bookings.Record(latency, true, false)
		s.mu.Lock()
		s.booked = append(s.booked, resp.Appointment.ID)
		if !s.seen[idx] {
			s.seen[idx] = true
			s.returning = append(s.returning, idx)
		}
		s.mu.Unlock()
		if resp.IsNewPatient {
			atomic.AddInt64(&s.newSeen, 1)
		} else {
			atomic.AddInt64(&s.retSeen, 1)
		}
	case status == http.StatusConflict:
		s.bookings.Record(latency, false, true)
	default:
		s.bookings.Record(latency, false, false)
		s.log.Warn("booking failed", "status", status, "error", err)
	}
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand) {
	s.mu.Lock()
	if len(s.booked) == 0 {
		s.mu.Unlock()
		return
	}
	i := rng.Intn(len(s.booked))
	id := s.booked[i]
	s.booked = append(s.booked[:i], s.booked[i+1:]...)
	s.mu.Unlock()

	start := time.Now()
	status, err := s.postJSON(ctx, "/appointments/"+id.String()+"/cancel", nil, nil)
	if ctx.Err() != nil {
		return
	}
	s.cancels.Record(time.Since(start), err == nil && status == http.StatusOK, status == http.StatusConflict)

	start = time.Now()
	var tasks []api.NotificationResponse
	err = s.getJSON(ctx, "/appointments/"+id.String()+"/notifications", &tasks)
	s.reads.Record(time.Since(start), err == nil, false)
}

// VerifyCalendars returns how many adjacent interval pairs overlap across
// every doctor's calendar.
func (s *Simulator) VerifyCalendars(ctx context.Context) int {
	overlaps := 0
	for _, d := range s.doctors {
		var cal api.CalendarResponse
		if err := s.getJSON(ctx, "/doctors/"+d.ID.String()+"/calendar", &cal); err != nil {
			s.log.Warn("load calendar", "doctor_id", d.ID, "error", err)
			continue
		}
		for i := 1; i < len(cal.Intervals); i++ {
			if cal.Intervals[i].Start.Before(cal.Intervals[i-1].End) {
				overlaps++
				s.log.Error("overlap", "doctor_id", d.ID,
					"prev_end", cal.Intervals[i-1].End, "next_start", cal.Intervals[i].Start)
			}
		}
	}
	return overlaps
}

func (s *Simulator) PrintReport() {
	fmt.Println(strings.Repeat("=", 60))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 60))
	printOperationReport("bookings", &s.bookings)
	printOperationReport("cancellations", &s.cancels)
	printOperationReport("notification reads", &s.reads)
	fmt.Printf("new patients: %d  returning patients: %d\n", atomic.LoadInt64(&s.newSeen), atomic.LoadInt64(&s.retSeen))
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		fmt.Printf("%-20s no operations\n", name)
		return
	}
	fmt.Printf("%-20s total=%d ok=%d conflict=%d error=%d p50=%s p95=%s\n",
		name, total,
		atomic.LoadInt64(&om.Success), atomic.LoadInt64(&om.Conflict), atomic.LoadInt64(&om.Error),
		om.Percentile(50), om.Percentile(95),
	)
}

func (s *Simulator) postJSON(ctx context.Context, path string, body, out any) (int, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return 0, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.APIBaseURL+path, &buf)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	return s.do(req, out)
}

func (s *Simulator) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.APIBaseURL+path, nil)
	if err != nil {
		return err
	}
	status, err := s.do(req, out)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("GET %s: status %d", path, status)
	}
	return nil
}

func (s *Simulator) do(req *http.Request, out any) (int, error) {
	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 || out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, nil
	}
	return resp.StatusCode, json.NewDecoder(resp.Body).Decode(out)
}
