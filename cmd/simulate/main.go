// simulate runs several in-process front-desk "terminals" against one
// shared store and reports whether they converge on the same state while
// racing intakes, transitions, bookings and moves.
package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicdesk/frontdesk-core/internal/broadcast"
	"github.com/clinicdesk/frontdesk-core/internal/calendar"
	"github.com/clinicdesk/frontdesk-core/internal/model"
	"github.com/clinicdesk/frontdesk-core/internal/queue"
	"github.com/clinicdesk/frontdesk-core/internal/store"
	"github.com/clinicdesk/frontdesk-core/internal/store/memory"
)

type SimConfig struct {
	Terminals int
	Duration  time.Duration
	Patients  int
	Doctors   int
}

type OperationMetrics struct {
	Total    int64
	Success  int64
	Conflict int64
	Error    int64

	mu        sync.Mutex
	latencies []time.Duration
}

func (om *OperationMetrics) Record(latency time.Duration, err error) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case err == nil:
		atomic.AddInt64(&om.Success, 1)
	case isConflict(err):
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.latencies = append(om.latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()
	if len(om.latencies) == 0 {
		return 0, 0
	}
	sorted := make([]time.Duration, len(om.latencies))
	copy(sorted, om.latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum time.Duration
	for _, l := range sorted {
		sum += l
	}
	avg = sum / time.Duration(len(sorted))
	idx := len(sorted) * 95 / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return avg, sorted[idx]
}

func isConflict(err error) bool {
	var slot *calendar.ConflictError
	return errors.As(err, &slot) ||
		errors.Is(err, store.ErrStaleSequence) ||
		errors.Is(err, queue.ErrAlreadyQueued) ||
		errors.Is(err, queue.ErrInvalidTransition)
}

type Metrics struct {
	CheckIn    OperationMetrics
	Transition OperationMetrics
	Book       OperationMetrics
	Move       OperationMetrics
	Emergency  OperationMetrics
}

// terminal is one simulated front-desk client: its own broadcaster and
// service handles over the shared store.
type terminal struct {
	id       int
	bus      *broadcast.Broadcaster
	queue    *queue.Service
	calendar *calendar.Service
	unsubs   []func()
}

func newTerminal(id int, st *memory.Store, log zerolog.Logger) *terminal {
	bus := broadcast.New(log.With().Int("terminal", id).Logger())
	t := &terminal{
		id:       id,
		bus:      bus,
		queue:    queue.NewService(st, bus, log.With().Int("terminal", id).Str("component", "queue").Logger()),
		calendar: calendar.NewService(st, bus, log.With().Int("terminal", id).Str("component", "calendar").Logger()),
	}
	for _, et := range model.EntityTypes {
		t.unsubs = append(t.unsubs, st.Subscribe(et, func(ev model.ChangeEvent) { bus.Receive(ev) }))
	}
	return t
}

func (t *terminal) close() {
	for _, u := range t.unsubs {
		u()
	}
}

type Simulator struct {
	cfg       SimConfig
	st        *memory.Store
	terminals []*terminal
	metrics   Metrics
	log       zerolog.Logger

	mu         sync.RWMutex
	patientIDs []uuid.UUID
	doctorIDs  []uuid.UUID
	entryIDs   []uuid.UUID
	apptIDs    []uuid.UUID
}

func main() {
	log := zerolog.New(os.Stderr).With().Timestamp().Str("service", "simulate").Logger()
	if os.Getenv("SIM_VERBOSE") == "" {
		log = log.Level(zerolog.WarnLevel)
	}

	cfg := loadConfig()
	gofakeit.Seed(time.Now().UnixNano())

	sim := &Simulator{
		cfg: cfg,
		st:  memory.New(),
		log: log,
	}
	for i := 0; i < cfg.Terminals; i++ {
		sim.terminals = append(sim.terminals, newTerminal(i, sim.st, log))
	}
	defer func() {
		for _, t := range sim.terminals {
			t.close()
		}
	}()

	if err := sim.seed(); err != nil {
		fmt.Fprintf(os.Stderr, "seed failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("simulating %d terminals for %s\n", cfg.Terminals, cfg.Duration)
	sim.Run()
	sim.PrintReport()
	if !sim.CheckInvariants() {
		os.Exit(1)
	}
}

func loadConfig() SimConfig {
	return SimConfig{
		Terminals: getInt("SIM_TERMINALS", 4),
		Duration:  getDuration("SIM_DURATION", 5*time.Second),
		Patients:  getInt("SIM_PATIENTS", 200),
		Doctors:   getInt("SIM_DOCTORS", 8),
	}
}

func (s *Simulator) seed() error {
	ctx := context.Background()
	svc := s.terminals[0].queue
	for i := 0; i < s.cfg.Patients; i++ {
		p, err := svc.RegisterPatient(ctx, gofakeit.Name(), gofakeit.Phone(), nil, nil)
		if err != nil {
			return err
		}
		s.patientIDs = append(s.patientIDs, p.ID)
	}
	for i := 0; i < s.cfg.Doctors; i++ {
		d, err := model.NewDoctor(gofakeit.Name(), []string{"General Practice"}, gofakeit.City(), time.Now())
		if err != nil {
			return err
		}
		created, err := s.st.InsertDoctor(ctx, d)
		if err != nil {
			return err
		}
		s.doctorIDs = append(s.doctorIDs, created.ID)
	}
	return nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Duration)
	defer cancel()

	var wg sync.WaitGroup
	for _, t := range s.terminals {
		wg.Add(1)
		go func(t *terminal) {
			defer wg.Done()
			s.worker(ctx, t)
		}(t)
	}
	wg.Wait()
}

func (s *Simulator) worker(ctx context.Context, t *terminal) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(t.id)))
	for ctx.Err() == nil {
		switch roll := rng.Float64(); {
		case roll < 0.25:
			s.doCheckIn(ctx, t, rng)
		case roll < 0.30:
			s.doEmergency(ctx, t, rng)
		case roll < 0.55:
			s.doTransition(ctx, t, rng)
		case roll < 0.80:
			s.doBook(ctx, t, rng)
		default:
			s.doMove(ctx, t, rng)
		}
	}
}

func (s *Simulator) doCheckIn(ctx context.Context, t *terminal, rng *rand.Rand) {
	patientID, ok := s.randomID(rng, &s.patientIDs)
	if !ok {
		return
	}
	doctorID, _ := s.randomID(rng, &s.doctorIDs)

	start := time.Now()
	entry, err := t.queue.CheckIn(ctx, queue.CheckInInput{
		PatientID: patientID,
		DoctorID:  &doctorID,
		Priority:  model.PriorityNormal,
	})
	s.metrics.CheckIn.Record(time.Since(start), err)
	if err == nil {
		s.addID(&s.entryIDs, entry.ID)
	}
}

func (s *Simulator) doEmergency(ctx context.Context, t *terminal, rng *rand.Rand) {
	patientID, ok := s.randomID(rng, &s.patientIDs)
	if !ok {
		return
	}
	severities := []model.Severity{model.SeverityCritical, model.SeverityUrgent, model.SeveritySemiUrgent, model.SeverityLessUrgent}

	start := time.Now()
	_, entry, err := t.queue.EmergencyIntake(ctx, queue.EmergencyIntakeInput{
		PatientID:      patientID,
		Severity:       severities[rng.Intn(len(severities))],
		ChiefComplaint: gofakeit.Sentence(4),
	})
	s.metrics.Emergency.Record(time.Since(start), err)
	if err == nil {
		s.addID(&s.entryIDs, entry.ID)
	}
}

func (s *Simulator) doTransition(ctx context.Context, t *terminal, rng *rand.Rand) {
	entryID, ok := s.randomID(rng, &s.entryIDs)
	if !ok {
		return
	}
	targets := []model.QueueStatus{model.QueueWithDoctor, model.QueueCompleted, model.QueueCancelled}
	target := targets[rng.Intn(len(targets))]

	start := time.Now()
	_, err := t.queue.Transition(ctx, entryID, target, fmt.Sprintf("terminal-%d", t.id))
	s.metrics.Transition.Record(time.Since(start), err)
}

func (s *Simulator) doBook(ctx context.Context, t *terminal, rng *rand.Rand) {
	patientID, ok := s.randomID(rng, &s.patientIDs)
	if !ok {
		return
	}
	doctorID, ok := s.randomID(rng, &s.doctorIDs)
	if !ok {
		return
	}
	date := time.Now().AddDate(0, 0, rng.Intn(5)).Format(model.DayLayout)
	slot := 9*60 + model.SlotMinutes*rng.Intn(32)

	start := time.Now()
	appt, err := t.calendar.Create(ctx, calendar.CreateInput{
		PatientID:       patientID,
		DoctorID:        doctorID,
		Date:            date,
		Time:            fmt.Sprintf("%02d:%02d", slot/60, slot%60),
		DurationMinutes: model.SlotMinutes * (1 + rng.Intn(2)),
		Type:            "consultation",
	})
	s.metrics.Book.Record(time.Since(start), err)
	if err == nil {
		s.addID(&s.apptIDs, appt.ID)
	}
}

func (s *Simulator) doMove(ctx context.Context, t *terminal, rng *rand.Rand) {
	apptID, ok := s.randomID(rng, &s.apptIDs)
	if !ok {
		return
	}
	date := time.Now().AddDate(0, 0, rng.Intn(5)).Format(model.DayLayout)
	slot := 9*60 + model.SlotMinutes*rng.Intn(32)

	start := time.Now()
	_, err := t.calendar.Move(ctx, apptID, calendar.MoveInput{
		Date: date,
		Time: fmt.Sprintf("%02d:%02d", slot/60, slot%60),
	})
	s.metrics.Move.Record(time.Since(start), err)
}

func (s *Simulator) randomID(rng *rand.Rand, ids *[]uuid.UUID) (uuid.UUID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(*ids) == 0 {
		return uuid.Nil, false
	}
	return (*ids)[rng.Intn(len(*ids))], true
}

func (s *Simulator) addID(ids *[]uuid.UUID, id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	*ids = append(*ids, id)
}

func (s *Simulator) PrintReport() {
	fmt.Println()
	printOperationReport("check-in", &s.metrics.CheckIn)
	printOperationReport("emergency", &s.metrics.Emergency)
	printOperationReport("transition", &s.metrics.Transition)
	printOperationReport("book", &s.metrics.Book)
	printOperationReport("move", &s.metrics.Move)
}

func printOperationReport(name string, om *OperationMetrics) {
	avg, p95 := om.Stats()
	fmt.Printf("%-12s total=%-7d success=%-7d conflict=%-7d error=%-5d avg=%-10s p95=%s\n",
		name, om.Total, om.Success, om.Conflict, om.Error, avg, p95)
}

// CheckInvariants verifies after the run that the shared state still holds
// the core guarantees and that every terminal converged on it.
func (s *Simulator) CheckInvariants() bool {
	ctx := context.Background()
	ok := true

	entries, err := s.st.ListQueueEntries(ctx, store.QueueFilter{})
	if err != nil {
		fmt.Printf("INVARIANT CHECK FAILED: list entries: %v\n", err)
		return false
	}

	// Queue numbers unique per day.
	seen := make(map[string]uuid.UUID)
	for _, e := range entries {
		key := e.Day + "#" + strconv.Itoa(e.QueueNumber)
		if other, dup := seen[key]; dup {
			fmt.Printf("VIOLATION: queue number %s shared by %s and %s\n", key, other, e.ID)
			ok = false
		}
		seen[key] = e.ID
	}

	// At most one active entry per patient per day.
	active := make(map[string]uuid.UUID)
	for _, e := range entries {
		if !e.Status.Active() {
			continue
		}
		key := e.Day + "#" + e.PatientID.String()
		if other, dup := active[key]; dup {
			fmt.Printf("VIOLATION: patient %s has active entries %s and %s\n", e.PatientID, other, e.ID)
			ok = false
		}
		active[key] = e.ID
	}

	// No overlapping non-cancelled appointments per doctor per date.
	appts, err := s.st.ListAppointments(ctx, store.AppointmentFilter{})
	if err != nil {
		fmt.Printf("INVARIANT CHECK FAILED: list appointments: %v\n", err)
		return false
	}
	byDoctorDay := make(map[string][]model.Appointment)
	for _, a := range appts {
		if a.Status == model.AppointmentCancelled {
			continue
		}
		key := a.DoctorID.String() + "|" + a.Date
		byDoctorDay[key] = append(byDoctorDay[key], a)
	}
	for key, group := range byDoctorDay {
		for i := 0; i < len(group); i++ {
			for j := i + 1; j < len(group); j++ {
				aStart, aEnd := group[i].Interval()
				bStart, bEnd := group[j].Interval()
				if model.Overlaps(aStart, aEnd, bStart, bEnd) {
					fmt.Printf("VIOLATION: overlap on %s between %s and %s\n", key, group[i].ID, group[j].ID)
					ok = false
				}
			}
		}
	}

	// Every terminal's local cache at the store's sequence.
	for _, e := range entries {
		for _, t := range s.terminals {
			_, seq, found := t.bus.Snapshot(model.EntityQueue, e.ID)
			if !found || seq != e.Sequence {
				fmt.Printf("VIOLATION: terminal %d at seq %d for entry %s, store at %d\n", t.id, seq, e.ID, e.Sequence)
				ok = false
			}
		}
	}

	if ok {
		fmt.Println("\nall invariants hold, terminals converged")
	}
	return ok
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
