package queue

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/clinicdesk/frontdesk-core/internal/model"
)

func entryAt(number int, priority model.Priority, severity model.Severity, status model.QueueStatus, arrival time.Time) model.QueueEntry {
	return model.QueueEntry{
		ID:          uuid.New(),
		PatientID:   uuid.New(),
		QueueNumber: number,
		Day:         arrival.Format(model.DayLayout),
		Priority:    priority,
		Severity:    severity,
		Status:      status,
		ArrivalTime: arrival,
	}
}

func TestOrderBands(t *testing.T) {
	base := time.Date(2026, 8, 28, 8, 0, 0, 0, time.UTC)

	normal := entryAt(1, model.PriorityNormal, "", model.QueueWaiting, base)
	urgent := entryAt(2, model.PriorityUrgent, "", model.QueueWaiting, base.Add(10*time.Minute))
	emergency := entryAt(3, model.PriorityEmergency, model.SeverityLessUrgent, model.QueueWaiting, base.Add(20*time.Minute))

	got := Order([]model.QueueEntry{normal, urgent, emergency})
	want := []uuid.UUID{emergency.ID, urgent.ID, normal.ID}
	for i, id := range want {
		if got[i].ID != id {
			t.Fatalf("position %d = entry #%d, want band order emergency, urgent, normal", i, got[i].QueueNumber)
		}
	}
}

func TestOrderSeverityWithinEmergencyBand(t *testing.T) {
	base := time.Date(2026, 8, 28, 8, 0, 0, 0, time.UTC)

	// Later-arriving critical outranks earlier less-urgent.
	lessUrgent := entryAt(1, model.PriorityEmergency, model.SeverityLessUrgent, model.QueueWaiting, base)
	critical := entryAt(2, model.PriorityEmergency, model.SeverityCritical, model.QueueWaiting, base.Add(30*time.Minute))

	got := Order([]model.QueueEntry{lessUrgent, critical})
	if got[0].ID != critical.ID {
		t.Error("critical severity must be served before less-urgent regardless of arrival")
	}
}

func TestOrderArrivalWithinBand(t *testing.T) {
	base := time.Date(2026, 8, 28, 8, 0, 0, 0, time.UTC)

	second := entryAt(5, model.PriorityNormal, "", model.QueueWaiting, base.Add(15*time.Minute))
	first := entryAt(6, model.PriorityNormal, "", model.QueueWaiting, base)

	got := Order([]model.QueueEntry{second, first})
	if got[0].ID != first.ID {
		t.Error("earlier arrival must be served first within a band")
	}
}

func TestOrderQueueNumberTieBreak(t *testing.T) {
	arrival := time.Date(2026, 8, 28, 8, 0, 0, 0, time.UTC)

	seven := entryAt(7, model.PriorityNormal, "", model.QueueWaiting, arrival)
	three := entryAt(3, model.PriorityNormal, "", model.QueueWaiting, arrival)

	got := Order([]model.QueueEntry{seven, three})
	if got[0].QueueNumber != 3 {
		t.Errorf("tie broken to #%d, want lower queue number first", got[0].QueueNumber)
	}
}

func TestOrderExcludesNonWaiting(t *testing.T) {
	base := time.Date(2026, 8, 28, 8, 0, 0, 0, time.UTC)

	waiting := entryAt(1, model.PriorityNormal, "", model.QueueWaiting, base)
	inRoom := entryAt(2, model.PriorityEmergency, model.SeverityCritical, model.QueueWithDoctor, base)
	done := entryAt(3, model.PriorityNormal, "", model.QueueCompleted, base)
	gone := entryAt(4, model.PriorityNormal, "", model.QueueNoShow, base)

	got := Order([]model.QueueEntry{waiting, inRoom, done, gone})
	if len(got) != 1 || got[0].ID != waiting.ID {
		t.Fatalf("got %d entries, want only the waiting one", len(got))
	}
}

// An emergency arriving mid-morning jumps ahead of every waiting normal
// entry but never preempts the patient already with the doctor.
func TestOrderEmergencyArrivalDoesNotPreempt(t *testing.T) {
	base := time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC)

	beingSeen := entryAt(1, model.PriorityNormal, "", model.QueueWithDoctor, base)
	waitingA := entryAt(2, model.PriorityNormal, "", model.QueueWaiting, base.Add(5*time.Minute))
	waitingB := entryAt(3, model.PriorityNormal, "", model.QueueWaiting, base.Add(10*time.Minute))
	emergency := entryAt(4, model.PriorityEmergency, model.SeverityCritical, model.QueueWaiting, base.Add(45*time.Minute))

	got := Order([]model.QueueEntry{beingSeen, waitingA, waitingB, emergency})
	if len(got) != 3 {
		t.Fatalf("got %d waiting entries, want 3", len(got))
	}
	if got[0].ID != emergency.ID {
		t.Error("emergency must head the waiting order")
	}
	if got[1].ID != waitingA.ID || got[2].ID != waitingB.ID {
		t.Error("normal entries must keep their arrival order behind the emergency")
	}

	next, ok := Next([]model.QueueEntry{beingSeen, waitingA, waitingB, emergency})
	if !ok || next.ID != emergency.ID {
		t.Error("Next must return the emergency entry")
	}
}

func TestNextEmpty(t *testing.T) {
	if _, ok := Next(nil); ok {
		t.Error("Next over no entries must report none")
	}
}

func TestOrderIsPure(t *testing.T) {
	base := time.Date(2026, 8, 28, 8, 0, 0, 0, time.UTC)
	in := []model.QueueEntry{
		entryAt(2, model.PriorityNormal, "", model.QueueWaiting, base.Add(time.Minute)),
		entryAt(1, model.PriorityNormal, "", model.QueueWaiting, base),
	}
	_ = Order(in)
	if in[0].QueueNumber != 2 {
		t.Error("Order must not mutate its input")
	}
}
