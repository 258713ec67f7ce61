package queue

import (
	"sort"

	"github.com/clinicdesk/frontdesk-core/internal/model"
)

// Order computes the serving order over the waiting entries in entries:
// ascending by (priority band, severity rank, arrival time), with the queue
// number as a final deterministic tie-break. Entries already with a doctor
// are never reordered or preempted; they and all terminal entries are
// excluded from the result. Order is pure and holds no state, so any client
// may call it for local display.
func Order(entries []model.QueueEntry) []model.QueueEntry {
	waiting := make([]model.QueueEntry, 0, len(entries))
	for _, e := range entries {
		if e.Status == model.QueueWaiting {
			waiting = append(waiting, e)
		}
	}
	sort.SliceStable(waiting, func(i, j int) bool {
		a, b := waiting[i], waiting[j]
		if ba, bb := a.Priority.Band(), b.Priority.Band(); ba != bb {
			return ba < bb
		}
		if ra, rb := severityRank(a), severityRank(b); ra != rb {
			return ra < rb
		}
		if !a.ArrivalTime.Equal(b.ArrivalTime) {
			return a.ArrivalTime.Before(b.ArrivalTime)
		}
		return a.QueueNumber < b.QueueNumber
	})
	return waiting
}

// Next returns the entry to be served next, if any.
func Next(entries []model.QueueEntry) (model.QueueEntry, bool) {
	ordered := Order(entries)
	if len(ordered) == 0 {
		return model.QueueEntry{}, false
	}
	return ordered[0], true
}

// severityRank is only meaningful inside the emergency band; everything
// else sorts as rank zero so arrival time decides.
func severityRank(e model.QueueEntry) int {
	if e.Priority != model.PriorityEmergency {
		return 0
	}
	return e.Severity.Rank()
}
