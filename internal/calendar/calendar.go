// Package calendar keeps the public agenda in step with the clinic catalog.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("calendar: event not found")

// Event is a calendar entry as the backend stores it. AllDay events carry
// only the Start date.
type Event struct {
	Ref      string
	Title    string
	Location string
	Start    time.Time
	End      time.Time
	AllDay   bool
}

// Service is the calendar backend.
type Service interface {
	CreateEvent(ctx context.Context, ev Event) (ref string, err error)
	UpdateEvent(ctx context.Context, ev Event) error
	EventByRef(ctx context.Context, ref string) (Event, error)
}

const defaultDurationHours = 3

var (
	timeRangeRe  = regexp.MustCompile(`(\d{1,2})[:.]?(\d{2})?\s*-\s*(\d{1,2})[:.]?(\d{2})?`)
	singleTimeRe = regexp.MustCompile(`(\d{1,2})[:.]?(\d{2})`)
)

// EventTitle builds the agenda title for a clinic at the given location
// with the given number of booked seats.
func EventTitle(location string, bookedSeats int) string {
	var suffix string
	switch {
	case bookedSeats <= 0:
		suffix = fmt.Sprintf("%s (OPTIE - nog geen deelnemers)", location)
	case bookedSeats == 1:
		suffix = fmt.Sprintf("%s (1 deelnemer)", location)
	default:
		suffix = fmt.Sprintf("%s (%d deelnemers)", location, bookedSeats)
	}
	return "Thermoclinic op/bij " + suffix
}

// EventWindow resolves the start and end of an event from the clinic date
// and its free-form time cell. A range like "10:00-13:00" is taken as is,
// with an end before the start rolling over to the next day. A single time
// gets a three hour default duration. Anything else becomes an all-day
// event on the clinic date.
func EventWindow(date time.Time, timeCell string) (start, end time.Time, allDay bool) {
	if timeCell == "" {
		return date, date, true
	}
	if m := timeRangeRe.FindStringSubmatch(timeCell); m != nil {
		start = at(date, m[1], m[2])
		end = at(date, m[3], m[4])
		if end.Before(start) {
			end = end.AddDate(0, 0, 1)
		}
		return start, end, false
	}
	if m := singleTimeRe.FindStringSubmatch(timeCell); m != nil {
		start = at(date, m[1], m[2])
		return start, start.Add(defaultDurationHours * time.Hour), false
	}
	return date, date, true
}

func at(date time.Time, hour, minute string) time.Time {
	h, _ := strconv.Atoi(hour)
	m := 0
	if minute != "" {
		m, _ = strconv.Atoi(minute)
	}
	return time.Date(date.Year(), date.Month(), date.Day(), h, m, 0, 0, date.Location())
}

// MemService is an in-memory Service for tests and local runs.
type MemService struct {
	mu     sync.Mutex
	events map[string]Event
}

func NewMemService() *MemService {
	return &MemService{events: make(map[string]Event)}
}

func (m *MemService) CreateEvent(_ context.Context, ev Event) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev.Ref = uuid.NewString()
	m.events[ev.Ref] = ev
	return ev.Ref, nil
}

func (m *MemService) UpdateEvent(_ context.Context, ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.events[ev.Ref]; !ok {
		return ErrNotFound
	}
	m.events[ev.Ref] = ev
	return nil
}

func (m *MemService) EventByRef(_ context.Context, ref string) (Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.events[ref]
	if !ok {
		return Event{}, ErrNotFound
	}
	return ev, nil
}
