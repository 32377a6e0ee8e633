package sync

import (
	"github.com/tonimelisma/journal-sync/internal/day"
)

// Session is the explicit context every engine operation runs against: the
// authenticated user, the date currently shown, and per-date generation
// counters. The Navigation Guard is a set of equality checks against it.
// Callers hold the Coordinator's lock while touching a Session.
type Session struct {
	UserID string
	Active day.Date

	fetchGen map[day.Date]uint64
	editGen  map[day.Date]uint64
}

// NewSession returns a Session for userID with no active date.
func NewSession(userID string) *Session {
	return &Session{
		UserID:   userID,
		fetchGen: make(map[day.Date]uint64),
		editGen:  make(map[day.Date]uint64),
	}
}

// ticket captures what an asynchronous operation was issued for.
type ticket struct {
	userID string
	date   day.Date
	gen    uint64
}

// Key returns the document key the ticket addresses.
func (t ticket) Key() day.Key {
	return day.NewKey(t.userID, t.date)
}

// issueFetch starts a new fetch generation for d. Earlier fetch tickets for
// d stop being admitted.
func (s *Session) issueFetch(d day.Date) ticket {
	s.fetchGen[d]++
	return ticket{userID: s.UserID, date: d, gen: s.fetchGen[d]}
}

// issueEdit starts a new edit generation for d.
func (s *Session) issueEdit(d day.Date) ticket {
	s.editGen[d]++
	return ticket{userID: s.UserID, date: d, gen: s.editGen[d]}
}

// admitFetch reports whether a fetch result may be applied: same user, the
// date is still active, and no newer fetch was issued for it.
func (s *Session) admitFetch(t ticket) bool {
	return t.userID == s.UserID && t.date == s.Active && t.gen == s.fetchGen[t.date]
}

// latestEdit reports whether t is the most recent edit of its date. A
// completed flush of an older edit must not overwrite newer local state.
func (s *Session) latestEdit(t ticket) bool {
	return t.userID == s.UserID && t.gen == s.editGen[t.date]
}

// admitView reports whether a result for t's date may reach the view of the
// active document.
func (s *Session) admitView(t ticket) bool {
	return t.userID == s.UserID && t.date == s.Active
}
