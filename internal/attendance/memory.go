package attendance

import (
	"context"
	"sort"
	"sync"
	"time"

	"rollcall/internal/session"
)

// MemoryRepository is an in-memory RecordStore and Roster for tests and
// local development. It enforces the same uniqueness contract as the
// Postgres schema, holding its lock across check and insert so the
// concurrency properties can be exercised without a database.
type MemoryRepository struct {
	sessions session.Store

	mu       sync.Mutex
	records  map[string]Record // key: sessionID + "/" + studentID
	locks    []DeviceLock
	students map[string]Student // key: enrollment_no
	classes  map[string]Class   // key: class_name
}

// NewMemoryRepository creates an empty repository. Date-keyed queries
// resolve session days through the given session store.
func NewMemoryRepository(sessions session.Store) *MemoryRepository {
	return &MemoryRepository{
		sessions: sessions,
		records:  make(map[string]Record),
		students: make(map[string]Student),
		classes:  make(map[string]Class),
	}
}

// UpsertClass stores a class row.
func (m *MemoryRepository) UpsertClass(cls Class) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.classes[cls.ClassName] = cls
}

// ClassByName returns the class row, or nil.
func (m *MemoryRepository) ClassByName(ctx context.Context, name string) (*Class, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cls, ok := m.classes[name]; ok {
		return &cls, nil
	}
	return nil, nil
}

func recordKey(sessionID, studentID string) string { return sessionID + "/" + studentID }

// Insert applies the record and lock atomically under the repository lock.
func (m *MemoryRepository) Insert(ctx context.Context, rec Record, lock *DeviceLock) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := recordKey(rec.SessionID, rec.StudentID)
	if _, exists := m.records[key]; exists {
		return Record{}, ErrDuplicateRecord
	}
	if lock != nil {
		for _, l := range m.locks {
			if l.SessionID != lock.SessionID {
				continue
			}
			if l.Fingerprint == lock.Fingerprint && l.StudentID != lock.StudentID {
				return Record{}, ErrFingerprintTaken
			}
			if l.StudentID == lock.StudentID && l.Fingerprint != lock.Fingerprint {
				return Record{}, ErrStudentDeviceBound
			}
		}
		m.locks = append(m.locks, *lock)
	}
	m.records[key] = rec
	return rec, nil
}

// FindBySessionStudent returns the stored record, or nil.
func (m *MemoryRepository) FindBySessionStudent(ctx context.Context, sessionID, studentID string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.records[recordKey(sessionID, studentID)]; ok {
		return &rec, nil
	}
	return nil, nil
}

// LockByFingerprint returns the session lock holding the fingerprint, or nil.
func (m *MemoryRepository) LockByFingerprint(ctx context.Context, sessionID, fingerprint string) (*DeviceLock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.locks {
		if l.SessionID == sessionID && l.Fingerprint == fingerprint {
			copied := l
			return &copied, nil
		}
	}
	return nil, nil
}

// LockByStudent returns the student's session lock, or nil.
func (m *MemoryRepository) LockByStudent(ctx context.Context, sessionID, studentID string) (*DeviceLock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.locks {
		if l.SessionID == sessionID && l.StudentID == studentID {
			copied := l
			return &copied, nil
		}
	}
	return nil, nil
}

// ListBySession returns the present list joined with roster entries.
func (m *MemoryRepository) ListBySession(ctx context.Context, sessionID string) ([]PresentEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	byID := make(map[string]Student, len(m.students))
	for _, st := range m.students {
		byID[st.ID] = st
	}
	var res []PresentEntry
	for _, rec := range m.records {
		if rec.SessionID != sessionID {
			continue
		}
		st := byID[rec.StudentID]
		res = append(res, PresentEntry{
			EnrollmentNo: st.EnrollmentNo,
			Name:         st.Name,
			MarkedAt:     rec.MarkedAt,
			Latitude:     rec.Latitude,
			Longitude:    rec.Longitude,
		})
	}
	sort.Slice(res, func(i, j int) bool { return res[i].MarkedAt.Before(res[j].MarkedAt) })
	return res, nil
}

// PresentStudentIDs returns students recorded on the class day.
func (m *MemoryRepository) PresentStudentIDs(ctx context.Context, classID string, day time.Time) (map[string]bool, error) {
	ids, err := m.daySessionIDs(ctx, classID, day)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	present := make(map[string]bool)
	for _, rec := range m.records {
		if ids[rec.SessionID] {
			present[rec.StudentID] = true
		}
	}
	return present, nil
}

// AttendanceDays returns the distinct UTC days with sessions, oldest first.
func (m *MemoryRepository) AttendanceDays(ctx context.Context, classID string) ([]time.Time, error) {
	sessions, err := m.sessions.List(ctx, classID)
	if err != nil {
		return nil, err
	}
	seen := make(map[time.Time]bool)
	var days []time.Time
	for _, sess := range sessions {
		day := truncateDay(sess.StartTime)
		if !seen[day] {
			seen[day] = true
			days = append(days, day)
		}
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })
	return days, nil
}

// DeleteByDateStudent removes the student's records for the class day.
func (m *MemoryRepository) DeleteByDateStudent(ctx context.Context, classID string, day time.Time, studentID string) error {
	ids, err := m.daySessionIDs(ctx, classID, day)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, rec := range m.records {
		if ids[rec.SessionID] && rec.StudentID == studentID {
			delete(m.records, key)
		}
	}
	return nil
}

// DeleteAllForDate removes every record and lock for the class day.
func (m *MemoryRepository) DeleteAllForDate(ctx context.Context, classID string, day time.Time) (int64, error) {
	ids, err := m.daySessionIDs(ctx, classID, day)
	if err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var deleted int64
	for key, rec := range m.records {
		if ids[rec.SessionID] {
			delete(m.records, key)
			deleted++
		}
	}
	kept := m.locks[:0]
	for _, l := range m.locks {
		if !ids[l.SessionID] {
			kept = append(kept, l)
		}
	}
	m.locks = kept
	return deleted, nil
}

// StudentByEnrollment returns the roster entry, or nil.
func (m *MemoryRepository) StudentByEnrollment(ctx context.Context, enrollmentNo string) (*Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.students[enrollmentNo]; ok {
		return &st, nil
	}
	return nil, nil
}

// Students returns the roster ordered by enrollment number.
func (m *MemoryRepository) Students(ctx context.Context) ([]Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := make([]Student, 0, len(m.students))
	for _, st := range m.students {
		res = append(res, st)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].EnrollmentNo < res[j].EnrollmentNo })
	return res, nil
}

// UpsertStudent creates or refreshes a roster entry.
func (m *MemoryRepository) UpsertStudent(ctx context.Context, st Student) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.students[st.EnrollmentNo]; ok {
		st.ID = existing.ID
	}
	m.students[st.EnrollmentNo] = st
	return nil
}

func (m *MemoryRepository) daySessionIDs(ctx context.Context, classID string, day time.Time) (map[string]bool, error) {
	sessions, err := m.sessions.List(ctx, classID)
	if err != nil {
		return nil, err
	}
	want := truncateDay(day)
	ids := make(map[string]bool)
	for _, sess := range sessions {
		if truncateDay(sess.StartTime).Equal(want) {
			ids[sess.ID] = true
		}
	}
	return ids, nil
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
