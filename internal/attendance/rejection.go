package attendance

import "fmt"

// RejectCode identifies why a submission did not produce a record. All of
// these are expected, user-facing outcomes: the caller maps them to a
// response, never to a 5xx.
type RejectCode string

const (
	RejectSessionNotFound       RejectCode = "session_not_found"
	RejectSessionExpired        RejectCode = "session_expired"
	RejectStudentNotFound       RejectCode = "student_not_found"
	RejectAlreadyMarked         RejectCode = "already_marked"
	RejectOutOfRange            RejectCode = "out_of_range"
	RejectDeviceAlreadyUsed     RejectCode = "device_already_used"
	RejectStudentDeviceMismatch RejectCode = "student_device_mismatch"
)

// Rejection is a typed, recoverable validation outcome. DistanceMeters is
// populated only for out-of-range rejections so the student sees how far
// away they were.
type Rejection struct {
	Code           RejectCode `json:"code"`
	Message        string     `json:"message"`
	DistanceMeters float64    `json:"distance_meters,omitempty"`
}

func (r *Rejection) Error() string { return r.Message }

func reject(code RejectCode, format string, args ...any) *Rejection {
	return &Rejection{Code: code, Message: fmt.Sprintf(format, args...)}
}
