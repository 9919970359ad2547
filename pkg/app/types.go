package app

import (
	"errors"
	"fmt"
	"time"
)

// Target narrows a query command to a single volume, LEB, or inode within
// the image under analysis.
type Target struct {
	VolumeID   uint32
	VolumeName string
	LEB        int64
	Inode      uint64
	HasLEB     bool
	HasInode   bool
}

// Validate ensures the target is unambiguous.
func (t *Target) Validate() error {
	if t.VolumeID != 0 && t.VolumeName != "" {
		return errors.New("cannot specify both --volume-id and --volume-name")
	}
	return nil
}

// IsEmpty returns true if no target is specified.
func (t *Target) IsEmpty() bool {
	return t.VolumeID == 0 && t.VolumeName == "" && !t.HasLEB && !t.HasInode
}

// String returns a human-readable description of the target.
func (t *Target) String() string {
	switch {
	case t.VolumeName != "":
		return "volume " + t.VolumeName
	case t.VolumeID != 0:
		return fmt.Sprintf("volume id %d", t.VolumeID)
	case t.HasInode:
		return fmt.Sprintf("inode %d", t.Inode)
	case t.HasLEB:
		return fmt.Sprintf("leb %d", t.LEB)
	default:
		return "all"
	}
}

// ProgressUpdate reports incremental scan/parse progress to the CLI layer.
type ProgressUpdate struct {
	Message     string
	Completed   int64
	Total       int64
	StartedAt   time.Time
	ElapsedTime time.Duration
}

// Percent calculates completion percentage.
func (p *ProgressUpdate) Percent() int {
	if p.Total == 0 {
		return 0
	}
	return int((p.Completed * 100) / p.Total)
}

// Rate calculates items per second.
func (p *ProgressUpdate) Rate() float64 {
	if p.ElapsedTime == 0 {
		return 0
	}
	return float64(p.Completed) / p.ElapsedTime.Seconds()
}

// ETA estimates time to completion.
func (p *ProgressUpdate) ETA() time.Duration {
	if p.Completed == 0 || p.Total == 0 {
		return 0
	}
	rate := p.Rate()
	if rate == 0 {
		return 0
	}
	remaining := p.Total - p.Completed
	return time.Duration(float64(remaining)/rate) * time.Second
}

// ErrorClass is the five-way error taxonomy every command's failures are
// mapped onto: arguments the user gave us, geometry we couldn't resolve,
// on-disk structures that failed validation, payloads that failed to
// decode, and everything else.
type ErrorClass int

const (
	ClassInput ErrorClass = iota
	ClassGeometry
	ClassIntegrity
	ClassDecoding
	ClassUnrecoverable
)

func (c ErrorClass) String() string {
	switch c {
	case ClassInput:
		return "input"
	case ClassGeometry:
		return "geometry"
	case ClassIntegrity:
		return "integrity"
	case ClassDecoding:
		return "decoding"
	default:
		return "unrecoverable"
	}
}

// Error is the error type cmd/ wraps failures in, tagged with an
// ErrorClass that ClassOf recovers without string-matching messages. The
// internal packages return plain errors, and cmd/ exits with status 1
// whatever the class.
type Error struct {
	Class   ErrorClass
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Class, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Class, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// InputError wraps a user-supplied argument problem (bad path, conflicting
// flags, unparsable target).
func InputError(message string, cause error) *Error {
	return &Error{Class: ClassInput, Message: message, Cause: cause}
}

// GeometryError wraps a failure to resolve PEB size, min I/O size, or
// partition boundaries.
func GeometryError(message string, cause error) *Error {
	return &Error{Class: ClassGeometry, Message: message, Cause: cause}
}

// IntegrityError wraps a structural validation failure: bad magic, CRC
// mismatch, malformed field that invalidates a header or node.
func IntegrityError(message string, cause error) *Error {
	return &Error{Class: ClassIntegrity, Message: message, Cause: cause}
}

// DecodingError wraps a failure to decompress or otherwise transform a
// node's payload into usable bytes.
func DecodingError(message string, cause error) *Error {
	return &Error{Class: ClassDecoding, Message: message, Cause: cause}
}

// UnrecoverableError wraps anything that does not fit the other four
// classes — I/O failures, out-of-memory, programmer error surfaced safely.
func UnrecoverableError(message string, cause error) *Error {
	return &Error{Class: ClassUnrecoverable, Message: message, Cause: cause}
}

// ClassOf extracts the ErrorClass from err if it (or something it wraps)
// is an *Error, defaulting to ClassUnrecoverable otherwise.
func ClassOf(err error) ErrorClass {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Class
	}
	return ClassUnrecoverable
}
