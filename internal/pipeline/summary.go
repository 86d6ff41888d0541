package pipeline

import "fmt"

// Failure pairs a failed unit with the reason it failed.
type Failure struct {
	UnitID string
	Reason string
}

// Summary is the accounting of one sync run.
//
// Submitted = Succeeded + FailedEmpty + FailedError once the run drains.
// RecordsWritten counts only rows that actually landed in the store.
type Summary struct {
	Submitted      int
	Succeeded      int
	FailedEmpty    int
	FailedError    int
	RecordsWritten int64
	Failures       []Failure
}

// Preview returns at most n failures for user-facing output; the full list
// goes to the failure manifest.
func (s *Summary) Preview(n int) []Failure {
	if n >= len(s.Failures) {
		return s.Failures
	}
	return s.Failures[:n]
}

// Clean reports whether the run finished with no failed units.
func (s *Summary) Clean() bool {
	return s.FailedError == 0
}

// String renders the counts on one line for logs.
func (s *Summary) String() string {
	return fmt.Sprintf("submitted=%d succeeded=%d empty=%d failed=%d records=%d",
		s.Submitted, s.Succeeded, s.FailedEmpty, s.FailedError, s.RecordsWritten)
}
