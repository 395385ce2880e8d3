package comment

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound        = errors.New("comment not found")
	ErrParentNotFound  = errors.New("parent comment not found")
	ErrBanned          = errors.New("user is banned from commenting")
	ErrEditingDisabled = errors.New("comment editing is disabled")
	ErrEditWindow      = errors.New("edit window has expired")
	ErrNotOwner        = errors.New("not the comment author")
	ErrRemoved         = errors.New("comment has been removed")
)

// ValidationError reports malformed input, naming the offending field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// DisallowedError reports a content-policy rejection. Distinct from
// validation so callers can present it differently.
type DisallowedError struct {
	Reason string
}

func (e *DisallowedError) Error() string { return e.Reason }

// MaxDepthError reports a reply that would nest deeper than allowed.
type MaxDepthError struct {
	Limit int
}

func (e *MaxDepthError) Error() string {
	return fmt.Sprintf("maximum comment depth of %d exceeded", e.Limit)
}

// ConsistencyError reports a stale or broken reference discovered during a
// write, such as a parent comment missing its threading data.
type ConsistencyError struct {
	Detail string
}

func (e *ConsistencyError) Error() string { return e.Detail }

// CreateInput is one comment submission.
type CreateInput struct {
	ContentType string
	ObjectID    string
	ParentID    *string

	Text string

	// UserID is empty for anonymous submissions, which must then carry a
	// display name and contact email.
	UserID    string
	UserName  string
	UserEmail string
	UserURL   string

	IPAddress string
	UserAgent string
}
