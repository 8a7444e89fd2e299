package domain

import "errors"

// ErrorKind groups failures by how callers should react to them.
type ErrorKind string

const (
	KindNotFound        ErrorKind = "not_found"
	KindUpstreamFailure ErrorKind = "upstream_failure"
	KindInconsistency   ErrorKind = "inconsistency"
	KindInvalidInput    ErrorKind = "invalid_input"
)

var (
	// ErrItemNotFound is returned when an image id has no item record.
	ErrItemNotFound = errors.New("item not found")

	// ErrDuplicateID is returned by vector indexes when a record id is already stored.
	ErrDuplicateID = errors.New("duplicate vector id")

	// ErrInconsistency marks a disagreement between the vector index and the metadata store.
	ErrInconsistency = errors.New("vector index and metadata store disagree")

	// ErrUpstream marks a failure of an external service call.
	ErrUpstream = errors.New("upstream service failure")

	// ErrInvalidInput marks malformed caller input.
	ErrInvalidInput = errors.New("invalid input")
)

// RecommendationCode identifies why a recommendation could not be produced.
type RecommendationCode string

const (
	CodeNoItemsFound          RecommendationCode = "NoItemsFound"
	CodeNoBottomFound         RecommendationCode = "NoBottomFound"
	CodeItemNotFound          RecommendationCode = "ItemNotFound"
	CodeNoMatchFound          RecommendationCode = "NoMatchFound"
	CodeMetadataInconsistency RecommendationCode = "MetadataInconsistency"
	CodeInvalidInput          RecommendationCode = "InvalidInput"
	CodeUpstreamFailure       RecommendationCode = "UpstreamFailure"
)

// Kind maps a code onto the error taxonomy.
func (c RecommendationCode) Kind() ErrorKind {
	switch c {
	case CodeNoItemsFound, CodeNoBottomFound, CodeItemNotFound, CodeNoMatchFound:
		return KindNotFound
	case CodeMetadataInconsistency:
		return KindInconsistency
	case CodeInvalidInput:
		return KindInvalidInput
	default:
		return KindUpstreamFailure
	}
}

// RecommendationError is the structured failure returned by every
// recommendation entry point. Message is safe to show to end users.
type RecommendationError struct {
	Code    RecommendationCode
	Message string
	Err     error
}

// NewRecommendationError creates a RecommendationError.
func NewRecommendationError(code RecommendationCode, message string, err error) *RecommendationError {
	return &RecommendationError{Code: code, Message: message, Err: err}
}

func (e *RecommendationError) Error() string {
	if e.Err != nil {
		return string(e.Code) + ": " + e.Message + ": " + e.Err.Error()
	}
	return string(e.Code) + ": " + e.Message
}

func (e *RecommendationError) Unwrap() error {
	return e.Err
}

// Kind returns the taxonomy kind of the error.
func (e *RecommendationError) Kind() ErrorKind {
	return e.Code.Kind()
}

// AsRecommendationError extracts a RecommendationError from err.
func AsRecommendationError(err error) (*RecommendationError, bool) {
	var recErr *RecommendationError
	if errors.As(err, &recErr) {
		return recErr, true
	}
	return nil, false
}
