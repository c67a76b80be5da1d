package orchestrator

// Error codes returned by orchestrator operations, mapped to HTTP problem
// responses by the handlers.
const (
	ErrCodeNotFound   = "NOT_FOUND"
	ErrCodeConflict   = "CONFLICT"
	ErrCodeValidation = "VALIDATION"
	ErrCodeProvider   = "PROVIDER"
	ErrCodeInternal   = "INTERNAL"
)

// ServiceError represents a business logic error with a code for HTTP mapping.
type ServiceError struct {
	Code    string
	Message string
}

func (e *ServiceError) Error() string {
	return e.Message
}

func NewNotFoundError(msg string) *ServiceError {
	return &ServiceError{Code: ErrCodeNotFound, Message: msg}
}

func NewConflictError(msg string) *ServiceError {
	return &ServiceError{Code: ErrCodeConflict, Message: msg}
}

func NewValidationError(msg string) *ServiceError {
	return &ServiceError{Code: ErrCodeValidation, Message: msg}
}

func NewProviderError(msg string) *ServiceError {
	return &ServiceError{Code: ErrCodeProvider, Message: msg}
}

func NewInternalError(msg string) *ServiceError {
	return &ServiceError{Code: ErrCodeInternal, Message: msg}
}
