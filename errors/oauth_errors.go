package errors

import "fmt"

// OAuth2Error represents a standardized OAuth 2.0 error response body.
type OAuth2Error struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
	URI         string `json:"error_uri,omitempty"`
	State       string `json:"state,omitempty"`
}

func (e *OAuth2Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// Standard OAuth2 error codes.
const (
	InvalidRequest         = "invalid_request"
	UnauthorizedClient     = "unauthorized_client"
	AccessDenied           = "access_denied"
	UnsupportedGrantType   = "unsupported_grant_type"
	InvalidScope           = "invalid_scope"
	InvalidClient          = "invalid_client"
	InvalidGrant           = "invalid_grant"
	ServerError            = "server_error"
	TemporarilyUnavailable = "temporarily_unavailable"
)

func NewInvalidRequest(description string) *OAuth2Error {
	return &OAuth2Error{Code: InvalidRequest, Description: description}
}

func NewInvalidClient(description string) *OAuth2Error {
	return &OAuth2Error{Code: InvalidClient, Description: description}
}

func NewInvalidGrant(description string) *OAuth2Error {
	return &OAuth2Error{Code: InvalidGrant, Description: description}
}

func NewInvalidScope(description string) *OAuth2Error {
	return &OAuth2Error{Code: InvalidScope, Description: description}
}

func NewServerError(description string) *OAuth2Error {
	return &OAuth2Error{Code: ServerError, Description: description}
}

// OAuth 1.0 problem reporting values, transmitted as the oauth_problem
// parameter of a protocol error response.
const (
	ProblemParameterAbsent   = "parameter_absent"
	ProblemParameterRejected = "parameter_rejected"
	ProblemTimestampRefused  = "timestamp_refused"
	ProblemNonceUsed         = "nonce_used"
	ProblemSignatureInvalid  = "signature_invalid"
	ProblemTokenRejected     = "token_rejected"
	ProblemTokenExpired      = "token_expired"
	ProblemPermissionDenied  = "permission_denied"
)

// ProblemOf maps a protocol fault to the OAuth 1.0 problem value that should
// be reported to the remote party.
func ProblemOf(err error) string {
	kind, ok := KindOf(err)
	if !ok {
		return ProblemPermissionDenied
	}
	switch kind {
	case FaultValidation:
		return ProblemParameterRejected
	case FaultExpired:
		return ProblemTimestampRefused
	case FaultReplay:
		return ProblemNonceUsed
	case FaultSignature:
		return ProblemSignatureInvalid
	default:
		return ProblemPermissionDenied
	}
}
