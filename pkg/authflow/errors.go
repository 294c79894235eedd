package authflow

import "fmt"

// Rejection codes produced locally. Provider-reported failures keep the
// provider's own error code.
const (
	CodeCSRFMismatch   = "csrf_mismatch"
	CodeMissingCode    = "missing_code"
	CodeMissingTenant  = "missing_tenant_id"
	CodeInvalidTenant  = "invalid_tenant_id"
	CodeMissingSubject = "missing_subject_id"
)

// Rejection is a terminal, user-attributable login failure. It ends the
// flow with the user back at the login page; it is not a system error.
type Rejection struct {
	Code        string
	Description string
}

func (r *Rejection) Error() string {
	if r.Description == "" {
		return r.Code
	}
	return fmt.Sprintf("%s: %s", r.Code, r.Description)
}

// Reject builds a Rejection.
func Reject(code, description string) *Rejection {
	return &Rejection{Code: code, Description: description}
}
