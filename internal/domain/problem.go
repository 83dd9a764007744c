package domain

// ProblemTypeCredentialsInvalid marks a rejected session in a problem document.
const ProblemTypeCredentialsInvalid = "http://librarysimplified.org/terms/problem/credentials-invalid"

// ProblemDocument is an RFC 7807 error body.
type ProblemDocument struct {
	Type   string `json:"type,omitempty"`
	Title  string `json:"title,omitempty"`
	Status int    `json:"status,omitzero"`
	Detail string `json:"detail,omitempty"`
}

// InvalidCredentials reports whether the problem says the session credentials were rejected.
func (p *ProblemDocument) InvalidCredentials() bool {
	return p != nil && p.Type == ProblemTypeCredentialsInvalid
}

// Error implements error so problem documents can travel through error chains.
func (p *ProblemDocument) Error() string {
	switch {
	case p.Title != "" && p.Detail != "":
		return p.Title + ": " + p.Detail
	case p.Title != "":
		return p.Title
	case p.Detail != "":
		return p.Detail
	default:
		return p.Type
	}
}
