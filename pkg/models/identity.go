package models

// CallerIdentity is the verified owner of a bearer token.
type CallerIdentity struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
}
