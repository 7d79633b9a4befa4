package mailbox

import "fmt"

// AuthError marks a connection or login failure against an account's
// backend. The pipeline detects it with errors.As and flips the account's
// disconnected flag instead of retrying.
type AuthError struct {
	Account string
	Err     error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed for %s: %v", e.Account, e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}
