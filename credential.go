package chatsync

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// CredentialInspector extracts the current user's id from an opaque
// credential. Failures are never fatal: the engine treats the user as unknown.
type CredentialInspector interface {
	SubjectID(credential string) (string, error)
}

// InspectorFunc adapts a function to CredentialInspector.
type InspectorFunc func(credential string) (string, error)

// SubjectID calls f(credential).
func (f InspectorFunc) SubjectID(credential string) (string, error) {
	return f(credential)
}

// DecodeError reports a credential that could not be inspected.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode credential: %s: %v", e.Reason, e.Err)
	}
	return "decode credential: " + e.Reason
}

func (e *DecodeError) Unwrap() error { return e.Err }

// DefaultClaimPaths are the claims JWTInspector tries, in order.
var DefaultClaimPaths = []string{"sub", "id", "userId", "user.id"}

// JWTInspector reads the subject from the unverified payload of a JWT.
// Signature verification is the server's job.
type JWTInspector struct {
	// ClaimPaths are gjson paths into the claims object. Defaults to
	// DefaultClaimPaths.
	ClaimPaths []string
}

// SubjectID returns the first non-empty claim found at ClaimPaths.
func (j JWTInspector) SubjectID(credential string) (string, error) {
	parts := strings.Split(credential, ".")
	if len(parts) != 3 {
		return "", &DecodeError{Reason: fmt.Sprintf("expected 3 segments, got %d", len(parts))}
	}
	payload, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(parts[1], "="))
	if err != nil {
		return "", &DecodeError{Reason: "payload is not base64url", Err: err}
	}
	if !gjson.ValidBytes(payload) {
		return "", &DecodeError{Reason: "payload is not JSON"}
	}

	paths := j.ClaimPaths
	if len(paths) == 0 {
		paths = DefaultClaimPaths
	}
	for _, p := range paths {
		if v := gjson.GetBytes(payload, p); v.Exists() && v.String() != "" {
			return v.String(), nil
		}
	}
	return "", &DecodeError{Reason: "no subject claim"}
}
