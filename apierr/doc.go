// Package apierr defines the error taxonomy shared by the sxapi packages.
//
// Each failure class has a typed error carrying its details and a sentinel
// that the typed error matches with errors.Is:
//
//   - CredentialError (ErrCredentials): missing or rejected credentials
//   - ClientError (ErrClient): 4xx response with the server message
//   - RedirectError (ErrRedirect): redirect answered to a POST or PUT
//   - ServerError (ErrServer): 5xx response or network failure
//   - ProtocolError (ErrProtocol): response broke the API contract
//   - ValidationError (ErrValidation): payload rejected before sending
//   - InvalidRangeError (ErrInvalidRange): inverted interval or bad step
//
// Callers branch on the class with errors.Is and inspect details with
// errors.As:
//
//	var ce *apierr.ClientError
//	if errors.As(err, &ce) && ce.IsNotFound() {
//		// handle missing resource
//	}
//
// No package in this module retries; every error propagates to the caller
// once, unmodified apart from context wrapping.
package apierr
