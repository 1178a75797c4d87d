package middleware

import "errors"

// ErrRetryExhausted is returned by the retry middleware when every attempt
// failed. It wraps the last backend error as well, so both can be inspected
// with errors.Is and errors.As.
var ErrRetryExhausted = errors.New("polychat: all retry attempts exhausted")
