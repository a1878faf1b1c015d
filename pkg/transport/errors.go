package transport

import (
	"fmt"
	"net/url"
)

// TransportError wraps a failure reaching the backend: dial and TLS
// problems, timeouts, dropped connections, or a non-2xx status from the
// fallback endpoint. Op names the operation ("dial", "upload", ...) and URL
// is the target with any userinfo stripped. Callers pick these out of an
// error chain with errors.As; everything else is a protocol-level error.
type TransportError struct {
	Op  string
	URL string
	Err error
}

func (e *TransportError) Error() string {
	if e == nil {
		return ""
	}
	msg := "transport"
	if e.Op != "" {
		msg += " " + e.Op
	}
	if e.URL != "" {
		msg += " " + stripUserInfo(e.URL)
	}
	return fmt.Sprintf("%s: %v", msg, e.Err)
}

func (e *TransportError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// stripUserInfo drops any user:pass from a URL before it reaches a log line
// or error message. Unparseable input passes through untouched.
func stripUserInfo(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u == nil {
		return raw
	}
	u.User = nil
	return u.String()
}
