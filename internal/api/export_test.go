package api

import "time"

// SetKeepAlive shortens the SSE keep-alive interval for a test.
func SetKeepAlive(d time.Duration) (restore func()) {
	old := keepAlive
	keepAlive = d
	return func() { keepAlive = old }
}
