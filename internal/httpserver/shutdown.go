package httpserver

import (
	"context"
	"time"
)

// ShutdownTimeout bounds the graceful stop of the server and the background work behind it.
var ShutdownTimeout = 15 * time.Second

// ShutdownContext returns a context detached from any parent, bounded by ShutdownTimeout.
func ShutdownContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), ShutdownTimeout)
}
