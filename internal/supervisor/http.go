package supervisor

import (
	"context"
	"fmt"
	"time"
)

// Server is the part of *fiber.App the supervisor drives.
type Server interface {
	Listen(addr string) error
	ShutdownWithContext(ctx context.Context) error
}

// HTTPService runs a Server until the supervisor stops it.
type HTTPService struct {
	server          Server
	addr            string
	shutdownTimeout time.Duration
	waitFor         []<-chan struct{}
}

func NewHTTPService(server Server, addr string, shutdownTimeout time.Duration) *HTTPService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &HTTPService{server: server, addr: addr, shutdownTimeout: shutdownTimeout}
}

// After holds Listen back until ready is closed. Use it for dependencies that
// must be running before the first request arrives.
func (h *HTTPService) After(ready <-chan struct{}) *HTTPService {
	h.waitFor = append(h.waitFor, ready)
	return h
}

func (h *HTTPService) Serve(ctx context.Context) error {
	for _, ready := range h.waitFor {
		select {
		case <-ready:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- h.server.Listen(h.addr)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil

	case <-ctx.Done():
		// ctx is already canceled; shutdown needs its own deadline.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
		defer cancel()

		if err := h.server.ShutdownWithContext(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown failed: %w", err)
		}
		<-errCh
		return ctx.Err()
	}
}

func (h *HTTPService) String() string { return "http-server" }
