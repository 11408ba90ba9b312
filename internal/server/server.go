// Package server runs the HTTP listener
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http"
	"time"

	"claim-enricher/internal/common/logging"
)

// Server represents an HTTP server
type Server struct {
	srv     *http.Server
	tlsCert string
	tlsKey  string
	errs    chan error
}

// New creates a new server instance. Write timeouts leave room for a full
// backend fetch on every enrichment request.
func New(handler http.Handler, port, tlsCert, tlsKey string) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              ":" + port,
			Handler:           handler,
			ReadTimeout:       30 * time.Second,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		tlsCert: tlsCert,
		tlsKey:  tlsKey,
		errs:    make(chan error, 1),
	}
}

// Start starts the server in the background. Listener failures are delivered on Errors.
func (s *Server) Start() error {
	tlsEnabled := s.tlsCert != "" && s.tlsKey != ""
	if tlsEnabled {
		s.srv.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	logging.Info("HTTP server listening",
		logging.Field{Key: "addr", Value: s.srv.Addr},
		logging.Field{Key: "tls", Value: tlsEnabled},
	)

	go func() {
		var err error
		if tlsEnabled {
			err = s.srv.ListenAndServeTLS(s.tlsCert, s.tlsKey)
		} else {
			err = s.srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.errs <- err
		}
		close(s.errs)
	}()
	return nil
}

// Errors reports a listener that stopped for any reason other than Shutdown
func (s *Server) Errors() <-chan error {
	return s.errs
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
