package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nmoshub/queryd/log"
	"github.com/nmoshub/queryd/query"
	"github.com/nmoshub/queryd/subscription"
	"github.com/nmoshub/queryd/subsystem"
)

// HTTPS modes. Disabled serves plain HTTP only, enabled serves HTTPS only
// and drops v1.0 from the advertised versions, mixed serves both.
const (
	HTTPSDisabled = "disabled"
	HTTPSEnabled  = "enabled"
	HTTPSMixed    = "mixed"
)

const (
	shutdownDeadline  = 5 * time.Second
	readHeaderTimeout = 5 * time.Second
)

var (
	errNilQueryService      = errors.New("nil query service")
	errNilSubscriptionStore = errors.New("nil subscription store")
	errInvalidHTTPSMode     = errors.New("invalid https_mode")
	errMissingTLSKeyPair    = errors.New("https_mode requires cert_file and key_file")
)

// Settings configures the HTTP front end
type Settings struct {
	ListenHost string
	Port       int
	TLSPort    int
	HTTPSMode  string
	CertFile   string
	KeyFile    string
}

// Server owns the listeners the Query API is served on
type Server struct {
	started  int32
	settings Settings
	handler  http.Handler
	httpSrv  *http.Server
	tlsSrv   *http.Server
	httpAddr string
	wg       sync.WaitGroup
}

// NewServer validates settings and builds the router. Nothing listens until
// Start.
func NewServer(settings *Settings, q *query.Service, store *subscription.Store) (*Server, error) {
	if settings == nil {
		return nil, fmt.Errorf("api server %w", subsystem.ErrNilConfig)
	}
	if q == nil {
		return nil, errNilQueryService
	}
	if store == nil {
		return nil, errNilSubscriptionStore
	}

	s := &Server{settings: *settings}
	if s.settings.HTTPSMode == "" {
		s.settings.HTTPSMode = HTTPSDisabled
	}
	switch s.settings.HTTPSMode {
	case HTTPSDisabled, HTTPSEnabled, HTTPSMixed:
	default:
		return nil, fmt.Errorf("%w %q", errInvalidHTTPSMode, s.settings.HTTPSMode)
	}
	if s.settings.HTTPSMode != HTTPSDisabled &&
		(s.settings.CertFile == "" || s.settings.KeyFile == "") {
		return nil, fmt.Errorf("%s %w", s.settings.HTTPSMode, errMissingTLSKeyPair)
	}

	s.handler = NewRouter(q, store, s.settings.HTTPSMode == HTTPSEnabled)
	return s, nil
}

// IsRunning safely checks whether the server is running
func (s *Server) IsRunning() bool {
	if s == nil {
		return false
	}
	return atomic.LoadInt32(&s.started) == 1
}

// Addr reports the bound HTTP listen address. It is set once Start has
// bound the listener, which is where a configured port of zero gets its
// real value.
func (s *Server) Addr() string {
	if s == nil {
		return ""
	}
	return s.httpAddr
}

// Start binds the configured listeners and begins serving
func (s *Server) Start() error {
	if s == nil {
		return fmt.Errorf("api server %w", subsystem.ErrNil)
	}
	if !atomic.CompareAndSwapInt32(&s.started, 0, 1) {
		return fmt.Errorf("api server %w", subsystem.ErrAlreadyStarted)
	}

	var httpLn, tlsLn net.Listener
	var err error
	if s.settings.HTTPSMode != HTTPSEnabled {
		addr := net.JoinHostPort(s.settings.ListenHost, strconv.Itoa(s.settings.Port))
		httpLn, err = net.Listen("tcp", addr)
		if err != nil {
			atomic.StoreInt32(&s.started, 0)
			return fmt.Errorf("api server %w", err)
		}
	}
	if s.settings.HTTPSMode != HTTPSDisabled {
		addr := net.JoinHostPort(s.settings.ListenHost, strconv.Itoa(s.settings.TLSPort))
		tlsLn, err = net.Listen("tcp", addr)
		if err != nil {
			if httpLn != nil {
				httpLn.Close()
			}
			atomic.StoreInt32(&s.started, 0)
			return fmt.Errorf("api server %w", err)
		}
	}

	if httpLn != nil {
		s.httpSrv = &http.Server{Handler: s.handler, ReadHeaderTimeout: readHeaderTimeout}
		s.httpAddr = httpLn.Addr().String()
		log.Infof(log.RESTSys, "Query API listening on http://%s", httpLn.Addr())
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.httpSrv.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Errorf(log.RESTSys, "Query API HTTP server failed: %v", err)
			}
		}()
	}
	if tlsLn != nil {
		s.tlsSrv = &http.Server{Handler: s.handler, ReadHeaderTimeout: readHeaderTimeout}
		log.Infof(log.RESTSys, "Query API listening on https://%s", tlsLn.Addr())
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			err := s.tlsSrv.ServeTLS(tlsLn, s.settings.CertFile, s.settings.KeyFile)
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Errorf(log.RESTSys, "Query API HTTPS server failed: %v", err)
			}
		}()
	}
	return nil
}

// Stop drains the listeners within the shutdown deadline. Hijacked
// WebSocket connections are closed separately through the subscription
// store.
func (s *Server) Stop() error {
	if s == nil {
		return fmt.Errorf("api server %w", subsystem.ErrNil)
	}
	if atomic.LoadInt32(&s.started) == 0 {
		return fmt.Errorf("api server %w", subsystem.ErrNotStarted)
	}
	defer func() {
		log.Debugf(log.RESTSys, "Query API server %s", subsystem.MsgShutdown)
		atomic.CompareAndSwapInt32(&s.started, 1, 0)
	}()
	log.Debugf(log.RESTSys, "Query API server %s", subsystem.MsgShuttingDown)

	ctx, cancel := context.WithTimeout(context.Background(), shutdownDeadline)
	defer cancel()
	var firstErr error
	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			firstErr = err
			log.Errorf(log.RESTSys, "Query API HTTP server shutdown: %v", err)
		}
		s.httpSrv = nil
	}
	if s.tlsSrv != nil {
		if err := s.tlsSrv.Shutdown(ctx); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			log.Errorf(log.RESTSys, "Query API HTTPS server shutdown: %v", err)
		}
		s.tlsSrv = nil
	}
	s.wg.Wait()
	return firstErr
}
