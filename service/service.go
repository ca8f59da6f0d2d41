// Package service assembles the query daemon: it builds the registry
// adapter, subscription store, query pipeline, API server and mDNS
// advertiser from one config and drives their lifecycles in order.
package service

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nmoshub/queryd/api"
	"github.com/nmoshub/queryd/config"
	"github.com/nmoshub/queryd/log"
	"github.com/nmoshub/queryd/mdns"
	"github.com/nmoshub/queryd/query"
	"github.com/nmoshub/queryd/registry"
	"github.com/nmoshub/queryd/registry/docstore"
	"github.com/nmoshub/queryd/registry/etcdv2"
	"github.com/nmoshub/queryd/subscription"
	"github.com/nmoshub/queryd/subsystem"
)

// Service owns every subsystem of the query daemon
type Service struct {
	started int32
	cfg     *config.Config
	adapter registry.Adapter
	store   *subscription.Store
	queries *query.Service
	fanout  *query.Fanout
	watcher *query.Watcher
	server  *api.Server
	mdns    *mdns.Manager
}

// New wires a service from a checked config. The registry adapter is
// constructed here, so a backend that validates its connection on
// construction surfaces the fault before anything is started.
func New(cfg *config.Config) (*Service, error) {
	if cfg == nil {
		return nil, fmt.Errorf("service %w", subsystem.ErrNilConfig)
	}

	adapter, err := newAdapter(&cfg.Registry)
	if err != nil {
		return nil, fmt.Errorf("service unable to set up registry adapter: %w", err)
	}

	store := subscription.NewStore(
		time.Duration(cfg.Subscription.GraceSeconds)*time.Second,
		cfg.Subscription.QueueLength)
	queries := query.NewService(adapter)
	fanout := query.NewFanout(store)
	watcher := query.NewWatcher(adapter, fanout, store)

	server, err := api.NewServer(&api.Settings{
		ListenHost: cfg.ListenHost,
		Port:       cfg.Port,
		TLSPort:    cfg.TLSPort,
		HTTPSMode:  cfg.HTTPSMode,
		CertFile:   cfg.CertFile,
		KeyFile:    cfg.KeyFile,
	}, queries, store)
	if err != nil {
		if cErr := adapter.Close(); cErr != nil {
			log.Errorf(log.Global, "Registry adapter unable to close. Error: %v", cErr)
		}
		return nil, err
	}

	s := &Service{
		cfg:     cfg,
		adapter: adapter,
		store:   store,
		queries: queries,
		fanout:  fanout,
		watcher: watcher,
		server:  server,
	}

	if cfg.EnableMDNS {
		s.mdns, err = mdns.NewManager(&mdns.Settings{
			Priority:  int(cfg.Priority),
			HTTPSMode: cfg.HTTPSMode,
		})
		if err != nil {
			if cErr := adapter.Close(); cErr != nil {
				log.Errorf(log.Global, "Registry adapter unable to close. Error: %v", cErr)
			}
			return nil, err
		}
	}

	return s, nil
}

// newAdapter builds the registry adapter the config names
func newAdapter(r *config.RegistryConfig) (registry.Adapter, error) {
	switch r.Type {
	case "etcd":
		return etcdv2.New(&etcdv2.Settings{
			Hosts: r.Hosts,
			Port:  r.Port,
		})
	case "docstore":
		var host string
		if len(r.Hosts) > 0 {
			host = r.Hosts[0]
		}
		return docstore.New(&docstore.Settings{
			Driver:       r.Driver,
			Host:         host,
			Port:         r.Port,
			Username:     r.Username,
			Password:     r.Password,
			Database:     r.Database,
			SSLMode:      r.SSLMode,
			Bucket:       r.Bucket,
			MetaBucket:   r.MetaBucket,
			PollInterval: time.Duration(r.PollIntervalSeconds) * time.Second,
			ReplayWindow: time.Duration(r.ReplayWindowSeconds) * time.Second,
		})
	default:
		return nil, fmt.Errorf("%w %q", registry.ErrUnknownBackend, r.Type)
	}
}

// IsRunning safely checks whether the service is running
func (s *Service) IsRunning() bool {
	if s == nil {
		return false
	}
	return atomic.LoadInt32(&s.started) == 1
}

// Start brings the managers up in dependency order. The subscription
// store, API server and registry watcher are load bearing and abort the
// start; the mDNS advertiser is not, a failure there is logged and the
// daemon keeps serving.
func (s *Service) Start() error {
	if s == nil {
		return fmt.Errorf("service %w", subsystem.ErrNil)
	}
	if !atomic.CompareAndSwapInt32(&s.started, 0, 1) {
		return fmt.Errorf("service %w", subsystem.ErrAlreadyStarted)
	}

	log.Debugf(log.Global, "Query daemon %s starting...", s.cfg.Name)
	printSettings(s.cfg)

	if err := s.store.Start(); err != nil {
		atomic.StoreInt32(&s.started, 0)
		return fmt.Errorf("subscription manager unable to start: %w", err)
	}
	if err := s.server.Start(); err != nil {
		s.stopManagers()
		atomic.StoreInt32(&s.started, 0)
		return fmt.Errorf("API server unable to start: %w", err)
	}
	if err := s.watcher.Start(); err != nil {
		s.stopManagers()
		atomic.StoreInt32(&s.started, 0)
		return fmt.Errorf("watcher manager unable to start: %w", err)
	}
	if s.mdns != nil {
		if err := s.mdns.Start(); err != nil {
			log.Errorf(log.Global, "mDNS manager unable to start: %v", err)
		}
	}

	log.Infof(log.Global, "Query daemon %s started.", s.cfg.Name)
	return nil
}

// Stop winds the managers down in reverse order and closes the registry
// adapter
func (s *Service) Stop() error {
	if s == nil {
		return fmt.Errorf("service %w", subsystem.ErrNil)
	}
	if atomic.LoadInt32(&s.started) == 0 {
		return fmt.Errorf("service %w", subsystem.ErrNotStarted)
	}

	log.Debugln(log.Global, "Query daemon shutting down..")
	s.stopManagers()
	if err := s.adapter.Close(); err != nil {
		log.Errorf(log.Global, "Registry adapter unable to close. Error: %v", err)
	}
	atomic.StoreInt32(&s.started, 0)
	log.Infoln(log.Global, "Query daemon has shutdown.")
	return nil
}

// stopManagers stops whichever managers are running, newest first
func (s *Service) stopManagers() {
	if s.mdns.IsRunning() {
		if err := s.mdns.Stop(); err != nil {
			log.Errorf(log.Global, "mDNS manager unable to stop. Error: %v", err)
		}
	}
	if s.watcher.IsRunning() {
		if err := s.watcher.Stop(); err != nil {
			log.Errorf(log.Global, "Watcher manager unable to stop. Error: %v", err)
		}
	}
	if s.server.IsRunning() {
		if err := s.server.Stop(); err != nil {
			log.Errorf(log.Global, "API server unable to stop. Error: %v", err)
		}
	}
	if s.store.IsRunning() {
		if err := s.store.Stop(); err != nil {
			log.Errorf(log.Global, "Subscription manager unable to stop. Error: %v", err)
		}
	}
}

// printSettings logs the effective settings the daemon came up with
func printSettings(cfg *config.Config) {
	log.Debugf(log.Global, "- SERVICE SETTINGS:")
	log.Debugf(log.Global, "\t Name: %s", cfg.Name)
	log.Debugf(log.Global, "\t Priority: %d", cfg.Priority)
	log.Debugf(log.Global, "\t HTTPS mode: %s", cfg.HTTPSMode)
	log.Debugf(log.Global, "\t mDNS discovery: %v", cfg.EnableMDNS)
	log.Debugf(log.Global, "- API SETTINGS:")
	log.Debugf(log.Global, "\t Listen host: %s", cfg.ListenHost)
	log.Debugf(log.Global, "\t Port: %d", cfg.Port)
	log.Debugf(log.Global, "\t TLS port: %d", cfg.TLSPort)
	log.Debugf(log.Global, "- REGISTRY SETTINGS:")
	log.Debugf(log.Global, "\t Backend: %s", cfg.Registry.Type)
	log.Debugf(log.Global, "\t Hosts: %v", cfg.Registry.Hosts)
	log.Debugf(log.Global, "- SUBSCRIPTION SETTINGS:")
	log.Debugf(log.Global, "\t Grace period: %ds", cfg.Subscription.GraceSeconds)
	log.Debugf(log.Global, "\t Queue length: %d", cfg.Subscription.QueueLength)
	log.Debugln(log.Global)
}
