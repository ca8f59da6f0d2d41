// Package mdns announces the Query API through DNS-SD so controllers can
// discover it without static configuration.
package mdns

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/grandcat/zeroconf"

	"github.com/nmoshub/queryd/log"
	"github.com/nmoshub/queryd/subsystem"
	"github.com/nmoshub/queryd/versions"
)

const (
	serviceType   = "_nmos-query._tcp"
	serviceDomain = "local."

	// discovery advertises the well-known ports; deployments fronting the
	// service with a proxy keep working unchanged
	defaultHTTPAdvertPort  = 80
	defaultHTTPSAdvertPort = 443
)

// advert is the piece of a zeroconf registration the manager needs to hold
// on to
type advert interface {
	Shutdown()
}

var registerAdvert = func(instance string, port int, txt []string) (advert, error) {
	return zeroconf.Register(instance, serviceType, serviceDomain, port, txt, nil)
}

// Settings configures the DNS-SD adverts
type Settings struct {
	// Priority is the pri TXT value, lower wins
	Priority int
	// HTTPSMode mirrors the API server mode and selects which adverts are
	// published
	HTTPSMode string
	// Host overrides the instance-name host part, normally the hostname
	Host string
	// HTTPPort and HTTPSPort override the advertised ports
	HTTPPort  int
	HTTPSPort int
}

// Manager publishes the service adverts for the lifetime of the process
type Manager struct {
	started  int32
	settings Settings
	adverts  []advert
}

// NewManager validates settings and fills defaults. Nothing is announced
// until Start.
func NewManager(settings *Settings) (*Manager, error) {
	if settings == nil {
		return nil, fmt.Errorf("mdns manager %w", subsystem.ErrNilConfig)
	}
	m := &Manager{settings: *settings}
	if m.settings.HTTPSMode == "" {
		m.settings.HTTPSMode = "disabled"
	}
	if m.settings.Host == "" {
		host, err := os.Hostname()
		if err != nil {
			host = "localhost"
		}
		m.settings.Host = host
	}
	if m.settings.HTTPPort == 0 {
		m.settings.HTTPPort = defaultHTTPAdvertPort
	}
	if m.settings.HTTPSPort == 0 {
		m.settings.HTTPSPort = defaultHTTPSAdvertPort
	}
	return m, nil
}

// IsRunning safely checks whether the manager is running
func (m *Manager) IsRunning() bool {
	if m == nil {
		return false
	}
	return atomic.LoadInt32(&m.started) == 1
}

// Start publishes one advert per served protocol
func (m *Manager) Start() error {
	if m == nil {
		return fmt.Errorf("mdns manager %w", subsystem.ErrNil)
	}
	if !atomic.CompareAndSwapInt32(&m.started, 0, 1) {
		return fmt.Errorf("mdns manager %w", subsystem.ErrAlreadyStarted)
	}

	enabled := versions.Enabled(m.settings.HTTPSMode == "enabled")
	list := make([]string, 0, len(enabled))
	for _, v := range enabled {
		list = append(list, v.String())
	}
	apiVer := "api_ver=" + strings.Join(list, ",")
	pri := "pri=" + strconv.Itoa(m.settings.Priority)
	instance := "query_" + m.settings.Host

	if m.settings.HTTPSMode != "enabled" {
		err := m.publish(instance+"_http", m.settings.HTTPPort, []string{pri, apiVer, "api_proto=http"})
		if err != nil {
			m.unpublish()
			atomic.StoreInt32(&m.started, 0)
			return fmt.Errorf("mdns manager %w", err)
		}
	}
	if m.settings.HTTPSMode != "disabled" {
		err := m.publish(instance+"_https", m.settings.HTTPSPort, []string{pri, apiVer, "api_proto=https"})
		if err != nil {
			m.unpublish()
			atomic.StoreInt32(&m.started, 0)
			return fmt.Errorf("mdns manager %w", err)
		}
	}
	return nil
}

// Stop withdraws every published advert
func (m *Manager) Stop() error {
	if m == nil {
		return fmt.Errorf("mdns manager %w", subsystem.ErrNil)
	}
	if !atomic.CompareAndSwapInt32(&m.started, 1, 0) {
		return fmt.Errorf("mdns manager %w", subsystem.ErrNotStarted)
	}
	m.unpublish()
	log.Debugf(log.MDNSMgr, "mDNS manager %s", subsystem.MsgShutdown)
	return nil
}

func (m *Manager) publish(instance string, port int, txt []string) error {
	adv, err := registerAdvert(instance, port, txt)
	if err != nil {
		return err
	}
	log.Debugf(log.MDNSMgr, "Advertising %s as %s on port %d", serviceType, instance, port)
	m.adverts = append(m.adverts, adv)
	return nil
}

func (m *Manager) unpublish() {
	for _, adv := range m.adverts {
		adv.Shutdown()
	}
	m.adverts = nil
}
