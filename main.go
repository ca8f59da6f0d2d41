package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/coreos/go-systemd/v22/daemon"

	"github.com/nmoshub/queryd/config"
	"github.com/nmoshub/queryd/log"
	"github.com/nmoshub/queryd/service"
	"github.com/nmoshub/queryd/signaler"
)

func main() {
	var configFile, listenHost, registryType string
	var port int
	flag.StringVar(&configFile, "config", "", "config file to load, defaults to "+config.DefaultConfigDir+"/"+config.File)
	flag.StringVar(&listenHost, "host", "", "listen host override")
	flag.IntVar(&port, "port", 0, "HTTP port override")
	flag.StringVar(&registryType, "registry", "", "registry backend override, etcd or docstore")
	flag.Parse()

	var cfg config.Config
	if err := cfg.LoadConfig(configFile); err != nil {
		fmt.Printf("Unable to load config. Error: %v\n", err)
		os.Exit(1)
	}
	if listenHost != "" {
		cfg.ListenHost = listenHost
	}
	if port != 0 {
		cfg.Port = port
	}
	if registryType != "" {
		cfg.Registry.Type = registryType
		// re-check so the new backend picks up its own defaults
		if err := cfg.CheckConfig(); err != nil {
			fmt.Printf("Unable to apply registry override. Error: %v\n", err)
			os.Exit(1)
		}
	}

	if err := log.SetupGlobalLogger(&cfg.Logging); err != nil {
		fmt.Printf("Unable to set up logger. Error: %v\n", err)
		os.Exit(1)
	}

	s, err := service.New(&cfg)
	if err != nil {
		log.Errorf(log.Global, "Unable to set up query daemon: %v", err)
		os.Exit(1)
	}
	if err = s.Start(); err != nil {
		log.Errorf(log.Global, "Unable to start query daemon: %v", err)
		os.Exit(1)
	}

	// under systemd Type=notify this flips the unit to active once the
	// listeners are up; anywhere else it is a no-op
	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Warnf(log.Global, "Unable to notify systemd: %v", err)
	} else if ok {
		log.Debugln(log.Global, "Systemd notified of readiness.")
	}

	sig := <-signaler.WaitForInterrupt()
	log.Infof(log.Global, "Captured %v, shutdown requested.", sig)

	if err = s.Stop(); err != nil {
		log.Errorf(log.Global, "Unable to stop query daemon: %v", err)
	}
	if err = log.CloseLogger(); err != nil {
		fmt.Printf("Unable to close logger. Error: %v\n", err)
	}
}
