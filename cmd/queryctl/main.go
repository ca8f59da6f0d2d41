package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/nmoshub/queryd/signaler"
)

var (
	host       string
	apiVersion string
	timeout    time.Duration
)

const defaultTimeout = 30 * time.Second

func main() {
	app := cli.NewApp()
	app.Name = "queryctl"
	app.Usage = "command line interface for inspecting an NMOS query daemon"
	app.EnableBashCompletion = true
	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:        "host",
			Value:       "localhost:8870",
			Usage:       "the query API host to connect to",
			Destination: &host,
		},
		&cli.StringFlag{
			Name:        "apiversion",
			Value:       "v1.3",
			Usage:       "the query API version to speak",
			Destination: &apiVersion,
		},
		&cli.DurationFlag{
			Name:        "timeout",
			Value:       defaultTimeout,
			Usage:       "the default context timeout value for requests",
			Destination: &timeout,
		},
	}
	app.Commands = []*cli.Command{
		versionsCommand,
		resourcesCommand,
		subscriptionsCommand,
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-signaler.WaitForInterrupt()
		cancel()
		fmt.Println("request interrupted")
		os.Exit(1)
	}()

	if err := app.RunContext(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
