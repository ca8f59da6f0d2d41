package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/urfave/cli/v2"
)

var subscriptionsCommand = &cli.Command{
	Name:      "subscriptions",
	Usage:     "manage query subscriptions on the daemon",
	ArgsUsage: "<command> <args>",
	Subcommands: []*cli.Command{
		{
			Name:   "list",
			Usage:  "lists the active subscriptions",
			Action: listSubscriptions,
		},
		{
			Name:      "get",
			Usage:     "returns one subscription by id",
			ArgsUsage: "<id>",
			Action:    getSubscription,
		},
		{
			Name:  "create",
			Usage: "creates a subscription and prints the websocket href to attach to",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:     "path",
					Usage:    "resource path to subscribe to e.g. /nodes",
					Required: true,
				},
				&cli.Int64Flag{
					Name:  "rate",
					Value: 100,
					Usage: "max update rate in milliseconds",
				},
				&cli.BoolFlag{
					Name:  "persist",
					Usage: "request a persistent subscription",
				},
				&cli.StringSliceFlag{
					Name:  "param",
					Usage: "subscription filter as key=value, repeatable",
				},
			},
			Action: createSubscription,
		},
		{
			Name:      "delete",
			Usage:     "deletes a persistent subscription",
			ArgsUsage: "<id>",
			Action:    deleteSubscription,
		},
	},
}

func listSubscriptions(c *cli.Context) error {
	ctx, cancel := context.WithTimeout(c.Context, timeout)
	defer cancel()

	var result []any
	if err := doRequest(ctx, http.MethodGet, apiPath("subscriptions")+"/", nil, &result); err != nil {
		return err
	}
	jsonOutput(result)
	return nil
}

func getSubscription(c *cli.Context) error {
	if c.NArg() == 0 {
		return cli.ShowSubcommandHelp(c)
	}

	ctx, cancel := context.WithTimeout(c.Context, timeout)
	defer cancel()

	var result any
	err := doRequest(ctx, http.MethodGet, apiPath("subscriptions", c.Args().First()), nil, &result)
	if err != nil {
		return err
	}
	jsonOutput(result)
	return nil
}

func createSubscription(c *cli.Context) error {
	params, err := parseKeyValues(c.StringSlice("param"))
	if err != nil {
		return err
	}
	body := map[string]any{
		"resource_path":      c.String("path"),
		"max_update_rate_ms": c.Int64("rate"),
		"persist":            c.Bool("persist"),
		"params":             params,
	}

	ctx, cancel := context.WithTimeout(c.Context, timeout)
	defer cancel()

	var result any
	if err := doRequest(ctx, http.MethodPost, apiPath("subscriptions"), body, &result); err != nil {
		return err
	}
	jsonOutput(result)
	return nil
}

func deleteSubscription(c *cli.Context) error {
	if c.NArg() == 0 {
		return cli.ShowSubcommandHelp(c)
	}
	id := c.Args().First()

	ctx, cancel := context.WithTimeout(c.Context, timeout)
	defer cancel()

	if err := doRequest(ctx, http.MethodDelete, apiPath("subscriptions", id), nil, nil); err != nil {
		return err
	}
	fmt.Printf("deleted %s\n", id)
	return nil
}
