package main

import (
	"context"
	"net/http"
	"net/url"

	"github.com/urfave/cli/v2"
)

var versionsCommand = &cli.Command{
	Name:   "versions",
	Usage:  "lists the API versions the daemon serves",
	Action: getVersions,
}

var resourcesCommand = &cli.Command{
	Name:      "resources",
	Usage:     "reads a resource collection or a single resource",
	ArgsUsage: "<type> [id]",
	Flags: []cli.Flag{
		&cli.StringSliceFlag{
			Name:  "filter",
			Usage: "attribute filter as key=value, repeatable",
		},
		&cli.StringFlag{
			Name:  "downgrade",
			Usage: "also return resources downgradable to this API version e.g. v1.1",
		},
		&cli.BoolFlag{
			Name:  "ids",
			Usage: "return matching ids only",
		},
	},
	Action: getResources,
}

func getVersions(c *cli.Context) error {
	ctx, cancel := context.WithTimeout(c.Context, timeout)
	defer cancel()

	var result []string
	if err := doRequest(ctx, http.MethodGet, baseURL()+"/x-nmos/query/", nil, &result); err != nil {
		return err
	}
	jsonOutput(result)
	return nil
}

func getResources(c *cli.Context) error {
	if c.NArg() == 0 {
		return cli.ShowSubcommandHelp(c)
	}
	typeToken := c.Args().First()
	id := c.Args().Get(1)

	filters, err := parseKeyValues(c.StringSlice("filter"))
	if err != nil {
		return err
	}
	params := url.Values{}
	for k, v := range filters {
		params.Set(k, v)
	}
	if c.IsSet("downgrade") {
		params.Set("query.downgrade", c.String("downgrade"))
	}
	if c.Bool("ids") {
		params.Set("verbose", "false")
	}

	target := apiPath(typeToken) + "/"
	if id != "" {
		target = apiPath(typeToken, id)
	}
	if len(params) > 0 {
		target += "?" + params.Encode()
	}

	ctx, cancel := context.WithTimeout(c.Context, timeout)
	defer cancel()

	var result any
	if err := doRequest(ctx, http.MethodGet, target, nil, &result); err != nil {
		return err
	}
	jsonOutput(result)
	return nil
}
