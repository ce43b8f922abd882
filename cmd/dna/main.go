// Command dna runs the chain-agnostic indexing and streaming node:
// ingest blocks from a chain plugin's provider, compact them into
// segments and groups, and serve filtered streams over gRPC.
package main

import (
	"context"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	_ "github.com/prysmaticlabs/dna/chain/beacon" // registers the "beacon" chain plugin
	_ "github.com/prysmaticlabs/dna/chain/evm"    // registers the "evm" chain plugin
	"github.com/prysmaticlabs/dna/chainplugin"
	"github.com/prysmaticlabs/dna/cmd/dna/dbg"
	"github.com/prysmaticlabs/dna/cmd/dna/node"
)

func main() {
	app := cli.App{
		Name:  "dna",
		Usage: "chain-agnostic block indexing and streaming node",
		Commands: []*cli.Command{
			{
				Name:  "start",
				Usage: "run the ingestion, compaction, chain-view and rpc actors",
				Flags: node.Flags,
				Action: func(ctx *cli.Context) error {
					if err := setVerbosity(ctx.String("verbosity")); err != nil {
						return err
					}
					cfg, err := node.LoadConfig(ctx)
					if err != nil {
						return err
					}
					n, err := node.New(cfg)
					if err != nil {
						return err
					}
					return n.Start(context.Background())
				},
			},
			{
				Name:  "chains",
				Usage: "list registered chain plugins",
				Action: func(ctx *cli.Context) error {
					for _, name := range chainplugin.Names() {
						logrus.Info(name)
					}
					return nil
				},
			},
			dbg.Command,
		},
	}

	if err := app.Run(os.Args); err != nil {
		logrus.WithError(err).Error(err.Error())
		os.Exit(1)
	}
}

func setVerbosity(verbosity string) error {
	level, err := logrus.ParseLevel(verbosity)
	if err != nil {
		return err
	}
	logrus.SetLevel(level)
	return nil
}
