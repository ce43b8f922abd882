// Package dbg implements `dna dbg`, a set of read-only introspection
// subcommands over the canonical chain log and object store, grounded
// on original_source/beaconchain/src/cli/dbg/{chain,group,store}.rs.
package dbg

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/prysmaticlabs/dna/chain"
	"github.com/prysmaticlabs/dna/objectstore"
	"github.com/prysmaticlabs/dna/objectstore/localstore"
)

// Command is the top-level `dna dbg` command, mounted by cmd/dna/main.go.
var Command = &cli.Command{
	Name:  "dbg",
	Usage: "read-only inspection of the chain log and object store",
	Subcommands: []*cli.Command{
		chainCommand,
		storeCommand,
	},
}

var storageRootFlag = &cli.StringFlag{
	Name:  "storage.local-root",
	Usage: "root directory of the localstore object store to inspect",
	Value: "./data/objects",
}

var chainCommand = &cli.Command{
	Name:  "chain",
	Usage: "inspect the canonical chain log",
	Flags: []cli.Flag{storageRootFlag},
	Subcommands: []*cli.Command{
		{
			Name:      "show",
			Usage:     "print the canonical entry at a given block number",
			ArgsUsage: "<number>",
			Action: func(ctx *cli.Context) error {
				number, err := parseNumberArg(ctx)
				if err != nil {
					return err
				}
				store, err := openStore(ctx)
				if err != nil {
					return err
				}
				clog, err := chain.New(store, 0)
				if err != nil {
					return err
				}
				entry, err := clog.Get(context.Background(), number)
				if err != nil {
					return err
				}
				printEntry(entry)
				return nil
			},
		},
		{
			Name:      "at-or-before",
			Usage:     "print the canonical entry at or before a given block number",
			ArgsUsage: "<number>",
			Action: func(ctx *cli.Context) error {
				number, err := parseNumberArg(ctx)
				if err != nil {
					return err
				}
				store, err := openStore(ctx)
				if err != nil {
					return err
				}
				clog, err := chain.New(store, 0)
				if err != nil {
					return err
				}
				entry, err := clog.GetAtOrBefore(context.Background(), number)
				if err != nil {
					return err
				}
				printEntry(entry)
				return nil
			},
		},
	},
}

var storeCommand = &cli.Command{
	Name:  "store",
	Usage: "inspect raw object store blobs",
	Flags: []cli.Flag{storageRootFlag},
	Subcommands: []*cli.Command{
		{
			Name:      "get",
			Usage:     "fetch one key and print its length and etag",
			ArgsUsage: "<key>",
			Action: func(ctx *cli.Context) error {
				key := ctx.Args().First()
				if key == "" {
					return fmt.Errorf("dbg store get: missing <key> argument")
				}
				store, err := openStore(ctx)
				if err != nil {
					return err
				}
				obj, err := store.Get(context.Background(), key, objectstore.GetOptions{})
				if err != nil {
					return err
				}
				logrus.WithFields(logrus.Fields{
					"key":   key,
					"bytes": len(obj.Data),
					"etag":  obj.ETag,
				}).Info("dbg store get")
				return nil
			},
		},
	},
}

func openStore(ctx *cli.Context) (objectstore.Store, error) {
	return localstore.New(ctx.String("storage.local-root"))
}

func parseNumberArg(ctx *cli.Context) (uint64, error) {
	arg := ctx.Args().First()
	if arg == "" {
		return 0, fmt.Errorf("dbg: missing <number> argument")
	}
	return strconv.ParseUint(arg, 10, 64)
}

func printEntry(e chain.Entry) {
	logrus.WithFields(logrus.Fields{
		"number":      e.Number,
		"hash":        "0x" + hex.EncodeToString(e.Hash),
		"parent_hash": "0x" + hex.EncodeToString(e.ParentHash),
		"status":      e.Status.String(),
	}).Info("dbg chain entry")
}
