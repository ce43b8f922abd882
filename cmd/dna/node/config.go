// Package node wires the standalone components (objectstore, kv,
// chain log, ingestion, compaction, chain view, scanner, rpc) into one
// running dna process, the way beacon-chain/node.go wires Prysm's
// services into one BeaconNode.
package node

import (
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
)

// Flags is the full flag surface for `dna start`, grounded on Prysm's
// beacon-chain/flags + shared/cmd conventions (one flat list of
// cli.Flag, assembled once in main.go).
var Flags = []cli.Flag{
	&cli.StringFlag{Name: "config-file", Usage: "TOML file overlaying these flags"},
	&cli.StringFlag{Name: "chain", Usage: "chain plugin to run (see `dna chains` for the registered list)", Value: "evm"},
	&cli.StringFlag{Name: "rpc-address", Usage: "host:port the gRPC server binds", Value: "0.0.0.0:7171"},
	&cli.StringFlag{Name: "gateway-address", Usage: "host:port the REST status passthrough binds; empty disables it"},
	&cli.IntFlag{Name: "max-message-size", Usage: "gRPC max send/recv message size in bytes (0 = library default)"},
	&cli.Int64Flag{Name: "rpc.max-messages-per-second", Usage: "per-stream message rate limit (0 = unlimited)"},

	&cli.StringFlag{Name: "storage.kind", Usage: "object store backend: local, s3, azure", Value: "local"},
	&cli.StringFlag{Name: "storage.local-root", Usage: "root directory for storage.kind=local", Value: "./data/objects"},
	&cli.StringFlag{Name: "storage.s3-bucket", Usage: "bucket name for storage.kind=s3"},
	&cli.StringFlag{Name: "storage.s3-region", Usage: "AWS region for storage.kind=s3", Value: "us-east-1"},
	&cli.StringFlag{Name: "storage.s3-access-key-id", Usage: "static AWS access key id for storage.kind=s3 (empty uses the default credential chain)"},
	&cli.StringFlag{Name: "storage.s3-secret-access-key", Usage: "static AWS secret access key for storage.kind=s3"},
	&cli.StringFlag{Name: "storage.azure-container", Usage: "container name for storage.kind=azure"},

	&cli.StringFlag{Name: "kv.kind", Usage: "metadata store backend: memory, bolt, etcd", Value: "memory"},
	&cli.StringFlag{Name: "kv.bolt-path", Usage: "bbolt file path for kv.kind=bolt", Value: "./data/dna.db"},
	&cli.StringFlag{Name: "etcd.endpoint", Usage: "etcd cluster endpoint, e.g. localhost:2379", Value: "localhost:2379"},

	&cli.Uint64Flag{Name: "ingestion.starting-block", Usage: "first block number to ingest on a fresh deployment"},
	&cli.Int64Flag{Name: "ingestion.lock-ttl-seconds", Usage: "ingestion leader lock TTL", Value: 15},
	&cli.DurationFlag{Name: "ingestion.poll-interval", Usage: "how often to poll the provider for a new head", Value: 3 * time.Second},

	&cli.Uint64Flag{Name: "compaction.segment-size", Usage: "blocks per segment", Value: 1000},
	&cli.Uint64Flag{Name: "compaction.group-size", Usage: "segments per group", Value: 100},
	&cli.DurationFlag{Name: "compaction.poll-interval", Usage: "how often the compactor checks for new work", Value: 2 * time.Second},

	&cli.DurationFlag{Name: "streaming.heartbeat-interval", Usage: "idle keepalive interval on a live stream", Value: 30 * time.Second},
	&cli.IntFlag{Name: "streaming.channel-depth", Usage: "per-connection outgoing message buffer", Value: 128},

	&cli.StringFlag{Name: "verbosity", Usage: "log level: trace, debug, info, warn, error", Value: "info"},
	&cli.StringFlag{Name: "monitoring-address", Usage: "host:port the Prometheus /metrics endpoint binds", Value: "0.0.0.0:9090"},
}

// Config is the resolved, typed configuration for one dna node,
// assembled from CLI flags with an optional TOML file overlay (per
// spec.md §6's flat config surface). Environment variables are not
// read.
type Config struct {
	Chain                string
	RPCAddress           string
	GatewayAddress       string
	MaxMessageSize       int
	MaxMessagesPerSecond int64

	StorageKind              string
	StorageLocalRoot         string
	StorageS3Bucket          string
	StorageS3Region          string
	StorageS3AccessKeyID     string
	StorageS3SecretAccessKey string
	StorageAzureContainer    string

	KVKind     string
	KVBoltPath string

	EtcdEndpoint string

	IngestionStartingBlock  uint64
	IngestionLockTTLSeconds int64
	IngestionPollInterval   time.Duration

	CompactionSegmentSize  uint64
	CompactionGroupSize    uint64
	CompactionPollInterval time.Duration

	StreamingHeartbeatInterval time.Duration
	StreamingChannelDepth      int

	Verbosity         string
	MonitoringAddress string
}

// fileOverlay is the TOML shape a config file may provide; any field
// left unset in the file falls back to the flag (or flag default).
type fileOverlay struct {
	Chain          *string `toml:"chain"`
	RPCAddress     *string `toml:"rpc_address"`
	GatewayAddress *string `toml:"gateway_address"`

	Storage struct {
		Kind           *string `toml:"kind"`
		LocalRoot      *string `toml:"local_root"`
		S3Bucket       *string `toml:"s3_bucket"`
		AzureContainer *string `toml:"azure_container"`
	} `toml:"storage"`

	Etcd struct {
		Endpoint *string `toml:"endpoint"`
	} `toml:"etcd"`
}

// LoadConfig reads flags from ctx, then overlays the values a
// --config-file TOML document sets explicitly among those fileOverlay
// declares (chain, rpc_address, gateway_address, storage.kind,
// storage.local_root, storage.s3_bucket, storage.azure_container,
// etcd.endpoint). Every other setting comes from flags only.
func LoadConfig(ctx *cli.Context) (Config, error) {
	cfg := Config{
		Chain:                ctx.String("chain"),
		RPCAddress:           ctx.String("rpc-address"),
		GatewayAddress:       ctx.String("gateway-address"),
		MaxMessageSize:       ctx.Int("max-message-size"),
		MaxMessagesPerSecond: ctx.Int64("rpc.max-messages-per-second"),

		StorageKind:              ctx.String("storage.kind"),
		StorageLocalRoot:         ctx.String("storage.local-root"),
		StorageS3Bucket:          ctx.String("storage.s3-bucket"),
		StorageS3Region:          ctx.String("storage.s3-region"),
		StorageS3AccessKeyID:     ctx.String("storage.s3-access-key-id"),
		StorageS3SecretAccessKey: ctx.String("storage.s3-secret-access-key"),
		StorageAzureContainer:    ctx.String("storage.azure-container"),

		KVKind:     ctx.String("kv.kind"),
		KVBoltPath: ctx.String("kv.bolt-path"),

		EtcdEndpoint: ctx.String("etcd.endpoint"),

		IngestionStartingBlock:  ctx.Uint64("ingestion.starting-block"),
		IngestionLockTTLSeconds: ctx.Int64("ingestion.lock-ttl-seconds"),
		IngestionPollInterval:   ctx.Duration("ingestion.poll-interval"),

		CompactionSegmentSize:  ctx.Uint64("compaction.segment-size"),
		CompactionGroupSize:    ctx.Uint64("compaction.group-size"),
		CompactionPollInterval: ctx.Duration("compaction.poll-interval"),

		StreamingHeartbeatInterval: ctx.Duration("streaming.heartbeat-interval"),
		StreamingChannelDepth:      ctx.Int("streaming.channel-depth"),

		Verbosity:         ctx.String("verbosity"),
		MonitoringAddress: ctx.String("monitoring-address"),
	}

	path := ctx.String("config-file")
	if path == "" {
		return cfg, nil
	}

	var overlay fileOverlay
	if _, err := toml.DecodeFile(path, &overlay); err != nil {
		return Config{}, errors.Wrapf(err, "node: decode config file %q", path)
	}

	if overlay.Chain != nil {
		cfg.Chain = *overlay.Chain
	}
	if overlay.RPCAddress != nil {
		cfg.RPCAddress = *overlay.RPCAddress
	}
	if overlay.GatewayAddress != nil {
		cfg.GatewayAddress = *overlay.GatewayAddress
	}
	if overlay.Storage.Kind != nil {
		cfg.StorageKind = *overlay.Storage.Kind
	}
	if overlay.Storage.LocalRoot != nil {
		cfg.StorageLocalRoot = *overlay.Storage.LocalRoot
	}
	if overlay.Storage.S3Bucket != nil {
		cfg.StorageS3Bucket = *overlay.Storage.S3Bucket
	}
	if overlay.Storage.AzureContainer != nil {
		cfg.StorageAzureContainer = *overlay.Storage.AzureContainer
	}
	if overlay.Etcd.Endpoint != nil {
		cfg.EtcdEndpoint = *overlay.Etcd.Endpoint
	}

	return cfg, nil
}
