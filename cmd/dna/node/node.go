package node

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/prysmaticlabs/dna/chain"
	"github.com/prysmaticlabs/dna/chain/beacon"
	"github.com/prysmaticlabs/dna/chain/evm"
	"github.com/prysmaticlabs/dna/chainplugin"
	"github.com/prysmaticlabs/dna/chainview"
	"github.com/prysmaticlabs/dna/compaction"
	"github.com/prysmaticlabs/dna/ingestion"
	"github.com/prysmaticlabs/dna/kv"
	"github.com/prysmaticlabs/dna/kv/boltkv"
	"github.com/prysmaticlabs/dna/kv/memkv"
	"github.com/prysmaticlabs/dna/objectstore"
	"github.com/prysmaticlabs/dna/objectstore/localstore"
	"github.com/prysmaticlabs/dna/objectstore/s3store"
	"github.com/prysmaticlabs/dna/provider"
	"github.com/prysmaticlabs/dna/rpc"
	"github.com/prysmaticlabs/dna/scanner"
	"github.com/prysmaticlabs/dna/streaming"
)

var log = logrus.WithField("prefix", "node")

// Node owns every long-running actor for one dna deployment: the
// chain log, ingestor, compactor, chain view and rpc server, mirroring
// the lifecycle shape of Prysm's beacon-chain/node.BeaconNode without
// its service-registry indirection, since this binary only ever runs a
// fixed, known set of components.
type Node struct {
	cfg Config

	store    objectstore.Store
	kvClient kv.Client
	chainLog *chain.Log
	plugin   chainplugin.ChainPlugin

	ingestor   *ingestion.Ingestor
	compactor  *compaction.Compactor
	view       *chainview.ChainView
	scan       *scanner.Scanner
	rpcSvc     *rpc.Service
	registry   *prometheus.Registry
	metricsSrv *http.Server

	mu   sync.Mutex
	stop chan struct{}
}

// New resolves cfg into every wired component, without starting any
// background loop yet.
func New(cfg Config) (*Node, error) {
	store, err := buildStore(cfg)
	if err != nil {
		return nil, err
	}

	// The reference deployment has no real distributed-etcd story wired
	// in this binary yet (no etcdkv.Client constructor takes a bare
	// endpoint string without a full clientv3.Config). kv.kind therefore
	// only chooses between the two local backends: memkv for ephemeral
	// single-run deployments, boltkv when the ingestion lock and chain
	// log pointers need to survive a process restart on one box.
	kvClient, err := buildKV(cfg)
	if err != nil {
		return nil, err
	}

	chainLog, err := chain.New(store, 64)
	if err != nil {
		return nil, errors.Wrap(err, "node: open chain log")
	}

	factory, ok := chainplugin.Lookup(cfg.Chain)
	if !ok {
		return nil, fmt.Errorf("node: unknown chain plugin %q (registered: %v)", cfg.Chain, chainplugin.Names())
	}

	prov := buildProvider(cfg.Chain)
	plugin := factory(prov)

	registry := prometheus.NewRegistry()

	ingestor := ingestion.New(ingestion.Config{
		StartingBlock:  cfg.IngestionStartingBlock,
		LockTTLSeconds: cfg.IngestionLockTTLSeconds,
		PollInterval:   cfg.IngestionPollInterval,
	}, store, kvClient, prov, chainLog)

	compactionStats := compaction.NewStats(registry)
	compactor := compaction.New(compaction.Config{
		SegmentSize:  cfg.CompactionSegmentSize,
		GroupSize:    cfg.CompactionGroupSize,
		PollInterval: cfg.CompactionPollInterval,
	}, store, kvClient, chainLog, plugin.FragmentInfo(), compactionStats)

	view := chainview.New(chainLog, kvClient, chainview.NewMetrics(registry))

	cache, err := scanner.NewCache(64 << 20)
	if err != nil {
		return nil, errors.Wrap(err, "node: build scanner cache")
	}
	scan := scanner.New(store, cfg.CompactionSegmentSize, plugin.FragmentInfo(), cache)

	rpcSvc := rpc.NewService(context.Background(), rpc.Config{
		Address:              cfg.RPCAddress,
		GatewayAddress:       cfg.GatewayAddress,
		MaxMessageSize:       cfg.MaxMessageSize,
		MaxMessagesPerSecond: cfg.MaxMessagesPerSecond,
		Streaming: streaming.Config{
			HeartbeatInterval: cfg.StreamingHeartbeatInterval,
			ChannelDepth:      cfg.StreamingChannelDepth,
			SegmentSize:       cfg.CompactionSegmentSize,
			GroupSize:         cfg.CompactionGroupSize,
			StartingBlock:     cfg.IngestionStartingBlock,
		},
		ChainView: view,
		Scanner:   scan,
		Store:     store,
		ChainLog:  chainLog,
		Plugin:    plugin,
	})

	return &Node{
		cfg:       cfg,
		store:     store,
		kvClient:  kvClient,
		chainLog:  chainLog,
		plugin:    plugin,
		ingestor:  ingestor,
		compactor: compactor,
		view:      view,
		scan:      scan,
		rpcSvc:    rpcSvc,
		registry:  registry,
		stop:      make(chan struct{}),
	}, nil
}

func buildStore(cfg Config) (objectstore.Store, error) {
	switch cfg.StorageKind {
	case "", "local":
		return localstore.New(cfg.StorageLocalRoot)
	case "s3":
		client, err := s3store.NewDefaultClient(context.Background(), cfg.StorageS3Region, cfg.StorageS3AccessKeyID, cfg.StorageS3SecretAccessKey)
		if err != nil {
			return nil, errors.Wrap(err, "node: build S3 client")
		}
		return s3store.New(client, cfg.StorageS3Bucket), nil
	case "azure":
		return nil, fmt.Errorf("node: storage.kind=azure requires a pre-built Azure client; use the objectstore/azurestore package directly from a custom main")
	default:
		return nil, fmt.Errorf("node: unknown storage.kind %q", cfg.StorageKind)
	}
}

func buildKV(cfg Config) (kv.Client, error) {
	switch cfg.KVKind {
	case "", "memory":
		return memkv.New(), nil
	case "bolt":
		return boltkv.Open(cfg.KVBoltPath)
	case "etcd":
		return nil, fmt.Errorf("node: kv.kind=etcd requires a pre-built clientv3.Client; use the kv/etcdkv package directly from a custom main")
	default:
		return nil, fmt.Errorf("node: unknown kv.kind %q", cfg.KVKind)
	}
}

// buildProvider resolves the in-memory reference provider.Provider for
// the selected chain plugin. Neither chain plugin ships a production
// JSON-RPC/beacon-API client (spec.md §1 scopes that out), so this is
// the only provider.Provider implementation either plugin's Factory
// ever receives.
func buildProvider(chainName string) provider.Provider {
	switch chainName {
	case beacon.PluginName:
		return beacon.NewMemoryProvider()
	default:
		return evm.NewMemoryProvider()
	}
}

// Start runs every background actor until a termination signal or
// Close arrives.
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	log.Info("starting dna node")

	runCtx, cancel := context.WithCancel(ctx)

	var wg sync.WaitGroup
	runActor := func(name string, run func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := run(runCtx); err != nil && runCtx.Err() == nil {
				log.WithField("actor", name).WithError(err).Error("actor exited with error")
			}
		}()
	}

	runActor("ingestion", n.ingestor.Run)
	runActor("compaction", n.compactor.Run)
	runActor("chainview", n.view.Run)

	n.rpcSvc.Start()

	if n.cfg.MonitoringAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(n.registry, promhttp.HandlerOpts{}))
		n.metricsSrv = &http.Server{Addr: n.cfg.MonitoringAddress, Handler: mux}
		go func() {
			if err := n.metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.WithError(err).Error("metrics server exited")
			}
		}()
	}

	stop := n.stop
	n.mu.Unlock()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigc)

	select {
	case <-sigc:
		log.Info("received interrupt, shutting down")
	case <-stop:
	}

	cancel()
	n.Close()
	wg.Wait()
	return nil
}

// Close stops the rpc server and metrics listener. It is safe to call
// more than once.
func (n *Node) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if err := n.rpcSvc.Stop(); err != nil {
		log.WithError(err).Warn("error stopping rpc service")
	}
	if n.metricsSrv != nil {
		_ = n.metricsSrv.Close()
	}
	if closer, ok := n.kvClient.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			log.WithError(err).Warn("error closing kv store")
		}
	}
	select {
	case <-n.stop:
	default:
		close(n.stop)
	}
}
