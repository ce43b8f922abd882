// Package rpc wires the gRPC surface from spec.md §6 onto a running
// chain view, scanner and chain plugin: StreamData, Status, and a
// reflection service, built the way
// prysmaticlabs-geth-sharding/beacon-chain/rpc.Service builds the
// beacon node's gRPC server (interceptor chain, listener lifecycle,
// graceful stop).
package rpc

import (
	"context"
	"net"
	"net/http"
	"time"

	middleware "github.com/grpc-ecosystem/go-grpc-middleware"
	"github.com/grpc-ecosystem/go-grpc-middleware/recovery"
	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/paulbellamy/ratecounter"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"

	"github.com/prysmaticlabs/dna/chain"
	"github.com/prysmaticlabs/dna/chainplugin"
	"github.com/prysmaticlabs/dna/chainview"
	"github.com/prysmaticlabs/dna/cursor"
	"github.com/prysmaticlabs/dna/dnaerr"
	"github.com/prysmaticlabs/dna/filter"
	"github.com/prysmaticlabs/dna/fragment"
	"github.com/prysmaticlabs/dna/objectstore"
	"github.com/prysmaticlabs/dna/proto/dnapb"
	"github.com/prysmaticlabs/dna/scanner"
	"github.com/prysmaticlabs/dna/streaming"
)

var log = logrus.WithField("prefix", "rpc")

// maxFiltersPerRequest is spec.md §8's bound: "More than 5 filters ->
// InvalidArgument".
const maxFiltersPerRequest = 5

// Config options for the DNA gRPC/REST server.
type Config struct {
	Address        string // host:port the gRPC listener binds
	GatewayAddress string // host:port the REST passthrough listens on; empty disables it
	MaxMessageSize int

	// MaxMessagesPerSecond caps how many StreamData messages one
	// connection may receive per second before it is cut off with
	// ResourceExhausted; 0 disables the limit.
	MaxMessagesPerSecond int64

	Streaming streaming.Config

	ChainView *chainview.ChainView
	Scanner   *scanner.Scanner
	Store     objectstore.Store
	ChainLog  *chain.Log
	Plugin    chainplugin.ChainPlugin
}

// Service is the gRPC server for one chain plugin's DNA instance.
type Service struct {
	cfg    Config
	ctx    context.Context
	cancel context.CancelFunc

	listener   net.Listener
	grpcServer *grpc.Server
	httpServer *http.Server

	credentialError error
}

// NewService constructs a Service; call Start to bind its listener and
// begin serving.
func NewService(ctx context.Context, cfg Config) *Service {
	ctx, cancel := context.WithCancel(ctx)
	return &Service{cfg: cfg, ctx: ctx, cancel: cancel}
}

// Start binds the gRPC listener, registers the DNA service and
// reflection, and begins serving in the background. If cfg.GatewayAddress
// is set it also starts a REST passthrough for Status.
func (s *Service) Start() {
	lis, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		log.WithError(err).Error("could not listen for gRPC")
		s.credentialError = err
		return
	}
	s.listener = lis
	log.WithField("address", s.cfg.Address).Info("rpc: gRPC listening")

	opts := []grpc.ServerOption{
		grpc.StreamInterceptor(middleware.ChainStreamServer(
			recovery.StreamServerInterceptor(),
			grpc_prometheus.StreamServerInterceptor,
		)),
		grpc.UnaryInterceptor(middleware.ChainUnaryServer(
			recovery.UnaryServerInterceptor(),
			grpc_prometheus.UnaryServerInterceptor,
		)),
	}
	if s.cfg.MaxMessageSize > 0 {
		opts = append(opts, grpc.MaxRecvMsgSize(s.cfg.MaxMessageSize), grpc.MaxSendMsgSize(s.cfg.MaxMessageSize))
	}

	s.grpcServer = grpc.NewServer(opts...)
	dnapb.RegisterDNAServer(s.grpcServer, s)
	grpc_prometheus.Register(s.grpcServer)
	reflection.Register(s.grpcServer)

	go func() {
		if err := s.grpcServer.Serve(s.listener); err != nil {
			log.WithError(err).Error("rpc: gRPC server stopped")
		}
	}()

	if s.cfg.GatewayAddress != "" {
		s.httpServer = &http.Server{Addr: s.cfg.GatewayAddress, Handler: s.gatewayMux()}
		go func() {
			log.WithField("address", s.cfg.GatewayAddress).Info("rpc: REST gateway listening")
			if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.WithError(err).Error("rpc: REST gateway stopped")
			}
		}()
	}
}

// gatewayMux mounts the REST passthrough for Status, the one unary RPC
// spec.md §6 calls out for a REST mirror, on grpc-gateway's runtime.ServeMux,
// registered by hand since this service has no generated gateway stub.
func (s *Service) gatewayMux() http.Handler {
	mux := runtime.NewServeMux()
	err := mux.HandlePath(http.MethodGet, "/status", func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
		resp, err := s.Status(r.Context(), &dnapb.StatusRequest{})
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		body, err := (protojson.MarshalOptions{EmitUnpopulated: true}).Marshal(resp)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	})
	if err != nil {
		log.WithError(err).Error("rpc: register REST gateway route")
	}
	return mux
}

// Stop gracefully shuts down the gRPC server and, if running, the REST
// gateway.
func (s *Service) Stop() error {
	s.cancel()
	if s.grpcServer != nil {
		s.grpcServer.GracefulStop()
	}
	if s.httpServer != nil {
		return s.httpServer.Close()
	}
	return nil
}

// Status returns s.credentialError, matching the liveness-check
// convention the rest of the teacher's services use.
func (s *Service) Status(ctx context.Context, _ *dnapb.StatusRequest) (*dnapb.StatusResponse, error) {
	if s.credentialError != nil {
		return nil, s.credentialError
	}
	head := s.cfg.ChainView.Head()
	finalized := s.cfg.ChainView.Finalized()
	return &dnapb.StatusResponse{
		CurrentHead: toProtoCursor(head),
		Finalized:   toProtoCursor(finalized),
	}, nil
}

// StreamData implements the DNAServer streaming RPC: compile the
// client's raw filters through the chain plugin, hand the request to a
// fresh streaming.Session, and relay its output as StreamDataResponse
// messages until the client disconnects or the session ends.
func (s *Service) StreamData(req *dnapb.StreamDataRequest, stream dnapb.DNA_StreamDataServer) error {
	ctx := stream.Context()

	bf, err := s.compileFilter(req.GetFilter())
	if err != nil {
		return dnaerr.ToGRPCStatus(err)
	}

	var starting *cursor.Cursor
	if sc := req.GetStartingCursor(); sc != nil {
		c := fromProtoCursor(sc)
		starting = &c
	}

	sess := streaming.NewSession(s.cfg.Streaming, s.cfg.ChainView, s.cfg.Scanner, s.cfg.Store, s.cfg.ChainLog)
	out, err := sess.Start(ctx, streaming.Request{StartingCursor: starting, Filter: bf})
	if err != nil {
		return dnaerr.ToGRPCStatus(err)
	}

	// One counter per connection: a client re-requesting a deep replay
	// on a hot filter shouldn't be able to monopolize the segment cache
	// and compaction read path at the expense of every other stream.
	var rate *ratecounter.RateCounter
	if s.cfg.MaxMessagesPerSecond > 0 {
		rate = ratecounter.NewRateCounter(time.Second)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-out:
			if !ok {
				return nil
			}
			if rate != nil {
				rate.Incr(1)
				if rate.Rate() > s.cfg.MaxMessagesPerSecond {
					return status.Errorf(codes.ResourceExhausted, "rpc: stream exceeded %d messages/sec", s.cfg.MaxMessagesPerSecond)
				}
			}
			resp, err := toStreamDataResponse(msg)
			if err != nil {
				return dnaerr.ToGRPCStatus(err)
			}
			if err := stream.Send(resp); err != nil {
				return err
			}
		}
	}
}

// compileFilter enforces spec.md §8's "more than 5 filters ->
// InvalidArgument" bound, compiles the raw filter bytes through the
// chain plugin's factory, and merges the resulting per-filter
// BlockFilters into the single BlockFilter a Session evaluates (their
// Filters already combine with OR semantics per fragment).
func (s *Service) compileFilter(raw [][]byte) (filter.BlockFilter, error) {
	if len(raw) > maxFiltersPerRequest {
		return filter.BlockFilter{}, dnaerr.Newf(dnaerr.BadInput, "rpc: %d filters exceeds the %d-filter bound", len(raw), maxFiltersPerRequest)
	}
	if len(raw) == 0 {
		return filter.BlockFilter{}, nil
	}

	compiled, err := s.cfg.Plugin.BlockFilterFactory().CreateBlockFilter(raw)
	if err != nil {
		return filter.BlockFilter{}, dnaerr.Wrap(err, dnaerr.BadInput, "rpc: compile filter")
	}
	return mergeBlockFilters(compiled), nil
}

// mergeBlockFilters combines independently-compiled BlockFilters into
// one: their per-fragment Filter lists already combine with OR
// semantics (spec.md §4.8), so merging is just concatenation keyed by
// fragment id.
func mergeBlockFilters(filters []filter.BlockFilter) filter.BlockFilter {
	merged := filter.BlockFilter{Filters: make(map[fragment.FragmentID][]filter.Filter)}
	for _, bf := range filters {
		if bf.AlwaysIncludeHeader {
			merged.AlwaysIncludeHeader = true
		}
		for id, fs := range bf.Filters {
			merged.Filters[id] = append(merged.Filters[id], fs...)
		}
	}
	return merged
}

func toProtoCursor(c cursor.Cursor) *dnapb.Cursor {
	return &dnapb.Cursor{OrderKey: c.Number, UniqueKey: c.Hash}
}

func fromProtoCursor(c *dnapb.Cursor) cursor.Cursor {
	if c == nil {
		return cursor.Cursor{}
	}
	return cursor.New(c.GetOrderKey(), c.GetUniqueKey())
}

func toStreamDataResponse(msg streaming.Message) (*dnapb.StreamDataResponse, error) {
	switch msg.Kind {
	case streaming.KindData:
		var records [][]byte
		for _, rec := range msg.Data.Records {
			records = append(records, rec.Data)
		}
		return &dnapb.StreamDataResponse{Message: &dnapb.StreamDataResponse_Data{Data: &dnapb.Data{
			Cursor:    toProtoCursor(msg.Data.Cursor),
			EndCursor: toProtoCursor(msg.Data.EndCursor),
			Finality:  dnapb.DataFinality_DATA_STATUS_ACCEPTED,
			Data:      records,
		}}}, nil
	case streaming.KindFinalize:
		return &dnapb.StreamDataResponse{Message: &dnapb.StreamDataResponse_Finalize{Finalize: &dnapb.Finalize{Cursor: toProtoCursor(msg.Cursor)}}}, nil
	case streaming.KindInvalidate:
		return &dnapb.StreamDataResponse{Message: &dnapb.StreamDataResponse_Invalidate{Invalidate: &dnapb.Invalidate{Cursor: toProtoCursor(msg.Cursor)}}}, nil
	case streaming.KindHeartbeat:
		return &dnapb.StreamDataResponse{Message: &dnapb.StreamDataResponse_Heartbeat{Heartbeat: &dnapb.Heartbeat{}}}, nil
	case streaming.KindSystemMessage:
		return &dnapb.StreamDataResponse{Message: &dnapb.StreamDataResponse_SystemMessage{SystemMessage: &dnapb.SystemMessage{Stdout: msg.SystemMessage}}}, nil
	default:
		return nil, errors.Errorf("rpc: unhandled stream message kind %d", msg.Kind)
	}
}
