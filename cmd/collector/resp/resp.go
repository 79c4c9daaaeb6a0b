// Package resp serves a Redis-protocol listener for pushing and querying
// samples with any RESP client (redis-cli, go-redis, ...).
//
// Commands:
//
//	PING [message]                          PONG, or message echoed back
//	PUSH <identifier> <value> [timestamp]   OK once the sample is enqueued
//	FETCH <identifier>                      array of [timestamp, value] pairs
//	QUIT                                    OK, then the connection is closed
package resp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/redcon"

	"github.com/HatiCode/hawkeye/pkg/actor"
	"github.com/HatiCode/hawkeye/pkg/storage"
)

// Storage is the actor-facing side of the listener. *actor.Sender implements it.
type Storage interface {
	Store(ctx context.Context, s storage.Sample) error
	Fetch(ctx context.Context, identifier string) ([]storage.Sample, error)
}

// RequestRecorder counts requests by operation and outcome.
type RequestRecorder interface {
	RecordRequest(protocol, operation, outcome string)
}

// Server is a RESP listener in front of the storage actor.
type Server struct {
	addr         string
	store        Storage
	queryTimeout time.Duration
	logger       *slog.Logger
	recorder     RequestRecorder
	now          func() time.Time

	// ctx is canceled by Stop so in-flight commands give up waiting on the actor.
	ctx    context.Context
	cancel context.CancelFunc

	mu sync.Mutex
	ln net.Listener
}

// New creates a listener bound to addr once Start is called.
func New(addr string, store Storage, queryTimeout time.Duration, logger *slog.Logger, recorder RequestRecorder) (*Server, error) {
	if store == nil {
		return nil, errors.New("storage cannot be nil")
	}
	if queryTimeout <= 0 {
		return nil, errors.New("query timeout must be positive")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:         addr,
		store:        store,
		queryTimeout: queryTimeout,
		logger:       logger,
		recorder:     recorder,
		now:          time.Now,
		ctx:          ctx,
		cancel:       cancel,
	}, nil
}

// Start listens on the configured address and serves until Stop is called.
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	return s.Serve(lis)
}

// Serve accepts connections on lis until Stop is called. It returns nil after
// a Stop.
func (s *Server) Serve(lis net.Listener) error {
	s.mu.Lock()
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		return lis.Close()
	}
	s.ln = lis
	s.mu.Unlock()

	s.logger.Info("starting RESP server", "address", lis.Addr().String())

	err := redcon.Serve(lis, s.handle, s.accept, s.closed)
	if err != nil && (errors.Is(err, net.ErrClosed) || s.ctx.Err() != nil) {
		return nil
	}
	return err
}

// Addr returns the bound address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Stop closes the listener and aborts commands waiting on the actor.
// Open client connections are closed by the peer or when their next read fails.
func (s *Server) Stop() error {
	s.logger.Info("stopping RESP server")
	s.cancel()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	if err := s.ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("failed to close RESP listener: %w", err)
	}
	return nil
}

func (s *Server) accept(conn redcon.Conn) bool {
	if s.ctx.Err() != nil {
		return false
	}
	s.logger.Debug("RESP client connected", "remote", conn.RemoteAddr())
	return true
}

func (s *Server) closed(conn redcon.Conn, err error) {
	s.logger.Debug("RESP client disconnected", "remote", conn.RemoteAddr(), "error", err)
}

func (s *Server) handle(conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) == 0 {
		conn.WriteError("ERR empty command")
		return
	}

	name := strings.ToLower(string(cmd.Args[0]))
	args := make([]string, len(cmd.Args)-1)
	for i, a := range cmd.Args[1:] {
		args[i] = string(a)
	}

	switch name {
	case "ping":
		switch len(args) {
		case 0:
			conn.WriteString("PONG")
		case 1:
			conn.WriteBulkString(args[0])
		default:
			conn.WriteError(wrongArgs(name))
		}
	case "push":
		s.push(conn, args)
	case "fetch":
		s.fetch(conn, args)
	case "quit":
		conn.WriteString("OK")
		if err := conn.Close(); err != nil {
			s.logger.Debug("failed to close RESP connection", "error", err)
		}
	default:
		conn.WriteError(fmt.Sprintf("ERR unknown command '%s'", name))
	}
}

func (s *Server) push(conn redcon.Conn, args []string) {
	if len(args) < 2 || len(args) > 3 {
		s.record("push", "invalid")
		conn.WriteError(wrongArgs("push"))
		return
	}

	sample, err := parseSample(args, s.now)
	if err != nil {
		s.record("push", "invalid")
		conn.WriteError("ERR " + err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(s.ctx, s.queryTimeout)
	defer cancel()

	if err := s.store.Store(ctx, sample); err != nil {
		s.record("push", "error")
		s.logger.Warn("sample push failed", "identifier", sample.Identifier, "error", err)
		if errors.Is(err, context.DeadlineExceeded) {
			conn.WriteError("BUSY storage busy, mailbox full")
			return
		}
		conn.WriteError(errorReply(err))
		return
	}

	s.record("push", "ok")
	conn.WriteString("OK")
}

func (s *Server) fetch(conn redcon.Conn, args []string) {
	if len(args) != 1 {
		s.record("fetch", "invalid")
		conn.WriteError(wrongArgs("fetch"))
		return
	}
	identifier := args[0]
	if err := storage.ValidateIdentifier(identifier); err != nil {
		s.record("fetch", "invalid")
		conn.WriteError("ERR " + err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(s.ctx, s.queryTimeout)
	defer cancel()

	samples, err := s.store.Fetch(ctx, identifier)
	if err != nil {
		s.record("fetch", "error")
		s.logger.Warn("occupation query failed", "identifier", identifier, "error", err)
		conn.WriteError(errorReply(err))
		return
	}

	s.record("fetch", "ok")
	conn.WriteArray(len(samples))
	for _, smp := range samples {
		conn.WriteArray(2)
		conn.WriteBulkString(strconv.FormatUint(smp.Timestamp, 10))
		conn.WriteBulkString(strconv.FormatFloat(float64(smp.Value), 'g', -1, 32))
	}
}

func (s *Server) record(operation, outcome string) {
	s.recorder.RecordRequest("resp", operation, outcome)
}

type nopRecorder struct{}

func (nopRecorder) RecordRequest(string, string, string) {}

// parseSample reads "identifier value [timestamp]".
func parseSample(args []string, now func() time.Time) (storage.Sample, error) {
	identifier := args[0]
	if err := storage.ValidateIdentifier(identifier); err != nil {
		return storage.Sample{}, err
	}

	v, err := strconv.ParseFloat(args[1], 32)
	if err != nil {
		return storage.Sample{}, fmt.Errorf("value %q is not a number", args[1])
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return storage.Sample{}, fmt.Errorf("value %q is not finite", args[1])
	}

	ts := uint64(now().UnixMilli())
	if len(args) == 3 {
		ts, err = strconv.ParseUint(args[2], 10, 64)
		if err != nil {
			return storage.Sample{}, fmt.Errorf("timestamp %q is not a millisecond epoch", args[2])
		}
	}

	return storage.Sample{Identifier: identifier, Timestamp: ts, Value: float32(v)}, nil
}

func errorReply(err error) string {
	var serr *storage.StorageError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "TIMEOUT query timed out"
	case errors.Is(err, actor.ErrSenderClosed), errors.Is(err, actor.ErrActorStopped), errors.Is(err, context.Canceled):
		return "UNAVAILABLE storage unavailable"
	case errors.As(err, &serr):
		return "ERR storage error"
	default:
		return "ERR " + err.Error()
	}
}

func wrongArgs(cmd string) string {
	return fmt.Sprintf("ERR wrong number of arguments for '%s' command", cmd)
}
