package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/HatiCode/hawkeye/pkg/actor"
	"github.com/HatiCode/hawkeye/pkg/api/hawkeye"
	"github.com/HatiCode/hawkeye/pkg/storage"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startActor(t *testing.T, capacity int) *actor.Sender {
	t.Helper()

	h, err := storage.NewMemoryHistory(capacity)
	if err != nil {
		t.Fatalf("NewMemoryHistory() error = %v", err)
	}
	a, sender, err := actor.New(h, 16, discardLogger(), nil)
	if err != nil {
		t.Fatalf("actor.New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = a.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return sender
}

// dial serves c over an in-memory listener and returns a client for it.
func dial(t *testing.T, c *Collector) *hawkeye.CollectorClient {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	hawkeye.RegisterCollectorServer(srv, c)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("grpc.NewClient() error = %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	return hawkeye.NewCollectorClient(conn)
}

type stubStore struct {
	storeErr error
	fetchErr error
	block    bool
}

func (s *stubStore) Store(ctx context.Context, _ storage.Sample) error {
	if s.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return s.storeErr
}

func (s *stubStore) Fetch(ctx context.Context, _ string) ([]storage.Sample, error) {
	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return nil, s.fetchErr
}

type countingRecorder struct {
	counts map[string]int
}

func (c *countingRecorder) RecordRequest(protocol, operation, outcome string) {
	if c.counts == nil {
		c.counts = make(map[string]int)
	}
	c.counts[protocol+"/"+operation+"/"+outcome]++
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(nil, time.Second, nil, nil); err == nil {
		t.Error("expected error for nil storage")
	}
	if _, err := New(&stubStore{}, 0, nil, nil); err == nil {
		t.Error("expected error for zero query timeout")
	}
}

func TestCollector_PushThenGet(t *testing.T) {
	sender := startActor(t, 2)
	rec := &countingRecorder{}
	c, err := New(sender, time.Second, discardLogger(), rec)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	client := dial(t, c)
	ctx := context.Background()

	for _, s := range []storage.Sample{
		{Identifier: "a", Timestamp: 100, Value: 1},
		{Identifier: "b", Timestamp: 200, Value: 2},
		{Identifier: "a", Timestamp: 300, Value: 3},
	} {
		if _, err := client.PushSample(ctx, hawkeye.EncodePush(s)); err != nil {
			t.Fatalf("PushSample() error = %v", err)
		}
	}

	tests := []struct {
		identifier string
		want       []storage.Sample
	}{
		{identifier: "a", want: []storage.Sample{{Identifier: "a", Timestamp: 300, Value: 3}}},
		{identifier: "b", want: []storage.Sample{{Identifier: "b", Timestamp: 200, Value: 2}}},
		{identifier: "c", want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.identifier, func(t *testing.T) {
			list, err := client.GetOccupation(ctx, wrapperspb.String(tt.identifier))
			if err != nil {
				t.Fatalf("GetOccupation() error = %v", err)
			}
			got, err := hawkeye.DecodeSamples(tt.identifier, list)
			if err != nil {
				t.Fatalf("DecodeSamples() error = %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("sample[%d] = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}

	if n := rec.counts["grpc/push/ok"]; n != 3 {
		t.Errorf("push ok count = %d, want 3", n)
	}
}

func TestCollector_PushDefaultsTimestamp(t *testing.T) {
	sender := startActor(t, 4)
	c, err := New(sender, time.Second, discardLogger(), nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	c.now = func() time.Time { return time.UnixMilli(42) }
	client := dial(t, c)
	ctx := context.Background()

	if _, err := client.PushSample(ctx, hawkeye.EncodePush(storage.Sample{Identifier: "a", Value: 0.5})); err != nil {
		t.Fatalf("PushSample() error = %v", err)
	}

	list, err := client.GetOccupation(ctx, wrapperspb.String("a"))
	if err != nil {
		t.Fatalf("GetOccupation() error = %v", err)
	}
	got, err := hawkeye.DecodeSamples("a", list)
	if err != nil {
		t.Fatalf("DecodeSamples() error = %v", err)
	}
	if len(got) != 1 || got[0].Timestamp != 42 {
		t.Errorf("got %+v, want one sample stamped 42", got)
	}
}

func TestCollector_PushKeepsExplicitZeroTimestamp(t *testing.T) {
	sender := startActor(t, 4)
	c, err := New(sender, time.Second, discardLogger(), nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	c.now = func() time.Time { return time.UnixMilli(42) }
	client := dial(t, c)
	ctx := context.Background()

	in := &structpb.Struct{Fields: map[string]*structpb.Value{
		hawkeye.FieldIdentifier: structpb.NewStringValue("a"),
		hawkeye.FieldValue:      structpb.NewNumberValue(1),
		hawkeye.FieldTimestamp:  structpb.NewNumberValue(0),
	}}
	if _, err := client.PushSample(ctx, in); err != nil {
		t.Fatalf("PushSample() error = %v", err)
	}

	list, err := client.GetOccupation(ctx, wrapperspb.String("a"))
	if err != nil {
		t.Fatalf("GetOccupation() error = %v", err)
	}
	got, err := hawkeye.DecodeSamples("a", list)
	if err != nil {
		t.Fatalf("DecodeSamples() error = %v", err)
	}
	if len(got) != 1 || got[0].Timestamp != 0 {
		t.Errorf("got %+v, want one sample stamped 0", got)
	}
}

func TestCollector_NilRecorder(t *testing.T) {
	c, err := New(&stubStore{fetchErr: actor.ErrActorStopped}, time.Second, discardLogger(), nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	client := dial(t, c)
	ctx := context.Background()

	if _, err := client.PushSample(ctx, hawkeye.EncodePush(storage.Sample{Identifier: "a", Timestamp: 1, Value: 1})); err != nil {
		t.Fatalf("PushSample() error = %v", err)
	}
	if _, err := client.GetOccupation(ctx, wrapperspb.String("a")); status.Code(err) != codes.Unavailable {
		t.Errorf("GetOccupation() error = %v, want Unavailable", err)
	}
}

func TestCollector_GetOccupationErrors(t *testing.T) {
	tests := []struct {
		name       string
		store      *stubStore
		identifier string
		wantCode   codes.Code
	}{
		{name: "empty identifier", store: &stubStore{}, identifier: "", wantCode: codes.InvalidArgument},
		{name: "deadline", store: &stubStore{block: true}, identifier: "a", wantCode: codes.DeadlineExceeded},
		{name: "actor stopped", store: &stubStore{fetchErr: actor.ErrActorStopped}, identifier: "a", wantCode: codes.Unavailable},
		{name: "sender closed", store: &stubStore{fetchErr: actor.ErrSenderClosed}, identifier: "a", wantCode: codes.Unavailable},
		{
			name:       "storage error",
			store:      &stubStore{fetchErr: &storage.StorageError{Op: "fetch", Backend: "redis", Err: errors.New("boom")}},
			identifier: "a",
			wantCode:   codes.Internal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.store, 50*time.Millisecond, discardLogger(), nil)
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			client := dial(t, c)

			_, err = client.GetOccupation(context.Background(), wrapperspb.String(tt.identifier))
			if got := status.Code(err); got != tt.wantCode {
				t.Errorf("status code = %v, want %v (err = %v)", got, tt.wantCode, err)
			}
		})
	}
}

func TestCollector_PushSampleErrors(t *testing.T) {
	valid := hawkeye.EncodePush(storage.Sample{Identifier: "a", Timestamp: 1, Value: 1})

	tests := []struct {
		name     string
		store    *stubStore
		in       *structpb.Struct
		wantCode codes.Code
	}{
		{
			name:     "missing value",
			store:    &stubStore{},
			in:       &structpb.Struct{Fields: map[string]*structpb.Value{hawkeye.FieldIdentifier: structpb.NewStringValue("a")}},
			wantCode: codes.InvalidArgument,
		},
		{
			name:     "missing identifier",
			store:    &stubStore{},
			in:       &structpb.Struct{Fields: map[string]*structpb.Value{hawkeye.FieldValue: structpb.NewNumberValue(1)}},
			wantCode: codes.InvalidArgument,
		},
		{
			name:  "value overflows float32",
			store: &stubStore{},
			in: &structpb.Struct{Fields: map[string]*structpb.Value{
				hawkeye.FieldIdentifier: structpb.NewStringValue("a"),
				hawkeye.FieldValue:      structpb.NewNumberValue(1e300),
				hawkeye.FieldTimestamp:  structpb.NewNumberValue(100),
			}},
			wantCode: codes.InvalidArgument,
		},
		{name: "mailbox closed", store: &stubStore{storeErr: actor.ErrSenderClosed}, in: valid, wantCode: codes.Unavailable},
		{name: "mailbox full", store: &stubStore{block: true}, in: valid, wantCode: codes.Unavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.store, 50*time.Millisecond, discardLogger(), nil)
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			client := dial(t, c)

			_, err = client.PushSample(context.Background(), tt.in)
			if got := status.Code(err); got != tt.wantCode {
				t.Errorf("status code = %v, want %v (err = %v)", got, tt.wantCode, err)
			}
		})
	}
}
