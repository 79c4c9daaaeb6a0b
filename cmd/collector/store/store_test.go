package store

import (
	"io"
	"log/slog"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"github.com/HatiCode/hawkeye/cmd/collector/config"
	"github.com/HatiCode/hawkeye/pkg/storage"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNew(t *testing.T) {
	mr := miniredis.RunT(t)

	tests := []struct {
		name    string
		cfg     config.Config
		want    string
		wantErr bool
	}{
		{name: "memory", cfg: config.Config{Storage: "memory", StorageSize: 4}, want: "memory"},
		{name: "default", cfg: config.Config{StorageSize: 4}, want: "memory"},
		{name: "memory zero size", cfg: config.Config{Storage: "memory", StorageSize: 0}, wantErr: true},
		{name: "redis", cfg: config.Config{Storage: "redis", RedisAddr: mr.Addr(), StorageSize: 4}, want: "redis"},
		{name: "redis unreachable", cfg: config.Config{Storage: "redis", RedisAddr: "127.0.0.1:1", StorageSize: 4}, wantErr: true},
		{name: "unknown", cfg: config.Config{Storage: "etcd", StorageSize: 4}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := New(&tt.cfg, discardLogger())
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}

			switch v := h.(type) {
			case *storage.MemoryHistory:
				if tt.want != "memory" {
					t.Errorf("got memory history, want %s", tt.want)
				}
				if v.Cap() != tt.cfg.StorageSize {
					t.Errorf("Cap() = %d, want %d", v.Cap(), tt.cfg.StorageSize)
				}
			case *storage.RedisHistory:
				if tt.want != "redis" {
					t.Errorf("got redis history, want %s", tt.want)
				}
				v.Close()
			default:
				t.Errorf("unexpected history type %T", h)
			}
		})
	}
}
