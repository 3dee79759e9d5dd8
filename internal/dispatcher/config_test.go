package dispatcher

import (
	"testing"
	"time"
)

func TestMemoryConfigWithDefaults(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   MemoryConfig
		want MemoryConfig
	}{
		{
			"zero values",
			MemoryConfig{},
			MemoryConfig{BufferSize: 10000, Workers: 10, HTTPTimeout: 10 * time.Second},
		},
		{
			"negative values",
			MemoryConfig{BufferSize: -1, Workers: -1, HTTPTimeout: -1},
			MemoryConfig{BufferSize: 10000, Workers: 10, HTTPTimeout: 10 * time.Second},
		},
		{
			"valid values preserved",
			MemoryConfig{BufferSize: 500, Workers: 5, HTTPTimeout: 20 * time.Second},
			MemoryConfig{BufferSize: 500, Workers: 5, HTTPTimeout: 20 * time.Second},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.in.withDefaults(); got != tc.want {
				t.Errorf("withDefaults() = %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("DISPATCHER_BUFFER_SIZE", "250")
	t.Setenv("DISPATCHER_WORKERS", "3")
	t.Setenv("DISPATCHER_HTTP_TIMEOUT", "2s")

	cfg := LoadConfigFromEnv()
	if cfg.BufferSize != 250 || cfg.Workers != 3 || cfg.HTTPTimeout != 2*time.Second {
		t.Errorf("LoadConfigFromEnv() = %+v", cfg)
	}
}
