package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewMinIOStorageRequiresEndpointAndBucket(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  MinIOConfig
	}{
		{name: "missing endpoint", cfg: MinIOConfig{Bucket: "exports"}},
		{name: "missing bucket", cfg: MinIOConfig{Endpoint: "localhost:9000"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewMinIOStorage(context.Background(), tc.cfg, nil)
			require.Error(t, err)
		})
	}
}
