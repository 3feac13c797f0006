package vectorindex

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestQdrantConfig_ApplyDefaults(t *testing.T) {
	var cfg QdrantConfig
	cfg.ApplyDefaults()

	assert.Equal(t, "localhost", cfg.Host)
	assert.Equal(t, 6334, cfg.Port)
	assert.Equal(t, uint64(384), cfg.VectorSize)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, time.Second, cfg.RetryBackoff)
}

func TestQdrantConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     QdrantConfig
		wantErr bool
	}{
		{
			name: "valid",
			cfg:  QdrantConfig{Host: "localhost", Port: 6334, VectorSize: 384},
		},
		{
			name:    "missing host",
			cfg:     QdrantConfig{Port: 6334, VectorSize: 384},
			wantErr: true,
		},
		{
			name:    "port out of range",
			cfg:     QdrantConfig{Host: "localhost", Port: 70000, VectorSize: 384},
			wantErr: true,
		},
		{
			name:    "zero vector size",
			cfg:     QdrantConfig{Host: "localhost", Port: 6334},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidConfig)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestIsTransientError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"unavailable", status.Error(grpccodes.Unavailable, "down"), true},
		{"deadline exceeded", status.Error(grpccodes.DeadlineExceeded, "slow"), true},
		{"resource exhausted", status.Error(grpccodes.ResourceExhausted, "throttled"), true},
		{"aborted", status.Error(grpccodes.Aborted, "conflict"), true},
		{"invalid argument", status.Error(grpccodes.InvalidArgument, "bad"), false},
		{"not found", status.Error(grpccodes.NotFound, "missing"), false},
		{"plain error", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransientError(tt.err))
		})
	}
}

func TestToFilter(t *testing.T) {
	assert.Nil(t, toFilter(nil))
	assert.Nil(t, toFilter(map[string]string{}))

	f := toFilter(map[string]string{"type": "memory", "project_id": "p1"})
	require.NotNil(t, f)
	assert.Len(t, f.Must, 2, "conditions combine by AND")
}

func TestToPayload_MetadataCannotShadowContent(t *testing.T) {
	doc := Document{
		ID:      "7b0c7a2e-9f4c-4c6a-8a71-2f3d9a1c5e40",
		Content: "the real document text",
		Metadata: map[string]string{
			"content": "attacker-supplied text",
			"id":      "some-other-id",
			"custom":  "kept",
		},
	}

	payload := toPayload(doc)
	require.NotNil(t, payload["content"].Kind)
	assert.Equal(t, "the real document text", payload["content"].GetStringValue())
	assert.Equal(t, doc.ID, payload["id"].GetStringValue())
	assert.Equal(t, "kept", payload["custom"].GetStringValue())

	id, content, metadata := fromPayload(payload)
	assert.Equal(t, doc.ID, id)
	assert.Equal(t, "the real document text", content)
	assert.Equal(t, "kept", metadata["custom"])
	assert.NotContains(t, metadata, "content")
	assert.NotContains(t, metadata, "id")
}

func TestPayloadRoundTrip(t *testing.T) {
	doc := Document{
		ID:      "m1",
		Content: "hello",
		Metadata: map[string]string{
			"type":      "memory",
			"tenant_id": "alice",
		},
	}

	id, content, metadata := fromPayload(toPayload(doc))
	assert.Equal(t, doc.ID, id)
	assert.Equal(t, doc.Content, content)
	assert.Equal(t, doc.Metadata, metadata)
}
