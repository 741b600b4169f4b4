package app

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/sweetspot/internal/config"
	"github.com/spherical/sweetspot/internal/domain"
)

// TestLiveIngest runs a real slip through the inference service. It needs
// SWEETSPOT_SAMPLE_SLIP pointing at a delivery-slip PDF and OPENAI_API_KEY.
func TestLiveIngest(t *testing.T) {
	_ = godotenv.Load("../../.env")

	slip := os.Getenv("SWEETSPOT_SAMPLE_SLIP")
	if slip == "" {
		t.Skip("SWEETSPOT_SAMPLE_SLIP not set")
	}
	if _, err := os.Stat(slip); os.IsNotExist(err) {
		t.Skipf("Sample slip not found at %s", slip)
	}
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		t.Skip("OPENAI_API_KEY not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Inference.APIKey = apiKey

	a, err := New(ctx, cfg, nil)
	require.NoError(t, err)

	job, err := a.StartIngest(ctx, []string{slip})
	require.NoError(t, err)

	var last domain.StreamEvent
	pages := 0
	err = job.Drain(func(e domain.StreamEvent) {
		if e.Type == domain.EventPageProcessing {
			pages++
		}
		last = e
	})
	require.NoError(t, err)
	assert.Equal(t, domain.EventComplete, last.Type)
	assert.Greater(t, pages, 0)

	res, ok := last.Payload.(domain.Result)
	require.True(t, ok)
	t.Logf("%s: %d pages, %d stored, %d rejected in %v", res.Source, res.Pages, res.Inserted, res.Rejected, res.Duration)

	recs, err := a.Store().LoadAll(ctx)
	require.NoError(t, err)
	assert.Len(t, recs, res.Inserted)
}
