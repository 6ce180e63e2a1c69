package cmd

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gaddyh/tami2-ai-sub000/internal/cache"
	"github.com/gaddyh/tami2-ai-sub000/internal/config"
	"github.com/gaddyh/tami2-ai-sub000/internal/graph"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.LLM.OpenAIAPIKey = "sk-test"
	cfg.Sessions.Dir = t.TempDir()
	return cfg
}

func TestBuildBackend_Memory(t *testing.T) {
	be, err := buildBackend(context.Background(), testConfig(t))
	require.NoError(t, err)
	defer be.Close()

	assert.NotNil(t, be.app)
	assert.NotNil(t, be.stores.Tasks)
	assert.NotNil(t, be.stores.Waitlist)
	assert.NotNil(t, be.app.Prompts())
	// participant confirmation and strict resolution are on out of the box
	assert.True(t, be.cfg.Agent.ConfirmPerson)
	assert.True(t, be.cfg.Agent.StrictResolve)
}

func TestBuildBackend_Errors(t *testing.T) {
	cfg := testConfig(t)
	cfg.Database.Mode = "cassandra"
	_, err := buildBackend(context.Background(), cfg)
	assert.ErrorContains(t, err, "unknown database mode")

	cfg = testConfig(t)
	cfg.Database.Mode = "postgres"
	_, err = buildBackend(context.Background(), cfg)
	assert.ErrorContains(t, err, "TAMI_POSTGRES_DSN")

	cfg = testConfig(t)
	cfg.LLM.OpenAIAPIKey = ""
	_, err = buildBackend(context.Background(), cfg)
	assert.Error(t, err)
}

func TestOpenCheckpointer(t *testing.T) {
	b := &backend{cfg: testConfig(t)}
	defer b.Close()

	cp, err := b.openCheckpointer(nil)
	require.NoError(t, err)
	assert.IsType(t, &graph.MemoryCheckpointer{}, cp)

	b.cfg.Database.Checkpointer = "sqlite"
	cp, err = b.openCheckpointer(nil)
	require.NoError(t, err)
	assert.IsType(t, &graph.SQLiteCheckpointer{}, cp)
	assert.Len(t, b.closers, 1)

	b.cfg.Database.Checkpointer = "postgres"
	_, err = b.openCheckpointer(nil)
	assert.Error(t, err)
}

func TestNewDeduper_Memory(t *testing.T) {
	d, err := newDeduper(config.CacheConfig{DedupeTTL: "5m"})
	require.NoError(t, err)
	assert.IsType(t, &cache.DedupeCache{}, d)
}

func TestLoadOrCreateUser(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	be, err := buildBackend(ctx, cfg)
	require.NoError(t, err)
	defer be.Close()

	u, err := loadOrCreateUser(ctx, be.stores.Users, "dana", "", cfg)
	require.NoError(t, err)
	assert.Equal(t, "dana", u.Config.Name)
	assert.Equal(t, "Asia/Jerusalem", u.Config.Timezone)

	u.Config.Digest = true
	require.NoError(t, be.stores.Users.Save(ctx, u))
	again, err := loadOrCreateUser(ctx, be.stores.Users, "dana", "other", cfg)
	require.NoError(t, err)
	assert.True(t, again.Config.Digest)
	assert.Equal(t, "dana", again.Config.Name)
}
