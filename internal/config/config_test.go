package config

import (
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"genepool/internal/model"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "genepool.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaultsMatchReferenceDeployment(t *testing.T) {
	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)

	assert.Equal(t, DefaultPoolURL, cfg.Pool)
	assert.Equal(t, 600, cfg.Breeding.PopulationSize)
	assert.Equal(t, 40, cfg.Breeding.EliteCount)
	assert.Equal(t, 14, cfg.Breeding.VariantCount)
	assert.InDelta(t, 0.05, cfg.Breeding.BaseSpread, 1e-12)
	assert.InDelta(t, 0.005, cfg.Breeding.SpreadStep, 1e-12)
	assert.Equal(t, 250*time.Millisecond, cfg.Startup.JitterMin)
	assert.Equal(t, 2*time.Second, cfg.Startup.JitterMax)

	order, err := cfg.SortOrder()
	require.NoError(t, err)
	assert.Equal(t, model.LessIsBetter, order)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
pool = "memory://test"
queue = "exp1"

[breeding]
population_size = 30
elite_count = 10
variant_count = 2
sort_order = "more_is_better"

[monitor]
poll_interval = "150ms"
`)
	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)

	assert.Equal(t, "memory://test", cfg.Pool)
	assert.Equal(t, "exp1", cfg.Queue)
	assert.Equal(t, 30, cfg.BreedConfig().PopulationSize)
	assert.Equal(t, 150*time.Millisecond, cfg.Monitor.PollInterval)
	order, err := cfg.SortOrder()
	require.NoError(t, err)
	assert.Equal(t, model.MoreIsBetter, order)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `queue = "from-file"`)
	t.Setenv("GENEPOOL_QUEUE", "from-env")

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Queue)
}

func TestLoadRejectsBrokenPopulationInvariant(t *testing.T) {
	path := writeConfig(t, `
[breeding]
population_size = 601
`)
	_, err := Load(viper.New(), path)
	require.ErrorIs(t, err, model.ErrConfiguration)
}

func TestLoadRejectsUnknownSortOrder(t *testing.T) {
	path := writeConfig(t, `
[breeding]
sort_order = "random"
`)
	_, err := Load(viper.New(), path)
	require.ErrorIs(t, err, model.ErrConfiguration)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(viper.New(), filepath.Join(t.TempDir(), "nope.toml"))
	require.ErrorIs(t, err, model.ErrConfiguration)
}

func TestValidateRejectsBadValues(t *testing.T) {
	base, err := Load(viper.New(), "")
	require.NoError(t, err)

	cases := map[string]func(*Config){
		"jitter inverted":  func(c *Config) { c.Startup.JitterMax = c.Startup.JitterMin - 1 },
		"poll interval":    func(c *Config) { c.Monitor.PollInterval = 0 },
		"store kind":       func(c *Config) { c.Store.Kind = "mongo" },
		"postgres dsn":     func(c *Config) { c.Store.Kind = "postgres" },
		"sqlite path":      func(c *Config) { c.Store.Path = "" },
		"network":          func(c *Config) { c.Network.Hidden = 0 },
		"log level":        func(c *Config) { c.Log.Level = "loud" },
		"log format":       func(c *Config) { c.Log.Format = "xml" },
		"empty pool":       func(c *Config) { c.Pool = " " },
		"negative retries": func(c *Config) { c.Monitor.PublishRetries = -1 },
		"flat spread":      func(c *Config) { c.Breeding.SpreadStep = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := base
			mutate(&cfg)
			require.ErrorIs(t, cfg.Validate(), model.ErrConfiguration)
		})
	}
}

func TestStoreLocation(t *testing.T) {
	sqlite := StoreConfig{Kind: "sqlite", Path: "dumps.db", DSN: "postgres://ignored"}
	assert.Equal(t, "dumps.db", sqlite.Location())

	pg := StoreConfig{Kind: "postgres", Path: "ignored.db", DSN: "postgres://db/genepool"}
	assert.Equal(t, "postgres://db/genepool", pg.Location())
}

func TestEncodeRoundTrip(t *testing.T) {
	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)
	cfg.Queue = "roundtrip"
	cfg.Monitor.PollInterval = 750 * time.Millisecond

	data, err := Encode(cfg)
	require.NoError(t, err)
	path := writeConfig(t, string(data))

	loaded, err := Load(viper.New(), path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestStartupJitterWithinBounds(t *testing.T) {
	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)
	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 100; i++ {
		d := cfg.StartupJitter(rng)
		assert.GreaterOrEqual(t, d, cfg.Startup.JitterMin)
		assert.Less(t, d, cfg.Startup.JitterMax)
	}

	cfg.Startup.JitterMin, cfg.Startup.JitterMax = 0, 0
	assert.Zero(t, cfg.StartupJitter(rng))
}
