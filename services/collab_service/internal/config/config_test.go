package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, env, body string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config."+env+".yaml"), []byte(body), 0o644))
	return dir
}

func TestLoad_FileAndDefaults(t *testing.T) {
	req := require.New(t)

	// Given a test env file that only sets a few keys
	t.Setenv("APP_ENV", "test")
	dir := writeConfig(t, "test", `
server:
  http_port: 9000
jwt:
  secret: s3cret
screen_share:
  stale_after: 2h
kafka:
  enabled: true
  brokers: ["k1:9092", "k2:9092"]
`)

	// When
	cfg, err := Load(viper.New(), dir)

	// Then file values win and the rest fall back to defaults
	req.NoError(err)
	req.Equal("test", cfg.Env)
	req.Equal(9000, cfg.Server.HTTPPort)
	req.Equal(2*time.Hour, cfg.ScreenShare.StaleAfter)
	req.Equal(5*time.Second, cfg.ScreenShare.StoreTimeout)
	req.Equal(20, cfg.ScreenShare.HistoryLimit)
	req.Equal(time.Hour, cfg.ScreenShare.ReaperInterval)
	req.Equal([]string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	req.Equal("hr.collab.events", cfg.Kafka.Topic)
	req.Equal("hr:collab:events", cfg.Redis.RelayChannel)
	req.Equal(8, cfg.Broadcast.Shards)
	req.Equal(int64(20), cfg.RateLimit.UserQPSLimit)

	req.Equal(2*time.Hour, cfg.ScreenShare.Coordinator().StaleAfter)
	req.Equal(1024, cfg.Broadcast.Async().QueueSize)
}

func TestLoad_EnvOverride(t *testing.T) {
	req := require.New(t)

	t.Setenv("APP_ENV", "test")
	t.Setenv("COLLAB_JWT_SECRET", "from-env")
	t.Setenv("COLLAB_SERVER_NODE_ID", "node-a")
	t.Setenv("COLLAB_SCREEN_SHARE_REAPER_INTERVAL", "10m")
	dir := writeConfig(t, "test", "jwt:\n  secret: from-file\n")

	cfg, err := Load(viper.New(), dir)

	req.NoError(err)
	req.Equal("from-env", cfg.JWT.Secret)
	req.Equal("node-a", cfg.NodeID())
	req.Equal(10*time.Minute, cfg.ScreenShare.Reaper().Interval)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	req := require.New(t)

	t.Setenv("APP_ENV", "nowhere")
	t.Setenv("COLLAB_JWT_SECRET", "x")

	cfg, err := Load(viper.New(), t.TempDir())

	req.NoError(err)
	req.Equal(8090, cfg.Server.HTTPPort)
	req.Contains(cfg.MySQL.DSN, "parseTime=true")
	req.False(cfg.Kafka.Enabled)
}

func TestValidate(t *testing.T) {
	req := require.New(t)

	t.Setenv("APP_ENV", "test")

	_, err := Load(viper.New(), writeConfig(t, "test", "server:\n  http_port: 1\n"))
	req.ErrorContains(err, "jwt.secret")

	_, err = Load(viper.New(), writeConfig(t, "test", "jwt:\n  secret: x\nkafka:\n  enabled: true\n"))
	req.ErrorContains(err, "kafka.brokers")

	_, err = Load(viper.New(), writeConfig(t, "test", "jwt:\n  secret: x\nbroadcast:\n  shards: 0\n"))
	req.ErrorContains(err, "broadcast.shards")
}
