package app_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"bookscroll/internal/app"
	"bookscroll/internal/config"
	"bookscroll/internal/testutils"
)

func TestBootstrap_Resilience_DBDown(t *testing.T) {
	cfg := &config.Config{
		DBHost:                     "localhost",
		DBPort:                     54322, // Random port likely closed
		DBUser:                     "test",
		DBPass:                     "test",
		DBName:                     "test",
		BootstrapRetryAttempts:     1,
		BootstrapRetryDelaySeconds: 0,
	}

	start := time.Now()
	deps, err := app.Bootstrap(context.Background(), cfg)
	duration := time.Since(start)

	assert.Error(t, err)
	assert.Nil(t, deps)
	assert.Contains(t, err.Error(), "failed to ping db")
	assert.Less(t, duration, 2*time.Second)
}

func TestBootstrap_Resilience_WeaviateDown(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	// Start DB via suite
	suite := testutils.NewIntegrationSuite(t)
	suite.Setup()
	defer suite.Teardown()

	goodCfg := suite.GetAppConfig()

	// Config: Good DB, Bad Weaviate
	cfg := &config.Config{
		DBHost: goodCfg.DBHost,
		DBPort: goodCfg.DBPort,
		DBUser: goodCfg.DBUser,
		DBPass: goodCfg.DBPass,
		DBName: goodCfg.DBName,

		WeaviateHost:   "localhost:54322", // Bad host
		WeaviateScheme: "http",

		NSQDHost: goodCfg.NSQDHost, // Keep good NSQ to isolate Weaviate failure

		BootstrapRetryAttempts:     2,
		BootstrapRetryDelaySeconds: 1,
		MigrationPath:              goodCfg.MigrationPath,
	}

	start := time.Now()
	deps, err := app.Bootstrap(context.Background(), cfg)
	duration := time.Since(start)

	assert.Error(t, err)
	assert.Nil(t, deps)
	assert.Contains(t, err.Error(), "weaviate schema error")
	assert.Greater(t, duration, 1*time.Second) // At least 1 delay
}

func TestBootstrap_Resilience_RedisDown(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	suite := testutils.NewIntegrationSuite(t)
	suite.Setup()
	defer suite.Teardown()

	cfg := suite.GetAppConfig()
	cfg.RedisAddr = "localhost:54323"
	cfg.BootstrapRetryAttempts = 1
	cfg.BootstrapRetryDelaySeconds = 0

	deps, err := app.Bootstrap(context.Background(), cfg)

	assert.Error(t, err)
	assert.Nil(t, deps)
	assert.Contains(t, err.Error(), "failed to ping redis")
}
