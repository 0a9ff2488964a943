package model_test

import (
	"strings"
	"testing"

	"github.com/diagnostiq/tracker/internal/model"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	yml := `
version: 0
service:
  mode: timer
  schedule: 12h
  log: stderr
remote:
  url: https://example.com/api
  auth:
    type: static_token
    token: ABC123
  timeout: 30s
tracking:
  pollInterval: 2s
viewer:
  enabled: true
  listen: ":8215"
`
	cfg, err := model.LoadConfig(strings.NewReader(yml))
	require.NoError(t, err)
	require.NotNil(t, cfg)
	require.Equal(t, model.ServiceModeTimer, cfg.Service.Mode)
	require.NotNil(t, cfg.Service.Schedule)
	require.Equal(t, "12h", *cfg.Service.Schedule)
	require.NotNil(t, cfg.Service.Log)
	require.Equal(t, model.LogStderr, *cfg.Service.Log)
	require.Equal(t, "https://example.com/api", cfg.Remote.URL)
	require.Equal(t, model.AuthTypeStaticToken, cfg.Remote.Auth.Type)
	require.Equal(t, "ABC123", cfg.Remote.Auth.Token)
	require.NotNil(t, cfg.Remote.Timeout)
	require.Equal(t, "30s", *cfg.Remote.Timeout)
	require.NotNil(t, cfg.Tracking)
	require.NotNil(t, cfg.Tracking.PollInterval)
	require.Equal(t, "2s", *cfg.Tracking.PollInterval)
	require.NotNil(t, cfg.Viewer)
	require.True(t, *cfg.Viewer.Enabled)
	require.Equal(t, ":8215", *cfg.Viewer.Listen)
}

func TestLoadConfigDefaultMode(t *testing.T) {
	yml := `
version: 0
service: {}
remote:
  url: https://example.com/api
  auth:
    type: none
`
	cfg, err := model.LoadConfig(strings.NewReader(yml))
	require.NoError(t, err)
	require.Equal(t, model.ServiceModeManual, cfg.Service.Mode)
	require.Nil(t, cfg.Service.Schedule)
}

func TestLoadConfig_Fail(t *testing.T) {
	// Missing required auth.token for static_token
	yml := `
version: 0
service:
  mode: manual
remote:
  url: https://example.com/api
  auth:
    type: static_token
`
	_, err := model.LoadConfig(strings.NewReader(yml))
	require.Error(t, err)

	var cfgErr *model.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	require.NotEmpty(t, cfgErr.Details())
}

func TestLoadConfig_TimerNeedsSchedule(t *testing.T) {
	yml := `
version: 0
service:
  mode: timer
remote:
  url: https://example.com/api
  auth:
    type: none
`
	_, err := model.LoadConfig(strings.NewReader(yml))
	require.Error(t, err)
}
