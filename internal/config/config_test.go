package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoad_AppliesOverridesAndDefaults(t *testing.T) {
	t.Parallel()
	environ := []string{
		"X_SERVER__PORT=9100",
		"X_CAN__INTERFACES=can0,can1",
		"X_CAN__INTERFACE_MAPPINGS={\"house\":\"can0\",\"chassis\":\"can1\"}",
		"X_FEATURES__ENABLE_FIREFLY=true",
		"X_LOGGING__LEVEL=debug",
		"UNRELATED=ignored",
	}

	cfg, err := load(environ)
	require.NoError(t, err)
	require.Equal(t, 9100, cfg.Server.Port)
	require.Equal(t, "0.0.0.0", cfg.Server.Host) // untouched default
	require.Equal(t, []string{"can0", "can1"}, cfg.CAN.Interfaces)
	require.Equal(t, map[string]string{"house": "can0", "chassis": "can1"}, cfg.CAN.InterfaceMappings)
	require.True(t, cfg.Features["firefly"])
	require.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_RejectsUnrecognizedKey(t *testing.T) {
	t.Parallel()
	_, err := load([]string{"X_CAN__BOGUS_SETTING=1"})
	require.ErrorContains(t, err, "X_CAN__BOGUS_SETTING")
}

func TestLoad_RejectsMalformedValue(t *testing.T) {
	t.Parallel()
	_, err := load([]string{"X_SERVER__PORT=notanumber"})
	require.ErrorContains(t, err, "invalid port")
}

func TestValidate_RequiresAtLeastOneInterface(t *testing.T) {
	t.Parallel()
	cfg := defaults()
	require.ErrorContains(t, cfg.Validate(), "can.interfaces")
}

func TestValidate_PassesWithInterfaceConfigured(t *testing.T) {
	t.Parallel()
	cfg := defaults()
	cfg.CAN.Interfaces = []string{"can0"}
	require.NoError(t, cfg.Validate())
}
