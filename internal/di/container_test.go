package di

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/samber/do/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listenupapp/listenup-sync/internal/config"
	"github.com/listenupapp/listenup-sync/internal/di/providers"
)

const accountsYAML = `accounts:
  - id: springfield
    name: Springfield Public Library
    auth_method: token
    profile_url: https://springfield.example/patrons/me
    token_url: https://springfield.example/token
`

func testOverrides(t *testing.T) config.Overrides {
	t.Helper()
	dir := t.TempDir()
	accounts := filepath.Join(dir, "accounts.yaml")
	require.NoError(t, os.WriteFile(accounts, []byte(accountsYAML), 0o600))
	return config.Overrides{
		Env:          "development",
		EnvFile:      filepath.Join(dir, "missing.env"),
		LogLevel:     "error",
		DataPath:     filepath.Join(dir, "data"),
		AccountsPath: accounts,
	}
}

func TestClientContainer(t *testing.T) {
	injector := NewClientContainer(testOverrides(t), nil)
	t.Cleanup(func() { _ = injector.Shutdown() })

	require.NoError(t, BootstrapClient(injector))

	set := do.MustInvoke[*providers.LibrariesHandle](injector)
	assert.Equal(t, []string{"springfield"}, set.IDs())

	cfg := do.MustInvoke[*config.Config](injector)
	assert.NotEmpty(t, cfg.Device.ID, "device id generated on first run")
	assert.FileExists(t, cfg.Data.SQLitePath())
}

func TestServerContainer_RequiresPatrons(t *testing.T) {
	injector := NewServerContainer(testOverrides(t))
	t.Cleanup(func() { _ = injector.Shutdown() })

	err := BootstrapServer(injector)
	assert.ErrorContains(t, err, "SERVER_PATRONS_PATH")
}
