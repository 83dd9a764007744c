package providers

import (
	"github.com/samber/do/v2"

	"github.com/listenupapp/listenup-sync/internal/auth"
	"github.com/listenupapp/listenup-sync/internal/config"
	"github.com/listenupapp/listenup-sync/internal/logger"
)

// AuthKey is the hex-encoded PASETO key of the reference server.
type AuthKey string

// ProvideAuthKey loads or generates the token key under the data path.
func ProvideAuthKey(i do.Injector) (AuthKey, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	key, err := auth.LoadOrGenerateKey(cfg.Data.BasePath)
	if err != nil {
		return "", err
	}

	log.Info("Authentication key loaded", "access_token_duration", cfg.Server.AccessTokenDuration)
	return AuthKey(key), nil
}

// ProvideTokenService provides the PASETO token service.
func ProvideTokenService(i do.Injector) (*auth.TokenService, error) {
	cfg := do.MustInvoke[*config.Config](i)
	authKey := do.MustInvoke[AuthKey](i)
	return auth.NewTokenService(string(authKey), cfg.Server.AccessTokenDuration)
}
