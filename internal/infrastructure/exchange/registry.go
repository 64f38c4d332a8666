package exchange

import (
	"fmt"

	"github.com/vitos/crypto_trade_bot/internal/config"
	"github.com/vitos/crypto_trade_bot/internal/domain"
	"github.com/vitos/crypto_trade_bot/internal/infrastructure/crypto"
	"go.uber.org/zap"
)

// Registry holds the configured exchange adapters keyed by exchange ID.
// It satisfies the coordinator's provider interface.
type Registry struct {
	adapters map[string]domain.Exchange
}

// NewRegistry builds adapters from config, decrypting credentials that are
// stored encrypted. Unknown exchange IDs are an error so typos fail at
// startup rather than at first order.
func NewRegistry(cfg config.Config, logger *zap.Logger) (*Registry, error) {
	adapters := make(map[string]domain.Exchange, len(cfg.Exchanges))

	for id, ex := range cfg.Exchanges {
		apiKey, secretKey := ex.ApiKey, ex.SecretKey
		if ex.Encrypted {
			var err error
			apiKey, err = crypto.Decrypt(apiKey, []byte(cfg.Security.EncryptionKey))
			if err != nil {
				return nil, fmt.Errorf("decrypt api key for %s: %w", id, err)
			}
			secretKey, err = crypto.Decrypt(secretKey, []byte(cfg.Security.EncryptionKey))
			if err != nil {
				return nil, fmt.Errorf("decrypt secret key for %s: %w", id, err)
			}
		}

		switch id {
		case "mexc":
			adapters[id] = NewMexcAdapter(apiKey, secretKey, ex.RateLimit, ex.RateLimitBurst, logger.Named("mexc"))
		case "novadax":
			adapters[id] = NewNovadaxAdapter(apiKey, secretKey, ex.RateLimit, ex.RateLimitBurst, logger.Named("novadax"))
		default:
			return nil, fmt.Errorf("unknown exchange %q in config", id)
		}
	}
	return &Registry{adapters: adapters}, nil
}

func (r *Registry) Get(exchangeID string) (domain.Exchange, error) {
	ex, ok := r.adapters[exchangeID]
	if !ok {
		return nil, fmt.Errorf("exchange %q is not configured", exchangeID)
	}
	return ex, nil
}

func (r *Registry) All() map[string]domain.Exchange {
	out := make(map[string]domain.Exchange, len(r.adapters))
	for id, ex := range r.adapters {
		out[id] = ex
	}
	return out
}
