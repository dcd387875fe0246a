package queue

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/psp-platform/solver-director/config"
)

// BrokerAuth resolves credentials for broker connections. With a token URL
// configured it exchanges client credentials for an access token (the broker
// validates it against the same identity provider); otherwise it falls back
// to the static user/password pair.
type BrokerAuth struct {
	cfg    config.RabbitMQConfig
	tokens oauth2.TokenSource
}

func NewBrokerAuth(cfg config.RabbitMQConfig) *BrokerAuth {
	a := &BrokerAuth{cfg: cfg}
	if cfg.TokenURL != "" {
		cc := &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
		}
		// TokenSource caches the token and refreshes it before expiry.
		a.tokens = cc.TokenSource(context.Background())
	}
	return a
}

// Dial opens a broker connection with whichever credentials apply.
func (a *BrokerAuth) Dial() (*amqp.Connection, error) {
	if a.tokens == nil {
		return amqp.Dial(a.cfg.AMQPURL())
	}

	tok, err := a.tokens.Token()
	if err != nil {
		return nil, fmt.Errorf("broker token: %w", err)
	}

	// RabbitMQ's OAuth plugin ignores the username and reads the token from
	// the password field.
	url := fmt.Sprintf("amqp://%s:%d/", a.cfg.Host, a.cfg.Port)
	return amqp.DialConfig(url, amqp.Config{
		SASL: []amqp.Authentication{
			&amqp.PlainAuth{Username: a.cfg.ClientID, Password: tok.AccessToken},
		},
	})
}
