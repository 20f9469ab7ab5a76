package config

import (
	"fmt"

	"github.com/openkcm/common-sdk/pkg/commoncfg"
	"github.com/valkey-io/valkey-go"
)

// MakeValKeyOptions loads the ValKey credentials from their source references.
// User and password are optional.
func MakeValKeyOptions(conf ValKey) (valkey.ClientOption, error) {
	host, err := commoncfg.LoadValueFromSourceRef(conf.Host)
	if err != nil {
		return valkey.ClientOption{}, fmt.Errorf("loading valkey host: %w", err)
	}

	user, err := loadOptional(conf.User)
	if err != nil {
		return valkey.ClientOption{}, fmt.Errorf("loading valkey user: %w", err)
	}

	password, err := loadOptional(conf.Password)
	if err != nil {
		return valkey.ClientOption{}, fmt.Errorf("loading valkey password: %w", err)
	}

	return valkey.ClientOption{
		InitAddress: []string{string(host)},
		Username:    user,
		Password:    password,
	}, nil
}

// LoadClientSecret resolves the OAuth client secret when the client
// authenticates with one.
func LoadClientSecret(auth ClientAuth) (string, error) {
	switch auth.Type {
	case ClientAuthClientSecret:
		secret, err := commoncfg.LoadValueFromSourceRef(auth.ClientSecret)
		if err != nil {
			return "", fmt.Errorf("loading client secret: %w", err)
		}

		return string(secret), nil
	case ClientAuthNone, "":
		return "", nil
	default:
		return "", fmt.Errorf("unknown client auth type: %s", auth.Type)
	}
}

func loadOptional(ref commoncfg.SourceRef) (string, error) {
	if ref.Source == "" {
		return "", nil
	}

	value, err := commoncfg.LoadValueFromSourceRef(ref)
	if err != nil {
		return "", err
	}

	return string(value), nil
}
