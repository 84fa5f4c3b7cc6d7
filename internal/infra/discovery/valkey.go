package discovery

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"github.com/valkey-io/valkey-go"

	"github.com/osa030/jamtab/internal/domain/jam"
)

// ValkeyConfig configures the Valkey directory.
type ValkeyConfig struct {
	Addrs    []string
	Password string
	Prefix   string
	TTL      time.Duration
}

// Valkey stores code -> identity entries in Valkey with an expiry, so
// peers on different machines can find a host by join code.
type Valkey struct {
	client valkey.Client
	prefix string
	ttl    time.Duration
}

// NewValkey connects to Valkey.
func NewValkey(cfg ValkeyConfig) (*Valkey, error) {
	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress: cfg.Addrs,
		Password:    cfg.Password,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to valkey")
	}
	return NewValkeyWithClient(client, cfg.Prefix, cfg.TTL), nil
}

// NewValkeyWithClient wraps an existing client.
func NewValkeyWithClient(client valkey.Client, prefix string, ttl time.Duration) *Valkey {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &Valkey{client: client, prefix: prefix, ttl: ttl}
}

// HostIdentity returns "": hosts keep their transport-chosen identity.
func (v *Valkey) HostIdentity(code string) string {
	return ""
}

func (v *Valkey) Register(ctx context.Context, code, identity string) error {
	cmd := v.client.B().Setex().Key(v.key(code)).Seconds(int64(v.ttl / time.Second)).Value(identity).Build()
	if err := v.client.Do(ctx, cmd).Error(); err != nil {
		return errors.Wrapf(err, "failed to register code %s", code)
	}
	zlog.Debug().Msgf("join code registered: code=%s identity=%s ttl=%v", code, identity, v.ttl)
	return nil
}

func (v *Valkey) Resolve(ctx context.Context, code string) (string, error) {
	id, err := v.client.Do(ctx, v.client.B().Get().Key(v.key(code)).Build()).ToString()
	if valkey.IsValkeyNil(err) {
		return "", errors.Wrapf(jam.ErrNotFound, "join code %s", code)
	}
	if err != nil {
		return "", errors.Wrapf(err, "failed to resolve code %s", code)
	}
	return id, nil
}

func (v *Valkey) Unregister(ctx context.Context, code string) error {
	if err := v.client.Do(ctx, v.client.B().Del().Key(v.key(code)).Build()).Error(); err != nil {
		return errors.Wrapf(err, "failed to unregister code %s", code)
	}
	return nil
}

// Close closes the client.
func (v *Valkey) Close() {
	v.client.Close()
}

func (v *Valkey) key(code string) string {
	return v.prefix + code
}
