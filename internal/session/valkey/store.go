package sessionvalkey

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/valkey-io/valkey-go"

	"github.com/Blackwoodproductions/webstackceo-sub000/internal/serviceerr"
)

type store struct {
	valkey valkey.Client
	prefix string
}

func newStore(valkeyClient valkey.Client, prefix string) *store {
	prefix = strings.TrimSuffix(prefix, ":")
	return &store{
		valkey: valkeyClient,
		prefix: prefix,
	}
}

func (s *store) Get(ctx context.Context, objectType ObjectType, objectID string, decodeInto any) error {
	cmd := s.valkey.B().Get().Key(s.key(objectType, objectID)).Build()

	return s.read(ctx, cmd, "get", objectType, decodeInto)
}

// Take reads and removes the value in one command, so only one caller gets it.
func (s *store) Take(ctx context.Context, objectType ObjectType, objectID string, decodeInto any) error {
	cmd := s.valkey.B().Getdel().Key(s.key(objectType, objectID)).Build()

	return s.read(ctx, cmd, "getdel", objectType, decodeInto)
}

func (s *store) read(ctx context.Context, cmd valkey.Completed, name string, objectType ObjectType, decodeInto any) error {
	bytes, err := s.valkey.Do(ctx, cmd).AsBytes()
	if err != nil {
		valkeyErr, ok := valkey.IsValkeyErr(err)
		if ok && valkeyErr.IsNil() {
			return errors.Join(valkeyErr, serviceerr.ErrNotFound)
		}

		return fmt.Errorf("executing %s command: %w", name, err)
	}

	if err := s.decode(bytes, decodeInto); err != nil {
		return fmt.Errorf("decoding %s: %w", objectType, err)
	}

	return nil
}

// Set stores val until ttl elapses. A non positive ttl removes the key, the
// value would be expired already.
func (s *store) Set(ctx context.Context, objectType ObjectType, objectID string, val any, ttl time.Duration) error {
	if ttl <= 0 {
		return s.Destroy(ctx, objectType, objectID)
	}

	bytes, err := s.encode(val)
	if err != nil {
		return fmt.Errorf("encoding data: %w", err)
	}

	seconds := max(int64(ttl.Round(time.Second)/time.Second), 1)
	cmd := s.valkey.B().Set().Key(s.key(objectType, objectID)).Value(valkey.BinaryString(bytes)).ExSeconds(seconds).Build()
	if err := s.valkey.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("executing set command: %w", err)
	}

	return nil
}

func (s *store) Destroy(ctx context.Context, objectType ObjectType, objectID string) error {
	if err := s.valkey.Do(ctx, s.valkey.B().Del().Key(s.key(objectType, objectID)).Build()).Error(); err != nil {
		return fmt.Errorf("executing del command: %w", err)
	}

	return nil
}

func (s *store) key(objectType ObjectType, objectID string) string {
	return fmt.Sprintf("%s:%s:%s", s.prefix, objectType, objectID)
}

func (s *store) encode(v any) ([]byte, error) {
	bytes, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshaling json: %w", err)
	}

	return bytes, nil
}

func (s *store) decode(data []byte, into any) error {
	if err := json.Unmarshal(data, into); err != nil {
		return fmt.Errorf("unmarshaling json: %w", err)
	}

	return nil
}
