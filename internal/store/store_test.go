package store

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/ashik1291/customer-live-chat-system/internal/keys"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client, keys.Namer) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client, keys.New("chat")
}
