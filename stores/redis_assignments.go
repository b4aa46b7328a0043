package stores

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisAssignmentStore keeps user->roles in Redis sets (key: userroles:{userID}).
// Set semantics make assign and revoke idempotent for free.
type RedisAssignmentStore struct {
	client *redis.Client
	keyFmt string
}

func NewRedisAssignmentStore(client *redis.Client) *RedisAssignmentStore {
	return &RedisAssignmentStore{client: client, keyFmt: "userroles:%s"}
}

func (r *RedisAssignmentStore) key(userID string) string {
	return fmt.Sprintf(r.keyFmt, userID)
}

func (r *RedisAssignmentStore) AssignRole(ctx context.Context, userID, roleID string) error {
	return r.client.SAdd(ctx, r.key(userID), roleID).Err()
}

func (r *RedisAssignmentStore) RevokeRole(ctx context.Context, userID, roleID string) error {
	return r.client.SRem(ctx, r.key(userID), roleID).Err()
}

func (r *RedisAssignmentStore) ListRoles(ctx context.Context, userID string) ([]string, error) {
	res, err := r.client.SMembers(ctx, r.key(userID)).Result()
	if err != nil {
		return nil, err
	}
	return res, nil
}
