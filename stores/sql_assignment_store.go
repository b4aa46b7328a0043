package stores

import (
	"context"
	"time"

	"github.com/oarkflow/squealx"
)

// SQLAssignmentStore persists user/role assignments in SQL. INSERT OR IGNORE
// keeps AssignRole idempotent; deleting an absent row is already a no-op.
type SQLAssignmentStore struct {
	db *squealx.DB
}

func NewSQLAssignmentStore(db *squealx.DB) *SQLAssignmentStore {
	return &SQLAssignmentStore{db: db}
}

func (s *SQLAssignmentStore) AssignRole(ctx context.Context, userID, roleID string) error {
	q := `INSERT OR IGNORE INTO role_assignments(user_id, role_id, created_at) VALUES(:user_id, :role_id, :created_at)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{"user_id": userID, "role_id": roleID, "created_at": time.Now()})
	return err
}

func (s *SQLAssignmentStore) RevokeRole(ctx context.Context, userID, roleID string) error {
	q := `DELETE FROM role_assignments WHERE user_id = :user_id AND role_id = :role_id`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{"user_id": userID, "role_id": roleID})
	return err
}

func (s *SQLAssignmentStore) ListRoles(ctx context.Context, userID string) ([]string, error) {
	q := `SELECT role_id FROM role_assignments WHERE user_id = :user_id`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"user_id": userID})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]string, 0)
	for r.Next() {
		var roleID string
		if err := r.Scan(&roleID); err != nil {
			return nil, err
		}
		out = append(out, roleID)
	}
	return out, nil
}
