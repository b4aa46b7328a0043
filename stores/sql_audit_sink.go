package stores

import (
	"context"
	"encoding/json"

	"github.com/oarkflow/squealx"

	"github.com/orchidsec/accessctl"
)

// SQLAuditSink persists decision records in SQL. The full result is kept as
// JSON next to the flat columns used for filtering.
type SQLAuditSink struct {
	db *squealx.DB
}

func NewSQLAuditSink(db *squealx.DB) *SQLAuditSink {
	return &SQLAuditSink{db: db}
}

func (s *SQLAuditSink) LogResult(ctx context.Context, entry *accessctl.AuditEntry) error {
	resultB, _ := json.Marshal(entry.Result)
	metaB, _ := json.Marshal(entry.Metadata)
	granted := false
	reason := ""
	if entry.Result != nil {
		granted = entry.Result.Granted
		reason = entry.Result.Reason
	}
	q := `INSERT INTO audit_log(id, timestamp, user_id, resource, action, granted, reason, result_json, trace_id, metadata_json)
VALUES(:id, :timestamp, :user_id, :resource, :action, :granted, :reason, :result_json, :trace_id, :metadata_json)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id":            entry.ID,
		"timestamp":     entry.Timestamp,
		"user_id":       entry.UserID,
		"resource":      entry.Resource,
		"action":        entry.Action,
		"granted":       boolToInt(granted),
		"reason":        reason,
		"result_json":   string(resultB),
		"trace_id":      entry.TraceID,
		"metadata_json": string(metaB),
	})
	return err
}

func (s *SQLAuditSink) GetAccessLog(ctx context.Context, filter accessctl.AuditFilter) ([]*accessctl.AuditEntry, error) {
	q := `SELECT id, timestamp, user_id, resource, action, result_json, trace_id, metadata_json FROM audit_log WHERE 1=1`
	params := map[string]any{}
	if filter.UserID != "" {
		q += " AND user_id = :user_id"
		params["user_id"] = filter.UserID
	}
	if filter.Resource != "" {
		q += " AND resource = :resource"
		params["resource"] = filter.Resource
	}
	if filter.Action != "" {
		q += " AND action = :action"
		params["action"] = filter.Action
	}
	if !filter.StartTime.IsZero() {
		q += " AND timestamp >= :start"
		params["start"] = filter.StartTime
	}
	if !filter.EndTime.IsZero() {
		q += " AND timestamp <= :end"
		params["end"] = filter.EndTime
	}
	if filter.Limit > 0 {
		q += " LIMIT :limit"
		params["limit"] = filter.Limit
	} else {
		q += " LIMIT 100"
	}
	r, err := s.db.NamedQueryContext(ctx, q, params)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]*accessctl.AuditEntry, 0)
	for r.Next() {
		var id, userID, resource, action, resultJSON, traceID, metaJSON string
		var timestampRaw interface{}
		if err := r.Scan(&id, &timestampRaw, &userID, &resource, &action, &resultJSON, &traceID, &metaJSON); err != nil {
			return nil, err
		}
		entry := &accessctl.AuditEntry{
			ID:        id,
			Timestamp: scanTime(timestampRaw),
			UserID:    userID,
			Resource:  resource,
			Action:    action,
			TraceID:   traceID,
		}
		_ = json.Unmarshal([]byte(resultJSON), &entry.Result)
		_ = json.Unmarshal([]byte(metaJSON), &entry.Metadata)
		out = append(out, entry)
	}
	return out, nil
}
