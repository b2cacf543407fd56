package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/zwoods58/WebApp-sub006/internal/model"
)

func (s *Store) InsertEvent(ctx context.Context, e *model.AuditEvent) error {
	metadata := e.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	query := `
		INSERT INTO security_events (id, event_type, user_id, phone, ip, user_agent, country, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = s.q.ExecContext(ctx, query,
		e.ID, string(e.Type), e.UserID, e.Phone, e.IP, e.UserAgent, e.Country, raw, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
