package service

import (
	"context"
	"encoding/json"
	"time"

	"prima/internal/model"
	"prima/internal/repository"
)

type AuditLogResponse struct {
	ID         string          `json:"id"`
	Actor      string          `json:"actor"`
	Action     string          `json:"action"`
	EntityID   string          `json:"entity_id"`
	EntityName string          `json:"entity_name"`
	Details    json.RawMessage `json:"details,omitempty"`
	CreatedAt  string          `json:"created_at"`
}

// AuditQuery filters the trail by action and by entity (journal id or address).
type AuditQuery struct {
	Action   string
	EntityID string
}

type AuditService interface {
	GetAuditLogs(ctx context.Context, actor model.Identity, query AuditQuery, page, limit int) ([]AuditLogResponse, int64, error)
}

type auditService struct {
	repo repository.AuditRepository
}

// NewAuditService creates a new AuditService instance
func NewAuditService(repo repository.AuditRepository) AuditService {
	return &auditService{repo: repo}
}

var auditActions = map[string]bool{
	model.ActionSubmitIntent:  true,
	model.ActionConfirmIntent: true,
	model.ActionFailIntent:    true,
	model.ActionOpenSession:   true,
}

// GetAuditLogs pages the actor's own trail, newest first
func (s *auditService) GetAuditLogs(ctx context.Context, actor model.Identity, query AuditQuery, page, limit int) ([]AuditLogResponse, int64, error) {
	if query.Action != "" && !auditActions[query.Action] {
		return nil, 0, model.NewValidationError("action", query.Action, "unknown audit action")
	}

	logs, total, err := s.repo.List(ctx, repository.AuditFilter{
		Actor:    actor.String(),
		Action:   query.Action,
		EntityID: query.EntityID,
	}, page, limit)
	if err != nil {
		return nil, 0, err
	}

	res := make([]AuditLogResponse, 0, len(logs))
	for _, l := range logs {
		entry := AuditLogResponse{
			ID:         l.ID.String(),
			Actor:      l.Actor,
			Action:     l.Action,
			EntityID:   l.EntityID,
			EntityName: l.EntityName,
			CreatedAt:  l.CreatedAt.Format(time.RFC3339),
		}
		if json.Valid([]byte(l.Details)) {
			entry.Details = json.RawMessage(l.Details)
		}
		res = append(res, entry)
	}

	return res, total, nil
}
