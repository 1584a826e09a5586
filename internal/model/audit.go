package model

import (
	"time"

	"github.com/google/uuid"
)

const (
	ActionSubmitIntent  = "SUBMIT_INTENT"
	ActionConfirmIntent = "CONFIRM_INTENT"
	ActionFailIntent    = "FAIL_INTENT"
	ActionOpenSession   = "OPEN_SESSION"
)

// AuditLog tracks Who, What, and When for every ledger write this service performed
type AuditLog struct {
	ID         uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Actor      string    `gorm:"type:varchar(42);not null;index" json:"actor"`
	Action     string    `gorm:"type:varchar(50);not null;index" json:"action"`
	EntityID   string    `gorm:"type:varchar(80);index" json:"entity_id"`        // journal id or token id
	EntityName string    `gorm:"type:varchar(255)" json:"entity_name,omitempty"` // intent kind
	Details    string    `gorm:"type:jsonb" json:"details"`                      // Serialized JSON payload of the action
	CreatedAt  time.Time `gorm:"index" json:"created_at"`
}
