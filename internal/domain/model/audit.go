package model

import (
	"encoding/json"
	"time"
)

// Audit actions.
const (
	ActionUpdateGlobal      = "update_global"
	ActionUpdateCountry     = "update_country"
	ActionUpdateSafety      = "update_safety"
	ActionUpdateTierRouting = "update_tier_routing"
	ActionCreateTest        = "create_test"
	ActionUpdateTest        = "update_test"
	ActionDisableTest       = "disable_test"
)

// Audit entity types.
const (
	EntityGlobalConfig  = "global_config"
	EntityCountryConfig = "country_config"
	EntitySafetyConfig  = "safety_config"
	EntityTierRouting   = "tier_routing"
	EntityExperiment    = "experiment"
)

// AuditLogEntry is an immutable record of one config or experiment mutation.
type AuditLogEntry struct {
	ID         string          `json:"id"`
	Action     string          `json:"action"`
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	AdminID    string          `json:"admin_id"`
	Before     json.RawMessage `json:"before,omitempty"`
	After      json.RawMessage `json:"after,omitempty"`
	Reversible bool            `json:"reversible"`
	CreatedAt  time.Time       `json:"created_at"`
}
