package dto

// AISettingsRequest updates a school's (or the global) AI scoring configuration.
type AISettingsRequest struct {
	Provider string `json:"provider" validate:"required,oneof=GEMINI ML BOTH"`
	MLAPIURL string `json:"ml_api_url" validate:"omitempty,url"`
	// APIKey is left unchanged when nil; an empty string clears it.
	APIKey        *string `json:"api_key" validate:"omitempty,max=512"`
	Enabled       bool    `json:"enabled"`
	FallbackOrder string  `json:"fallback_order" validate:"omitempty,max=64"`
}

// AISettingsResponse never exposes the stored API key.
type AISettingsResponse struct {
	SchoolID            *uint  `json:"school_id"`
	Configured          bool   `json:"configured"`
	Inherited           bool   `json:"inherited"`
	Provider            string `json:"provider"`
	EffectiveProvider   string `json:"effective_provider"`
	MLAPIURL            string `json:"ml_api_url"`
	HasAPIKeyConfigured bool   `json:"has_api_key_configured"`
	Enabled             bool   `json:"enabled"`
	FallbackOrder       string `json:"fallback_order,omitempty"`
}
