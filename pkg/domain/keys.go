package domain

// Reserved session keys used by the engine.
const (
	KeyCurrentStage  = "wce_current_stage"
	KeyPrevStage     = "wce_prev_stage"
	KeyCheckpoint    = "wce_checkpoint"
	KeyLastActivity  = "wce_last_activity"
	KeyMessageIDs    = "wce_msg_ids"
	KeyLastMessageID = "wce_last_msg_id"
	KeyDebounce      = "wce_debounce"
	KeyDynamicRetry  = "wce_dynamic_retry"
	KeyAuthSession   = "wce_auth_session"
	KeyAuthExpireAt  = "wce_auth_expire_at"
	KeyExtHandler    = "wce_ext_handler"
	KeyProps         = "wce_props"
)

// Button labels used by fallback messages.
const (
	ButtonMenu   = "Menu"
	ButtonRetry  = "Retry"
	ButtonReport = "Report"
)
