package types

// Built-in action type names. Plans may spell them in any case and with
// spaces or dashes; the handler registry normalizes lookups.
const (
	ActionDismissOverlay  = "DISMISS_OVERLAY"
	ActionAcceptAlert     = "ACCEPT_ALERT"
	ActionDismissAlert    = "DISMISS_ALERT"
	ActionRefreshPage     = "REFRESH_PAGE"
	ActionNavigateBack    = "NAVIGATE_BACK"
	ActionNavigateTo      = "NAVIGATE_TO"
	ActionWait            = "WAIT"
	ActionExecuteScript   = "EXECUTE_SCRIPT"
	ActionScrollIntoView  = "SCROLL_INTO_VIEW"
	ActionClick           = "CLICK"
	ActionSwitchToFrame   = "SWITCH_TO_FRAME"
	ActionSwitchToDefault = "SWITCH_TO_DEFAULT_CONTENT"
	ActionClearCookies    = "CLEAR_COOKIES"
	ActionMarkOutcome     = "MARK_OUTCOME"
)
