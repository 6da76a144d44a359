package event

// Error codes carried by the error and authentication_error events
const (
	CodeAuthTimeout          = "AUTH_TIMEOUT"
	CodeAuthenticationFailed = "AUTHENTICATION_FAILED"
	CodeNotAuthenticated     = "NOT_AUTHENTICATED"
	CodeAlreadyAuthenticated = "ALREADY_AUTHENTICATED"
	CodeForbidden            = "FORBIDDEN"
	CodeNotInRoom            = "NOT_IN_ROOM"
	CodeStoreUnavailable     = "STORE_UNAVAILABLE"
	CodeInvalidPayload       = "INVALID_PAYLOAD"
	CodeUnsupportedRoomKind  = "UNSUPPORTED_ROOM_KIND"
	CodeMessageNotFound      = "MESSAGE_NOT_FOUND"
	CodeNotAuthor            = "NOT_AUTHOR"
	CodeUnknownEvent         = "UNKNOWN_EVENT"
)
