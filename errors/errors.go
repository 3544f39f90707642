package errors

import "fmt"

var (
	ErrWorkerPanic          = fmt.Errorf("worker panic")
	ErrOnlyCensoredFiles    = fmt.Errorf("censored directory contains directories")
	ErrEmptyWords           = fmt.Errorf("no words have been found")
	ErrConversationNotFound = fmt.Errorf("conversation not found")
	ErrEmptyMessage         = fmt.Errorf("message text is empty")
	ErrMessageTooLong       = fmt.Errorf("message text exceeds the limit")
	ErrNotActive            = fmt.Errorf("no active conversation")
	ErrWidgetClosed         = fmt.Errorf("widget is closed")
	ErrChannelDown          = fmt.Errorf("channel is not connected")
	ErrInvalidCredentials   = fmt.Errorf("invalid credentials")
	ErrInvalidSender        = fmt.Errorf("unknown sender role")
)
