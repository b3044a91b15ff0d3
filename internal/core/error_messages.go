package core

// # Error Codes Reference
//
// This file defines user-friendly error messages with codes for support
// reference. The browser shows the message and action; users quote the
// code when asking for help.
//
// # Editing Errors (EDT001-EDT099)
//
//	EDT001 - Out of range: That row or column no longer exists
//	         Patterns: "out of range"
//
//	EDT002 - No columns: A new table needs at least one column
//	         Patterns: "at least one column"
//
//	EDT003 - Bad request: The change could not be applied
//	         Patterns: "invalid request"
//
// # File Errors (FILE001-FILE099)
//
//	FILE001 - File too large
//	          Patterns: "file too large"
//
//	FILE002 - Unsupported type: only .csv files can be opened
//	          Patterns: "unsupported file type"
//
//	FILE003 - Not text: the file is binary or uses an unknown encoding
//	          Patterns: "nul byte", "not valid utf-8"
//
//	FILE004 - No file: nothing was dropped or selected
//	          Patterns: "no file provided"
//
//	FILE005 - Bad dialect: the configured delimiter cannot be used
//	          Patterns: "invalid input"
//
// # Session Errors (SES001-SES099)
//
//	SES001 - Not found: the session expired or never existed
//	         Patterns: "session not found"
//
//	SES002 - Closed: the session was closed while the request ran
//	         Patterns: "session closed"
//
//	SES003 - Too many sessions open on the server
//	         Patterns: "too many open sessions"
//
// # Load Errors (LOAD001-LOAD099)
//
//	LOAD001 - Busy: all load slots are in use
//	          Patterns: "too many concurrent loads"
//
// # Request Errors (UPL001-UPL099)
//
//	UPL001 - Request cancelled
//	         Patterns: "context canceled"
//
//	UPL002 - Request timed out
//	         Patterns: "context deadline exceeded"
//
// # Rate Limiting (RATE001)
//
//	RATE001 - Too many requests
//	          Patterns: "rate limit"
//
// # Default Error (ERR000)
//
// Fallback when no pattern matches. Check the application logs for the
// original error.
//
// Patterns are matched case-insensitively with strings.Contains and the
// first match wins, so specific patterns come before general ones.

import (
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string `json:"message"` // What happened (user-friendly)
	Action  string `json:"action"`  // What to do about it
	Code    string `json:"code"`    // Error code for support reference
}

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns maps technical error patterns (case-insensitive) to user messages.
var errorPatterns = []errorPattern{
	// Editing
	{
		pattern: "out of range",
		msg: UserMessage{
			Message: "That row or column no longer exists",
			Action:  "Reload the table and try again",
			Code:    "EDT001",
		},
	},
	{
		pattern: "at least one column",
		msg: UserMessage{
			Message: "A new table needs at least one column",
			Action:  "Enter one or more column names",
			Code:    "EDT002",
		},
	},
	{
		pattern: "invalid request",
		msg: UserMessage{
			Message: "The change could not be applied",
			Action:  "Reload the page and try again",
			Code:    "EDT003",
		},
	},

	// Files
	{
		pattern: "file too large",
		msg: UserMessage{
			Message: "File exceeds the maximum size limit",
			Action:  "Split the file into smaller parts",
			Code:    "FILE001",
		},
	},
	{
		pattern: "unsupported file type",
		msg: UserMessage{
			Message: "Only .csv files can be opened",
			Action:  "Export your spreadsheet as CSV and drop that file",
			Code:    "FILE002",
		},
	},
	{
		pattern: "nul byte",
		msg: UserMessage{
			Message: "The file does not look like text",
			Action:  "Check that you dropped a CSV file, not a binary export",
			Code:    "FILE003",
		},
	},
	{
		pattern: "not valid utf-8",
		msg: UserMessage{
			Message: "The file contains invalid characters",
			Action:  "Save the file as UTF-8",
			Code:    "FILE003",
		},
	},
	{
		pattern: "no file provided",
		msg: UserMessage{
			Message: "No file was selected",
			Action:  "Drop a CSV file or choose one to open",
			Code:    "FILE004",
		},
	},
	{
		pattern: "invalid input",
		msg: UserMessage{
			Message: "The CSV settings cannot be used",
			Action:  "Contact the administrator to check the delimiter setting",
			Code:    "FILE005",
		},
	},

	// Sessions
	{
		pattern: "session not found",
		msg: UserMessage{
			Message: "This editing session has expired",
			Action:  "Open the file again to keep editing",
			Code:    "SES001",
		},
	},
	{
		pattern: "session closed",
		msg: UserMessage{
			Message: "This editing session was closed",
			Action:  "Open the file again to keep editing",
			Code:    "SES002",
		},
	},
	{
		pattern: "too many open sessions",
		msg: UserMessage{
			Message: "Too many files are open on the server",
			Action:  "Close a table you no longer need, or try again later",
			Code:    "SES003",
		},
	},

	// Loads
	{
		pattern: "too many concurrent loads",
		msg: UserMessage{
			Message: "System is busy opening other files",
			Action:  "Please wait a moment and try again",
			Code:    "LOAD001",
		},
	},

	// Requests
	{
		pattern: "context canceled",
		msg: UserMessage{
			Message: "Request was cancelled",
			Action:  "Please try again",
			Code:    "UPL001",
		},
	},
	{
		pattern: "context deadline exceeded",
		msg: UserMessage{
			Message: "Request timed out",
			Action:  "Try a smaller file or check your connection",
			Code:    "UPL002",
		},
	},

	// Rate limiting
	{
		pattern: "rate limit",
		msg: UserMessage{
			Message: "Too many requests",
			Action:  "Please wait a moment before trying again",
			Code:    "RATE001",
		},
	},
}

// defaultMessage is returned when no pattern matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
// If no pattern matches, a generic fallback with code ERR000 is returned.
//
// Example:
//
//	msg := MapError(fmt.Errorf("load x.csv: %w", ErrFileTooLarge))
//	// msg.Code == "FILE001"
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	errStr := strings.ToLower(err.Error())

	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err matches a specific pattern rather than
// the ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserError pairs a technical error, kept for logging, with the message
// shown to users.
type UserError struct {
	Technical error
	User      UserMessage
}

func (e *UserError) Error() string {
	return e.User.Message
}

func (e *UserError) Unwrap() error {
	return e.Technical
}

// NewUserError maps err to a UserError. Returns nil if err is nil.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{
		Technical: err,
		User:      MapError(err),
	}
}
