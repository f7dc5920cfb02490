package core

// error_messages.go maps technical errors to operator-facing messages with
// codes for support reference.
//
// # Connectivity (ERR101-ERR199)
//
//	ERR101 - Cannot reach the database     Patterns: "connection refused", "no such host", "i/o timeout"
//	ERR102 - Login rejected                Patterns: "login failed", "password authentication failed"
//	ERR103 - Connection interrupted        Patterns: "connection reset", "broken pipe", "unexpected eof"
//	ERR104 - Deadlock                      Patterns: "deadlock"
//	ERR105 - Timeout                       Patterns: "timeout"
//
// # Schema operations (ERR201-ERR299)
//
//	ERR201 - Namespace creation failed     Patterns: "create schema"
//	ERR202 - Table creation failed         Patterns: "create table", "drop table"
//	ERR203 - Truncate failed               Patterns: "truncate"
//
// # Data and input files (ERR301-ERR399)
//
// The ERR30x codes are the ones Failure Diagnostics usually explains further
// with a column scan.
//
//	ERR301 - Text too long for column      Patterns: "would be truncated", "value too long"
//	ERR302 - Date/time conversion          Patterns: "converting date", "date/time field value out of range"
//	ERR303 - Number out of range           Patterns: "arithmetic overflow", "numeric field overflow", "out of range"
//	ERR304 - Type conversion               Patterns: "error converting data type", "conversion failed", "invalid input syntax"
//	ERR305 - Missing required value        Patterns: "cannot insert the value null", "violates not-null"
//	ERR306 - Duplicate key                 Patterns: "duplicate key"
//	ERR311 - Not a readable CSV            Patterns: "invalid csv"
//	ERR312 - Encoding problem              Patterns: "encoding error"
//	ERR313 - No file                       Patterns: "no file provided"
//	ERR314 - Empty file                    Patterns: "empty file"
//	ERR315 - Unknown file type             Patterns: "unknown file type"
//
// # Permissions (ERR401-ERR499)
//
//	ERR401 - Missing privilege             Patterns: "permission denied", "permission was denied", "does not have permission"
//	ERR402 - Permission check failed       Patterns: "permission check failed"
//
// # Limits (ERR501-ERR599)
//
//	ERR501 - Loader busy                   Patterns: "too many concurrent loads"
//	ERR502 - Cancelled                     Patterns: "context canceled"
//	ERR503 - Deadline exceeded             Patterns: "context deadline exceeded"
//	ERR504 - File too large                Patterns: "file too large", "request body too large"
//	ERR505 - Rate limited                  Patterns: "rate limit"
//
// ERR000 is the fallback; check the logs for the technical error.
//
// Patterns match case-insensitively with strings.Contains and the first
// match wins, so specific patterns precede general ones.

import (
	"fmt"
	"strings"
)

// UserMessage provides operator-facing error information with actionable guidance.
type UserMessage struct {
	Message string // What happened
	Action  string // What to do about it
	Code    string // Error code for support reference
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

var (
	msgCannotConnect = UserMessage{"Unable to connect to the database", "Check the server address and that the database is running", "ERR101"}
	msgLoginFailed   = UserMessage{"The database rejected the login", "Check the credentials in DATABASE_URL", "ERR102"}
	msgInterrupted   = UserMessage{"The database connection was interrupted", "Run the load again", "ERR103"}
	msgDeadlock      = UserMessage{"The database was busy with conflicting operations", "Run the load again", "ERR104"}
	msgTimeout       = UserMessage{"The database operation timed out", "Try again later or load a smaller file", "ERR105"}

	msgPrivilege    = UserMessage{"The database login lacks a required permission", "Run 'stageload check' and ask a DBA to grant what is missing", "ERR401"}
	msgCreateSchema = UserMessage{"The destination schema could not be created", "Create the schema manually or grant CREATE SCHEMA", "ERR201"}
	msgCreateTable  = UserMessage{"The destination table could not be rebuilt", "Check that no other process holds the table and that CREATE TABLE is granted", "ERR202"}
	msgTruncate     = UserMessage{"The destination table could not be cleared", "Check for locks or foreign keys referencing the table", "ERR203"}

	msgTooLong     = UserMessage{"A text value is longer than its column allows", "Widen the column type in dtype settings or shorten the values", "ERR301"}
	msgBadDate     = UserMessage{"A date value could not be stored", "Check the date columns and the _date_format setting", "ERR302"}
	msgOverflow    = UserMessage{"A number is too large for its column", "Use a wider numeric type in dtype settings", "ERR303"}
	msgConversion  = UserMessage{"A value does not match its column type", "Check the listed columns for text in numeric or date fields", "ERR304"}
	msgNullValue   = UserMessage{"A required value is missing", "Fill in the empty cells or make the column nullable", "ERR305"}
	msgDuplicate   = UserMessage{"A duplicate key value was found", "Remove duplicate rows from the file", "ERR306"}
	msgFileTooBig  = UserMessage{"The file exceeds the maximum upload size", "Split the file into smaller parts", "ERR504"}
	msgInvalidCSV  = UserMessage{"The file is not a readable CSV", "Ensure the file is comma-separated with one header row", "ERR311"}
	msgEncoding    = UserMessage{"The file contains invalid characters", "Save the file as UTF-8", "ERR312"}
	msgNoFile      = UserMessage{"No file was provided", "Attach a CSV file to load", "ERR313"}
	msgEmptyFile   = UserMessage{"The file has no data rows", "Check that the file has a header and at least one row", "ERR314"}
	msgUnknownType = UserMessage{"The file type is not configured", "Add it to column settings or pick a configured type", "ERR315"}
)

var errorPatterns = []errorPattern{
	// Connectivity
	{"connection refused", msgCannotConnect},
	{"no such host", msgCannotConnect},
	{"i/o timeout", msgCannotConnect},
	{"login failed", msgLoginFailed},
	{"password authentication failed", msgLoginFailed},
	{"connection reset", msgInterrupted},
	{"broken pipe", msgInterrupted},
	{"unexpected eof", msgInterrupted},
	{"deadlock", msgDeadlock},

	// Load control; before "timeout" so deadlines keep their own code.
	{"too many concurrent loads", UserMessage{"The loader is busy with other loads", "Wait a moment and try again", "ERR501"}},
	{"context canceled", UserMessage{"The load was cancelled", "Start the load again when ready", "ERR502"}},
	{"context deadline exceeded", UserMessage{"The load ran past its time limit", "Load a smaller file or raise LOAD_TIMEOUT", "ERR503"}},
	{"permission check failed", UserMessage{"The permission check did not pass", "Run 'stageload check' for the full report", "ERR402"}},
	{"timeout", msgTimeout},

	// Schema operations
	{"permission denied", msgPrivilege},
	{"permission was denied", msgPrivilege},
	{"does not have permission", msgPrivilege},
	{"create schema", msgCreateSchema},
	{"create table", msgCreateTable},
	{"drop table", msgCreateTable},

	// Data
	{"would be truncated", msgTooLong},
	{"value too long", msgTooLong},
	{"converting date", msgBadDate},
	{"date/time field value out of range", msgBadDate},
	{"arithmetic overflow", msgOverflow},
	{"numeric field overflow", msgOverflow},
	{"out of range", msgOverflow},
	{"error converting data type", msgConversion},
	{"conversion failed", msgConversion},
	{"invalid input syntax", msgConversion},
	{"cannot insert the value null", msgNullValue},
	{"violates not-null", msgNullValue},
	{"duplicate key", msgDuplicate},

	// Truncate last among schema patterns: "would be truncated" is data.
	{"truncate", msgTruncate},

	// Files
	{"file too large", msgFileTooBig},
	{"request body too large", msgFileTooBig},
	{"invalid csv", msgInvalidCSV},
	{"encoding error", msgEncoding},
	{"no file provided", msgNoFile},
	{"empty file", msgEmptyFile},
	{"unknown file type", msgUnknownType},

	{"rate limit", UserMessage{"Too many requests", "Wait a moment before trying again", "ERR505"}},
}

// defaultMessage is returned when no pattern matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Check the loader logs for details",
	Code:    "ERR000",
}

// MapError converts a technical error to an operator-facing message.
// If no pattern matches, the ERR000 fallback is returned.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}
	return mapText(err.Error())
}

func mapText(text string) UserMessage {
	lower := strings.ToLower(text)
	for _, ep := range errorPatterns {
		if strings.Contains(lower, ep.pattern) {
			return ep.msg
		}
	}
	return defaultMessage
}

// FormatUserError formats err as "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err matches a known pattern.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserError pairs a technical error with its operator message.
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

// NewUserError maps err; it returns nil for a nil error.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{
		Technical: err,
		User:      MapError(err),
	}
}
