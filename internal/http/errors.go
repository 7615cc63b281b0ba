package http

import (
	"errors"
	"net/http"

	"fintrack/internal/core"
	"fintrack/internal/services"
)

// User facing messages.
const (
	msgGeneric        = "An error occurred. Please try again."
	msgLoginRequired  = "Please log in to access this page."
	msgUserNotFound   = "User not found."
	msgBadCredentials = "Invalid username or password."
	msgDuplicateUser  = "Username already exists. Please choose a different one."
	msgInvalidDate    = "Invalid date format. Please use YYYY-MM-DD."
	msgRateLimited    = "Too many requests. Please slow down."
	msgMalformedBody  = "Invalid request body."
)

// statusFor maps a service error to an HTTP status for JSON clients.
// Records owned by someone else are reported as missing.
func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, core.ErrTransactionNotFound),
		errors.Is(err, core.ErrCategoryNotFound),
		errors.Is(err, core.ErrUserNotFound),
		errors.Is(err, core.ErrUnauthorized):
		return http.StatusNotFound
	case errors.Is(err, core.ErrDuplicateCategory),
		errors.Is(err, core.ErrDuplicateUsername):
		return http.StatusConflict
	case errors.Is(err, core.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, ErrMalformedBody),
		errors.Is(err, core.ErrInvalidAmount),
		errors.Is(err, core.ErrInvalidDate),
		errors.Is(err, core.ErrInvalidKind),
		errors.Is(err, core.ErrInvalidTypeFilter),
		errors.Is(err, core.ErrInvalidPeriod),
		errors.Is(err, core.ErrInvalidMode),
		errors.Is(err, core.ErrEmptyName),
		errors.Is(err, core.ErrReservedName),
		errors.Is(err, core.ErrInvalidColor),
		errors.Is(err, core.ErrCategoryKindMismatch),
		errors.Is(err, services.ErrWeakPassword):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// noticeFor is the default user message for err. Handlers override it where
// the message depends on the operation.
func noticeFor(err error) string {
	switch {
	case errors.Is(err, ErrMalformedBody):
		return msgMalformedBody
	case errors.Is(err, core.ErrInvalidDate):
		return msgInvalidDate
	case errors.Is(err, core.ErrInvalidAmount):
		return "Invalid amount. Please enter a non-negative number with at most two decimals."
	case errors.Is(err, core.ErrInvalidKind):
		return "Invalid type. Please choose income or expense."
	case errors.Is(err, core.ErrInvalidTypeFilter):
		return "Invalid type. Please choose income, expense or both."
	case errors.Is(err, core.ErrInvalidPeriod):
		return "Invalid period. Please choose week, month, year or all."
	case errors.Is(err, core.ErrInvalidMode):
		return "Invalid report mode."
	case errors.Is(err, core.ErrEmptyName):
		return "Category name cannot be empty."
	case errors.Is(err, core.ErrReservedName):
		return "\"Uncategorized\" is reserved. Please choose another category name."
	case errors.Is(err, core.ErrInvalidColor):
		return "Invalid color. Please use a hex color such as #FF5733."
	case errors.Is(err, core.ErrCategoryKindMismatch):
		return "The selected category does not match the transaction type."
	case errors.Is(err, core.ErrCategoryNotFound):
		return "Category not found."
	case errors.Is(err, core.ErrTransactionNotFound), errors.Is(err, core.ErrUnauthorized):
		return "Transaction not found."
	case errors.Is(err, core.ErrUserNotFound):
		return msgUserNotFound
	case errors.Is(err, core.ErrDuplicateUsername):
		return msgDuplicateUser
	case errors.Is(err, core.ErrInvalidCredentials):
		return msgBadCredentials
	case errors.Is(err, services.ErrWeakPassword):
		return "Password must be at least 6 characters long."
	}
	return msgGeneric
}

// isMissing reports errors that mean "not yours or not there".
func isMissing(err error, target error) bool {
	return errors.Is(err, target) || errors.Is(err, core.ErrUnauthorized)
}
