package errors

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

const maxErrorBodyLength = 2048

// upstreamErrorBody covers the error response shapes seen from MoviePilot,
// CookieCloud and the tracker APIs.
type upstreamErrorBody struct {
	Error   json.RawMessage `json:"error"`
	Detail  string          `json:"detail"`
	Message string          `json:"message"`
	Msg     string          `json:"msg"`
}

// ParseUpstreamError extracts a human-readable message from an upstream
// response body. Falls back to the raw (truncated) body when it is not JSON.
func ParseUpstreamError(body []byte) string {
	raw := strings.TrimSpace(string(body))
	if raw == "" {
		return ""
	}

	var parsed upstreamErrorBody
	if err := json.Unmarshal(body, &parsed); err == nil {
		if len(parsed.Error) > 0 {
			// "error" may be an object with a message, or a bare string.
			var nested struct {
				Message string `json:"message"`
			}
			if err := json.Unmarshal(parsed.Error, &nested); err == nil && nested.Message != "" {
				return truncateString(strings.TrimSpace(nested.Message), maxErrorBodyLength)
			}
			var plain string
			if err := json.Unmarshal(parsed.Error, &plain); err == nil && plain != "" {
				return truncateString(strings.TrimSpace(plain), maxErrorBodyLength)
			}
		}
		for _, candidate := range []string{parsed.Detail, parsed.Message, parsed.Msg} {
			if s := strings.TrimSpace(candidate); s != "" {
				return truncateString(s, maxErrorBodyLength)
			}
		}
	}

	return truncateString(raw, maxErrorBodyLength)
}

// ParseDBError translates database errors into API errors.
func ParseDBError(err error) *APIError {
	if err == nil {
		return nil
	}

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrResourceNotFound
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateResource
	}

	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
		return ErrDuplicateResource
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicateResource
	}

	// SQLite reports unique violations as plain strings via the pure-Go driver.
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return ErrDuplicateResource
	}

	return NewAPIError(ErrDatabase, err.Error())
}

func truncateString(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
