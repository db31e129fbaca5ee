package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"strconv"

	"github.com/loamlabs/shoutbox/apperr"
	"github.com/loamlabs/shoutbox/channel"
	"github.com/loamlabs/shoutbox/db"
	"github.com/loamlabs/shoutbox/guardian"
	"github.com/loamlabs/shoutbox/telemetry"
)

// parseInt64Header extracts an int64 header value.
func parseInt64Header(r *http.Request, key string) (int64, bool) {
	v := r.Header.Get(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// getEnvInt returns an integer environment variable value or default if not set or invalid.
func getEnvInt(key string, defaultVal int) int {
	if s := os.Getenv(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return defaultVal
}

func canView(ctx context.Context, dbc *sql.DB, user *db.User, ch *channel.Channel) (bool, error) {
	return guardian.CanViewChannel(ctx, dbc, user, ch.ID, ch.CategoryID)
}

// respondJSON writes a JSON body; a nil body reports plain success.
func respondJSON(w http.ResponseWriter, body any) {
	w.Header().Set("Content-Type", "application/json")
	if body == nil {
		_ = json.NewEncoder(w).Encode(map[string]string{"success": "ok"})
		return
	}
	_ = json.NewEncoder(w).Encode(body)
}

// respondErr maps a typed error to response semantics. Untyped errors are
// logged and reported as a bare 500 so infrastructure details never leak.
func respondErr(ctx context.Context, w http.ResponseWriter, err error) {
	status := apperr.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		telemetry.LoggerWithCorr(ctx).Error("request failed", slog.Any("err", err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"errors": err.Error()})
}
