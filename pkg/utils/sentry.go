package utils

import (
	"fmt"

	"github.com/getsentry/sentry-go"
	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-gonic/gin"

	"battlecards-backend/internal/errors"
)

// CaptureSentryError reports an error or message. Events are tagged with
// the request route, the authenticated principal, and the error taxonomy
// kind/code, so billing and licensing failures group by what went wrong
// rather than by stack trace.
func CaptureSentryError(c *gin.Context, err error, message string, extras map[string]interface{}) {
	if err == nil && message == "" {
		return
	}

	hub := sentry.CurrentHub()
	if c != nil {
		if ctxHub := sentrygin.GetHubFromContext(c); ctxHub != nil {
			hub = ctxHub
		}
	}
	if hub == nil {
		return
	}

	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("service", "battlecards-backend")
		if c != nil {
			scope.SetTag("http.method", c.Request.Method)
			scope.SetTag("http.path", c.FullPath())
			scope.SetExtra("request_url", c.Request.URL.String())
			scope.SetExtra("client_ip", GetClientIP(c))

			// Principal fields set by the auth middleware. License and
			// webhook surfaces carry none, which is itself a signal.
			if userID := c.GetUint("user_id"); userID != 0 {
				scope.SetUser(sentry.User{ID: fmt.Sprint(userID), Email: c.GetString("email")})
			}
			if tenantID := c.GetUint("tenant_id"); tenantID != 0 {
				scope.SetTag("tenant_id", fmt.Sprint(tenantID))
			}
		}
		if appErr, ok := errors.AsAppError(err); ok {
			scope.SetTag("error.kind", string(appErr.Kind))
			scope.SetTag("error.code", appErr.Code)
			if appErr.Details != "" {
				scope.SetExtra("error_details", appErr.Details)
			}
		}
		if message != "" {
			scope.SetExtra("context", message)
		}
		for k, v := range extras {
			scope.SetExtra(k, v)
		}

		if err != nil {
			hub.CaptureException(err)
		} else {
			hub.CaptureMessage(message)
		}
	})
}

// CaptureSentryPanic converts a recovered panic into a Sentry event.
// Used by background loops (rate-limiter cleanup, blacklist sweeps) that
// run outside any request scope.
func CaptureSentryPanic(location string, recovered interface{}) {
	if recovered == nil {
		return
	}
	err := fmt.Errorf("panic recovered in %s: %v", location, recovered)
	CaptureSentryError(nil, err, location, map[string]interface{}{
		"panic_value": recovered,
	})
}
