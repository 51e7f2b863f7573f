package http

import (
	"net/http"

	"github.com/boxchat/authd/internal/common/constants"
	"github.com/boxchat/authd/internal/common/httpmetrics"
	"github.com/boxchat/authd/internal/common/logger"
)

// BuildBaseHandler stacks the ambient middleware shared by every route:
// security headers, panic recovery, trace ids, CORS, body size limit
// and request metrics, outermost first.
func BuildBaseHandler(log *logger.Logger, corsOrigins []string, handler http.Handler) http.Handler {
	recovery := RecoveryMiddleware(log)
	cors := CORSMiddleware(corsOrigins)
	maxRequestSize := MaxRequestSizeMiddleware(constants.DefaultMaxRequestSize)

	return SecurityHeadersMiddleware(
		recovery(TraceIDMiddleware(cors(maxRequestSize(httpmetrics.Wrap(handler))))))
}
