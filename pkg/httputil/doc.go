// Package httputil provides the JSON response, request parsing and
// middleware helpers shared by quorum's HTTP handlers.
//
// # Responses
//
//	httputil.WriteJSON(w, http.StatusOK, statuses)
//	httputil.WriteBadRequest(w, "from is required")
//
// Errors from the core packages carry an apperr.Kind. WriteAppError maps the
// kind to a status code and puts the kind and code in the body:
//
//	if err != nil {
//		httputil.WriteAppError(w, err)
//		return
//	}
//
//	apperr.KindNotFound          404
//	apperr.KindPermissionDenied  403
//	apperr.KindInvalidTransition 409
//	apperr.KindConfigurationGap  503
//	anything else                500
//
// Store failures never put the driver error in the body.
//
// # Request Parsing
//
//	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
//	if !ok {
//		return // 400 already written
//	}
//
// # Middleware
//
//	router.Use(httputil.RequestIDMiddleware)
//	router.Use(httputil.LoggingMiddleware(logger))
//	router.Use(httputil.RecoveryMiddleware(logger))
package httputil
