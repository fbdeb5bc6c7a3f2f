package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-kit/log"
)

func corsHeadersMiddleware(next http.Handler) http.Handler {
	var (
		allowOrigin  = "*"
		allowMethods = strings.Join([]string{"GET", "POST"}, ", ")
		allowHeaders = strings.Join([]string{"content-type", "accept", CallerHeaderKey}, ", ")
	)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("access-control-allow-origin", allowOrigin) // bidders call from browser wallets
		w.Header().Set("access-control-allow-methods", allowMethods)
		w.Header().Set("access-control-allow-headers", allowHeaders)
		next.ServeHTTP(w, r)
	})
}

func panicRecoveryMiddleware(logger log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if v := recover(); v != nil {
					respondError(w, r, fmt.Errorf("panic: %v", v), 599, logger)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
