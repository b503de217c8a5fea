// Package auth provides API-key authentication for the scorer's gRPC and
// REST surfaces.
//
// APIKeyInterceptor and StreamInterceptor validate the key from the named gRPC
// metadata header on unary calls and on stream open. Middleware does the same
// for HTTP handlers using the request header of the same name.
//
// When mode != "apikey" or key == "", all calls pass through (useful for local
// development with auth disabled). When the key is incorrect or absent, gRPC
// calls fail with codes.Unauthenticated and HTTP requests with 401.
package auth
