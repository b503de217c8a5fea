package auth

import (
	"context"
	"crypto/subtle"
	"net/http"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// guard holds one configured API key. A zero-value key disables checking.
type guard struct {
	header string
	key    []byte
}

func newGuard(mode, header, key string) guard {
	if mode != "apikey" || key == "" {
		return guard{}
	}
	return guard{header: header, key: []byte(key)}
}

func (g guard) disabled() bool { return len(g.key) == 0 }

func (g guard) accepts(got string) bool {
	return got != "" && subtle.ConstantTimeCompare([]byte(got), g.key) == 1
}

// checkIncoming validates the key carried in gRPC metadata. header should
// be lowercase; gRPC normalises metadata keys.
func (g guard) checkIncoming(ctx context.Context) error {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return status.Error(codes.Unauthenticated, "missing metadata")
	}
	if vals := md.Get(g.header); len(vals) == 0 || !g.accepts(vals[0]) {
		return status.Error(codes.Unauthenticated, "invalid api key")
	}
	return nil
}

// APIKeyInterceptor enforces the API key on unary gRPC calls.
func APIKeyInterceptor(mode, header, key string) grpc.UnaryServerInterceptor {
	g := newGuard(mode, header, key)
	return func(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if g.disabled() {
			return handler(ctx, req)
		}
		if err := g.checkIncoming(ctx); err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamInterceptor enforces the API key when a stream opens, which covers
// health Watch subscriptions.
func StreamInterceptor(mode, header, key string) grpc.StreamServerInterceptor {
	g := newGuard(mode, header, key)
	return func(srv any, ss grpc.ServerStream, _ *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if !g.disabled() {
			if err := g.checkIncoming(ss.Context()); err != nil {
				return err
			}
		}
		return handler(srv, ss)
	}
}

// Middleware wraps next with the same API key check for HTTP. Paths listed
// in open are served without a key.
func Middleware(mode, header, key string, next http.Handler, open ...string) http.Handler {
	g := newGuard(mode, header, key)
	if g.disabled() {
		return next
	}
	skip := make(map[string]struct{}, len(open))
	for _, p := range open {
		skip[p] = struct{}{}
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := skip[r.URL.Path]; ok || g.accepts(r.Header.Get(g.header)) {
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"invalid api key"}`)) //nolint:errcheck
	})
}
