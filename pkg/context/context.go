package context

import "context"

type ContextKey string

var (
	RequestIDKey      = ContextKey("X-Request-Id")
	OrganizationIDKey = ContextKey("X-Organization-Id")
	UserIDKey         = ContextKey("X-User-Id")
)

func SetRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

func GetRequestID(ctx context.Context) string {
	return getString(ctx, RequestIDKey)
}

func SetOrganizationID(ctx context.Context, organizationID string) context.Context {
	return context.WithValue(ctx, OrganizationIDKey, organizationID)
}

func GetOrganizationID(ctx context.Context) string {
	return getString(ctx, OrganizationIDKey)
}

func SetUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

func GetUserID(ctx context.Context) string {
	return getString(ctx, UserIDKey)
}

func getString(ctx context.Context, key ContextKey) string {
	value, ok := ctx.Value(key).(string)
	if !ok {
		return ""
	}
	return value
}
