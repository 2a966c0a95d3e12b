package appctx

import "context"

// ContextKey is the shared type for all context keys in this codebase.
// Keeping it in a tiny package avoids import cycles (config <-> handlers).
type ContextKey string

func (c ContextKey) String() string { return string(c) }

var (
	ContextKeyUserId        = ContextKey("UserId")
	ContextKeyUserName      = ContextKey("UserName")
	ContextKeyInstitutionId = ContextKey("InstitutionId")
	ContextKeySeasonId      = ContextKey("SeasonId")
	ContextKeyCorrelationId = ContextKey("CorrelationId")
)

func GetString(ctx context.Context, key ContextKey) (string, bool) {
	v, ok := ctx.Value(key).(string)
	return v, ok
}

func GetInt(ctx context.Context, key ContextKey) (int, bool) {
	v, ok := ctx.Value(key).(int)
	return v, ok
}

func Set(ctx context.Context, key ContextKey, value any) context.Context {
	return context.WithValue(ctx, key, value)
}

func GetUserId(ctx context.Context) (int, bool) {
	return GetInt(ctx, ContextKeyUserId)
}

func GetUserName(ctx context.Context) (string, bool) {
	return GetString(ctx, ContextKeyUserName)
}

func GetInstitutionId(ctx context.Context) (int, bool) {
	return GetInt(ctx, ContextKeyInstitutionId)
}

func GetSeasonId(ctx context.Context) (int, bool) {
	return GetInt(ctx, ContextKeySeasonId)
}

func GetCorrelationId(ctx context.Context) (string, bool) {
	return GetString(ctx, ContextKeyCorrelationId)
}

func SetCorrelationId(ctx context.Context, correlationId string) context.Context {
	return Set(ctx, ContextKeyCorrelationId, correlationId)
}

// SetActor attaches the acting user to ctx.
func SetActor(ctx context.Context, userId int, userName string) context.Context {
	ctx = Set(ctx, ContextKeyUserId, userId)
	return Set(ctx, ContextKeyUserName, userName)
}
