package api

import "context"

type contextKey string

const (
	ctxKeyRequestID contextKey = "request_id"
	ctxKeyUserID    contextKey = "user_id"
	ctxKeyCompanyID contextKey = "company_id"
)

func withRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID, id)
}

func requestIDFromCtx(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyRequestID).(string)
	return id
}

func withUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyUserID, id)
}

func userIDFromCtx(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyUserID).(string)
	return id
}

func withCompanyID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyCompanyID, id)
}

func companyIDFromCtx(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyCompanyID).(string)
	return id
}
