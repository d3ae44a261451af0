package audit

import (
	"context"
	"log/slog"

	"faceauth/pkg/requestcontext"
)

// LogAudit records an audit event on both the structured logger and the
// emitter. attrList is a flat key/value list; "username" and "ip" populate the
// event's identity fields and every other pair lands in Metadata.
func LogAudit(ctx context.Context, logger *slog.Logger, emitter Emitter, eventType EventType, attrList ...any) {
	requestID := requestcontext.RequestID(ctx)

	args := append([]any{}, attrList...)
	if requestID != "" {
		args = append(args, "request_id", requestID)
	}
	args = append(args, "event", string(eventType), "log_type", "audit")

	if logger != nil {
		logger.InfoContext(ctx, string(eventType), args...)
	}

	if emitter == nil {
		return
	}

	event := Event{
		Timestamp: requestcontext.Now(ctx),
		Type:      eventType,
		Username:  stringAttr(attrList, "username"),
		Origin:    stringAttr(attrList, "ip"),
		RequestID: requestID,
		Device:    requestcontext.Device(ctx),
		Metadata:  metadataFrom(attrList),
	}
	if err := emitter.Emit(ctx, event); err != nil && logger != nil {
		logger.WarnContext(ctx, "failed to emit audit event", "event", string(eventType), "error", err)
	}
}

func metadataFrom(attrList []any) map[string]any {
	meta := make(map[string]any, len(attrList)/2)
	for i := 0; i < len(attrList)-1; i += 2 {
		key, ok := attrList[i].(string)
		if !ok || key == "username" || key == "ip" {
			continue
		}
		meta[key] = attrList[i+1]
	}
	return meta
}

// stringAttr returns the string value paired with key, or "".
func stringAttr(attrList []any, key string) string {
	for i := 0; i < len(attrList)-1; i += 2 {
		if k, ok := attrList[i].(string); ok && k == key {
			v, _ := attrList[i+1].(string)
			return v
		}
	}
	return ""
}
