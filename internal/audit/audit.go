// Package audit records one usage-log document per authenticated request
// into the identity database. Recording is best-effort: a failed write is
// logged, never surfaced to the caller.
package audit

import (
	"context"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/mongo"

	"orbdata.io/internal/obs"
)

type ctxKey string

const (
	requestIDKey ctxKey = "audit_request_id"
	actionKey    ctxKey = "audit_action"
	userKey      ctxKey = "audit_user"
)

// actionSlot lets a handler deep in the call chain name the action the
// request resolved to, after the logging middleware already captured
// the context. Context values only flow downward, so anything resolved
// mid-request that the middleware needs afterwards goes through a
// mutable slot like this one.
type actionSlot struct {
	name string
}

// userSlot carries the authenticated user id back to the middleware
// that installed it, filled once authentication succeeds.
type userSlot struct {
	id string
}

// WithRequestID attaches the request identifier for usage logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestID extracts the request id, or "" when absent.
func RequestID(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// WithActionSlot installs an empty action slot on the context.
func WithActionSlot(ctx context.Context) context.Context {
	return context.WithValue(ctx, actionKey, &actionSlot{})
}

// SetAction fills the slot installed by WithActionSlot. Calling it on a
// context without a slot is a no-op.
func SetAction(ctx context.Context, name string) {
	if slot, ok := ctx.Value(actionKey).(*actionSlot); ok {
		slot.name = name
	}
}

// Action returns the recorded action name, or "" when none was set.
func Action(ctx context.Context) string {
	if slot, ok := ctx.Value(actionKey).(*actionSlot); ok {
		return slot.name
	}
	return ""
}

// WithUserSlot installs an empty user slot on the context.
func WithUserSlot(ctx context.Context) context.Context {
	return context.WithValue(ctx, userKey, &userSlot{})
}

// SetUser fills the slot installed by WithUserSlot. Calling it on a
// context without a slot is a no-op.
func SetUser(ctx context.Context, id string) {
	if slot, ok := ctx.Value(userKey).(*userSlot); ok {
		slot.id = id
	}
}

// User returns the recorded user id, or "" when none was set.
func User(ctx context.Context) string {
	if slot, ok := ctx.Value(userKey).(*userSlot); ok {
		return slot.id
	}
	return ""
}

// Entry is the usage-log document shape.
type Entry struct {
	Timestamp  time.Time `bson:"ts"`
	RequestID  string    `bson:"request_id,omitempty"`
	UserID     string    `bson:"user_id,omitempty"`
	Action     string    `bson:"action,omitempty"`
	Method     string    `bson:"method"`
	Path       string    `bson:"path"`
	Status     int       `bson:"status"`
	DurationMS int64     `bson:"duration_ms"`
}

const recordTimeout = 5 * time.Second

// Recorder writes usage-log entries to a Mongo collection. A nil
// Recorder or a nil collection discards entries silently, so wiring it
// in stays optional.
type Recorder struct {
	coll *mongo.Collection
}

// NewRecorder wraps the usage-log collection.
func NewRecorder(coll *mongo.Collection) *Recorder {
	return &Recorder{coll: coll}
}

// Record persists one entry. Failures are logged and swallowed: the
// request that produced the entry already succeeded or failed on its
// own terms.
func (r *Recorder) Record(ctx context.Context, e Entry) {
	if r == nil || r.coll == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	if _, err := r.coll.InsertOne(ctx, e); err != nil {
		obs.Emit("warn", "usage log write failed", map[string]any{
			"request_id": e.RequestID, "error": err.Error(),
		})
	}
}
