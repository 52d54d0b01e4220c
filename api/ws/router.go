package ws

import (
	"context"
	"encoding/json"
	"runtime/debug"

	"github.com/google/uuid"
	"github.com/kasuganosora/parley/server/gateway"
	"github.com/kasuganosora/parley/server/metrics"
	"go.uber.org/zap"
)

// HandlerFunc processes a decoded WS message payload.
type HandlerFunc func(ctx context.Context, conn *gateway.Conn, payload json.RawMessage) error

// Router dispatches incoming WS packets to registered handlers.
type Router struct {
	handlers map[string]HandlerFunc
	logger   *zap.Logger
}

// NewRouter creates a new Router.
func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		handlers: make(map[string]HandlerFunc),
		logger:   logger,
	}
}

// On registers a HandlerFunc for the given message type.
func (r *Router) On(msgType string, fn HandlerFunc) {
	r.handlers[msgType] = fn
}

// Dispatch decodes raw bytes, validates seq and rate, and invokes the
// appropriate handler. Handler panics are recovered and logged.
func (r *Router) Dispatch(ctx context.Context, c *gateway.Conn, raw []byte) {
	var pkt gateway.Packet
	if err := json.Unmarshal(raw, &pkt); err != nil {
		r.logger.Warn("malformed packet",
			zap.Int64("user_id", c.UserID),
			zap.Error(err))
		return
	}

	// Monotonic seq check (anti-replay). Seq == 0 means no seq tracking.
	if !c.AcceptSeq(pkt.Seq) {
		r.logger.Warn("replayed or out-of-order packet",
			zap.Int64("user_id", c.UserID),
			zap.Uint64("seq", pkt.Seq),
			zap.Uint64("last_seq", c.LastSeq()))
		return
	}

	fn, ok := r.handlers[pkt.Type]
	if !ok {
		r.logger.Debug("unhandled message type",
			zap.String("type", pkt.Type),
			zap.Int64("user_id", c.UserID))
		return
	}

	if !c.Allow() {
		metrics.RecordInbound(pkt.Type, errRateLimited)
		r.logger.Warn("command rate limit exceeded",
			zap.String("type", pkt.Type),
			zap.Int64("user_id", c.UserID))
		sendError(c, pkt.Type, "rate limit exceeded")
		return
	}

	traceID := uuid.NewString()
	c.SetTraceID(traceID)
	ctx = context.WithValue(ctx, ctxKeyTraceID{}, traceID)

	err := r.invoke(ctx, fn, c, pkt)
	metrics.RecordInbound(pkt.Type, err)
	if err != nil {
		r.logger.Error("handler error",
			zap.String("type", pkt.Type),
			zap.Int64("user_id", c.UserID),
			zap.String("trace_id", traceID),
			zap.Error(err))
	}
}

func (r *Router) invoke(ctx context.Context, fn HandlerFunc, c *gateway.Conn, pkt gateway.Packet) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("panic in ws handler",
				zap.String("type", pkt.Type),
				zap.Int64("user_id", c.UserID),
				zap.Any("recover", rec),
				zap.String("stack", string(debug.Stack())))
			err = errHandlerPanic
		}
	}()
	return fn(ctx, c, pkt.Payload)
}

type ctxKeyTraceID struct{}

// TraceIDFromCtx extracts the trace ID from a handler context.
func TraceIDFromCtx(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyTraceID{}).(string); ok {
		return v
	}
	return ""
}
