// Package logging builds the process logger.
//
// It wraps Zap with:
//   - stdout/stderr and OpenTelemetry outputs (otelzap bridge)
//   - context field injection: trace_id, span_id, user.id, turn.id, request.id
//   - redaction of sensitive keys, including raw utterance text by default
//   - per-level sampling; errors are never sampled
//
// Components take a plain *zap.Logger; use Logger.Underlying to hand one
// out. Request-scoped code logs through the context-aware methods:
//
//	ctx = logging.WithUserID(ctx, req.UserID)
//	ctx = logging.WithTurnID(ctx, turnID)
//	logger.Info(ctx, "turn accepted")
//
// What users disclose is never logged verbatim. Keys named "text",
// "prompt" or "utterance" are replaced with a length marker unless the
// redaction list is overridden.
package logging
