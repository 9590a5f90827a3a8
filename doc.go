// Package effects provides a resilience execution engine for declaratively
// described effect operations. It combines configurable retry strategies,
// per-dependency circuit breakers, and a coordinator that runs an ordered
// list of operations with abort/continue semantics.
//
// The engine is built from four layers:
//
//   - Strategy computes backoff delays and retry decisions from a RetryConfig.
//   - Executor drives a single operation through a Strategy, enforcing an
//     attempt cap and an overall deadline while recording per-attempt telemetry.
//   - CircuitBreaker guards one downstream dependency, failing fast once
//     failures cross a threshold and probing recovery through half-open calls.
//   - Coordinator sequences a list of HandlerOperation values, routing each
//     through the breaker and executor for its handler type.
//
// Example:
//
//	coord, err := effects.NewCoordinator(
//	    effects.WithExecutionMode(effects.SequentialAbort),
//	    effects.WithDefaultRetry(effects.APIRetryConfig()),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	coord.Register("http", func(ctx context.Context, op effects.HandlerOperation) (effects.Fields, error) {
//	    return effects.Fields{"status": 200}, callDownstream(ctx)
//	})
//
//	result := coord.Run(ctx, []effects.HandlerOperation{
//	    {Name: "notify-billing", HandlerType: "http"},
//	})
package effects
