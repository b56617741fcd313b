// Package breaker implements the circuit breaker that guards calls to the
// upstream text-generation service.
//
// The breaker is closed in normal operation. After FailureThreshold
// consecutive failures it opens and rejects calls without contacting the
// upstream. Once Cooldown has elapsed the next Allow moves it to half-open
// and admits a single trial call: success closes the circuit, failure
// reopens it and restarts the cool-down.
//
// Calls use a two-step protocol so that streaming responses can report
// their outcome after the stream has been consumed:
//
//	done, err := b.Allow()
//	if err != nil {
//	    return err // *OpenError, errors.Is(err, breaker.ErrOpen)
//	}
//	resp, err := call()
//	done(classify(resp, err))
package breaker
