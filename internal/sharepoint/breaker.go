package sharepoint

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/failsafe-go/failsafe-go/circuitbreaker"

	"github.com/rudhanster/travel-request-system/internal/metrics"
)

// breakerTransport wraps the store client's HTTP transport with a circuit
// breaker so a degraded store fails fast instead of tying up every request
// in timeouts. Server-side errors (5xx) count as failures; client-side
// statuses do not trip the breaker.
type breakerTransport struct {
	component string
	inner     http.RoundTripper
	cb        circuitbreaker.CircuitBreaker[any]
}

func newBreakerTransport(component string, inner http.RoundTripper) *breakerTransport {
	cb := circuitbreaker.NewBuilder[any]().
		WithFailureRateThreshold(0.6, 5, 10*time.Second).
		WithDelay(30 * time.Second).
		WithSuccessThreshold(1).
		OnStateChanged(func(e circuitbreaker.StateChangedEvent) {
			slog.Warn("Circuit breaker state changed",
				"component", component,
				"from", e.OldState.String(),
				"to", e.NewState.String(),
			)
			metrics.CircuitBreakerStateChanges.WithLabelValues(component, e.NewState.String()).Inc()
			metrics.CircuitBreakerState.WithLabelValues(component).Set(stateToFloat(e.NewState))
		}).
		Build()

	return &breakerTransport{
		component: component,
		inner:     inner,
		cb:        cb,
	}
}

func stateToFloat(state circuitbreaker.State) float64 {
	switch state {
	case circuitbreaker.ClosedState:
		return 0
	case circuitbreaker.HalfOpenState:
		return 1
	case circuitbreaker.OpenState:
		return 2
	default:
		return -1
	}
}

func (t *breakerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if !t.cb.TryAcquirePermit() {
		return nil, fmt.Errorf("%s circuit breaker open: %w", t.component, circuitbreaker.ErrOpen)
	}

	resp, err := t.inner.RoundTrip(req)
	switch {
	case err != nil:
		t.cb.RecordError(err)
	case resp.StatusCode >= http.StatusInternalServerError:
		t.cb.RecordFailure()
	default:
		t.cb.RecordSuccess()
	}

	return resp, err
}
