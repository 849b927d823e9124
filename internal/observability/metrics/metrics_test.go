package metrics

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	xerrors "CoSign-Chain/internal/errors"
	"CoSign-Chain/internal/payload"
	"CoSign-Chain/internal/submit"
)

func TestObserveTransition(t *testing.T) {
	call := payload.FunctionID("0x1::gari::transfer_coin_multiple")

	before := testutil.ToFloat64(mTransitions.WithLabelValues(string(submit.StateConfirmed), call.String()))
	ObserveTransition(submit.Transition{From: submit.StateSubmitted, To: submit.StateConfirmed, Call: call, Elapsed: time.Second})
	require.Equal(t, before+1, testutil.ToFloat64(mTransitions.WithLabelValues(string(submit.StateConfirmed), call.String())))

	failed := testutil.ToFloat64(mFailures.WithLabelValues(string(xerrors.CodeTimeout)))
	ObserveTransition(submit.Transition{
		To:   submit.StateFailed,
		Call: call,
		Err:  xerrors.Wrap(xerrors.CodeTimeout, errors.New("deadline"), "late"),
	})
	require.Equal(t, failed+1, testutil.ToFloat64(mFailures.WithLabelValues(string(xerrors.CodeTimeout))))
}

func TestHandlerExposesCollectors(t *testing.T) {
	ObserveHTTPRequest("jobs", "GET", 200, 20*time.Millisecond)
	ObserveJob("transfer", "succeeded")
	SetQueueDepth(3)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body := rec.Body.String()
	for _, name := range []string{
		"cosign_http_requests_total",
		"cosign_job_completed_total",
		"cosign_job_queue_depth 3",
	} {
		require.True(t, strings.Contains(body, name), "missing %s", name)
	}
}
