package solclash

import (
	"expvar"
	"net/http"
	"strconv"
	"time"
)

var (
	appResponseCounts      = expvar.NewMap("app_http_responses_total")
	externalResponseCounts = expvar.NewMap("external_http_responses_total")

	refreshTotal        = expvar.NewInt("leaderboard_refresh_total")
	refreshErrors       = expvar.NewInt("leaderboard_refresh_errors_total")
	refreshDurationMs   = expvar.NewInt("leaderboard_refresh_duration_ms")
	walletsLastProduced = expvar.NewInt("leaderboard_wallets_last_cycle")
)

func incrementResponseCount(counter *expvar.Map, code int) {
	if counter == nil {
		return
	}
	counter.Add(strconv.Itoa(code), 1)
}

func recordRefresh(start time.Time, walletCount int, err error) {
	refreshTotal.Add(1)
	refreshDurationMs.Set(time.Since(start).Milliseconds())
	if err != nil {
		refreshErrors.Add(1)
		return
	}
	walletsLastProduced.Set(int64(walletCount))
}

// metricsTransport records upstream HTTP response codes into the provided expvar map.
type metricsTransport struct {
	Base    http.RoundTripper
	Counter *expvar.Map
}

func (t *metricsTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	resp, err := base.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	if resp != nil {
		incrementResponseCount(t.Counter, resp.StatusCode)
	}
	return resp, nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// withResponseMetrics counts every served response code into the app metrics map.
func withResponseMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		incrementResponseCount(appResponseCounts, recorder.status)
	})
}
