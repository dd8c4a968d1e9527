package provider_test

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"snowline/internal/provider"
	"snowline/internal/services"
)

func TestClassifyStatus(t *testing.T) {
	cases := []struct {
		code   int
		marker error
	}{
		{http.StatusOK, nil},
		{http.StatusTooManyRequests, services.ErrTransient},
		{http.StatusServiceUnavailable, services.ErrTransient},
		{http.StatusGatewayTimeout, services.ErrTransient},
		{http.StatusUnauthorized, services.ErrPermanent},
		{http.StatusNotFound, services.ErrPermanent},
		{http.StatusBadRequest, services.ErrPermanent},
	}
	for _, tc := range cases {
		err := provider.ClassifyStatus("fetch", tc.code)
		if tc.marker == nil {
			if err != nil {
				t.Fatalf("%d: expected nil, got %v", tc.code, err)
			}
			continue
		}
		if !errors.Is(err, tc.marker) {
			t.Fatalf("%d: expected %v, got %v", tc.code, tc.marker, err)
		}
	}
}

func TestTransientAndPermanentAreRetryClassified(t *testing.T) {
	if !services.IsRetryable(provider.Transient("fetch", errors.New("reset"))) {
		t.Fatal("transient errors should be retryable")
	}
	if services.IsRetryable(provider.Permanent("fetch", errors.New("denied"))) {
		t.Fatal("permanent errors should not be retryable")
	}
}

func TestTimeRangeIsHalfOpen(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	window := provider.TimeRange{Start: start, End: start.AddDate(0, 1, 0)}
	if !window.Contains(start) {
		t.Fatal("window should include its start")
	}
	if window.Contains(window.End) {
		t.Fatal("window should exclude its end")
	}
}
