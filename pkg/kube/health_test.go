package kube

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"kubegems.io/modelimage/pkg/errors"
)

func TestWaitHealthy(t *testing.T) {
	tests := []struct {
		name         string
		healthyAfter int32
		body         string
		wantCalls    int32
		wantErr      bool
	}{
		{name: "first probe", healthyAfter: 1, body: "pong", wantCalls: 1},
		{name: "third probe", healthyAfter: 3, body: "pong", wantCalls: 3},
		{name: "never healthy", healthyAfter: 100, body: "pong", wantCalls: 10, wantErr: true},
		{name: "wrong body", healthyAfter: 1, body: "pong\n", wantCalls: 10, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if atomic.AddInt32(&calls, 1) < tt.healthyAfter {
					w.WriteHeader(http.StatusServiceUnavailable)
					return
				}
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			opts := DefaultHealthOptions()
			opts.Delay = time.Millisecond
			err := WaitHealthy(context.Background(), srv.URL, opts)
			if (err != nil) != tt.wantErr {
				t.Fatalf("WaitHealthy() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.IsErrCode(err, errors.ErrCodeTimeout) {
				t.Errorf("WaitHealthy() error = %v, want TIMEOUT", err)
			}
			if got := atomic.LoadInt32(&calls); got != tt.wantCalls {
				t.Errorf("probe calls = %d, want %d", got, tt.wantCalls)
			}
		})
	}
}
