// Package httpapi exposes the recording and query surfaces over HTTP.
package httpapi

import (
	"time"

	"github.com/cathay-lab/chatstats/internal/query"
	"github.com/cathay-lab/chatstats/internal/recorder"
)

// Service wires the recorder and query engine to gin handlers.
type Service struct {
	recorder *recorder.Recorder
	query    *query.Service
	topLimit int
	nowFn    func() time.Time
}

// NewService creates the HTTP API service. topLimit caps ranking sizes
// when the client does not ask for a specific limit.
func NewService(rec *recorder.Recorder, qs *query.Service, topLimit int) *Service {
	if topLimit <= 0 {
		topLimit = 10
	}
	return &Service{
		recorder: rec,
		query:    qs,
		topLimit: topLimit,
		nowFn:    time.Now,
	}
}
