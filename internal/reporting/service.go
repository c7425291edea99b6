package reporting

import (
	"context"
	"errors"
	"time"

	"callsight/internal/calls"
	"callsight/internal/records"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// CallSource abstracts the finished-call storage reporting reads from.
// records.Store satisfies it; reporting never writes.
type CallSource interface {
	ListCalls(ctx context.Context, from, to time.Time) ([]records.CallRecord, error)
}

type Service struct {
	source CallSource
}

func NewService(source CallSource) *Service { return &Service{source: source} }

func (s *Service) CallsSummary(ctx context.Context, req CallsSummaryRequest) (CallsSummary, error) {
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return CallsSummary{}, ErrInvalidRequest
	}
	if s.source == nil {
		return CallsSummary{}, errors.New("reporting: call source not configured")
	}

	rows, err := s.source.ListCalls(ctx, req.Range.From, req.Range.To)
	if err != nil {
		return CallsSummary{}, err
	}

	var out CallsSummary
	for _, rec := range rows {
		out.TotalCalls++
		out.TotalDurationSeconds += rec.DurationSeconds
		if rec.RecordingURL != "" {
			out.RecordedCalls++
		}
		switch rec.Direction {
		case calls.DirectionInbound:
			out.InboundCalls++
		case calls.DirectionOutbound:
			out.OutboundCalls++
		}
		switch rec.Status {
		case calls.CallStatusCompleted:
			out.CompletedCalls++
		case calls.CallStatusFailed:
			out.FailedCalls++
		case calls.CallStatusBusy:
			out.BusyCalls++
		case calls.CallStatusIdle, calls.CallStatusRinging, calls.CallStatusInProgress:
			// non-terminal records only appear if persistence raced a late
			// status; they count toward totals but no terminal bucket.
		}
	}
	if out.TotalCalls > 0 {
		out.AverageDurationSeconds = out.TotalDurationSeconds / out.TotalCalls
	}
	return out, nil
}
