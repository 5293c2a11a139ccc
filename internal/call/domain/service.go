package domain

import (
	"context"

	meteringdomain "github.com/smallbiznis/answerline/internal/metering/domain"
)

// RecordResult describes what a delivery changed. BilledDelta is the number of
// minutes this delivery added to the ledger; it is zero for plain redeliveries.
type RecordResult struct {
	Call               *CallRecord                 `json:"call"`
	Created            bool                        `json:"created"`
	Duplicate          bool                        `json:"duplicate"`
	BilledDelta        int64                       `json:"billed_delta"`
	IncrementalOverage int64                       `json:"incremental_overage"`
	Report             meteringdomain.ReportResult `json:"report"`
}

type Recorder interface {
	Record(ctx context.Context, event CallEvent) (RecordResult, error)
}
