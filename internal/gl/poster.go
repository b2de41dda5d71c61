// Package gl defines the outbound interface to the general ledger.
package gl

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/shopspring/decimal"
)

// PostingRequest is a single journal posting sent to the ledger.
type PostingRequest struct {
	SourceType   string
	SourceID     string
	StationID    string
	GLAccount    string
	CostCenter   string
	Amount       decimal.Decimal
	Currency     string
	PostingDate  time.Time
	Description  string
	ReferenceNum string
}

// PostingResult carries the ledger-assigned journal entry id.
type PostingResult struct {
	JournalEntryID string
	PostedAt       time.Time
}

// Poster posts journal entries to the general ledger.
type Poster interface {
	Post(ctx context.Context, req PostingRequest) (PostingResult, error)
}

// LoggingPoster records postings to the log and assigns synthetic entry ids.
// It stands in until the ledger integration is wired.
type LoggingPoster struct {
	logger *log.Logger
	clock  func() time.Time
}

// NewLoggingPoster constructs the poster.
func NewLoggingPoster(logger *log.Logger) (*LoggingPoster, error) {
	if logger == nil {
		return nil, errors.New("gl: nil logger")
	}
	return &LoggingPoster{logger: logger, clock: time.Now}, nil
}

// Post logs the posting and returns a synthetic journal entry id.
func (p *LoggingPoster) Post(ctx context.Context, req PostingRequest) (PostingResult, error) {
	_ = ctx
	if req.SourceID == "" {
		return PostingResult{}, errors.New("gl: empty source id")
	}
	if req.GLAccount == "" {
		return PostingResult{}, errors.New("gl: empty gl account")
	}
	now := p.clock().UTC()
	id := "JE-" + now.Format("20060102") + "-" + req.SourceID
	p.logger.Printf("gl post source=%s/%s account=%s amount=%s currency=%s ref=%s",
		req.SourceType, req.SourceID, req.GLAccount, req.Amount.StringFixed(2), req.Currency, req.ReferenceNum)
	return PostingResult{JournalEntryID: id, PostedAt: now}, nil
}
