package application

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	accrual "dealerpay/internal/accrual/domain"
	"dealerpay/internal/gl"
	"dealerpay/internal/observability/metrics"
	"dealerpay/internal/pricing"
)

// SalesTransaction is a single fuel sale reported by a station.
type SalesTransaction struct {
	TransactionID string
	ProductID     string
	ProductName   string
	Litres        decimal.Decimal
	UnitPrice     decimal.Decimal
	SoldAt        time.Time
}

// DailyBatch is one station-day of sales to accrue.
type DailyBatch struct {
	TenantID     string
	StationID    string
	AccrualDate  time.Time
	WindowID     string
	Transactions []SalesTransaction
	ProcessedBy  string
}

// SkippedProduct records a product left out of a daily run.
type SkippedProduct struct {
	ProductID string
	Reason    string
}

// ProcessResult is the outcome of a daily accrual run.
type ProcessResult struct {
	Created     []*accrual.MarginAccrual
	Skipped     []SkippedProduct
	TotalLitres decimal.Decimal
	TotalMargin decimal.Decimal
}

// BatchEntryError records a failed entry in a multi-day run.
type BatchEntryError struct {
	StationID   string
	AccrualDate time.Time
	Err         error
}

// BatchResult is the outcome of a multi-day accrual run.
type BatchResult struct {
	Successful int
	Failed     int
	Errors     []BatchEntryError
}

// PostResult is the outcome of a GL posting run.
type PostResult struct {
	JournalEntryID string
	RowsPosted     int
	TotalAmount    decimal.Decimal
}

// Publisher emits domain events.
type Publisher interface {
	Publish(ctx context.Context, event any) error
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock uses time.Now.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

const (
	defaultGLAccount  = "4100-DEALER-MARGIN"
	defaultCostCenter = "FUEL-RETAIL"
	defaultCurrency   = "GHS"

	glTemplateCode = "DEALER_MARGIN_ACCRUAL"
)

// Service handles margin accrual use cases.
type Service struct {
	repo      accrual.Repository
	pricing   pricing.Provider
	poster    gl.Poster
	publisher Publisher
	clock     Clock
	logger    *log.Logger

	glAccount  string
	costCenter string
	currency   string
}

// ServiceOption configures the service.
type ServiceOption func(*Service)

// WithGLAccount overrides the ledger account for margin postings.
func WithGLAccount(account string) ServiceOption {
	return func(s *Service) {
		if account != "" {
			s.glAccount = account
		}
	}
}

// WithCostCenter overrides the posting cost center.
func WithCostCenter(costCenter string) ServiceOption {
	return func(s *Service) {
		if costCenter != "" {
			s.costCenter = costCenter
		}
	}
}

// WithCurrency overrides the accrual currency.
func WithCurrency(currency string) ServiceOption {
	return func(s *Service) {
		if currency != "" {
			s.currency = currency
		}
	}
}

// NewService constructs the accrual service.
func NewService(
	repo accrual.Repository,
	priceProvider pricing.Provider,
	poster gl.Poster,
	publisher Publisher,
	clock Clock,
	logger *log.Logger,
	opts ...ServiceOption,
) (*Service, error) {
	if repo == nil {
		return nil, errors.New("accrual service: nil repository")
	}
	if priceProvider == nil {
		return nil, errors.New("accrual service: nil pricing provider")
	}
	if poster == nil {
		return nil, errors.New("accrual service: nil gl poster")
	}
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = log.Default()
	}

	s := &Service{
		repo:       repo,
		pricing:    priceProvider,
		poster:     poster,
		publisher:  publisher,
		clock:      clock,
		logger:     logger,
		glAccount:  defaultGLAccount,
		costCenter: defaultCostCenter,
		currency:   defaultCurrency,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// ProcessDaily accrues one station-day of sales, one row per product.
// Rerunning the same day replaces Pending/Accrued rows in one transaction.
func (s *Service) ProcessDaily(ctx context.Context, batch DailyBatch) (*ProcessResult, error) {
	start := s.clock.Now()
	result := metrics.ResultSuccess
	defer func() {
		metrics.ObserveAccrualDay(result, s.clock.Now().Sub(start))
	}()

	if batch.StationID == "" || batch.WindowID == "" || batch.AccrualDate.IsZero() {
		result = metrics.ResultError
		return nil, accrual.ErrValidation
	}
	if len(batch.Transactions) == 0 {
		return &ProcessResult{}, nil
	}
	for _, txn := range batch.Transactions {
		if txn.Litres.IsNegative() || txn.UnitPrice.IsNegative() {
			result = metrics.ResultError
			return nil, fmt.Errorf("%w: transaction %s has negative litres or price", accrual.ErrValidation, txn.TransactionID)
		}
	}

	components, err := s.pricing.Components(ctx, batch.WindowID)
	if err != nil {
		result = metrics.ResultError
		return nil, err
	}

	groups, order := groupByProduct(batch.Transactions)
	now := s.clock.Now().UTC()

	out := &ProcessResult{}
	for _, productID := range order {
		txns := groups[productID]

		rate, err := s.pricing.MarginRate(ctx, productID, batch.WindowID)
		if errors.Is(err, pricing.ErrRateNotFound) {
			s.logger.Printf("accrual: no margin rate for product %s in window %s, skipping", productID, batch.WindowID)
			out.Skipped = append(out.Skipped, SkippedProduct{ProductID: productID, Reason: "no margin rate published"})
			continue
		}
		if err != nil {
			result = metrics.ResultError
			return nil, err
		}

		litres, avgPrice, txnIDs := aggregateSales(txns)
		marginAmount := litres.Mul(rate)

		cum, err := s.repo.LatestCumulative(ctx, batch.StationID, productID, batch.WindowID, batch.AccrualDate)
		if err != nil {
			result = metrics.ResultError
			return nil, err
		}

		row := &accrual.MarginAccrual{
			ID:               uuid.NewString(),
			TenantID:         batch.TenantID,
			StationID:        batch.StationID,
			ProductID:        productID,
			ProductName:      txns[0].ProductName,
			AccrualDate:      batch.AccrualDate,
			WindowID:         batch.WindowID,
			LitresSold:       litres,
			MarginRate:       rate,
			MarginAmount:     marginAmount,
			ExPumpPrice:      avgPrice,
			CumulativeLitres: cum.Litres.Add(litres),
			CumulativeMargin: cum.Margin.Add(marginAmount),
			Status:           accrual.StatusAccrued,
			Detail: accrual.CalcDetail{
				TransactionIDs: txnIDs,
				PBUBreakdown:   productComponents(components, productID),
			},
			ProcessedBy: batch.ProcessedBy,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		out.Created = append(out.Created, row)
		out.TotalLitres = out.TotalLitres.Add(litres)
		out.TotalMargin = out.TotalMargin.Add(marginAmount)
	}

	if len(out.Created) > 0 {
		if err := s.repo.Replace(ctx, batch.StationID, batch.AccrualDate, batch.WindowID, out.Created); err != nil {
			result = metrics.ResultError
			return nil, err
		}
		metrics.AddAccrualsCreated(len(out.Created))
	}

	if s.publisher != nil {
		err := s.publisher.Publish(ctx, AccrualProcessed{
			TenantID:    batch.TenantID,
			StationID:   batch.StationID,
			AccrualDate: batch.AccrualDate,
			WindowID:    batch.WindowID,
			Products:    len(out.Created),
			TotalLitres: out.TotalLitres,
			TotalMargin: out.TotalMargin,
			OccurredAt:  now,
		})
		if err != nil {
			result = metrics.ResultError
			return nil, err
		}
	}
	return out, nil
}

// ProcessBatch accrues multiple station-days with per-entry isolation.
func (s *Service) ProcessBatch(ctx context.Context, batches []DailyBatch) (*BatchResult, error) {
	out := &BatchResult{}
	for _, batch := range batches {
		if _, err := s.ProcessDaily(ctx, batch); err != nil {
			out.Failed++
			out.Errors = append(out.Errors, BatchEntryError{
				StationID:   batch.StationID,
				AccrualDate: batch.AccrualDate,
				Err:         err,
			})
			s.logger.Printf("accrual: batch entry failed station=%s date=%s: %v",
				batch.StationID, accrual.DateKey(batch.AccrualDate), err)
			continue
		}
		out.Successful++
	}
	return out, nil
}

// Adjust appends a manual correction to an accrual that is not yet
// consumed by a settlement or posted to the ledger.
func (s *Service) Adjust(ctx context.Context, accrualID string, amount decimal.Decimal, reason, adjustedBy string) (*accrual.MarginAccrual, error) {
	row, err := s.repo.GetByID(ctx, accrualID)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, accrual.ErrAccrualNotFound
	}

	now := s.clock.Now().UTC()
	if err := row.ApplyAdjustment(amount, reason, adjustedBy, now); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, row); err != nil {
		return nil, err
	}
	metrics.IncAccrualAdjusted()

	if s.publisher != nil {
		err := s.publisher.Publish(ctx, AccrualAdjusted{
			TenantID:   row.TenantID,
			StationID:  row.StationID,
			AccrualID:  row.ID,
			Amount:     amount,
			Reason:     reason,
			AdjustedBy: adjustedBy,
			OccurredAt: now,
		})
		if err != nil {
			return nil, err
		}
	}
	return row, nil
}

// PostToGL bulk-posts a window's accrued rows to the general ledger under
// one shared journal entry.
func (s *Service) PostToGL(ctx context.Context, stationID, windowID string) (*PostResult, error) {
	rows, err := s.repo.ListByStationWindow(ctx, stationID, windowID)
	if err != nil {
		return nil, err
	}

	total := decimal.Zero
	count := 0
	var tenantID string
	for _, row := range rows {
		if row.Status != accrual.StatusAccrued {
			continue
		}
		total = total.Add(row.MarginAmount)
		tenantID = row.TenantID
		count++
	}
	if count == 0 {
		return nil, accrual.ErrAccrualNotFound
	}

	now := s.clock.Now().UTC()
	posted, err := s.poster.Post(ctx, gl.PostingRequest{
		SourceType:   glTemplateCode,
		SourceID:     stationID + "|" + windowID,
		StationID:    stationID,
		GLAccount:    s.glAccount,
		CostCenter:   s.costCenter,
		Amount:       total,
		Currency:     s.currency,
		PostingDate:  now,
		Description:  fmt.Sprintf("dealer margin accrual %s window %s", stationID, windowID),
		ReferenceNum: windowID,
	})
	if err != nil {
		return nil, err
	}

	postedCount, err := s.repo.MarkPosted(ctx, stationID, windowID, posted.JournalEntryID, s.glAccount, s.costCenter, now)
	if err != nil {
		return nil, err
	}

	if s.publisher != nil {
		err := s.publisher.Publish(ctx, AccrualPosted{
			TenantID:       tenantID,
			StationID:      stationID,
			WindowID:       windowID,
			JournalEntryID: posted.JournalEntryID,
			RowsPosted:     postedCount,
			TotalAmount:    total,
			OccurredAt:     now,
		})
		if err != nil {
			return nil, err
		}
	}

	return &PostResult{
		JournalEntryID: posted.JournalEntryID,
		RowsPosted:     postedCount,
		TotalAmount:    total,
	}, nil
}

func groupByProduct(txns []SalesTransaction) (map[string][]SalesTransaction, []string) {
	groups := make(map[string][]SalesTransaction)
	var order []string
	for _, txn := range txns {
		if _, seen := groups[txn.ProductID]; !seen {
			order = append(order, txn.ProductID)
		}
		groups[txn.ProductID] = append(groups[txn.ProductID], txn)
	}
	return groups, order
}

func aggregateSales(txns []SalesTransaction) (litres, avgPrice decimal.Decimal, ids []string) {
	weighted := decimal.Zero
	for _, txn := range txns {
		litres = litres.Add(txn.Litres)
		weighted = weighted.Add(txn.Litres.Mul(txn.UnitPrice))
		ids = append(ids, txn.TransactionID)
	}
	if litres.IsPositive() {
		avgPrice = weighted.DivRound(litres, 4)
	}
	return litres, avgPrice, ids
}

func productComponents(components []pricing.Component, productID string) []accrual.PBULine {
	var out []accrual.PBULine
	for _, c := range components {
		if c.Product != "" && c.Product != productID {
			continue
		}
		out = append(out, accrual.PBULine{
			Code:     c.Code,
			Name:     c.Name,
			Category: c.Category,
			Rate:     c.Rate,
		})
	}
	return out
}
