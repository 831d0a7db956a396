package intake

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/blnkfinance/intake/internal/notification"
	"github.com/blnkfinance/intake/model"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/wacul/ptr"
)

// Partition splits items into consecutive batches of at most size items.
func Partition[T any](items []T, size int) [][]T {
	if size < 1 {
		size = 1
	}
	batches := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		batches = append(batches, items[start:end])
	}
	return batches
}

// itemOutcome is the result of processing one item.
type itemOutcome struct {
	item    *model.ImportItem
	skipped bool
	err     error
}

// ProcessImport runs a pending batch to completion. Items are processed in
// batches of the configured size; items of one batch run concurrently and
// batches run one after another. Item failures are counted and never stop
// their siblings. A fatal store failure stops scheduling further batches
// and ends the batch in status error; committed items stay committed.
func (i *Intake) ProcessImport(ctx context.Context, batchID string) (*model.BatchStatus, error) {
	ctx, span := tracer.Start(ctx, "Processing import batch")
	defer span.End()

	batch, err := i.ledger.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if err := i.ledger.Transition(ctx, batchID, model.StatusPending, model.StatusProcessing); err != nil {
		return nil, err
	}
	batch.Status = model.StatusProcessing

	log := logrus.WithFields(logrus.Fields{"batch_id": batchID, "kind": batch.Kind})
	items, err := i.pendingItems(ctx, batchID)
	if err != nil {
		return i.finish(ctx, batch, nil, fmt.Errorf("%w: loading items: %v", ErrFatal, err))
	}
	log.WithField("items", len(items)).Info("processing import batch")

	run := NewResolutionRun(batchID)
	var outcomes []itemOutcome
	var fatal error
	for n, group := range Partition(items, i.batchSize) {
		results := i.processGroup(ctx, run, group)
		outcomes = append(outcomes, results...)

		for _, r := range results {
			if r.err != nil && IsFatal(r.err) && fatal == nil {
				fatal = fmt.Errorf("%w: %v", ErrFatal, r.err)
			}
		}
		if fatal == nil && ctx.Err() != nil {
			fatal = fmt.Errorf("%w: %v", ErrFatal, ctx.Err())
		}
		if fatal != nil {
			log.WithError(fatal).WithField("group", n+1).Error("stopping import batch")
			break
		}
	}

	return i.finish(ctx, batch, outcomes, fatal)
}

// pendingItems loads the items of a batch that have not been processed yet.
// The read is safe to retry; the batch's pending to processing transition
// already keeps other runs away from these items.
func (i *Intake) pendingItems(ctx context.Context, batchID string) ([]*model.ImportItem, error) {
	all, err := RetryValue(ctx, i.retrier, "load import items", func(ctx context.Context) ([]*model.ImportItem, error) {
		items, err := i.datasource.GetImportItems(ctx, batchID)
		return items, permanent(err)
	})
	if err != nil {
		return nil, err
	}

	pending := make([]*model.ImportItem, 0, len(all))
	for _, item := range all {
		if item.Status == model.ItemPending {
			pending = append(pending, item)
		}
	}
	return pending, nil
}

func (i *Intake) processGroup(ctx context.Context, run *ResolutionRun, group []*model.ImportItem) []itemOutcome {
	results := make([]itemOutcome, len(group))
	var wg sync.WaitGroup
	for n, item := range group {
		wg.Add(1)
		go func(n int, item *model.ImportItem) {
			defer wg.Done()
			results[n] = i.processItem(ctx, run, item)
		}(n, item)
	}
	wg.Wait()
	return results
}

// processItem resolves and commits one item, then records its outcome with
// a single item write. The assigned state is kept in the audit trail only.
func (i *Intake) processItem(ctx context.Context, run *ResolutionRun, item *model.ImportItem) itemOutcome {
	item.Status = model.ItemAssigned
	i.auditItem(ctx, item, model.ActionItemAssigned, model.ItemPending, model.ItemAssigned, nil)

	skipped, err := i.commitItem(ctx, run, item)

	item.ProcessingAttempts++
	item.LastProcessedAt = ptr.Time(time.Now().UTC())
	item.Status = model.ItemCompleted
	item.ErrorDetails = ""
	if err != nil {
		item.Status = model.ItemFailed
		item.ErrorDetails = err.Error()
	}

	updateErr := i.retrier.Do(ctx, "update import item", func(ctx context.Context) error {
		return permanent(i.datasource.UpdateImportItem(ctx, item))
	})
	if updateErr != nil {
		logrus.WithError(updateErr).WithField("item_id", item.ItemID).Error("recording import item outcome")
		if err == nil && IsFatal(updateErr) {
			err = updateErr
		}
	}

	switch {
	case err != nil:
		logrus.WithError(err).WithFields(logrus.Fields{"batch_id": item.BatchID, "row": item.RowIndex}).Warn("import item failed")
		i.auditItem(ctx, item, model.ActionItemFailed, model.ItemAssigned, model.ItemFailed, map[string]interface{}{"error": err.Error()})
	case skipped:
		i.auditItem(ctx, item, model.ActionItemSkipped, model.ItemAssigned, model.ItemCompleted, map[string]interface{}{"skipped": true})
	default:
		i.auditItem(ctx, item, model.ActionItemCompleted, model.ItemAssigned, model.ItemCompleted, nil)
	}
	return itemOutcome{item: item, skipped: skipped, err: err}
}

// commitItem writes the canonical record of an item. skipped is true when
// the record was already present.
func (i *Intake) commitItem(ctx context.Context, run *ResolutionRun, item *model.ImportItem) (skipped bool, err error) {
	var commit func(ctx context.Context) error
	switch item.Kind {
	case model.KindPayments:
		commit, err = i.preparePayment(ctx, run, item)
	case model.KindTrafficFines:
		commit, err = i.prepareFine(ctx, run, item)
	case model.KindBalances:
		commit, err = i.prepareBalance(ctx, run, item)
	case model.KindCustomers:
		return i.importCustomer(ctx, run, item)
	default:
		return false, fmt.Errorf("unsupported import kind %q", item.Kind)
	}
	if err != nil {
		return false, err
	}

	err = i.retrier.Do(ctx, "commit "+string(item.Kind)+" record", func(ctx context.Context) error {
		return permanent(commit(ctx))
	})
	if IsConflict(err) {
		return true, nil
	}
	return false, err
}

func (i *Intake) preparePayment(ctx context.Context, run *ResolutionRun, item *model.ImportItem) (func(context.Context) error, error) {
	v := item.Payload
	amount, err := decimal.NewFromString(v[ColAmount])
	if err != nil {
		return nil, fmt.Errorf("amount %q: %w", v[ColAmount], err)
	}
	date, err := time.Parse(CanonicalDateLayout, v[ColPaymentDate])
	if err != nil {
		return nil, fmt.Errorf("payment date %q: %w", v[ColPaymentDate], err)
	}

	agreement, err := i.resolver.Resolve(ctx, run, model.EntityAgreement, v[ColAgreementNumber])
	if err != nil {
		return nil, fmt.Errorf("resolving agreement: %w", err)
	}
	customerID, err := i.resolveOptional(ctx, run, model.EntityCustomer, v[ColCustomerName])
	if err != nil {
		return nil, fmt.Errorf("resolving customer: %w", err)
	}
	vehicleID, err := i.resolveOptional(ctx, run, model.EntityVehicle, v[ColLicensePlate])
	if err != nil {
		return nil, fmt.Errorf("resolving vehicle: %w", err)
	}

	status := model.PaymentStatus(v[ColStatus])
	if status == "" {
		status = model.PaymentPending
	}
	method := model.PaymentMethod(v[ColPaymentMethod])
	if method == "" {
		method = model.MethodCash
	}
	paymentType := v[ColType]
	if paymentType == "" {
		paymentType = i.analysis.classifyPayment(ctx, v)
	}

	payment := &model.Payment{
		PaymentID:          model.GenerateUUIDWithSuffix("pay"),
		NaturalKey:         model.PaymentKey(v[ColAgreementNumber], v[ColPaymentNumber], amount, date),
		BatchID:            item.BatchID,
		PaymentNumber:      v[ColPaymentNumber],
		AgreementID:        agreement.CandidateID,
		CustomerID:         customerID,
		VehicleID:          vehicleID,
		VehicleDescription: v[ColVehicle],
		Amount:             amount,
		PaymentDate:        date,
		Method:             method,
		Status:             status,
		Type:               paymentType,
		Description:        v[ColPaymentDescription],
		CreatedAt:          time.Now().UTC(),
	}
	return func(ctx context.Context) error { return i.datasource.InsertPayment(ctx, payment) }, nil
}

func (i *Intake) prepareFine(ctx context.Context, run *ResolutionRun, item *model.ImportItem) (func(context.Context) error, error) {
	v := item.Payload
	amount, err := decimal.NewFromString(v[ColFineAmount])
	if err != nil {
		return nil, fmt.Errorf("fine amount %q: %w", v[ColFineAmount], err)
	}
	date, err := time.Parse(CanonicalDateLayout, v[ColViolationDate])
	if err != nil {
		return nil, fmt.Errorf("violation date %q: %w", v[ColViolationDate], err)
	}
	points, err := strconv.Atoi(v[ColPoints])
	if err != nil {
		return nil, fmt.Errorf("points %q: %w", v[ColPoints], err)
	}

	vehicle, err := i.resolver.Resolve(ctx, run, model.EntityVehicle, v[ColPlateNumber])
	if err != nil {
		return nil, fmt.Errorf("resolving vehicle: %w", err)
	}

	fine := &model.TrafficFine{
		FineID:          model.GenerateUUIDWithSuffix("fine"),
		NaturalKey:      model.FineKey(v[ColViolationNumber], v[ColPlateNumber], date, amount),
		BatchID:         item.BatchID,
		Serial:          v[ColSerial],
		ViolationNumber: v[ColViolationNumber],
		ViolationDate:   date,
		PlateNumber:     v[ColPlateNumber],
		VehicleID:       vehicle.CandidateID,
		Location:        v[ColLocation],
		Charge:          v[ColCharge],
		FineAmount:      amount,
		Points:          points,
		CreatedAt:       time.Now().UTC(),
	}
	return func(ctx context.Context) error { return i.datasource.InsertTrafficFine(ctx, fine) }, nil
}

func (i *Intake) prepareBalance(ctx context.Context, run *ResolutionRun, item *model.ImportItem) (func(context.Context) error, error) {
	v := item.Payload
	amounts := make(map[string]decimal.Decimal, 4)
	for _, col := range []string{ColRentAmount, ColFinalPrice, ColAmountPaid, ColRemainingAmount} {
		d, err := decimal.NewFromString(v[col])
		if err != nil {
			return nil, fmt.Errorf("%s %q: %w", col, v[col], err)
		}
		amounts[col] = d
	}

	agreement, err := i.resolver.Resolve(ctx, run, model.EntityAgreement, v[ColAgreementNumber])
	if err != nil {
		return nil, fmt.Errorf("resolving agreement: %w", err)
	}
	vehicleID, err := i.resolveOptional(ctx, run, model.EntityVehicle, v[ColLicensePlate])
	if err != nil {
		return nil, fmt.Errorf("resolving vehicle: %w", err)
	}

	record := &model.BalanceRecord{
		RecordID:          model.GenerateUUIDWithSuffix("bal"),
		BatchID:           item.BatchID,
		AgreementNumber:   v[ColAgreementNumber],
		AgreementID:       agreement.CandidateID,
		VehicleID:         vehicleID,
		LicensePlate:      v[ColLicensePlate],
		RentAmount:        amounts[ColRentAmount],
		FinalPrice:        amounts[ColFinalPrice],
		AmountPaid:        amounts[ColAmountPaid],
		RemainingAmount:   amounts[ColRemainingAmount],
		AgreementDuration: v[ColAgreementDuration],
		CreatedAt:         time.Now().UTC(),
	}
	record.NaturalKey = record.HashRecord()
	return func(ctx context.Context) error { return i.datasource.InsertBalanceRecord(ctx, record) }, nil
}

func (i *Intake) importCustomer(ctx context.Context, run *ResolutionRun, item *model.ImportItem) (bool, error) {
	v := item.Payload
	meta := map[string]interface{}{}
	for _, col := range []string{ColPhone, ColEmail, ColNationalID} {
		if v[col] != "" {
			meta[col] = v[col]
		}
	}

	_, existing, err := i.resolver.ImportCustomer(ctx, run, v[ColCustomerName], meta)
	if err != nil {
		return false, fmt.Errorf("importing customer: %w", err)
	}
	if existing != nil {
		logrus.WithFields(logrus.Fields{
			"row":        item.RowIndex,
			"match_type": existing.MatchType,
			"entity_id":  existing.CandidateID,
		}).Debug("customer already known")
		return true, nil
	}
	return false, nil
}

// resolveOptional resolves a reference that may be blank, returning "" for blanks.
func (i *Intake) resolveOptional(ctx context.Context, run *ResolutionRun, kind model.EntityKind, raw string) (string, error) {
	if model.NaturalKey(kind, raw) == "" {
		return "", nil
	}
	resolved, err := i.resolver.Resolve(ctx, run, kind, raw)
	if err != nil {
		return "", err
	}
	return resolved.CandidateID, nil
}

// finish writes the final counts, error summary and terminal status.
func (i *Intake) finish(ctx context.Context, batch *model.ImportBatch, outcomes []itemOutcome, fatal error) (*model.BatchStatus, error) {
	failed := 0
	for _, o := range outcomes {
		if o.err == nil {
			continue
		}
		failed++
		batch.Errors = append(batch.Errors, model.ImportError{
			Row:      o.item.RowIndex,
			ItemID:   o.item.ItemID,
			Category: model.ErrorCategoryItem,
			Reason:   o.err.Error(),
		})
	}

	batch.RecordsProcessed = len(outcomes)
	batch.FailedCount += failed
	batch.Status = model.StatusCompleted
	if fatal != nil {
		batch.Status = model.StatusError
		batch.Errors = append(batch.Errors, model.ImportError{Category: model.ErrorCategoryFatal, Reason: fatal.Error()})
	}
	now := time.Now().UTC()
	batch.UpdatedAt = now
	batch.CompletedAt = &now

	// The final write must land even when the caller's context is gone.
	writeCtx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		writeCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), time.Minute)
		defer cancel()
	}

	if err := i.ledger.Finalize(writeCtx, batch, model.StatusProcessing); err != nil {
		notification.NotifyError(err, map[string]string{"batch_id": batch.BatchID, "stage": "finalize"})
		return nil, err
	}
	if fatal != nil {
		notification.NotifyError(fatal, map[string]string{"batch_id": batch.BatchID, "stage": "process"})
	}

	logrus.WithFields(logrus.Fields{
		"batch_id":          batch.BatchID,
		"status":            batch.Status,
		"records_processed": batch.RecordsProcessed,
		"failed_count":      batch.FailedCount,
	}).Info("import batch finished")

	status := batch.Summary()
	return &status, fatal
}

func (i *Intake) auditItem(ctx context.Context, item *model.ImportItem, action model.AuditAction, from, to model.ItemStatus, extra map[string]interface{}) {
	after := map[string]interface{}{"status": string(to), "row": item.RowIndex}
	for k, v := range extra {
		after[k] = v
	}

	err := i.ledger.RecordAudit(ctx, &model.AuditLogEntry{
		EntityType: model.AuditEntityImportItem,
		EntityID:   item.ItemID,
		Action:     action,
		Before:     map[string]interface{}{"status": string(from)},
		After:      after,
		BatchID:    item.BatchID,
	})
	if err != nil {
		logrus.WithError(err).WithField("item_id", item.ItemID).Error("recording item audit entry")
	}
}
