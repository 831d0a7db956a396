package intake

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/blnkfinance/intake/internal/apierror"
	"github.com/blnkfinance/intake/model"
	"github.com/sirupsen/logrus"
)

// UploadImportFile stores an uploaded file, validates and repairs its rows
// and records a pending batch with one item per committable row. A file
// that fails the header check is still recorded, as a batch in status
// error, and the *SchemaError is returned alongside it.
func (i *Intake) UploadImportFile(ctx context.Context, kind model.ImportKind, filename string, r io.Reader) (*model.ImportBatch, error) {
	ctx, span := tracer.Start(ctx, "Uploading import file")
	defer span.End()

	if !kind.Valid() {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, fmt.Sprintf("unsupported import kind %q", kind), nil)
	}
	schema, err := SchemaFor(kind)
	if err != nil {
		return nil, err
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "import file is empty", nil)
	}

	fileType, err := detectFileType(data, filename)
	if err != nil {
		return nil, err
	}
	if !isDelimitedText(fileType) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFile, fileType)
	}

	name := cleanFileName(filename)
	now := time.Now().UTC()
	batch := &model.ImportBatch{
		BatchID:   model.GenerateUUIDWithSuffix("imp"),
		FileName:  name,
		Kind:      kind,
		Status:    model.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	batch.SourceFile = path.Join("imports", batch.BatchID, name)

	err = i.retrier.Do(ctx, "upload import file", func(ctx context.Context) error {
		return i.store.Upload(ctx, batch.SourceFile, data)
	})
	if err != nil {
		return nil, err
	}

	parsed, parseErr := Parse(data, schema)
	if parseErr != nil {
		return i.rejectBatch(ctx, batch, parseErr)
	}

	items, rowRepairs := i.prepareItems(batch, parsed, schema)
	err = i.retrier.Do(ctx, "create import batch", func(ctx context.Context) error {
		return permanent(i.datasource.CreateImportBatch(ctx, batch, items))
	})
	if err != nil {
		return nil, err
	}

	i.auditRepairs(ctx, batch, rowRepairs)

	logrus.WithFields(logrus.Fields{
		"batch_id":   batch.BatchID,
		"kind":       kind,
		"total_rows": batch.TotalRows,
		"items":      len(items),
		"rejected":   batch.FailedCount,
	}).Info("import file accepted")
	return batch, nil
}

// rowRepair ties repair notes to the item or batch they are audited under.
type rowRepair struct {
	entityType string
	entityID   string
	notes      []model.RepairNote
}

func (i *Intake) prepareItems(batch *model.ImportBatch, parsed *ParsedFile, schema Schema) ([]*model.ImportItem, []rowRepair) {
	batch.TotalRows = parsed.TotalRows
	for _, s := range parsed.Structural {
		batch.Errors = append(batch.Errors, model.ImportError{
			Row:      s.Row,
			Category: model.ErrorCategoryStructural,
			Reason:   s.Error(),
		})
	}

	var items []*model.ImportItem
	var repairs []rowRepair
	for _, row := range parsed.Rows {
		repairedRow := RepairRow(row, schema)
		batch.Repairs = append(batch.Repairs, repairedRow.Notes...)

		if !repairedRow.Valid() {
			for _, fe := range repairedRow.Errors {
				batch.Errors = append(batch.Errors, model.ImportError{
					Row:      fe.Row,
					Field:    fe.Field,
					Category: model.ErrorCategoryUnrepairable,
					Reason:   fe.Error(),
				})
			}
			if len(repairedRow.Notes) > 0 {
				repairs = append(repairs, rowRepair{model.AuditEntityImportBatch, batch.BatchID, repairedRow.Notes})
			}
			continue
		}

		item := &model.ImportItem{
			ItemID:    model.GenerateUUIDWithSuffix("item"),
			BatchID:   batch.BatchID,
			RowIndex:  repairedRow.Row,
			Kind:      batch.Kind,
			Payload:   repairedRow.Values,
			Status:    model.ItemPending,
			CreatedAt: batch.CreatedAt,
		}
		items = append(items, item)
		if len(repairedRow.Notes) > 0 {
			repairs = append(repairs, rowRepair{model.AuditEntityImportItem, item.ItemID, repairedRow.Notes})
		}
	}

	batch.FailedCount = batch.TotalRows - len(items)
	return items, repairs
}

// rejectBatch records a batch whose file could not be read against its
// schema. No items are created.
func (i *Intake) rejectBatch(ctx context.Context, batch *model.ImportBatch, cause error) (*model.ImportBatch, error) {
	category := model.ErrorCategoryStructural
	var schemaErr *SchemaError
	if errors.As(cause, &schemaErr) {
		category = model.ErrorCategorySchema
	}

	completed := time.Now().UTC()
	batch.Status = model.StatusError
	batch.CompletedAt = &completed
	batch.Errors = []model.ImportError{{Category: category, Reason: cause.Error()}}

	err := i.retrier.Do(ctx, "create import batch", func(ctx context.Context) error {
		return permanent(i.datasource.CreateImportBatch(ctx, batch, nil))
	})
	if err != nil {
		return nil, err
	}

	logrus.WithError(cause).WithField("batch_id", batch.BatchID).Warn("import file rejected")
	return batch, cause
}

func (i *Intake) auditRepairs(ctx context.Context, batch *model.ImportBatch, repairs []rowRepair) {
	for _, r := range repairs {
		for _, note := range r.notes {
			err := i.ledger.RecordAudit(ctx, &model.AuditLogEntry{
				EntityType: r.entityType,
				EntityID:   r.entityID,
				Action:     model.ActionFieldRepaired,
				Before:     map[string]interface{}{"field": note.Field, "value": note.Original},
				After:      map[string]interface{}{"field": note.Field, "value": note.Value, "note": note.Note, "row": note.Row},
				BatchID:    batch.BatchID,
			})
			if err != nil {
				logrus.WithError(err).WithField("batch_id", batch.BatchID).Error("recording field.repaired audit entry")
			}
		}
	}
}

// Reimport uploads the stored file of an earlier batch again as a new batch.
func (i *Intake) Reimport(ctx context.Context, batchID string) (*model.ImportBatch, error) {
	previous, err := i.ledger.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}

	data, err := RetryValue(ctx, i.retrier, "download import file", func(ctx context.Context) ([]byte, error) {
		return i.store.Download(ctx, previous.SourceFile)
	})
	if err != nil {
		return nil, err
	}
	return i.UploadImportFile(ctx, previous.Kind, previous.FileName, bytes.NewReader(data))
}

func cleanFileName(filename string) string {
	name := filepath.Base(strings.ReplaceAll(strings.TrimSpace(filename), "\\", "/"))
	if name == "." || name == "/" || name == "" {
		return "import.csv"
	}
	return name
}

func isDelimitedText(mimeType string) bool {
	base, _, _ := mime.ParseMediaType(mimeType)
	switch base {
	case "text/csv", "text/plain", "text/tab-separated-values", "application/vnd.ms-excel":
		return true
	}
	return false
}

// detectFileType detects the MIME type of the file based on its extension or content.
// Parameters:
// - data: The file content as a byte slice.
// - filename: The name of the file, used to detect the MIME type by extension.
// Returns:
// - string: The detected MIME type of the file.
// - error: If the MIME type cannot be determined.
func detectFileType(data []byte, filename string) (string, error) {
	// Attempt to detect file type by its extension first.
	if mimeType := detectByExtension(filename); mimeType != "" {
		return mimeType, nil
	}
	// If detection by extension fails, analyze the content.
	return detectByContent(data)
}

// detectByExtension detects the MIME type by the file extension.
func detectByExtension(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".csv":
		return "text/csv"
	case ".tsv", ".tab":
		return "text/tab-separated-values"
	}
	return mime.TypeByExtension(ext)
}

// detectByContent detects the MIME type based on the first 512 bytes of the file.
func detectByContent(data []byte) (string, error) {
	mimeType := http.DetectContentType(data)

	switch {
	case strings.HasPrefix(mimeType, "text/plain"), mimeType == "application/octet-stream":
		return analyzeTextContent(data)
	default:
		return mimeType, nil
	}
}

// analyzeTextContent tells delimited text apart from JSON and other plain text.
func analyzeTextContent(data []byte) (string, error) {
	if json.Valid(data) {
		return "application/json", nil
	}
	if looksDelimited(data) {
		return "text/csv", nil
	}
	if bytes.IndexByte(data, 0) >= 0 {
		return "application/octet-stream", nil
	}
	return "text/plain", nil
}

// looksDelimited checks that the header line has more than one field.
// Later lines are not compared; rows with the wrong field count are
// reported by the parser instead.
func looksDelimited(data []byte) bool {
	header := firstLine(bytes.TrimPrefix(data, utf8BOM))
	return bytes.IndexByte(header, ',') >= 0 || bytes.IndexByte(header, '\t') >= 0
}
