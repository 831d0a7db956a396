package api

import (
	"errors"
	"net/http"

	"github.com/blnkfinance/intake"
	model2 "github.com/blnkfinance/intake/api/model"
	"github.com/blnkfinance/intake/model"
	"github.com/gin-gonic/gin"
)

// UploadImport stores a multipart file as a new batch. With process=sync the
// batch is processed before responding; with process=async it is handed to
// the workers.
func (a Api) UploadImport(c *gin.Context) {
	var req model2.UploadImport
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}
	if err := req.ValidateUploadImport(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required. upload it in the multipart field 'file'"})
		return
	}
	defer file.Close()

	batch, err := a.intake.UploadImportFile(c.Request.Context(), req.ImportKind(), header.Filename, file)
	if err != nil {
		var schemaErr *intake.SchemaError
		if errors.As(err, &schemaErr) && batch != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "batch": batch})
			return
		}
		respondError(c, err)
		return
	}

	a.dispatch(c, batch, req.Process)
}

// ProcessImport runs a pending batch. Pass ?process=async to queue it instead.
func (a Api) ProcessImport(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	mode := c.DefaultQuery("process", model2.ProcessSync)
	if mode == model2.ProcessAsync {
		if err := a.intake.StartImport(c.Request.Context(), id); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"batch_id": id, "status": model.StatusPending})
		return
	}

	status, err := a.intake.ProcessImport(c.Request.Context(), id)
	a.respondProcessed(c, status, err)
}

// Reimport creates a fresh batch from a batch's stored source file.
func (a Api) Reimport(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	batch, err := a.intake.Reimport(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	a.dispatch(c, batch, c.Query("process"))
}

func (a Api) GetImportStatus(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	status, err := a.intake.Ledger().GetBatchStatus(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, status)
}

// WaitForImport blocks until the batch is terminal or the poll times out.
// A timeout answers 202 with the last status seen.
func (a Api) WaitForImport(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	var req model2.WaitImport
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}
	if err := req.ValidateWaitImport(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	status, err := a.intake.WaitForBatch(c.Request.Context(), id, req.Interval(a.poll.Interval()), req.Timeout(a.poll.Timeout()))
	if errors.Is(err, intake.ErrPollTimeout) {
		c.JSON(http.StatusAccepted, gin.H{"error": err.Error(), "status": status})
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, status)
}

func (a Api) ListImports(c *gin.Context) {
	var req model2.ListImports
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}
	if err := req.ValidateListImports(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}
	if req.Limit == 0 {
		req.Limit = 20
	}

	batches, err := a.intake.Ledger().ListBatches(c.Request.Context(), req.ImportKind(), req.Limit, req.Offset)
	if err != nil {
		respondError(c, err)
		return
	}
	if batches == nil {
		batches = []*model.ImportBatch{}
	}

	c.JSON(http.StatusOK, batches)
}

// GetAuditEntries lists the audit trail of one entity, e.g.
// /audit/import_batch/imp_123 or /audit/customer/cus_456.
func (a Api) GetAuditEntries(c *gin.Context) {
	entityType := c.Param("type")
	id := c.Param("id")

	entries, err := a.intake.Ledger().ListAuditEntries(c.Request.Context(), entityType, id)
	if err != nil {
		respondError(c, err)
		return
	}
	if entries == nil {
		entries = []*model.AuditLogEntry{}
	}

	c.JSON(http.StatusOK, entries)
}

func (a Api) dispatch(c *gin.Context, batch *model.ImportBatch, mode string) {
	switch mode {
	case model2.ProcessSync:
		status, err := a.intake.ProcessImport(c.Request.Context(), batch.BatchID)
		a.respondProcessed(c, status, err)
	case model2.ProcessAsync:
		if err := a.intake.StartImport(c.Request.Context(), batch.BatchID); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, batch)
	default:
		c.JSON(http.StatusCreated, batch)
	}
}

// respondProcessed reports a finished run. A fatal run still has a status
// worth returning alongside the error.
func (a Api) respondProcessed(c *gin.Context, status *model.BatchStatus, err error) {
	if err != nil && status == nil {
		respondError(c, err)
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "status": status})
		return
	}

	c.JSON(http.StatusOK, status)
}
