package httpapi

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"bodega/backend/internal/domain"
	"bodega/backend/internal/report"
	"bodega/backend/internal/service"
)

const maxRestoreBytes = 256 << 20

func (a *API) handleHealth(c *gin.Context) {
	writeJSON(c, http.StatusOK, gin.H{"ok": true, "report_generation": a.service.ReportGeneration()})
}

func (a *API) handleListProducts(c *gin.Context) {
	products, err := a.service.ListProducts(c.Request.Context())
	if err != nil {
		a.fail(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"products": products})
}

func (a *API) handleGetProduct(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		a.fail(c, err)
		return
	}
	product, err := a.service.GetProduct(c.Request.Context(), id)
	if err != nil {
		a.fail(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"product": product})
}

func (a *API) handleCreateProduct(c *gin.Context) {
	var req domain.ProductCreateRequest
	if err := decodeJSON(c, &req); err != nil {
		a.fail(c, err)
		return
	}
	product, err := a.service.CreateProduct(c.Request.Context(), req)
	if err != nil {
		a.fail(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, gin.H{"product": product})
}

func (a *API) handleUpdateProduct(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		a.fail(c, err)
		return
	}
	var req domain.ProductUpdateRequest
	if err := decodeJSON(c, &req); err != nil {
		a.fail(c, err)
		return
	}
	product, err := a.service.UpdateProduct(c.Request.Context(), id, req)
	if err != nil {
		a.fail(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"product": product})
}

func (a *API) handleDeleteProduct(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		a.fail(c, err)
		return
	}
	if err := a.service.DeleteProduct(c.Request.Context(), id); err != nil {
		a.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *API) handleLookupBarcode(c *gin.Context) {
	code := c.Param("barcode")
	product, found, err := a.service.LookupBarcode(c.Request.Context(), code)
	if err != nil {
		a.fail(c, err)
		return
	}
	if !found {
		a.fail(c, &domain.NotFoundError{Entity: "barcode", Key: code})
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"product": product})
}

func (a *API) handleSearchInventory(c *gin.Context) {
	products, err := a.service.SearchInventory(c.Request.Context(), c.Query("name"), c.Query("category"))
	if err != nil {
		a.fail(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"products": products})
}

func (a *API) handleCatalog(c *gin.Context) {
	products, err := a.service.FilterCatalog(c.Request.Context(), c.Query("q"), c.DefaultQuery("category", service.AllCategories))
	if err != nil {
		a.fail(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"products": products})
}

func (a *API) handleLowStock(c *gin.Context) {
	threshold, err := queryInt(c, "threshold", -1)
	if err != nil {
		a.fail(c, err)
		return
	}
	products, err := a.service.LowStock(c.Request.Context(), threshold)
	if err != nil {
		a.fail(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"products": products})
}

func (a *API) handleExpiring(c *gin.Context) {
	days, err := queryInt(c, "days", 0)
	if err != nil {
		a.fail(c, err)
		return
	}
	products, err := a.service.Expiring(c.Request.Context(), days)
	if err != nil {
		a.fail(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"products": products})
}

func (a *API) handleListCategories(c *gin.Context) {
	categories, err := a.service.SearchCategories(c.Request.Context(), c.Query("q"))
	if err != nil {
		a.fail(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"categories": categories})
}

func (a *API) handleCreateCategory(c *gin.Context) {
	var req domain.CategoryRequest
	if err := decodeJSON(c, &req); err != nil {
		a.fail(c, err)
		return
	}
	category, err := a.service.CreateCategory(c.Request.Context(), req)
	if err != nil {
		a.fail(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, gin.H{"category": category})
}

func (a *API) handleUpdateCategory(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		a.fail(c, err)
		return
	}
	var req domain.CategoryRequest
	if err := decodeJSON(c, &req); err != nil {
		a.fail(c, err)
		return
	}
	category, err := a.service.UpdateCategory(c.Request.Context(), id, req)
	if err != nil {
		a.fail(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"category": category})
}

func (a *API) handleDeleteCategory(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		a.fail(c, err)
		return
	}
	if err := a.service.DeleteCategory(c.Request.Context(), id); err != nil {
		a.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *API) handleListSales(c *gin.Context) {
	limit, err := queryInt(c, "limit", 0)
	if err != nil {
		a.fail(c, err)
		return
	}
	sales, err := a.service.ListSales(c.Request.Context(), limit)
	if err != nil {
		a.fail(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"sales": sales})
}

func (a *API) handleCommitSale(c *gin.Context) {
	var req domain.CommitSaleRequest
	if err := decodeJSON(c, &req); err != nil {
		a.fail(c, err)
		return
	}
	sale, err := a.service.CommitSale(c.Request.Context(), req)
	if err != nil {
		a.fail(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, gin.H{"sale": sale})
}

func (a *API) handleGetSale(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		a.fail(c, err)
		return
	}
	sale, err := a.service.GetSale(c.Request.Context(), id)
	if err != nil {
		a.fail(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"sale": sale})
}

func (a *API) handleDeleteSale(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		a.fail(c, err)
		return
	}
	if err := a.service.DeleteSale(c.Request.Context(), id); err != nil {
		a.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type cartLineRequest struct {
	ProductID int64  `json:"product_id,omitempty"`
	Barcode   string `json:"barcode,omitempty"`
}

type cartQuantityRequest struct {
	Quantity int `json:"quantity"`
}

func (a *API) handleCartView(c *gin.Context) {
	writeJSON(c, http.StatusOK, gin.H{"cart": a.session.View()})
}

func (a *API) handleCartClear(c *gin.Context) {
	a.session.Clear()
	writeJSON(c, http.StatusOK, gin.H{"cart": a.session.View()})
}

// handleCartAdd reports added=false when the line is already at the stored
// stock. That is not an error.
func (a *API) handleCartAdd(c *gin.Context) {
	var req cartLineRequest
	if err := decodeJSON(c, &req); err != nil {
		a.fail(c, err)
		return
	}

	var (
		added bool
		err   error
	)
	ctx := c.Request.Context()
	switch code := strings.TrimSpace(req.Barcode); {
	case code != "":
		var found bool
		found, added, err = a.session.AddBarcode(ctx, code)
		if err == nil && !found {
			err = &domain.NotFoundError{Entity: "barcode", Key: code}
		}
	case req.ProductID > 0:
		added, err = a.session.AddProduct(ctx, req.ProductID)
	default:
		err = domain.NewValidationError("product_id", "product_id or barcode is required")
	}
	if err != nil {
		a.fail(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"added": added, "cart": a.session.View()})
}

func (a *API) handleCartSetQuantity(c *gin.Context) {
	id, err := pathID(c, "productId")
	if err != nil {
		a.fail(c, err)
		return
	}
	var req cartQuantityRequest
	if err := decodeJSON(c, &req); err != nil {
		a.fail(c, err)
		return
	}
	applied := a.session.SetQuantity(id, req.Quantity)
	writeJSON(c, http.StatusOK, gin.H{"applied": applied, "cart": a.session.View()})
}

func (a *API) handleCartRemove(c *gin.Context) {
	id, err := pathID(c, "productId")
	if err != nil {
		a.fail(c, err)
		return
	}
	if !a.session.Remove(id) {
		a.fail(c, &domain.NotFoundError{Entity: "cart line", Key: c.Param("productId")})
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"cart": a.session.View()})
}

func (a *API) handleCartCheckout(c *gin.Context) {
	sale, err := a.session.CheckoutAsync(c.Request.Context()).Await(c.Request.Context())
	if err != nil {
		a.fail(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, gin.H{"sale": sale, "cart": a.session.View()})
}

func (a *API) handleTrailingReport(c *gin.Context) {
	rep, err := a.service.TrailingReport(c.Request.Context())
	if err != nil {
		a.fail(c, err)
		return
	}

	var (
		buf         bytes.Buffer
		contentType string
	)
	format := strings.ToLower(c.DefaultQuery("format", "json"))
	switch format {
	case "json":
		writeJSON(c, http.StatusOK, gin.H{"report": rep})
		return
	case "csv":
		err = report.WriteCSV(&buf, rep)
		contentType = "text/csv; charset=utf-8"
	case "xlsx":
		err = report.WriteXLSX(&buf, rep)
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		a.fail(c, domain.NewValidationError("format", "must be json, csv or xlsx"))
		return
	}
	if err != nil {
		a.fail(c, err)
		return
	}

	name := fmt.Sprintf("ventas_%s.%s", rep.From.Format(domain.DayLayout), format)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	c.Data(http.StatusOK, contentType, buf.Bytes())
}

func (a *API) handleDashboard(c *gin.Context) {
	dashboard, err := a.service.Dashboard(c.Request.Context())
	if err != nil {
		a.fail(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"dashboard": dashboard})
}

type themeRequest struct {
	Theme string `json:"theme"`
}

func (a *API) handleGetTheme(c *gin.Context) {
	theme, err := a.service.Theme(c.Request.Context())
	if err != nil {
		a.fail(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"theme": theme})
}

func (a *API) handleSetTheme(c *gin.Context) {
	var req themeRequest
	if err := decodeJSON(c, &req); err != nil {
		a.fail(c, err)
		return
	}
	theme, err := a.service.SetTheme(c.Request.Context(), req.Theme)
	if err != nil {
		a.fail(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"theme": theme})
}

// handleBackupDownload buffers the copy so a failed export still gets a
// proper error status.
func (a *API) handleBackupDownload(c *gin.Context) {
	name := a.service.BackupName()
	if name == "" {
		a.fail(c, service.ErrUnavailable)
		return
	}
	var buf bytes.Buffer
	if err := a.service.ExportBackup(c.Request.Context(), &buf); err != nil {
		a.fail(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	c.Data(http.StatusOK, "application/octet-stream", buf.Bytes())
}

// handleBackupRestore takes either a multipart "file" field or the raw body.
func (a *API) handleBackupRestore(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxRestoreBytes)

	var src io.Reader = c.Request.Body
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		header, err := c.FormFile("file")
		if err != nil {
			a.fail(c, domain.NewValidationError("file", "backup file is required"))
			return
		}
		file, err := header.Open()
		if err != nil {
			a.fail(c, err)
			return
		}
		defer file.Close()
		src = file
	}

	if err := a.service.RestoreBackup(c.Request.Context(), src); err != nil {
		a.fail(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"restored": true})
}

func (a *API) handleBackupSnapshot(c *gin.Context) {
	path, err := a.service.SnapshotBackup(c.Request.Context())
	if err != nil {
		a.fail(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, gin.H{"path": path})
}
