package http

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/xuri/excelize/v2"

	"github.com/wenwu/saas-platform/panel-service/internal/models"
)

const servicesSheet = "Services"

var serviceColumns = []string{"ID", "User", "Plan", "Server name", "Status", "Server ID", "Price", "Cycle", "Created", "Expires"}

// ExportServices streams every order as an .xlsx workbook.
func (h *AdminHandler) ExportServices(c *gin.Context) {
	orders, err := h.provision.ListAllServices(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	f, err := servicesWorkbook(orders)
	if err != nil {
		respondError(c, err)
		return
	}
	defer f.Close()

	name := fmt.Sprintf("services_%s.xlsx", time.Now().Format("20060102"))
	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s", name))
	c.Status(http.StatusOK)
	if err := f.Write(c.Writer); err != nil {
		_ = c.Error(err)
	}
}

func servicesWorkbook(orders []*models.OrderView) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", servicesSheet); err != nil {
		return nil, err
	}

	header := make([]any, len(serviceColumns))
	for i, col := range serviceColumns {
		header[i] = col
	}
	if err := f.SetSheetRow(servicesSheet, "A1", &header); err != nil {
		return nil, err
	}

	style, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "#FFFFFF"},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#4F46E5"}, Pattern: 1},
	})
	if err != nil {
		return nil, err
	}
	last, _ := excelize.CoordinatesToCellName(len(serviceColumns), 1)
	if err := f.SetCellStyle(servicesSheet, "A1", last, style); err != nil {
		return nil, err
	}

	for i, o := range orders {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		row := []any{
			o.ID,
			deref(o.Username),
			deref(o.PlanName),
			o.ServerName,
			string(o.Status),
			deref(o.ServerID),
			o.Price.InexactFloat64(),
			o.BillingCycle,
			o.CreatedAt.Format(time.DateTime),
			formatTime(o.ExpiresAt),
		}
		if err := f.SetSheetRow(servicesSheet, cell, &row); err != nil {
			return nil, err
		}
	}

	_ = f.SetColWidth(servicesSheet, "B", "D", 20)
	_ = f.SetColWidth(servicesSheet, "I", "J", 20)
	return f, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.DateTime)
}
