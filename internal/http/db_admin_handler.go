package http

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
)

// DBAdminHandler provides read-only browsing of the service's own tables.
type DBAdminHandler struct {
	db     *sqlx.DB
	tables []string
}

func NewDBAdminHandler(db *sqlx.DB, tables []string) *DBAdminHandler {
	return &DBAdminHandler{db: db, tables: tables}
}

var sensitivePatterns = []string{"password", "hash", "secret", "api_key", "token", "private_key"}

func isSensitiveColumn(name string) bool {
	lower := strings.ToLower(name)
	for _, p := range sensitivePatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

type tableInfo struct {
	Name     string `json:"name"`
	RowCount int    `json:"row_count"`
}

type columnInfo struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
}

// ListTables returns the browsable tables with exact row counts.
// GET /db/tables
func (h *DBAdminHandler) ListTables(c *gin.Context) {
	ctx := c.Request.Context()
	tables := make([]tableInfo, 0, len(h.tables))
	for _, name := range h.tables {
		var n int
		if err := h.db.GetContext(ctx, &n, fmt.Sprintf("SELECT COUNT(*) FROM %q", name)); err != nil {
			respondError(c, fmt.Errorf("count %s: %w", name, err))
			return
		}
		tables = append(tables, tableInfo{Name: name, RowCount: n})
	}
	c.JSON(http.StatusOK, gin.H{"tables": tables})
}

// GetTableSchema returns column definitions for a table.
// GET /db/tables/:table/schema
func (h *DBAdminHandler) GetTableSchema(c *gin.Context) {
	table, ok := h.table(c)
	if !ok {
		return
	}
	cols, err := h.columns(c.Request.Context(), table)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"table": table, "columns": cols})
}

// QueryRows returns paginated rows with optional search and sort.
// GET /db/tables/:table/rows?page=1&page_size=50&search=&sort_by=id&sort_order=desc
func (h *DBAdminHandler) QueryRows(c *gin.Context) {
	table, ok := h.table(c)
	if !ok {
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "50"))
	search := strings.TrimSpace(c.Query("search"))
	sortBy := c.Query("sort_by")
	sortOrder := strings.ToLower(c.DefaultQuery("sort_order", "desc"))

	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 50
	}
	if sortOrder != "asc" && sortOrder != "desc" {
		sortOrder = "desc"
	}

	ctx := c.Request.Context()
	cols, err := h.columns(ctx, table)
	if err != nil {
		respondError(c, err)
		return
	}
	names := make([]string, len(cols))
	for i, col := range cols {
		names[i] = col.Name
	}
	if sortBy != "" && !slices.Contains(names, sortBy) {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid sort_by column: %q", sortBy)})
		return
	}

	var (
		where string
		args  []any
	)
	if search != "" {
		conds := make([]string, 0, len(names))
		for _, name := range names {
			if isSensitiveColumn(name) {
				continue
			}
			conds = append(conds, fmt.Sprintf("LOWER(CAST(%q AS TEXT)) LIKE ?", name))
			args = append(args, "%"+strings.ToLower(search)+"%")
		}
		if len(conds) > 0 {
			where = "WHERE " + strings.Join(conds, " OR ")
		}
	}

	var total int
	countQuery := h.db.Rebind(fmt.Sprintf("SELECT COUNT(*) FROM %q %s", table, where))
	if err := h.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		respondError(c, err)
		return
	}

	order := ""
	if sortBy != "" {
		order = fmt.Sprintf("ORDER BY %q %s", sortBy, sortOrder)
	}
	dataQuery := h.db.Rebind(fmt.Sprintf("SELECT * FROM %q %s %s LIMIT ? OFFSET ?", table, where, order))
	args = append(args, pageSize, (page-1)*pageSize)

	rows, err := h.db.QueryxContext(ctx, dataQuery, args...)
	if err != nil {
		respondError(c, err)
		return
	}
	defer rows.Close()

	results := []map[string]any{}
	for rows.Next() {
		row := make(map[string]any)
		if err := rows.MapScan(row); err != nil {
			respondError(c, err)
			return
		}
		for k, v := range row {
			if isSensitiveColumn(k) {
				row[k] = "***"
			} else {
				row[k] = formatValue(v)
			}
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"table":     table,
		"rows":      results,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// formatValue turns driver byte slices into strings for JSON output.
func formatValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

// --- helpers ---

func (h *DBAdminHandler) table(c *gin.Context) (string, bool) {
	table := c.Param("table")
	if !slices.Contains(h.tables, table) {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("table %q not found", table)})
		return "", false
	}
	return table, true
}

// columns reads column metadata from an empty result set, which works the
// same on every driver.
func (h *DBAdminHandler) columns(ctx context.Context, table string) ([]columnInfo, error) {
	rows, err := h.db.QueryxContext(ctx, fmt.Sprintf("SELECT * FROM %q LIMIT 0", table))
	if err != nil {
		return nil, fmt.Errorf("read columns of %s: %w", table, err)
	}
	defer rows.Close()

	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("read columns of %s: %w", table, err)
	}
	cols := make([]columnInfo, 0, len(types))
	for _, t := range types {
		nullable, _ := t.Nullable()
		cols = append(cols, columnInfo{Name: t.Name(), Type: strings.ToLower(t.DatabaseTypeName()), Nullable: nullable})
	}
	return cols, nil
}
