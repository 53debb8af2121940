package handlers

import (
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/stroycontrol/defect-service/internal/api/dto"
	"github.com/stroycontrol/defect-service/internal/auth"
	"github.com/stroycontrol/defect-service/internal/domain"
	"github.com/stroycontrol/defect-service/internal/service"
	apperrors "github.com/stroycontrol/defect-service/pkg/util/errorutil"
)

func requirePrincipal(c *fiber.Ctx) (domain.Principal, error) {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return nil, apperrors.NewUnauthorized("authentication required")
	}
	return principal, nil
}

func requestMeta(c *fiber.Ctx) service.RequestMeta {
	return service.RequestMeta{ClientIP: c.IP()}
}

// parseDate reads a YYYY-MM-DD value. Nil or blank input yields nil.
func parseDate(field string, val *string) (*time.Time, error) {
	if val == nil || strings.TrimSpace(*val) == "" {
		return nil, nil
	}
	t, err := time.Parse(dto.DateLayout, strings.TrimSpace(*val))
	if err != nil {
		return nil, apperrors.NewValidationError(field+" must be YYYY-MM-DD", map[string]any{field: *val})
	}
	return &t, nil
}

func optionalQuery(c *fiber.Ctx, key string) *string {
	val := strings.TrimSpace(c.Query(key))
	if val == "" {
		return nil
	}
	return &val
}

func splitQuery(val string) []string {
	if val == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseInt(val string, def int) int {
	if val == "" {
		return def
	}
	parsed, err := strconv.Atoi(val)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

const maxPageSize = 100

// parsePage reads page and page_size, clamping the size to maxPageSize.
func parsePage(c *fiber.Ctx, defaultSize int) (page, size int) {
	page = parseInt(c.Query("page"), 1)
	size = parseInt(c.Query("page_size"), defaultSize)
	if size > maxPageSize {
		size = maxPageSize
	}
	return page, size
}
