package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/service"
)

// parseSort decodes a sort parameter of the form "key:desc,otherKey:asc".
// A key without a direction sorts ascending. Unknown keys are rejected by
// the store's whitelist, not here.
func parseSort(raw string) []domain.SortKey {
	var keys []domain.SortKey
	for _, part := range splitParam(raw) {
		key, dir, _ := strings.Cut(part, ":")
		keys = append(keys, domain.SortKey{
			Key:  key,
			Desc: strings.EqualFold(dir, "desc"),
		})
	}
	return keys
}

func splitParam(raw string) []string {
	if raw == "" {
		return nil
	}
	var parts []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			parts = append(parts, part)
		}
	}
	return parts
}

func parsePage(r *http.Request) (service.Page, error) {
	page := service.Page{Cursor: r.URL.Query().Get("cursor")}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return page, fmt.Errorf("%w: malformed limit %q", domain.ErrInvalidArgument, raw)
		}
		page.Limit = limit
	}
	return page, nil
}
