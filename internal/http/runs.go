package httpapp

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/open-sspm/egress-provisioner/internal/audit"
)

const maxRunsLimit = 500

type runItem struct {
	ID            string    `json:"id"`
	PluginFQN     string    `json:"plugin_fqn"`
	Slug          string    `json:"slug"`
	Path          string    `json:"path"`
	Status        string    `json:"status"`
	FailedStep    string    `json:"failed_step,omitempty"`
	FailureKind   string    `json:"failure_kind,omitempty"`
	Message       string    `json:"message,omitempty"`
	ParameterKeys []string  `json:"parameter_keys"`
	SecretKeys    []string  `json:"secret_keys"`
	StartedAt     time.Time `json:"started_at"`
	DurationMS    int64     `json:"duration_ms"`
}

func (es *EchoServer) handleListRuns(c *echo.Context) error {
	limit := 0
	if raw := strings.TrimSpace(c.QueryParam("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxRunsLimit {
			return writeError(c, http.StatusBadRequest, codeInvalidRequest, "limit must be between 1 and 500")
		}
		limit = n
	}

	records, err := es.opts.Runs.ListRuns(c.Request().Context(), audit.ListOptions{
		Slug:  c.QueryParam("slug"),
		Limit: limit,
	})
	if err != nil {
		return err
	}

	items := make([]runItem, 0, len(records))
	for _, r := range records {
		items = append(items, runItem{
			ID:            r.ID.String(),
			PluginFQN:     r.PluginFQN,
			Slug:          r.Slug,
			Path:          r.Path,
			Status:        r.Status,
			FailedStep:    r.FailedStep,
			FailureKind:   r.FailureKind,
			Message:       r.Message,
			ParameterKeys: r.ParameterKeys,
			SecretKeys:    r.SecretKeys,
			StartedAt:     r.StartedAt,
			DurationMS:    r.Duration().Milliseconds(),
		})
	}
	return c.JSON(http.StatusOK, map[string]any{"runs": items})
}
