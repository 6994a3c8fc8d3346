package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"finsight-backend/internal/shared/server/respond"
)

const defaultCheckTimeout = 2 * time.Second

// Check probes one dependency.
type Check struct {
	Name string
	Ping func(ctx context.Context) error
}

// Report is the health payload.
type Report struct {
	OK     bool              `json:"ok"`
	Checks map[string]string `json:"checks"`
}

// Service encapsulates health-related checks.
type Service struct {
	Checks  []Check
	Timeout time.Duration
}

// NewService constructs a new health service.
func NewService(checks ...Check) *Service {
	return &Service{Checks: checks}
}

// Status runs every check concurrently and reports each outcome.
func (s *Service) Status(ctx context.Context) Report {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = defaultCheckTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	report := Report{OK: true, Checks: make(map[string]string, len(s.Checks))}
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, check := range s.Checks {
		wg.Add(1)
		go func(check Check) {
			defer wg.Done()
			status := "ok"
			if err := check.Ping(ctx); err != nil {
				status = err.Error()
			}
			mu.Lock()
			defer mu.Unlock()
			report.Checks[check.Name] = status
			if status != "ok" {
				report.OK = false
			}
		}(check)
	}
	wg.Wait()
	return report
}

// Handler serves the report; failing checks answer 503.
func (s *Service) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		report := s.Status(c.Request.Context())
		status := http.StatusOK
		if !report.OK {
			status = http.StatusServiceUnavailable
		}
		respond.JSON(c, status, report)
	}
}
