// Package health собирает состояние компонентов для /healthz, /readyz и gRPC health.
//
// Компонент бывает healthy, degraded или unhealthy. Degraded не снимает готовность:
// сервис принимает заказы, пока хранилище доступно, даже с растущим backlog outbox.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Status: состояние компонента или сервиса целиком.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

func (s Status) severity() int {
	switch s {
	case StatusHealthy:
		return 0
	case StatusDegraded:
		return 1
	default:
		return 2
	}
}

const defaultProbeTimeout = 2 * time.Second

// Check: результат одной проверки.
type Check struct {
	Name       string `json:"name"`
	Status     Status `json:"status"`
	Message    string `json:"message,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// Checker проверяет один компонент; ctx ограничен таймаутом реестра.
type Checker interface {
	Check(ctx context.Context) Check
}

// Report: сводка по всем компонентам, Checks отсортированы по имени.
type Report struct {
	Status        Status    `json:"status"`
	Version       string    `json:"version,omitempty"`
	CheckedAt     time.Time `json:"checked_at"`
	UptimeSeconds int64     `json:"uptime_seconds"`
	Checks        []Check   `json:"checks"`
}

// Registry хранит проверки и выполняет их параллельно.
type Registry struct {
	mu       sync.RWMutex
	checkers map[string]Checker
	build    string
	started  time.Time
	timeout  time.Duration
}

// NewRegistry создаёт пустой реестр; build попадает в отчёт как version.
func NewRegistry(build string) *Registry {
	return &Registry{
		checkers: make(map[string]Checker),
		build:    build,
		started:  time.Now(),
		timeout:  defaultProbeTimeout,
	}
}

// Add регистрирует проверку; повторное имя заменяет прежнюю.
func (r *Registry) Add(name string, checker Checker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkers[name] = checker
}

// Run выполняет все проверки. Медленная проверка не задерживает отчёт дольше таймаута.
func (r *Registry) Run(ctx context.Context) Report {
	r.mu.RLock()
	names := make([]string, 0, len(r.checkers))
	for name := range r.checkers {
		names = append(names, name)
	}
	checkers := make([]Checker, len(names))
	sort.Strings(names)
	for i, name := range names {
		checkers[i] = r.checkers[name]
	}
	r.mu.RUnlock()

	checks := make([]Check, len(names))
	var wg sync.WaitGroup
	for i := range checkers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			probeCtx, cancel := context.WithTimeout(ctx, r.timeout)
			defer cancel()
			check := checkers[i].Check(probeCtx)
			check.Name = names[i]
			checks[i] = check
		}(i)
	}
	wg.Wait()

	overall := StatusHealthy
	for _, check := range checks {
		if check.Status.severity() > overall.severity() {
			overall = check.Status
		}
	}

	return Report{
		Status:        overall,
		Version:       r.build,
		CheckedAt:     time.Now().UTC(),
		UptimeSeconds: int64(time.Since(r.started).Seconds()),
		Checks:        checks,
	}
}

// Ready сообщает, что ни один компонент не unhealthy.
func (r *Registry) Ready(ctx context.Context) bool {
	return r.Run(ctx).Status != StatusUnhealthy
}

// HealthHandler отдаёт Report в JSON; 503 при unhealthy.
func (r *Registry) HealthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		report := r.Run(req.Context())
		code := http.StatusOK
		if report.Status == StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(report)
	})
}

// ReadyHandler: readiness probe.
func (r *Registry) ReadyHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if r.Ready(req.Context()) {
			writeText(w, http.StatusOK, "ready")
			return
		}
		writeText(w, http.StatusServiceUnavailable, "not ready")
	})
}

// Live отвечает на liveness probe, пока процесс жив.
func Live(w http.ResponseWriter, _ *http.Request) {
	writeText(w, http.StatusOK, "ok")
}

func writeText(w http.ResponseWriter, code int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(body))
}

// Ping превращает функцию вида store.Ping в Checker: ошибка означает unhealthy.
func Ping(ping func(ctx context.Context) error) Checker {
	return pingChecker(ping)
}

type pingChecker func(ctx context.Context) error

func (p pingChecker) Check(ctx context.Context) Check {
	start := time.Now()
	err := p(ctx)
	check := Check{Status: StatusHealthy, DurationMs: time.Since(start).Milliseconds()}
	if err != nil {
		check.Status = StatusUnhealthy
		check.Message = err.Error()
	}
	return check
}
