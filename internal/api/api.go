// Package api assembles the API module with all domain systems and route registration.
package api

import (
	"net/http"

	"github.com/ratescan/ratescan/internal/config"
	"github.com/ratescan/ratescan/internal/infrastructure"
	"github.com/ratescan/ratescan/pkg/middleware"
	"github.com/ratescan/ratescan/pkg/module"
)

// NewModule creates the API module with all domain handlers and middleware.
// The assembled Domain is returned alongside the module so the stage
// workers can run over the same systems.
func NewModule(cfg *config.Config, infra *infrastructure.Infrastructure) (*module.Module, *Domain, error) {
	runtime := NewRuntime(cfg, infra)
	domain := NewDomain(runtime)

	mux := http.NewServeMux()
	registerRoutes(mux, domain, cfg, runtime)

	m := module.New(cfg.API.BasePath, mux)
	m.Use(middleware.CORS(&cfg.API.CORS))
	m.Use(middleware.Logger(runtime.Logger))

	return m, domain, nil
}
