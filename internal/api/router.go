// Package api wires the pipeline run handlers and the Swagger UI onto the
// router.
//
// @title ETL Pipeline API
// @version 1.0
// @description Start pipeline runs from job specs and inspect their state, validation reports and errors.
// @BasePath /api/v1
package api

import (
	httpSwagger "github.com/swaggo/http-swagger"
	"go.uber.org/zap"

	_ "go-etl-pipeline/docs"
	"go-etl-pipeline/internal/api/handler"
	"go-etl-pipeline/pkg/router"
)

func RegisterRoutes(r *router.Router, h *handler.PipelineHandler) {
	r.POST("/api/v1/pipelines", h.CreatePipeline)
	r.GET("/api/v1/pipelines", h.ListPipelines)
	// More specific routes first
	r.GET("/api/v1/pipelines/*/errors", h.GetPipelineErrors)
	r.GET("/api/v1/pipelines/*/report", h.GetPipelineReport)
	r.POST("/api/v1/pipelines/*/retry", h.RetryPipeline)
	// Generic pipeline route last
	r.GET("/api/v1/pipelines/*", h.GetPipeline)

	r.Mount("/swagger/", httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))
}

// NewRouter returns a router with every API route registered.
func NewRouter(h *handler.PipelineHandler, log *zap.SugaredLogger) *router.Router {
	r := router.New(log)
	RegisterRoutes(r, h)
	return r
}
