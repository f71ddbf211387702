package router

import "github.com/gin-gonic/gin"

// Module is anything that can mount its routes on the shared /api group.
type Module interface {
	Register(rg *gin.RouterGroup)
}

// Registry collects feature modules during startup and mounts them all at
// once under /api. Middleware added through Use applies to the whole group,
// so it must be installed before RegisterAll runs.
type Registry struct {
	engine  *gin.Engine
	api     *gin.RouterGroup
	pending []Module
}

func NewRegistry(engine *gin.Engine) *Registry {
	return &Registry{engine: engine, api: engine.Group("/api")}
}

func (r *Registry) Use(mw ...gin.HandlerFunc) {
	r.api.Use(mw...)
}

func (r *Registry) Add(mods ...Module) {
	r.pending = append(r.pending, mods...)
}

// RegisterAll mounts every queued module. Called once from main after all
// modules have been added.
func (r *Registry) RegisterAll() {
	for _, m := range r.pending {
		m.Register(r.api)
	}
}
