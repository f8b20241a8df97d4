package embed

import "embed"

const HAProxyConfigTemplate = "templates/haproxy.cfg"

//go:embed templates/*
var TemplatesFS embed.FS

// HAProxyTemplateData is rendered into HAProxyConfigTemplate.
type HAProxyTemplateData struct {
	Env           string
	Domains       []string
	APIPrefix     string
	BackendName   string
	BackendAddr   string
	DashboardName string
	DashboardAddr string
	HealthPath    string
}
