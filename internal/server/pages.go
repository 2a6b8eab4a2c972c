package server

import (
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/morezero/vault-ipc/pkg/registry"
)

// homePageTemplate is the HTML for the node home page (white bg, black/blue text).
const homePageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>vault-ipc – {{.Identity}}</title>
  <style>
    * { box-sizing: border-box; }
    body { background: #fff; color: #000; font-family: system-ui, sans-serif; margin: 0; padding: 2rem; line-height: 1.5; }
    a { color: #0066cc; }
    h1, h2, h3 { color: #0066cc; }
    .status-healthy { color: #0066cc; font-weight: bold; }
    .status-unhealthy { color: #cc0000; font-weight: bold; }
    table { border-collapse: collapse; width: 100%; max-width: 900px; margin-top: 0.5rem; }
    th, td { text-align: left; padding: 0.5rem 0.75rem; border: 1px solid #ccc; vertical-align: top; }
    th { background: #f0f4f8; color: #0066cc; }
    .stat { font-weight: bold; color: #0066cc; }
    .meta { color: #333; font-size: 0.9rem; margin-top: 1rem; }
    section { margin-bottom: 2rem; }
    .error { color: #cc0000; }
    code { background: #f5f5f5; padding: 0 0.25rem; }
  </style>
</head>
<body>
  <h1>vault-ipc</h1>
  <p class="meta">Endpoint <code>{{.Identity}}</code>: health and hosted services.</p>

  <section>
    <h2>Health</h2>
    <p>Status: <span class="status-{{.Health.Status}}">{{.Health.Status}}</span></p>
    <p>Transport: {{if .Health.Checks.Transport}}<span class="stat">OK</span>{{else}}<span class="error">Unavailable</span>{{end}}</p>
    <p>Pending calls: <span class="stat">{{.Pending}}</span></p>
    <p>Timestamp: {{.Health.Timestamp}}</p>
  </section>

  <section>
    <h2>Services</h2>
    {{if not .Services}}
    <p>No services registered.</p>
    {{else}}
    <table>
      <thead>
        <tr><th>Tag</th><th>Version</th><th>Members</th></tr>
      </thead>
      <tbody>
        {{range .Services}}
        <tr>
          <td>{{.Tag}}</td>
          <td>{{if .Version}}{{.Version}}{{else}}-{{end}}</td>
          <td>{{range .Interface}}<code>{{.Name}}/{{.Arity}}</code>{{if eq .Type "stream"}} (stream){{end}}<br>{{end}}</td>
        </tr>
        {{end}}
      </tbody>
    </table>
    {{end}}
  </section>
</body>
</html>
`

// homeData is the data passed to the home page template.
type homeData struct {
	Identity string
	Health   *registry.HealthOutput
	Pending  int
	Services []registry.ServiceInfo
}

// handleHome returns an HTTP handler for the node home page.
func (s *Server) handleHome() http.HandlerFunc {
	tmpl := template.Must(template.New("home").Parse(homePageTemplate))
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), s.cfg.HealthCheckTimeout)
		defer cancel()

		data := homeData{
			Identity: s.node.Identity(),
			Health:   s.node.Health(ctx),
			Pending:  s.node.Correlator().Pending(),
			Services: s.node.Registry().Services(),
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := tmpl.Execute(w, data); err != nil {
			slog.Error(fmt.Sprintf("%s - home template execute: %v", logPrefix, err))
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
	}
}
