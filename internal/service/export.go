package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"strconv"
	"strings"

	"brokenLinkAnalyzerGO/internal/models"
)

// ErrUnsupportedFormat is returned by ExportResults for formats other than csv and pdf.
var ErrUnsupportedFormat = errors.New("unsupported export format")

const csvHeader = "URL Origen,URL Destino,Código,Error,Tipo"

// Export is a rendered report ready to be sent as an attachment
type Export struct {
	Filename    string
	ContentType string
	Data        []byte
}

// ExportResults renders the results of a completed analysis. It returns nil
// when no results are available.
func (s *BrokenLinkService) ExportResults(ctx context.Context, id, format string) (*Export, error) {
	if format != "csv" && format != "pdf" {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}

	results, err := s.GetAnalysisResults(ctx, id)
	if err != nil || results == nil {
		return nil, err
	}

	switch format {
	case "csv":
		return &Export{
			Filename:    "broken-links-" + id + ".csv",
			ContentType: "text/csv; charset=utf-8",
			Data:        renderCSV(results),
		}, nil
	default:
		data, err := renderReport(results)
		if err != nil {
			return nil, fmt.Errorf("render report: %w", err)
		}
		return &Export{
			Filename:    "broken-links-" + id + ".html",
			ContentType: "text/html; charset=utf-8",
			Data:        data,
		}, nil
	}
}

// renderCSV writes one line per broken link with every field quoted.
func renderCSV(results *models.AnalysisResults) []byte {
	var buf bytes.Buffer
	buf.WriteString(csvHeader)
	buf.WriteByte('\n')

	for _, l := range results.BrokenLinks {
		fields := []string{
			l.SourceURL,
			l.TargetURL,
			strconv.Itoa(l.StatusCode),
			l.ErrorType,
			string(l.LinkType),
		}
		for i, f := range fields {
			if i > 0 {
				buf.WriteByte(',')
			}
			buf.WriteString(quote(f))
		}
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

func quote(field string) string {
	return `"` + strings.ReplaceAll(field, `"`, `""`) + `"`
}

var reportTemplate = template.Must(template.New("report").Funcs(template.FuncMap{
	"statusCode": func(code int) string {
		if code == 0 {
			return "-"
		}
		return strconv.Itoa(code)
	},
}).Parse(`<!DOCTYPE html>
<html lang="es">
<head>
<meta charset="utf-8">
<title>Informe de enlaces rotos - {{.URL}}</title>
<style>
body{font-family:Helvetica,Arial,sans-serif;margin:2rem;color:#222}
table{border-collapse:collapse;width:100%}
th,td{border:1px solid #ccc;padding:.4rem;text-align:left;font-size:.9rem}
th{background:#f3f3f3}
.score{font-size:2rem;font-weight:bold}
</style>
</head>
<body>
<h1>Informe de enlaces rotos</h1>
<p>Sitio analizado: <a href="{{.URL}}">{{.URL}}</a></p>
<p>Completado: {{.CompletedAt.Format "2006-01-02 15:04:05 MST"}}</p>
<h2>Resumen</h2>
<p class="score">{{.Summary.HealthScore}}/100</p>
<ul>
<li>Páginas analizadas: {{.Summary.TotalPages}}</li>
<li>Enlaces encontrados: {{.Summary.TotalLinks}}</li>
<li>Enlaces rotos: {{.Summary.BrokenLinks}}</li>
<li>Duración: {{.Summary.AnalysisTime}} ms</li>
</ul>
<h2>Enlaces rotos</h2>
{{if .BrokenLinks}}<table>
<tr><th>URL Origen</th><th>URL Destino</th><th>Código</th><th>Error</th><th>Tipo</th></tr>
{{range .BrokenLinks}}<tr><td>{{.SourceURL}}</td><td>{{.TargetURL}}</td><td>{{statusCode .StatusCode}}</td><td>{{.ErrorType}}</td><td>{{.LinkType}}</td></tr>
{{end}}</table>{{else}}<p>No se encontraron enlaces rotos.</p>{{end}}
<h2>Recomendaciones</h2>
<ol>
{{range .Recommendations}}<li>{{.}}</li>
{{end}}</ol>
</body>
</html>
`))

func renderReport(results *models.AnalysisResults) ([]byte, error) {
	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, results); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
