package report

import (
	"bytes"
	"html/template"
)

var htmlTemplate = template.Must(template.New("report").Funcs(template.FuncMap{"dict": dict}).Parse(`<html>
<head>
<style>
  body { font-family: Arial, sans-serif; color: #333333; }
  .container { width: 80%; margin: 0 auto; padding: 20px; background-color: #f9f9f9; border: 1px solid #ddd; border-radius: 10px; }
  h1 { color: #4A90E2; }
  table { width: 100%; border-collapse: collapse; margin-top: 20px; table-layout: fixed; }
  th, td { padding: 10px; border-bottom: 1px solid #ddd; text-align: left; overflow: hidden; text-overflow: ellipsis; white-space: nowrap; }
  th { background-color: #4A90E2; color: #ffffff; }
  .product-name { width: 35%; }
  .date { width: 15%; }
  .ean { width: 20%; }
  .qty { width: 15%; }
  .source { width: 15%; }
  .today { color: red; font-weight: bold; }
</style>
</head>
<body>
<div class="container">
  <h1>Daily report: expiring products</h1>

  <h2>Expiring today</h2>
  <table>
    {{template "header"}}
    {{range .Today}}{{template "row" dict "Line" . "Class" "today"}}{{else}}
    <tr><td colspan="5">No products expire today.</td></tr>
    {{end}}
  </table>

  <h2>Expiring within {{.WindowDays}} days</h2>
  <table>
    {{template "header"}}
    {{range .Upcoming}}{{template "row" dict "Line" . "Class" ""}}{{else}}
    <tr><td colspan="5">No products expire within the next {{.WindowDays}} days.</td></tr>
    {{end}}
  </table>

  <p>Total Ship QTY: {{.TotalShipQTY.String}}</p>
  <p style="margin-top: 20px; font-size: 12px; color: #666;">Generated {{.Generated.Format "02.01.2006 15:04"}}.</p>
</div>
</body>
</html>
{{define "header"}}<tr>
      <th class="product-name">Article Description</th>
      <th class="date">Expiry Date</th>
      <th class="ean">EAN Serial No</th>
      <th class="qty">Ship QTY</th>
      <th class="source">PDF Source</th>
    </tr>{{end}}
{{define "row"}}
    <tr class="{{.Class}}">
      <td class="product-name">{{.Line.Description}}</td>
      <td class="date">{{.Line.ExpiryDate}}</td>
      <td class="ean">{{.Line.EAN}}</td>
      <td class="qty">{{.Line.ShipQTY}}</td>
      <td class="source">{{.Line.Source}}</td>
    </tr>{{end}}
`))

// dict builds a map from alternating keys and values for sub-templates.
func dict(pairs ...any) map[string]any {
	m := make(map[string]any, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		if k, ok := pairs[i].(string); ok {
			m[k] = pairs[i+1]
		}
	}
	return m
}

// HTML renders the report as an HTML mail body
func (r Report) HTML() (string, error) {
	var buf bytes.Buffer
	if err := htmlTemplate.Execute(&buf, r); err != nil {
		return "", err
	}
	return buf.String(), nil
}
