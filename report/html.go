package report

import (
	"fmt"
	"html/template"
	"os"
	"time"

	"github.com/gametext/sheetloc/segment"
)

// reportData is the template context for the HTML report.
type reportData struct {
	Generated  string
	TargetLang string
	Sheets     []SheetSummary
	Total      int
	Accepted   int
	Failed     int
}

var reportTemplate = template.Must(template.New("report").Funcs(template.FuncMap{
	"statusClass": statusClass,
}).Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Translation Report</title>
<style>
body { font-family: sans-serif; margin: 2em; color: #222; }
h1 { font-size: 1.4em; }
h2 { font-size: 1.1em; margin-top: 1.5em; }
table { border-collapse: collapse; margin-top: 0.5em; }
th, td { border: 1px solid #ccc; padding: 4px 10px; text-align: left; }
th { background: #f0f0f0; }
.ok { color: #1a7f37; }
.fail { color: #b42318; }
.muted { color: #777; }
</style>
</head>
<body>
<h1>Translation Report ({{.TargetLang}})</h1>
<p class="muted">Generated {{.Generated}}</p>

<table>
<tr><th>Total keys</th><th>Accepted</th><th>Failed</th></tr>
<tr>
  <td>{{.Total}}</td>
  <td class="ok">{{.Accepted}}</td>
  <td{{if .Failed}} class="fail"{{end}}>{{.Failed}}</td>
</tr>
</table>

{{range .Sheets}}
<h2>{{.Sheet}}</h2>
<table>
<tr><th>Status</th><th>Count</th></tr>
{{range $status, $count := .Counts}}
<tr><td class="{{statusClass $status}}">{{$status}}</td><td>{{$count}}</td></tr>
{{end}}
</table>
{{if .Failed}}
<table>
<tr><th>Row</th><th>Key</th><th>Status</th></tr>
{{range .Failed}}
<tr><td>{{.Row}}</td><td>{{.Key}}</td><td class="fail">{{.Status}}</td></tr>
{{end}}
</table>
{{end}}
{{end}}
</body>
</html>
`))

func statusClass(s segment.Status) string {
	switch {
	case s == segment.StatusOK, s == segment.StatusCopiedSource:
		return "ok"
	case s.Failed():
		return "fail"
	}
	return "muted"
}

// WriteHTML renders the summary of a keys log as an HTML report.
func WriteHTML(path, targetLang string, entries []Entry) error {
	sheets := Summarize(entries)

	data := reportData{
		Generated:  time.Now().Format("2006-01-02 15:04:05"),
		TargetLang: targetLang,
		Sheets:     sheets,
	}
	for _, s := range sheets {
		data.Total += s.Total()
		data.Accepted += s.Accepted()
		data.Failed += len(s.Failed)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating report %s: %w", path, err)
	}
	defer f.Close()

	if err := reportTemplate.Execute(f, data); err != nil {
		return fmt.Errorf("rendering report: %w", err)
	}
	return nil
}
