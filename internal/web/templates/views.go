// Package templates holds the HTML components of the editor. Components
// render markup only; all behaviour lives in /static/editor.js so the
// pages work under a strict Content-Security-Policy.
package templates

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/a-h/templ"

	"github.com/JonMunkholm/CsvEditor/internal/core"
)

// EditorData is the view model for the editor page.
type EditorData struct {
	Sessions       []core.SessionInfo
	MaxFileSize    int64
	ExportFileName string
	APIKeyRequired bool
}

// Layout wraps body in the common page shell.
func Layout(title string, body templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if _, err := fmt.Fprintf(w, `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>%s</title>
<link rel="stylesheet" href="/static/editor.css">
<script src="/static/editor.js" defer></script>
</head>
<body>
`, templ.EscapeString(title)); err != nil {
			return err
		}
		if err := body.Render(ctx, w); err != nil {
			return err
		}
		_, err := io.WriteString(w, "\n</body>\n</html>\n")
		return err
	})
}

// EditorPage renders the drop zone, the grid container and the list of
// open sessions. Limits are passed to the script through data attributes.
func EditorPage(data EditorData) templ.Component {
	body := templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		var b strings.Builder

		fmt.Fprintf(&b, `<main id="editor" data-max-file-size="%d" data-export-name="%s" data-api-key-required="%t">`,
			data.MaxFileSize, templ.EscapeString(data.ExportFileName), data.APIKeyRequired)
		b.WriteString(`
<header class="toolbar">
<h1>CSV Editor</h1>
<div class="actions">
<button type="button" id="add-row" disabled>Add row</button>
<button type="button" id="download" disabled>Download</button>
<button type="button" id="close-session" disabled>Close</button>
</div>
</header>
<section id="alerts" aria-live="polite"></section>
`)
		fmt.Fprintf(&b, `<section id="drop-zone" class="drop-zone" tabindex="0">
<p>Drop a CSV file here or <label for="file-input" class="link">browse</label></p>
<p class="hint">Up to %s</p>
<input type="file" id="file-input" accept=".csv,text/csv" hidden>
</section>
`, templ.EscapeString(formatBytes(data.MaxFileSize)))
		b.WriteString(`<form id="new-table" class="new-table">
<label for="new-headers">Or start an empty table with columns</label>
<input type="text" id="new-headers" name="headers" placeholder="name, email, notes">
<button type="submit">Create</button>
</form>
<p id="report" class="report" hidden></p>
<div id="grid" class="grid"></div>
`)
		if len(data.Sessions) > 0 {
			b.WriteString("<section class=\"sessions\">\n<h2>Open tables</h2>\n<ul id=\"session-list\">\n")
			for _, s := range data.Sessions {
				fmt.Fprintf(&b, `<li><a href="#%s" data-session-id="%s">%s</a> <span class="meta">%d rows, %d columns</span></li>`+"\n",
					templ.EscapeString(s.ID), templ.EscapeString(s.ID), templ.EscapeString(s.FileName), s.Rows, s.Columns)
			}
			b.WriteString("</ul>\n</section>\n")
		}
		b.WriteString("</main>")

		_, err := io.WriteString(w, b.String())
		return err
	})
	return Layout("CSV Editor", body)
}

// ErrorAlert renders a dismissible error message with its support code.
func ErrorAlert(message, action, code string) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		var b strings.Builder
		fmt.Fprintf(&b, `<div class="alert alert-error" role="alert" data-code="%s">`, templ.EscapeString(code))
		fmt.Fprintf(&b, `<p class="alert-message">%s</p>`, templ.EscapeString(message))
		if action != "" {
			fmt.Fprintf(&b, `<p class="alert-action">%s</p>`, templ.EscapeString(action))
		}
		fmt.Fprintf(&b, `<p class="alert-code">Reference: %s</p></div>`, templ.EscapeString(code))
		_, err := io.WriteString(w, b.String())
		return err
	})
}

// NotFound renders the 404 page.
func NotFound() templ.Component {
	body := templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := io.WriteString(w, `<main class="not-found">
<h1>Page not found</h1>
<p><a href="/">Back to the editor</a></p>
</main>`)
		return err
	})
	return Layout("Not found", body)
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return strconv.FormatInt(n, 10) + " B"
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}
