package chatbot

import (
	"net/http"

	g "maragu.dev/gomponents"
	"maragu.dev/gomponents/html"
)

const testWidgetCSS = `
body { font-family: Arial, sans-serif; margin: 40px; background: #f0f0f0; }
.content { max-width: 800px; margin: 0 auto; background: white; padding: 40px; border-radius: 8px; }
`

// TestWidgetPage is a bare host page that only loads the widget script.
func TestWidgetPage(appName string) g.Node {
	return html.Doctype(
		html.HTML(
			html.Lang("en"),
			html.Head(
				html.Meta(html.Charset("UTF-8")),
				html.TitleEl(g.Text("Test Widget")),
				html.StyleEl(g.Raw(testWidgetCSS)),
			),
			html.Body(
				html.Div(
					html.Class("content"),
					html.H1(g.Text(appName)),
					html.P(g.Text("This page only hosts the widget script.")),
					html.P(g.Text("The chat bubble should appear in the bottom-right corner.")),
				),
				html.Script(html.Src("/static/js/widget.js")),
			),
		),
	)
}

func (h *Handler) handleTestWidget(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := TestWidgetPage(h.appName).Render(w); err != nil {
		h.logger.Error("render test widget", err)
	}
}
