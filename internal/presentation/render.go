package presentation

import (
	"embed"
	"fmt"
	"html/template"
	"io"
	"strings"
)

//go:embed templates/*.html
var templateFS embed.FS

var (
	resultTemplate  = template.Must(template.ParseFS(templateFS, "templates/result.html"))
	sessionTemplate = template.Must(template.ParseFS(templateFS, "templates/session.html"))
)

// RenderHTML пишет страницу результата
func RenderHTML(w io.Writer, view ResultView) error {
	return resultTemplate.Execute(w, view)
}

// RenderText готовит сообщение для чата
func RenderText(view ResultView) string {
	var b strings.Builder

	icon := "🛡"
	if view.Severity.Icon == "alert" {
		icon = "⚠️"
	}

	fmt.Fprintf(&b, "🔬 %s\n", view.PestName)
	fmt.Fprintf(&b, "%s %s · %s уверенность\n", icon, view.Severity.Label, view.Confidence)
	if view.Description != "" {
		fmt.Fprintf(&b, "\n%s\n", view.Description)
	}

	if len(view.Pesticides) > 0 {
		b.WriteString("\n💧 Рекомендуемые препараты:\n")
		for i, p := range view.Pesticides {
			fmt.Fprintf(&b, "%d. %s (%s) — %s\n", i+1, p.Name, p.Type, p.Application)
		}
	}

	if len(view.ControlMethods) > 0 {
		b.WriteString("\n🌱 Профилактика и борьба:\n")
		for i, m := range view.ControlMethods {
			fmt.Fprintf(&b, "%d. %s [%s] — %s\n", i+1, m.Method, m.Effectiveness, m.Description)
		}
	}

	if view.NewScanAction != "" {
		fmt.Fprintf(&b, "\nНовая проверка: %s", view.NewScanAction)
	}

	return b.String()
}
