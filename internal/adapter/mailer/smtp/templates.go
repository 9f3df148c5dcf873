package smtpmailer

import (
	"fmt"
	"html"
	"strings"

	"github.com/osteele/liquid"
)

// htmlShell wraps a plain-text body into a minimal branded HTML document so
// callers only supply text. Paragraph breaks follow the text's blank lines.
const htmlShell = `<!DOCTYPE html>
<html>
<body style="margin:0;padding:0;background:#f4f4f4;">
<div style="max-width:600px;margin:0 auto;padding:24px;background:#ffffff;font-family:Arial,Helvetica,sans-serif;font-size:14px;color:#222222;line-height:1.6;">
{{ body }}
<hr style="border:none;border-top:1px solid #e0e0e0;margin-top:24px;">
<p style="font-size:12px;color:#888888;">SmartCV Naija &middot; job applications over WhatsApp</p>
</div>
</body>
</html>`

var htmlShellTpl = func() *liquid.Template {
	tpl, err := liquid.NewEngine().ParseString(htmlShell)
	if err != nil {
		panic(fmt.Sprintf("parse html shell template: %v", err))
	}
	return tpl
}()

// wrapHTML converts text paragraphs to escaped <p> blocks inside the shell.
func wrapHTML(text string) (string, error) {
	var body strings.Builder
	for _, para := range strings.Split(strings.TrimSpace(text), "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		escaped := strings.ReplaceAll(html.EscapeString(para), "\n", "<br>")
		body.WriteString("<p>")
		body.WriteString(escaped)
		body.WriteString("</p>\n")
	}
	// liquid interpolation is raw, so the snippets escaped above pass
	// through unchanged.
	out, err := htmlShellTpl.RenderString(map[string]any{"body": body.String()})
	if err != nil {
		return "", fmt.Errorf("render html shell: %w", err)
	}
	return out, nil
}
