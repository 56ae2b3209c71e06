package parser

import (
	"bytes"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/jhillyerd/enmime"
)

var (
	reBlockBreak = regexp.MustCompile(`(?i)<br\s*/?>|</p>|</div>|</tr>|</li>|</h[1-6]>|</table>`)
	reMultiSpace = regexp.MustCompile(`[ \t]+`)
)

func ExtractBody(raw []byte) (subject, text string, err error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return "", "", err
	}

	body := env.Text
	if strings.TrimSpace(body) == "" && env.HTML != "" {
		body = htmlToText(env.HTML)
	}
	// Some senders put the HTML payload in the text part.
	if strings.HasPrefix(strings.TrimSpace(body), "<") {
		body = htmlToText(body)
	}

	return env.GetHeader("Subject"), body, nil
}

func htmlToText(html string) string {
	html = reBlockBreak.ReplaceAllString(html, "$0\n")
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return regexp.MustCompile(`<[^>]+>`).ReplaceAllString(html, " ")
	}
	doc.Find("script,style,head").Remove()
	return doc.Text()
}

func SplitLines(body string) []string {
	body = strings.ReplaceAll(body, "\r\n", "\n")
	body = strings.ReplaceAll(body, " ", " ")
	raw := strings.Split(body, "\n")
	out := make([]string, 0, len(raw))
	for _, line := range raw {
		line = strings.TrimSpace(reMultiSpace.ReplaceAllString(line, " "))
		if line == "" {
			continue
		}
		out = append(out, line)
	}
	return out
}
