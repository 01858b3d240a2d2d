package webpage

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"

	"github.com/formvault/formvault/internal/domain/model"
)

// textPolicy strips every tag (and script/style contents), leaving just the
// visible text the success heuristics match against.
var textPolicy *bluemonday.Policy

func init() {
	textPolicy = bluemonday.StrictPolicy()
}

// ParsePage parses an HTML document into the page agent's view of it: the
// forms with their fields, and the whitespace-collapsed visible text.
func ParsePage(pageURL *url.URL, body []byte) (*model.Page, error) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	page := &model.Page{
		URL:    pageURL.String(),
		Origin: originOf(pageURL),
		Forms:  collectForms(doc),
		Text:   visibleText(body),
	}
	return page, nil
}

func originOf(u *url.URL) string {
	return u.Scheme + "://" + u.Host
}

func collectForms(doc *html.Node) []model.Form {
	var forms []model.Form

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "form" {
			forms = append(forms, parseForm(n))
			// Forms don't nest in valid HTML; no need to descend.
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return forms
}

func parseForm(formNode *html.Node) model.Form {
	form := model.Form{
		Action: attr(formNode, "action"),
		Method: strings.ToLower(attr(formNode, "method")),
	}
	if form.Method == "" {
		form.Method = "get"
	}

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "input" {
			field := model.FormField{
				ID:    attr(n, "id"),
				Name:  attr(n, "name"),
				Type:  strings.ToLower(attr(n, "type")),
				Value: attr(n, "value"),
			}
			if field.Type == "" {
				field.Type = "text"
			}
			form.Fields = append(form.Fields, field)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(formNode)

	return form
}

func attr(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, name) {
			return a.Val
		}
	}
	return ""
}

func visibleText(body []byte) string {
	text := textPolicy.Sanitize(string(body))
	text = html.UnescapeString(text)
	return strings.Join(strings.Fields(text), " ")
}
