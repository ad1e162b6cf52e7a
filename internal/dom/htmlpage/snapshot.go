package htmlpage

import (
	"context"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/spigell/autoapply/internal/dom"
	"github.com/spigell/autoapply/internal/utils"
)

var (
	displayNone  = regexp.MustCompile(`display\s*:\s*none`)
	hiddenStyle  = regexp.MustCompile(`visibility\s*:\s*hidden`)
	zeroOpacity  = regexp.MustCompile(`opacity\s*:\s*(0+(\.0*)?|\.0+)\s*(;|$)`)
	skippedTypes = map[string]bool{"hidden": true, "submit": true, "button": true, "reset": true, "image": true}
)

func (p *Page) Snapshot(ctx context.Context, scope string, m dom.Marker) ([]dom.Node, error) {
	root, err := p.scope(ctx, scope)
	if err != nil {
		return nil, err
	}
	groupAttr := m.Attr() + "-group"
	p.doc.Find("[" + m.Attr() + "]").RemoveAttr(m.Attr())
	p.doc.Find("[" + groupAttr + "]").RemoveAttr(groupAttr)

	var nodes []dom.Node
	groups := 0
	root.Find(interactiveSelector).Each(func(_ int, s *goquery.Selection) {
		kind, ok := kindOf(s)
		if !ok || !visible(s) {
			return
		}

		i := len(nodes)
		s.SetAttr(m.Attr(), m.Value(i))
		node := dom.Node{
			Ref:         m.Selector(i),
			Kind:        kind,
			ID:          attr(s, "id"),
			Name:        attr(s, "name"),
			InputType:   strings.ToLower(attr(s, "type")),
			Label:       labelOf(p.doc, s),
			Placeholder: attr(s, "placeholder"),
			Value:       valueOf(s),
			Required:    hasAttr(s, "required") || attrEquals(s, "aria-required", "true"),
			Checked:     hasAttr(s, "checked"),
		}

		switch kind {
		case dom.KindSelect:
			s.Find("option").Each(func(_ int, o *goquery.Selection) {
				node.Options = append(node.Options, dom.Option{
					Value:    optionValue(o),
					Label:    utils.OneLine(o.Text()),
					Selected: hasAttr(o, "selected"),
				})
			})
		case dom.KindRadio:
			if fs := s.Closest("fieldset"); fs.Length() > 0 {
				key, ok := fs.Attr(groupAttr)
				if !ok {
					key = m.Value(groups)
					groups++
					fs.SetAttr(groupAttr, key)
				}
				node.Group = "fieldset:" + key
				node.GroupLabel = utils.OneLine(fs.Find("legend").First().Text())
				if node.GroupLabel == "" {
					node.GroupLabel = attr(fs, "aria-label")
				}
			} else {
				node.Group = "name:" + node.Name
			}
		}

		nodes = append(nodes, node)
	})
	return nodes, nil
}

func kindOf(s *goquery.Selection) (dom.Kind, bool) {
	switch goquery.NodeName(s) {
	case "textarea":
		return dom.KindTextarea, true
	case "select":
		return dom.KindSelect, true
	case "input":
		t := strings.ToLower(attr(s, "type"))
		switch {
		case skippedTypes[t]:
			return "", false
		case t == "checkbox":
			return dom.KindCheckbox, true
		case t == "radio":
			return dom.KindRadio, true
		case t == "file":
			return dom.KindFile, true
		default:
			return dom.KindText, true
		}
	}
	if v, ok := s.Attr("contenteditable"); ok && v != "false" {
		return dom.KindEditable, true
	}
	return "", false
}

// visible walks up the tree looking for inline styles or attributes that hide
// the element.
func visible(s *goquery.Selection) bool {
	if goquery.NodeName(s) == "input" && strings.EqualFold(attr(s, "type"), "hidden") {
		return false
	}
	for cur := s; cur.Length() > 0; cur = cur.Parent() {
		if goquery.NodeName(cur) == "#document" {
			break
		}
		if hasAttr(cur, "hidden") {
			return false
		}
		style := strings.ToLower(attr(cur, "style"))
		if style == "" {
			continue
		}
		if displayNone.MatchString(style) || hiddenStyle.MatchString(style) || zeroOpacity.MatchString(style) {
			return false
		}
	}
	return true
}

func labelOf(doc *goquery.Document, s *goquery.Selection) string {
	if v := strings.TrimSpace(attr(s, "aria-label")); v != "" {
		return utils.OneLine(v)
	}
	if id := attr(s, "id"); id != "" {
		var text string
		doc.Find("label").EachWithBreak(func(_ int, l *goquery.Selection) bool {
			if attr(l, "for") == id {
				text = utils.OneLine(l.Text())
				return false
			}
			return true
		})
		if text != "" {
			return text
		}
	}
	if l := s.Closest("label"); l.Length() > 0 {
		if text := utils.OneLine(l.Text()); text != "" {
			return text
		}
	}
	if ids := attr(s, "aria-labelledby"); ids != "" {
		var parts []string
		for _, id := range strings.Fields(ids) {
			doc.Find("[id]").EachWithBreak(func(_ int, l *goquery.Selection) bool {
				if attr(l, "id") == id {
					parts = append(parts, utils.OneLine(l.Text()))
					return false
				}
				return true
			})
		}
		return strings.Join(parts, " ")
	}
	return ""
}

func valueOf(s *goquery.Selection) string {
	switch goquery.NodeName(s) {
	case "textarea":
		return s.Text()
	case "select":
		selected := s.Find("option[selected]").First()
		if selected.Length() == 0 {
			selected = s.Find("option").First()
		}
		if selected.Length() == 0 {
			return ""
		}
		return optionValue(selected)
	case "input":
		return attr(s, "value")
	}
	return utils.OneLine(s.Text())
}

func setValue(s *goquery.Selection, value string) {
	switch goquery.NodeName(s) {
	case "textarea":
		s.SetText(value)
	case "input":
		s.SetAttr("value", value)
	default:
		s.SetText(value)
	}
}

func toggle(s *goquery.Selection) {
	if hasAttr(s, "checked") {
		s.RemoveAttr("checked")
		return
	}
	s.SetAttr("checked", "checked")
}

func checkRadio(doc *goquery.Document, s *goquery.Selection) {
	if name := attr(s, "name"); name != "" {
		doc.Find("input[type=radio]").Each(func(_ int, r *goquery.Selection) {
			if attr(r, "name") == name {
				r.RemoveAttr("checked")
			}
		})
	}
	s.SetAttr("checked", "checked")
}

func optionValue(o *goquery.Selection) string {
	if v, ok := o.Attr("value"); ok {
		return v
	}
	return utils.OneLine(o.Text())
}

func attr(s *goquery.Selection, name string) string {
	v, _ := s.Attr(name)
	return v
}

func hasAttr(s *goquery.Selection, name string) bool {
	_, ok := s.Attr(name)
	return ok
}

func attrEquals(s *goquery.Selection, name, want string) bool {
	return strings.EqualFold(strings.TrimSpace(attr(s, name)), want)
}
