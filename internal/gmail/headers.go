package gmail

import (
	"net/mail"
	"strings"

	"golang.org/x/net/html"
)

// Header is one raw header line from a message payload.
type Header struct {
	Name  string
	Value string
}

// ProjectHeaders builds the fixed header projection from a raw header
// list in a single pass. Only the first occurrence of each header wins.
func ProjectHeaders(headers []Header) Headers {
	var h Headers
	for _, raw := range headers {
		switch raw.Name {
		case "From":
			if !h.HasFrom {
				h.From = raw.Value
				h.HasFrom = true
			}
		case "To":
			if !h.HasTo {
				h.To = raw.Value
				h.HasTo = true
			}
		case "Subject":
			if !h.HasSubject {
				h.Subject = raw.Value
				h.HasSubject = true
			}
		case "Date":
			if h.Date.IsZero() {
				if t, err := mail.ParseDate(raw.Value); err == nil {
					h.Date = t.UTC()
				}
			}
		}
	}
	return h
}

// NormalizeAddress lower-cases an address header entry, extracting the
// angle-bracketed portion when present ("Jane Doe <jane@x.com>" becomes
// "jane@x.com"); entries without brackets are used verbatim.
func NormalizeAddress(raw string) string {
	if open := strings.Index(raw, "<"); open >= 0 {
		rest := raw[open+1:]
		if close := strings.Index(rest, ">"); close >= 0 {
			return strings.ToLower(rest[:close])
		}
		return strings.ToLower(rest)
	}
	return strings.ToLower(raw)
}

// SplitAddressList splits a possibly multi-valued address header into
// normalized addresses. Empty entries are dropped.
func SplitAddressList(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, entry := range strings.Split(raw, ", ") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		out = append(out, NormalizeAddress(entry))
	}
	return out
}

// BodyText returns the plain-text projection of a full-fidelity message:
// the first text/plain part if present, otherwise the first text/html
// part with its tags stripped, otherwise empty.
func BodyText(parts []Part) string {
	for _, p := range parts {
		if p.MimeType == "text/plain" {
			return string(p.Data)
		}
	}
	for _, p := range parts {
		if p.MimeType == "text/html" {
			return stripTags(string(p.Data))
		}
	}
	return ""
}

// stripTags extracts the text content of an HTML document, skipping
// script and style elements.
func stripTags(htmlSrc string) string {
	var sb strings.Builder
	z := html.NewTokenizer(strings.NewReader(htmlSrc))
	skipDepth := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			return sb.String()
		case html.StartTagToken:
			name, _ := z.TagName()
			if tag := string(name); tag == "script" || tag == "style" {
				skipDepth++
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			if tag := string(name); (tag == "script" || tag == "style") && skipDepth > 0 {
				skipDepth--
			}
		case html.TextToken:
			if skipDepth == 0 {
				sb.Write(z.Text())
			}
		}
	}
}
