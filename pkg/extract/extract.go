package extract

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"
)

const pdfMagic = "%PDF"

// ErrUnsupportedContent is returned when declared type and content bytes
// do not agree, or the type is not handled at all.
var ErrUnsupportedContent = errors.New("unsupported content")

// Validate checks that the declared content type matches the content
// bytes. A PDF must carry the %PDF magic prefix; text types must not.
func Validate(contentType string, content []byte) error {
	if len(content) == 0 {
		return fmt.Errorf("%w: empty content", ErrUnsupportedContent)
	}
	switch normalizeType(contentType) {
	case "application/pdf":
		if !bytes.HasPrefix(content, []byte(pdfMagic)) {
			return fmt.Errorf("%w: declared PDF without %s header", ErrUnsupportedContent, pdfMagic)
		}
		return nil
	case "text/plain", "text/markdown", "text/csv":
		if bytes.HasPrefix(content, []byte(pdfMagic)) {
			return fmt.Errorf("%w: binary PDF content declared as text", ErrUnsupportedContent)
		}
		if !utf8.Valid(content) {
			return fmt.Errorf("%w: text content is not valid UTF-8", ErrUnsupportedContent)
		}
		return nil
	case "text/html":
		if bytes.HasPrefix(content, []byte(pdfMagic)) {
			return fmt.Errorf("%w: binary PDF content declared as html", ErrUnsupportedContent)
		}
		return nil
	default:
		return fmt.Errorf("%w: content type %q", ErrUnsupportedContent, contentType)
	}
}

// Text extracts plain text from content according to its declared type.
func Text(contentType string, content []byte) (string, error) {
	if err := Validate(contentType, content); err != nil {
		return "", err
	}
	switch normalizeType(contentType) {
	case "application/pdf":
		return pdfText(content)
	case "text/html":
		return htmlText(content)
	default:
		return string(content), nil
	}
}

func normalizeType(contentType string) string {
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.Index(contentType, ";"); i >= 0 {
		contentType = strings.TrimSpace(contentType[:i])
	}
	return contentType
}

func pdfText(content []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	var sb strings.Builder
	totalPages := reader.NumPage()
	for i := 1; i <= totalPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// Skip problematic pages instead of failing entirely.
			continue
		}
		sb.WriteString(text)
		sb.WriteString("\n")
	}
	out := strings.TrimSpace(sb.String())
	if out == "" {
		return "", fmt.Errorf("no text extracted from PDF")
	}
	return out, nil
}

func htmlText(content []byte) (string, error) {
	node, err := html.Parse(bytes.NewReader(content))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		if n.Type == html.TextNode {
			text := strings.TrimSpace(n.Data)
			if text != "" {
				sb.WriteString(text)
				sb.WriteString("\n")
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(node)
	return strings.TrimSpace(sb.String()), nil
}
