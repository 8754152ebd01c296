// Package extract normalizes a referenced message into attachment and link
// payloads for the accepted record.
package extract

import (
	"context"
	"encoding/json"
	"log/slog"
	"regexp"
	"strings"

	"github.com/miniplay/acceptbot/internal/bitable"
	"github.com/miniplay/acceptbot/internal/im"
	"github.com/miniplay/acceptbot/internal/project"
)

const (
	linkLabelDefault = "链接"
	linkLabelDoc     = "文档链接"
	linkLabelShare   = "分享链接"
)

var urlPattern = regexp.MustCompile("https?://[^\\s<>\"{}|\\\\^`\\[\\]]+")

type resourceDownloader interface {
	DownloadResource(ctx context.Context, messageID, key, kind string) ([]byte, error)
}

type fileUploader interface {
	UploadFile(ctx context.Context, proj project.Project, data []byte, filename string) (string, error)
}

// Extractor pulls attachments and links out of a referenced message.
// Attachment extraction performs remote work (download + upload per item);
// link extraction is a pure function of the message body.
type Extractor struct {
	logger     *slog.Logger
	downloader resourceDownloader
	uploader   fileUploader
	linkHosts  []string
}

func NewExtractor(log *slog.Logger, downloader resourceDownloader, uploader fileUploader, linkHosts []string) *Extractor {
	if log == nil {
		log = slog.Default()
	}
	return &Extractor{
		logger:     log.With(slog.String("component", "extract")),
		downloader: downloader,
		uploader:   uploader,
		linkHosts:  linkHosts,
	}
}

// Attachments downloads every binary the referenced message carries and
// uploads it into proj's table storage. A failure at either step drops that
// one item and moves on; the result holds only the items that completed both
// steps.
func (e *Extractor) Attachments(ctx context.Context, proj project.Project, ref *im.Referenced) []bitable.Attachment {
	if ref == nil {
		return nil
	}
	content := decodeContent(ref.Content)

	var result []bitable.Attachment
	switch ref.Kind {
	case im.KindImage:
		if key, ok := content["image_key"].(string); ok && key != "" {
			result = e.appendFetched(ctx, result, proj, ref.MessageID, key, im.ResourceImage, key+".png")
		}
	case im.KindMedia:
		if key, ok := content["file_key"].(string); ok && key != "" {
			result = e.appendFetched(ctx, result, proj, ref.MessageID, key, im.ResourceFile, key+".mp4")
		}
	case im.KindFile:
		if key, ok := content["file_key"].(string); ok && key != "" {
			name, _ := content["file_name"].(string)
			if name == "" {
				name = key + ".file"
			}
			result = e.appendFetched(ctx, result, proj, ref.MessageID, key, im.ResourceFile, name)
		}
	case im.KindPost:
		for _, element := range postElements(content) {
			if tag, _ := element["tag"].(string); tag != "img" {
				continue
			}
			if key, ok := element["image_key"].(string); ok && key != "" {
				result = e.appendFetched(ctx, result, proj, ref.MessageID, key, im.ResourceImage, key+".png")
			}
		}
	}
	return result
}

// appendFetched runs the two-step fetch (download resource, upload to the
// project's storage) and appends the resulting token. Either step failing
// drops the item silently apart from a log line.
func (e *Extractor) appendFetched(ctx context.Context, acc []bitable.Attachment, proj project.Project, messageID, key, kind, filename string) []bitable.Attachment {
	data, err := e.downloader.DownloadResource(ctx, messageID, key, kind)
	if err != nil {
		e.logger.Warn("attachment download failed",
			slog.String("message_id", messageID),
			slog.String("key", key),
			slog.Any("error", err),
		)
		return acc
	}
	token, err := e.uploader.UploadFile(ctx, proj, data, filename)
	if err != nil {
		e.logger.Warn("attachment upload failed",
			slog.String("project", proj.Name),
			slog.String("filename", filename),
			slog.Any("error", err),
		)
		return acc
	}
	return append(acc, bitable.Attachment{FileToken: token})
}

// Links extracts (text, url) pairs from the referenced message, deduplicated
// by URL with first occurrence winning.
func (e *Extractor) Links(ref *im.Referenced) []bitable.Link {
	if ref == nil {
		return nil
	}
	content := decodeContent(ref.Content)

	var links []bitable.Link
	switch ref.Kind {
	case im.KindText:
		text, _ := content["text"].(string)
		for _, url := range urlPattern.FindAllString(text, -1) {
			links = append(links, bitable.Link{Text: linkLabelDefault, Link: url})
		}
	case im.KindPost:
		for _, element := range postElements(content) {
			tag, _ := element["tag"].(string)
			switch tag {
			case "a":
				url, _ := element["href"].(string)
				if url == "" {
					continue
				}
				label, _ := element["text"].(string)
				if label == "" {
					label = linkLabelDefault
				}
				links = append(links, bitable.Link{Text: label, Link: url})
			case "text":
				text, _ := element["text"].(string)
				for _, url := range urlPattern.FindAllString(text, -1) {
					links = append(links, bitable.Link{Text: linkLabelDefault, Link: url})
				}
			}
		}
	case im.KindInteractive:
		for _, url := range scanSerialized(ref.Content) {
			if e.hostAllowed(url) {
				links = append(links, bitable.Link{Text: linkLabelDoc, Link: url})
			}
		}
	case im.KindShareCard:
		for _, url := range scanSerialized(ref.Content) {
			links = append(links, bitable.Link{Text: linkLabelShare, Link: url})
		}
	default:
		for _, url := range scanSerialized(ref.Content) {
			if e.hostAllowed(url) || strings.Contains(url, "docs") {
				links = append(links, bitable.Link{Text: linkLabelDefault, Link: url})
			}
		}
	}

	return dedupLinks(links)
}

func (e *Extractor) hostAllowed(url string) bool {
	for _, host := range e.linkHosts {
		if strings.Contains(url, host) {
			return true
		}
	}
	return false
}

// scanSerialized regex-extracts URLs from the raw JSON body and trims the
// stray backslash/slash left behind by JSON escaping.
func scanSerialized(raw string) []string {
	matches := urlPattern.FindAllString(raw, -1)
	result := make([]string, 0, len(matches))
	for _, url := range matches {
		url = strings.TrimRight(url, "\\/")
		if url != "" {
			result = append(result, url)
		}
	}
	return result
}

func dedupLinks(links []bitable.Link) []bitable.Link {
	if len(links) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(links))
	result := make([]bitable.Link, 0, len(links))
	for _, link := range links {
		if _, ok := seen[link.Link]; ok {
			continue
		}
		seen[link.Link] = struct{}{}
		result = append(result, link)
	}
	return result
}

func decodeContent(raw string) map[string]any {
	var content map[string]any
	if raw == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), &content); err != nil {
		slog.Debug("decode message content failed", slog.Any("error", err))
		return nil
	}
	return content
}

// postElements flattens every element of every line of a rich-text body.
// The get-message API returns {"title": ..., "content": [[element...]...]}.
func postElements(content map[string]any) []map[string]any {
	lines, ok := content["content"].([]any)
	if !ok {
		return nil
	}
	var elements []map[string]any
	for _, rawLine := range lines {
		line, ok := rawLine.([]any)
		if !ok {
			continue
		}
		for _, rawElement := range line {
			if element, ok := rawElement.(map[string]any); ok {
				elements = append(elements, element)
			}
		}
	}
	return elements
}
