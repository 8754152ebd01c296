package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miniplay/acceptbot/internal/bitable"
	"github.com/miniplay/acceptbot/internal/im"
	"github.com/miniplay/acceptbot/internal/project"
)

type fakeDownloader struct {
	err   error
	calls []string
}

func (f *fakeDownloader) DownloadResource(_ context.Context, messageID, key, kind string) ([]byte, error) {
	f.calls = append(f.calls, fmt.Sprintf("%s/%s/%s", messageID, key, kind))
	if f.err != nil {
		return nil, f.err
	}
	return []byte("payload-" + key), nil
}

type fakeUploader struct {
	err       error
	filenames []string
}

func (f *fakeUploader) UploadFile(_ context.Context, proj project.Project, _ []byte, filename string) (string, error) {
	f.filenames = append(f.filenames, filename)
	if f.err != nil {
		return "", f.err
	}
	return "token-" + proj.Name + "-" + filename, nil
}

func newTestExtractor(d *fakeDownloader, u *fakeUploader) *Extractor {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewExtractor(log, d, u, []string{"feishu.cn", "larksuite.com"})
}

var testProject = project.Project{Name: "JigArt", AppToken: "app-jig", TableID: "tbl-jig"}

func TestAttachmentsImage(t *testing.T) {
	t.Parallel()

	downloader := &fakeDownloader{}
	uploader := &fakeUploader{}
	e := newTestExtractor(downloader, uploader)

	ref := &im.Referenced{
		MessageID: "om_parent",
		Kind:      im.KindImage,
		Content:   `{"image_key":"img_v3_abc"}`,
	}
	got := e.Attachments(context.Background(), testProject, ref)
	require.Len(t, got, 1)
	assert.Equal(t, "token-JigArt-img_v3_abc.png", got[0].FileToken)
	assert.Equal(t, []string{"om_parent/img_v3_abc/image"}, downloader.calls)
}

func TestAttachmentsFileKeepsOriginalName(t *testing.T) {
	t.Parallel()

	uploader := &fakeUploader{}
	e := newTestExtractor(&fakeDownloader{}, uploader)

	ref := &im.Referenced{
		MessageID: "om_parent",
		Kind:      im.KindFile,
		Content:   `{"file_key":"file_v3_abc","file_name":"report.pdf"}`,
	}
	got := e.Attachments(context.Background(), testProject, ref)
	require.Len(t, got, 1)
	assert.Equal(t, []string{"report.pdf"}, uploader.filenames)
}

func TestAttachmentsMediaSynthesizesName(t *testing.T) {
	t.Parallel()

	uploader := &fakeUploader{}
	e := newTestExtractor(&fakeDownloader{}, uploader)

	ref := &im.Referenced{
		MessageID: "om_parent",
		Kind:      im.KindMedia,
		Content:   `{"file_key":"media_v3_abc"}`,
	}
	got := e.Attachments(context.Background(), testProject, ref)
	require.Len(t, got, 1)
	assert.Equal(t, []string{"media_v3_abc.mp4"}, uploader.filenames)
}

func TestAttachmentsPostImages(t *testing.T) {
	t.Parallel()

	uploader := &fakeUploader{}
	e := newTestExtractor(&fakeDownloader{}, uploader)

	ref := &im.Referenced{
		MessageID: "om_parent",
		Kind:      im.KindPost,
		Content:   `{"title":"t","content":[[{"tag":"text","text":"hi"},{"tag":"img","image_key":"img_1"}],[{"tag":"img","image_key":"img_2"}]]}`,
	}
	got := e.Attachments(context.Background(), testProject, ref)
	require.Len(t, got, 2)
	assert.Equal(t, []string{"img_1.png", "img_2.png"}, uploader.filenames)
}

func TestAttachmentsDropsFailedItems(t *testing.T) {
	t.Parallel()

	ref := &im.Referenced{
		MessageID: "om_parent",
		Kind:      im.KindImage,
		Content:   `{"image_key":"img_v3_abc"}`,
	}

	e := newTestExtractor(&fakeDownloader{err: errors.New("boom")}, &fakeUploader{})
	assert.Empty(t, e.Attachments(context.Background(), testProject, ref))

	e = newTestExtractor(&fakeDownloader{}, &fakeUploader{err: errors.New("boom")})
	assert.Empty(t, e.Attachments(context.Background(), testProject, ref))
}

func TestAttachmentsNilOrUnsupportedReference(t *testing.T) {
	t.Parallel()

	e := newTestExtractor(&fakeDownloader{}, &fakeUploader{})
	assert.Empty(t, e.Attachments(context.Background(), testProject, nil))
	assert.Empty(t, e.Attachments(context.Background(), testProject, &im.Referenced{
		Kind:    im.KindText,
		Content: `{"text":"no binaries here"}`,
	}))
}

func TestLinksTextMessage(t *testing.T) {
	t.Parallel()

	e := newTestExtractor(&fakeDownloader{}, &fakeUploader{})
	ref := &im.Referenced{
		Kind:    im.KindText,
		Content: `{"text":"see https://example.com/doc and https://example.com/doc again, plus https://other.dev/x"}`,
	}
	got := e.Links(ref)
	require.Len(t, got, 2)
	assert.Equal(t, bitable.Link{Text: "链接", Link: "https://example.com/doc"}, got[0])
	assert.Equal(t, "https://other.dev/x", got[1].Link)
}

func TestLinksPostAnchorsAndText(t *testing.T) {
	t.Parallel()

	e := newTestExtractor(&fakeDownloader{}, &fakeUploader{})
	ref := &im.Referenced{
		Kind:    im.KindPost,
		Content: `{"title":"t","content":[[{"tag":"a","href":"https://example.com/a","text":"设计稿"},{"tag":"text","text":"raw https://example.com/b"},{"tag":"a","href":""}]]}`,
	}
	got := e.Links(ref)
	require.Len(t, got, 2)
	assert.Equal(t, bitable.Link{Text: "设计稿", Link: "https://example.com/a"}, got[0])
	assert.Equal(t, bitable.Link{Text: "链接", Link: "https://example.com/b"}, got[1])
}

func TestLinksInteractiveFiltersByHost(t *testing.T) {
	t.Parallel()

	e := newTestExtractor(&fakeDownloader{}, &fakeUploader{})
	ref := &im.Referenced{
		Kind:    im.KindInteractive,
		Content: `{"elements":[{"url":"https://example.feishu.cn/docx/abc"},{"url":"https://evil.example.com/x"}]}`,
	}
	got := e.Links(ref)
	require.Len(t, got, 1)
	assert.Equal(t, bitable.Link{Text: "文档链接", Link: "https://example.feishu.cn/docx/abc"}, got[0])
}

func TestLinksShareCardUnfiltered(t *testing.T) {
	t.Parallel()

	e := newTestExtractor(&fakeDownloader{}, &fakeUploader{})
	ref := &im.Referenced{
		Kind:    im.KindShareCard,
		Content: `{"url":"https://anything.example.com/share"}`,
	}
	got := e.Links(ref)
	require.Len(t, got, 1)
	assert.Equal(t, bitable.Link{Text: "分享链接", Link: "https://anything.example.com/share"}, got[0])
}

func TestLinksOtherKindsNeedAllowedHostOrDocs(t *testing.T) {
	t.Parallel()

	e := newTestExtractor(&fakeDownloader{}, &fakeUploader{})
	ref := &im.Referenced{
		Kind:    im.KindOther,
		Content: `{"a":"https://example.larksuite.com/wiki/x","b":"https://foo.example.com/docs/y","c":"https://plain.example.com/z"}`,
	}
	got := e.Links(ref)
	require.Len(t, got, 2)
	assert.Equal(t, "https://example.larksuite.com/wiki/x", got[0].Link)
	assert.Equal(t, "https://foo.example.com/docs/y", got[1].Link)
}

func TestLinksTrimTrailingSlash(t *testing.T) {
	t.Parallel()

	e := newTestExtractor(&fakeDownloader{}, &fakeUploader{})
	ref := &im.Referenced{
		Kind:    im.KindShareCard,
		Content: `{"url":"https://example.feishu.cn/docx/abc/"}`,
	}
	got := e.Links(ref)
	require.Len(t, got, 1)
	assert.Equal(t, "https://example.feishu.cn/docx/abc", got[0].Link)
}

func TestLinksNilReference(t *testing.T) {
	t.Parallel()

	e := newTestExtractor(&fakeDownloader{}, &fakeUploader{})
	assert.Empty(t, e.Links(nil))
}
