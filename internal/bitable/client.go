// Package bitable wraps the Lark bitable and drive API surface: searching a
// project's requirement table, mutating a record to accepted, and uploading
// acceptance attachments into the table's storage.
package bitable

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	larkbitable "github.com/larksuite/oapi-sdk-go/v3/service/bitable/v1"
	larkdrive "github.com/larksuite/oapi-sdk-go/v3/service/drive/v1"

	"github.com/miniplay/acceptbot/internal/config"
	"github.com/miniplay/acceptbot/internal/project"
)

// Record is one row of a project's requirement table, as of the last search.
type Record struct {
	ID     string
	Fields map[string]any
}

// Attachment is an uploaded file token ready to be written into the
// attachment field.
type Attachment struct {
	FileToken string `json:"file_token"`
}

// Link is a hyperlink field value: display text plus URL.
type Link struct {
	Text string `json:"text"`
	Link string `json:"link"`
}

// AcceptPatch carries the optional payloads written alongside the status
// transition. Only the first link slot exists downstream, so Link is scalar.
type AcceptPatch struct {
	Attachments []Attachment
	Link        *Link
}

type recordAPI interface {
	Search(ctx context.Context, req *larkbitable.SearchAppTableRecordReq, options ...larkcore.RequestOptionFunc) (*larkbitable.SearchAppTableRecordResp, error)
	Update(ctx context.Context, req *larkbitable.UpdateAppTableRecordReq, options ...larkcore.RequestOptionFunc) (*larkbitable.UpdateAppTableRecordResp, error)
}

type mediaAPI interface {
	UploadAll(ctx context.Context, req *larkdrive.UploadAllMediaReq, options ...larkcore.RequestOptionFunc) (*larkdrive.UploadAllMediaResp, error)
}

// Client talks to the Lark bitable and drive v1 APIs for every configured
// project table.
type Client struct {
	logger  *slog.Logger
	records recordAPI
	media   mediaAPI
	table   config.TableConfig
}

func NewClient(log *slog.Logger, client *lark.Client, table config.TableConfig) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		logger:  log.With(slog.String("component", "bitable")),
		records: client.Bitable.V1.AppTableRecord,
		media:   client.Drive.V1.Media,
		table:   table,
	}
}

// SearchRecord finds the record whose requirement field equals requirement
// exactly and whose status is not yet the accepted value. Returns (nil, nil)
// when nothing matches. The remote result set is unordered; the first item is
// taken.
func (c *Client) SearchRecord(ctx context.Context, proj project.Project, requirement string) (*Record, error) {
	req := larkbitable.NewSearchAppTableRecordReqBuilder().
		AppToken(proj.AppToken).
		TableId(proj.TableID).
		Body(larkbitable.NewSearchAppTableRecordReqBodyBuilder().
			Filter(larkbitable.NewFilterInfoBuilder().
				Conjunction("and").
				Conditions([]*larkbitable.Condition{
					larkbitable.NewConditionBuilder().
						FieldName(c.table.RequirementField).
						Operator("is").
						Value([]string{requirement}).
						Build(),
					larkbitable.NewConditionBuilder().
						FieldName(c.table.StatusField).
						Operator("isNot").
						Value([]string{c.table.AcceptedValue}).
						Build(),
				}).
				Build()).
			Build()).
		Build()

	resp, err := c.records.Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("bitable search: %w", err)
	}
	if resp == nil || !resp.Success() {
		code, msg := 0, ""
		if resp != nil {
			code, msg = resp.Code, resp.Msg
		}
		return nil, fmt.Errorf("bitable search failed: %s (code: %d)", msg, code)
	}
	if resp.Data == nil || len(resp.Data.Items) == 0 {
		return nil, nil
	}
	item := resp.Data.Items[0]
	record := &Record{Fields: item.Fields}
	if item.RecordId != nil {
		record.ID = *item.RecordId
	}
	return record, nil
}

// Accept transitions a record to the accepted state, writing the fixed status
// values and, when present, the attachment collection and the single link
// field. The remote call is all-or-nothing; no partial rollback.
func (c *Client) Accept(ctx context.Context, proj project.Project, recordID string, patch AcceptPatch) error {
	fields := map[string]any{
		c.table.StatusField: c.table.AcceptedValue,
	}
	if c.table.DevStatusField != "" {
		fields[c.table.DevStatusField] = c.table.DoneValue
	}
	if len(patch.Attachments) > 0 {
		fields[c.table.AttachmentField] = patch.Attachments
	}
	if patch.Link != nil {
		fields[c.table.LinkField] = patch.Link
	}

	req := larkbitable.NewUpdateAppTableRecordReqBuilder().
		AppToken(proj.AppToken).
		TableId(proj.TableID).
		RecordId(recordID).
		AppTableRecord(larkbitable.NewAppTableRecordBuilder().
			Fields(fields).
			Build()).
		Build()

	resp, err := c.records.Update(ctx, req)
	if err != nil {
		return fmt.Errorf("bitable update: %w", err)
	}
	if resp == nil || !resp.Success() {
		code, msg := 0, ""
		if resp != nil {
			code, msg = resp.Code, resp.Msg
		}
		return fmt.Errorf("bitable update failed: %s (code: %d)", msg, code)
	}
	c.logger.Info("record accepted",
		slog.String("project", proj.Name),
		slog.String("record_id", recordID),
		slog.Int("attachments", len(patch.Attachments)),
	)
	return nil
}

// UploadFile uploads raw bytes into the project table's storage and returns
// the file token to reference from an attachment field.
func (c *Client) UploadFile(ctx context.Context, proj project.Project, data []byte, filename string) (string, error) {
	req := larkdrive.NewUploadAllMediaReqBuilder().
		Body(larkdrive.NewUploadAllMediaReqBodyBuilder().
			FileName(filename).
			ParentType("bitable_file").
			ParentNode(proj.AppToken).
			Size(len(data)).
			File(bytes.NewReader(data)).
			Build()).
		Build()

	resp, err := c.media.UploadAll(ctx, req)
	if err != nil {
		return "", fmt.Errorf("drive upload: %w", err)
	}
	if resp == nil || !resp.Success() {
		code, msg := 0, ""
		if resp != nil {
			code, msg = resp.Code, resp.Msg
		}
		return "", fmt.Errorf("drive upload failed: %s (code: %d)", msg, code)
	}
	if resp.Data == nil || resp.Data.FileToken == nil || *resp.Data.FileToken == "" {
		return "", fmt.Errorf("drive upload failed: empty file token")
	}
	return *resp.Data.FileToken, nil
}
