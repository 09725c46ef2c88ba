package lark

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// MaxBatchRecords is the most records a single batch_create call accepts.
const MaxBatchRecords = 100

// MaxPageSize is the largest page the records list endpoint returns.
const MaxPageSize = 500

// Table addresses a Bitable table: AppToken is the containing base, TableID the table in it.
type Table struct {
	AppToken string
	TableID  string
}

func (t Table) recordsPath() string {
	return fmt.Sprintf("/open-apis/bitable/v1/apps/%s/tables/%s/records", url.PathEscape(t.AppToken), url.PathEscape(t.TableID))
}

// Record is a Bitable row.
type Record struct {
	ID       string         `json:"id,omitempty"`
	RecordID string         `json:"record_id,omitempty"`
	Fields   map[string]any `json:"fields"`
}

// RecordPage is one page of a records listing.
type RecordPage struct {
	HasMore   bool     `json:"has_more"`
	PageToken string   `json:"page_token"`
	Total     int      `json:"total"`
	Items     []Record `json:"items"`
}

// ListRecordsRequest selects a page of records.
type ListRecordsRequest struct {
	FieldNames []string
	PageSize   int
	PageToken  string
}

// ListRecords fetches a single page of records.
func (c *Client) ListRecords(ctx context.Context, t Table, req ListRecordsRequest) (*RecordPage, error) {
	q := url.Values{}
	if len(req.FieldNames) > 0 {
		names, err := json.Marshal(req.FieldNames)
		if err != nil {
			return nil, &TransportError{Op: "list", Err: err}
		}
		q.Set("field_names", string(names))
	}
	if req.PageSize > 0 {
		size := req.PageSize
		if size > MaxPageSize {
			size = MaxPageSize
		}
		q.Set("page_size", strconv.Itoa(size))
	}
	if req.PageToken != "" {
		q.Set("page_token", req.PageToken)
	}

	var page RecordPage
	if err := c.do(ctx, "list", http.MethodGet, t.recordsPath(), q, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

type batchCreateRequest struct {
	Records []Record `json:"records"`
}

type batchCreateResponse struct {
	Records []Record `json:"records"`
}

// BatchCreateRecords inserts up to MaxBatchRecords rows and returns what the API created.
func (c *Client) BatchCreateRecords(ctx context.Context, t Table, fields []map[string]any) ([]Record, error) {
	if len(fields) > MaxBatchRecords {
		return nil, fmt.Errorf("%w: %d > %d", ErrBatchTooLarge, len(fields), MaxBatchRecords)
	}
	body := batchCreateRequest{Records: make([]Record, len(fields))}
	for i, f := range fields {
		body.Records[i] = Record{Fields: f}
	}

	var out batchCreateResponse
	if err := c.do(ctx, "batch_create", http.MethodPost, t.recordsPath()+"/batch_create", nil, body, &out); err != nil {
		return nil, err
	}
	return out.Records, nil
}
