package recordsync

import (
	"context"
	"iter"

	"github.com/DrSkyle/todoslash/pkg/lark"
)

// BitableAPI is the part of *lark.Client a BitableStore uses.
type BitableAPI interface {
	ListRecords(ctx context.Context, t lark.Table, req lark.ListRecordsRequest) (*lark.RecordPage, error)
	BatchCreateRecords(ctx context.Context, t lark.Table, fields []map[string]any) ([]lark.Record, error)
}

// BitableStore keeps records in a Lark Bitable table.
type BitableStore struct {
	API      BitableAPI
	Table    lark.Table
	PageSize int
}

func NewBitableStore(api BitableAPI, table lark.Table, pageSize int) *BitableStore {
	return &BitableStore{API: api, Table: table, PageSize: pageSize}
}

func (s *BitableStore) MaxBatchSize() int {
	return lark.MaxBatchRecords
}

// Records follows page tokens until the table reports no more pages.
func (s *BitableStore) Records(ctx context.Context, fields []string) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		req := lark.ListRecordsRequest{FieldNames: fields, PageSize: s.PageSize}
		for {
			page, err := s.API.ListRecords(ctx, s.Table, req)
			if err != nil {
				yield(Record{}, &StoreError{Store: "bitable", Op: "list", Err: err})
				return
			}
			for _, item := range page.Items {
				id := item.RecordID
				if id == "" {
					id = item.ID
				}
				if !yield(Record{ID: id, Fields: item.Fields}, nil) {
					return
				}
			}
			if !page.HasMore || page.PageToken == "" {
				return
			}
			req.PageToken = page.PageToken
		}
	}
}

func (s *BitableStore) BatchCreate(ctx context.Context, records []map[string]any) (int, error) {
	created, err := s.API.BatchCreateRecords(ctx, s.Table, records)
	if err != nil {
		return 0, &StoreError{Store: "bitable", Op: "batch_create", Err: err}
	}
	return len(created), nil
}
