package vectorstore

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/hyperjump/mondai/internal/models"
)

func TestDecodePayload_NumberForms(t *testing.T) {
	cases := []struct {
		name string
		page any
	}{
		{"float64", float64(3)},
		{"int", 3},
		{"int64", int64(3)},
		{"json.Number", json.Number("3")},
		{"string", "3"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, err := DecodePayload(Payload{FieldText: "hello", FieldPage: tc.page, FieldFilename: "a.pdf"})
			if err != nil {
				t.Fatalf("DecodePayload: %v", err)
			}
			if c.Page != 3 {
				t.Errorf("page = %d, want 3", c.Page)
			}
			if c.Length != 5 {
				t.Errorf("length = %d, want rune count 5", c.Length)
			}
		})
	}
}

func TestDecodePayload_MissingText(t *testing.T) {
	if _, err := DecodePayload(Payload{FieldPage: 1}); err == nil {
		t.Fatal("expected error for payload without text")
	}
	if _, err := DecodePayload(nil); err == nil {
		t.Fatal("expected error for nil payload")
	}
}

func TestEncodeDecodeChunk(t *testing.T) {
	in := models.Chunk{Filename: "notes.txt", Page: 2, ChunkID: 4, Text: "xin chào", Length: 8}
	p := EncodeChunk(in)
	if p[FieldSourceID] != "notes.txt__p2__c4" {
		t.Errorf("source_id = %v", p[FieldSourceID])
	}
	// Round-trip through JSON so numbers become float64.
	raw, err := json.Marshal(p)
	if err != nil {
		t.Fatal(err)
	}
	var back Payload
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatal(err)
	}
	out, err := DecodePayload(back)
	if err != nil {
		t.Fatal(err)
	}
	if out.Filename != in.Filename || out.Page != in.Page || out.ChunkID != in.ChunkID || out.Text != in.Text || out.Length != in.Length {
		t.Errorf("decoded %+v, want %+v", out, in)
	}
}

type pagedStore struct {
	VectorStore
	pages [][]Record
}

func (p *pagedStore) Scroll(_ context.Context, _ string, _ *Filter, _ int, offset any) ([]Record, any, error) {
	i := 0
	if offset != nil {
		i = offset.(int)
	}
	var next any
	if i+1 < len(p.pages) {
		next = i + 1
	}
	return p.pages[i], next, nil
}

func TestScrollAll(t *testing.T) {
	s := &pagedStore{pages: [][]Record{
		{{ID: "1"}, {ID: "2"}},
		{{ID: "3"}},
	}}
	got, err := ScrollAll(context.Background(), s, "c", nil, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 || got[2].ID != "3" {
		t.Errorf("got %+v", got)
	}
}
