package qdrant

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"faqrag/internal/domain"
)

func TestUpsertSendsUUIDPoints(t *testing.T) {
	reqCh := make(chan string, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "/points") {
			body, _ := io.ReadAll(r.Body)
			reqCh <- string(body)
		}
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer server.Close()

	s := NewStorage(Config{URL: server.URL, HTTPClient: server.Client()})
	err := s.Upsert(context.Background(), "faq_1", []domain.Chunk{{ID: "d:0", Text: "hello", Embedding: []float64{0.1, 0.2}}})
	require.NoError(t, err)

	var body struct {
		Points []point `json:"points"`
	}
	require.NoError(t, json.Unmarshal([]byte(<-reqCh), &body))
	require.Len(t, body.Points, 1)
	assert.Equal(t, PointID("d:0"), body.Points[0].ID)
	assert.Equal(t, "d:0", body.Points[0].Payload["chunk_id"])
}

func TestSearchDecodesPayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.True(t, strings.HasSuffix(r.URL.Path, "/collections/faq_1/points/search"))
		_, _ = w.Write([]byte(`{"status":"ok","result":[{"id":"x","score":0.9,"payload":{"chunk_id":"d:3","document_id":"d","index":3,"text":"world","source_label":"faq #4"}}]}`))
	}))
	defer server.Close()

	s := NewStorage(Config{URL: server.URL, HTTPClient: server.Client()})
	res, err := s.Search(context.Background(), "faq_1", []float64{0.1, 0.2}, 3)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "d:3", res[0].Chunk.ID)
	assert.Equal(t, 3, res[0].Chunk.Index)
	assert.Equal(t, "faq #4", res[0].Chunk.SourceLabel)
	assert.InDelta(t, 0.9, res[0].Score, 1e-9)
}

func TestChunksScrollsAllPages(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req["offset"] == nil {
			_, _ = w.Write([]byte(`{"result":{"points":[{"payload":{"chunk_id":"d:1","document_id":"d","index":1},"vector":[0,1]}],"next_page_offset":"p2"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"result":{"points":[{"payload":{"chunk_id":"d:0","document_id":"d","index":0},"vector":[1,0]}],"next_page_offset":null}}`))
	}))
	defer server.Close()

	s := NewStorage(Config{URL: server.URL, HTTPClient: server.Client()})
	chunks, err := s.Chunks(context.Background(), "faq_1")
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	require.Len(t, chunks, 2)
	assert.Equal(t, "d:0", chunks[0].ID)
	assert.Equal(t, []float64{1, 0}, chunks[0].Embedding)
}

func TestErrorStatusIsReported(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"status":{"error":"Not found"}}`))
	}))
	defer server.Close()

	s := NewStorage(Config{URL: server.URL, HTTPClient: server.Client()})
	_, err := s.Count(context.Background(), "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}
