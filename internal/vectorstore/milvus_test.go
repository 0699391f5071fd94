package vectorstore

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeBody(t *testing.T, r *http.Request) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
	return body
}

func TestMilvusInitCreatesMissingCollection(t *testing.T) {
	var createdWith map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v2/vectordb/collections/has":
			_, _ = w.Write([]byte(`{"code":0,"data":{"has":false}}`))
		case "/v2/vectordb/collections/create":
			createdWith = decodeBody(t, r)
			_, _ = w.Write([]byte(`{"code":0}`))
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	store := NewMilvusStore(MilvusConfig{Addr: server.URL, Collection: "docs"})
	require.NoError(t, store.Init(context.Background(), 1536))

	require.NotNil(t, createdWith)
	assert.Equal(t, "docs", createdWith["collectionName"])
	assert.Equal(t, float64(1536), createdWith["dimension"])
	assert.Equal(t, "COSINE", createdWith["metricType"])
}

func TestMilvusInitSkipsExistingCollection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v2/vectordb/collections/create" {
			t.Fatal("create should not be called for an existing collection")
		}
		_, _ = w.Write([]byte(`{"code":0,"data":{"has":true}}`))
	}))
	defer server.Close()

	store := NewMilvusStore(MilvusConfig{Addr: server.URL, Collection: "docs"})
	assert.NoError(t, store.Init(context.Background(), 8))
}

func TestMilvusUpsertSendsRows(t *testing.T) {
	var inserted map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v2/vectordb/entities/insert", r.URL.Path)
		inserted = decodeBody(t, r)
		_, _ = w.Write([]byte(`{"code":0}`))
	}))
	defer server.Close()

	store := NewMilvusStore(MilvusConfig{Addr: server.URL, Collection: "docs"})
	err := store.Upsert(context.Background(), []ChunkRecord{
		{DocumentID: 7, ChunkIndex: 0, Title: "guide", Content: "hello", Embedding: []float32{0.1, 0.2}},
	})
	require.NoError(t, err)

	rows := inserted["data"].([]interface{})
	require.Len(t, rows, 1)
	row := rows[0].(map[string]interface{})
	assert.Equal(t, float64(7), row["document_id"])
	assert.Equal(t, "hello", row["text"])
	assert.Equal(t, "guide", row["title"])
}

func TestMilvusSearchParsesHits(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v2/vectordb/entities/search", r.URL.Path)
		body := decodeBody(t, r)
		assert.Equal(t, float64(2), body["limit"])

		_, _ = w.Write([]byte(`{"code":0,"data":[
			{"distance":0.92,"document_id":3,"title":"faq","text":"first hit"},
			{"distance":0.81,"document_id":5,"title":"manual","text":"second hit"}
		]}`))
	}))
	defer server.Close()

	store := NewMilvusStore(MilvusConfig{Addr: server.URL, Collection: "docs"})
	hits, err := store.Search(context.Background(), []float32{0.5, 0.5}, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)

	assert.Equal(t, uint(3), hits[0].DocumentID)
	assert.Equal(t, "first hit", hits[0].Content)
	assert.InDelta(t, 0.92, float64(hits[0].Score), 1e-6)
}

func TestMilvusSearchEmptyVector(t *testing.T) {
	store := NewMilvusStore(MilvusConfig{Addr: "http://unused", Collection: "docs"})

	_, err := store.Search(context.Background(), nil, 4)
	assert.ErrorIs(t, err, ErrEmptyQueryVector)
}

func TestMilvusDeleteByDocumentIDFilter(t *testing.T) {
	var deleted map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v2/vectordb/entities/delete", r.URL.Path)
		deleted = decodeBody(t, r)
		_, _ = w.Write([]byte(`{"code":0}`))
	}))
	defer server.Close()

	store := NewMilvusStore(MilvusConfig{Addr: server.URL, Collection: "docs"})
	require.NoError(t, store.DeleteByDocumentID(context.Background(), 42))

	assert.Equal(t, "document_id == 42", deleted["filter"])
}

func TestMilvusErrorEnvelope(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":1100,"message":"collection not loaded"}`))
	}))
	defer server.Close()

	store := NewMilvusStore(MilvusConfig{Addr: server.URL, Collection: "docs"})
	err := store.Ping(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "collection not loaded")
}
