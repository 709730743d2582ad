package export

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"cloud.google.com/go/datastore"
	elasticsearch "github.com/elastic/go-elasticsearch/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeElastic answers info requests and stores indexed documents by path.
type fakeElastic struct {
	mu     sync.Mutex
	infos  int
	docs   map[string]Spectrum
	reject string
}

func (f *fakeElastic) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")

	if r.Method == http.MethodGet && r.URL.Path == "/" {
		f.infos++
		w.Write([]byte(`{"name":"fake","version":{"number":"7.17.10","build_flavor":"default"},"tagline":"You Know, for Search"}`))
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/"+esIndexName+"/_doc/")
	if r.Method != http.MethodPut || id == r.URL.Path {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if id == f.reject {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"mapper_parsing_exception"}`))
		return
	}
	var s Spectrum
	if err := json.NewDecoder(r.Body).Decode(&s); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	f.docs[id] = s
	w.WriteHeader(http.StatusCreated)
	w.Write([]byte(`{"result":"created"}`))
}

func TestElastic(t *testing.T) {
	fake := &fakeElastic{docs: map[string]Spectrum{}, reject: "run1::2::0"}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	client, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: []string{srv.URL}})
	require.NoError(t, err)
	e := &Elastic{Client: client}

	spectra := testSpectra(t)
	// Rejected documents are counted and logged, the export goes on.
	require.NoError(t, e.Write(context.Background(), spectra))
	require.NoError(t, e.Write(context.Background(), spectra[:1]))
	require.NoError(t, e.Close())

	fake.mu.Lock()
	defer fake.mu.Unlock()
	require.Len(t, fake.docs, 1)
	doc, ok := fake.docs["run1::0::0"]
	require.True(t, ok)
	assert.Equal(t, spectra[0].Run, doc.Run)
	assert.Equal(t, 0, doc.CoarseChan)
	assert.InDeltaSlice(t, spectra[0].Values, doc.Values, 1e-9)
	assert.True(t, e.connected)
}

func TestElasticUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	client, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: []string{srv.URL}, MaxRetries: 1})
	require.NoError(t, err)
	e := &Elastic{Client: client}
	assert.Error(t, e.Write(context.Background(), testSpectra(t)))
	assert.False(t, e.connected)
}

func TestGetDocID(t *testing.T) {
	assert.Equal(t, "run1::2::7", getDocID(Spectrum{Run: "run1", CoarseChan: 2, Round: 7}))
}

type fakeEntityStore struct {
	entities map[string]*Spectrum
	fail     string
	closed   bool
}

func (f *fakeEntityStore) Put(ctx context.Context, key *datastore.Key, src interface{}) (*datastore.Key, error) {
	if key.Name == f.fail {
		return nil, errors.New("quota exceeded")
	}
	f.entities[key.Kind+"/"+key.Name] = src.(*Spectrum)
	return key, nil
}

func (f *fakeEntityStore) Close() error {
	f.closed = true
	return nil
}

func TestDataStore(t *testing.T) {
	store := &fakeEntityStore{entities: map[string]*Spectrum{}, fail: "run1::0::0"}
	d := &DataStore{Client: store}

	spectra := testSpectra(t)
	require.NoError(t, d.Write(context.Background(), spectra))
	require.NoError(t, d.Close())

	assert.True(t, store.closed)
	require.Len(t, store.entities, 1)
	got, ok := store.entities[datastoreKind+"/run1::2::0"]
	require.True(t, ok)
	assert.Equal(t, 2, got.CoarseChan)
	assert.Equal(t, spectra[1].Values, got.Values)
}
