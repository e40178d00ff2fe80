package e2e

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/hyperjump/webrag/internal/embedding"
	"github.com/hyperjump/webrag/internal/extract"
	"github.com/hyperjump/webrag/internal/indexer"
	"github.com/hyperjump/webrag/internal/models"
	"github.com/hyperjump/webrag/internal/retrieval"
	"github.com/hyperjump/webrag/internal/storage"
)

const e2eDims = 32

// countingEmbedder counts Embed calls so tests can tell a disk load from a build.
type countingEmbedder struct {
	*embedding.MockEmbedder
	calls atomic.Int32
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls.Add(1)
	return c.MockEmbedder.Embed(ctx, text)
}

func newService(t *testing.T, root string, emb embedding.Embedder) *retrieval.Service {
	t.Helper()
	store, err := storage.NewCollectionStore(root)
	if err != nil {
		t.Fatalf("NewCollectionStore: %v", err)
	}
	// one sentence per chunk
	return retrieval.NewService(store, emb, retrieval.WithChunker(indexer.NewChunker(1)), retrieval.WithK(3, 10))
}

func buildCorpus(t *testing.T, ctx context.Context, svc *retrieval.Service, c *Corpus) {
	t.Helper()
	for _, site := range c.Sites() {
		coll, err := svc.EnsureIndex(ctx, site, c.Documents(site))
		if err != nil {
			t.Fatalf("EnsureIndex(%s): %v", site, err)
		}
		if want := len(c.Sentences(site)); len(coll.Chunks) != want {
			t.Fatalf("%s: %d chunks, want %d", site, len(coll.Chunks), want)
		}
	}
}

func assertTopHit(t *testing.T, res models.RetrievalResult, tc QueryTestCase) {
	t.Helper()
	if len(res) == 0 {
		t.Fatalf("%s: no hits", tc.Description)
	}
	if res[0].Text != tc.ExpectedText {
		t.Errorf("%s: top hit %q, want %q", tc.Description, res[0].Text, tc.ExpectedText)
	}
	if res[0].Distance != 0 {
		t.Errorf("%s: top distance %v, want 0", tc.Description, res[0].Distance)
	}
}

func TestE2E_EveryClosingSentenceRanksFirst(t *testing.T) {
	ctx := context.Background()
	c := BuildCorpus()
	svc := newService(t, t.TempDir(), embedding.NewMockEmbedder(e2eDims))
	buildCorpus(t, ctx, svc, c)

	for _, tc := range c.TestCases {
		res, err := svc.Query(ctx, tc.Site, tc.Query, 3)
		if err != nil {
			t.Fatalf("%s: Query: %v", tc.Description, err)
		}
		assertTopHit(t, res, tc)
	}
}

func TestE2E_CollectionsAreIsolated(t *testing.T) {
	ctx := context.Background()
	c := BuildCorpus()
	svc := newService(t, t.TempDir(), embedding.NewMockEmbedder(e2eDims))
	buildCorpus(t, ctx, svc, c)

	for _, tc := range c.TestCases {
		own := c.Sentences(tc.Site)
		for _, other := range c.Sites() {
			res, err := svc.Query(ctx, other, tc.Query, 10)
			if err != nil {
				t.Fatalf("Query(%s): %v", other, err)
			}
			allowed := c.Sentences(other)
			for _, h := range res {
				if !allowed[h.Text] {
					t.Errorf("collection %s returned %q from another site", other, h.Text)
				}
				if other != tc.Site && own[h.Text] {
					t.Errorf("query for %s leaked %q into %s", tc.Site, h.Text, other)
				}
			}
			for i := 1; i < len(res); i++ {
				if res[i].Distance < res[i-1].Distance {
					t.Errorf("%s: hits out of order at %d", other, i)
				}
			}
		}
	}
}

func TestE2E_ReopenLoadsFromDiskWithoutEmbedding(t *testing.T) {
	ctx := context.Background()
	c := BuildCorpus()
	root := t.TempDir()
	buildCorpus(t, ctx, newService(t, root, embedding.NewMockEmbedder(e2eDims)), c)

	emb := &countingEmbedder{MockEmbedder: embedding.NewMockEmbedder(e2eDims)}
	svc := newService(t, root, emb)
	for _, tc := range c.TestCases {
		res, err := svc.Query(ctx, tc.Site, tc.Query, 1)
		if err != nil {
			t.Fatalf("%s: Query: %v", tc.Description, err)
		}
		assertTopHit(t, res, tc)
	}
	// one embedding per query, none for chunks
	if n := emb.calls.Load(); int(n) != len(c.TestCases) {
		t.Errorf("reopened service embedded %d texts, want %d", n, len(c.TestCases))
	}
	infos, err := svc.Collections()
	if err != nil {
		t.Fatalf("Collections: %v", err)
	}
	if len(infos) != len(c.Sites()) {
		t.Errorf("Collections() = %d, want %d", len(infos), len(c.Sites()))
	}
	for _, info := range infos {
		if info.State != models.StateReady {
			t.Errorf("%s: state %s, want ready", info.ID, info.State)
		}
	}
}

func TestE2E_IndexFromDocumentFiles(t *testing.T) {
	ctx := context.Background()
	c := BuildCorpus()
	loader := indexer.NewLoader(extract.NewExtractor())
	svc := newService(t, t.TempDir(), embedding.NewMockEmbedder(e2eDims))

	docsRoot := t.TempDir()
	i := 0
	for _, p := range c.Pages {
		ext := SupportedFileExtensions[i%len(SupportedFileExtensions)]
		i++
		content, err := WriteMinimalFile(ext, p.Content)
		if err != nil {
			t.Fatalf("WriteMinimalFile(%s): %v", ext, err)
		}
		dir := filepath.Join(docsRoot, p.Site)
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(dir, fmt.Sprintf("%s%s", p.Name, ext)), content, 0644); err != nil {
			t.Fatal(err)
		}
	}

	for _, site := range c.Sites() {
		docs, err := loader.LoadDirectory(ctx, filepath.Join(docsRoot, site))
		if err != nil {
			t.Fatalf("LoadDirectory(%s): %v", site, err)
		}
		if len(docs) != len(c.Documents(site)) {
			t.Fatalf("%s: loaded %d documents, want %d", site, len(docs), len(c.Documents(site)))
		}
		if _, err := svc.EnsureIndex(ctx, site, docs); err != nil {
			t.Fatalf("EnsureIndex(%s): %v", site, err)
		}
	}
	for _, tc := range c.TestCases {
		res, err := svc.Query(ctx, tc.Site, tc.Query, 3)
		if err != nil {
			t.Fatalf("%s: Query: %v", tc.Description, err)
		}
		assertTopHit(t, res, tc)
	}
}

func TestE2E_RefreshSkipsUnchangedSource(t *testing.T) {
	ctx := context.Background()
	c := BuildCorpus()
	emb := &countingEmbedder{MockEmbedder: embedding.NewMockEmbedder(e2eDims)}
	svc := newService(t, t.TempDir(), emb)
	site := c.Sites()[0]

	built, err := svc.Refresh(ctx, site, c.Documents(site))
	if err != nil || !built {
		t.Fatalf("first Refresh = %v, %v; want true, nil", built, err)
	}
	built, err = svc.Refresh(ctx, site, c.Documents(site))
	if err != nil || built {
		t.Fatalf("second Refresh = %v, %v; want false, nil", built, err)
	}
	if n, want := emb.calls.Load(), len(c.Sentences(site)); int(n) != want {
		t.Errorf("embedded %d chunks, want %d", n, want)
	}

	changed := append(c.Documents(site), "A brand new page appeared today.")
	built, err = svc.Refresh(ctx, site, changed)
	if err != nil || !built {
		t.Fatalf("changed Refresh = %v, %v; want true, nil", built, err)
	}
	res, err := svc.Query(ctx, site, "A brand new page appeared today.", 1)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(res) != 1 || res[0].Text != "A brand new page appeared today." {
		t.Errorf("new page not indexed: %+v", res)
	}
}
