package rag

import (
	"context"
	"errors"
	"hash/fnv"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/54b3r/docchat-go/internal/ingestion"
	"github.com/54b3r/docchat-go/internal/logging"
	"github.com/54b3r/docchat-go/internal/splitter"
)

const testDims = 64

// bagOfWords is a deterministic Embedder that hashes each word into a
// bucket. Texts containing poison fail; texts containing short get a
// vector of the wrong length.
type bagOfWords struct {
	poison string
	short  string

	mu    sync.Mutex
	calls int
}

func (b *bagOfWords) Embed(_ context.Context, texts []string) ([][]float32, error) {
	b.mu.Lock()
	b.calls++
	b.mu.Unlock()

	out := make([][]float32, len(texts))
	for i, t := range texts {
		if b.poison != "" && strings.Contains(t, b.poison) {
			return nil, errors.New("provider rejected input")
		}
		if b.short != "" && strings.Contains(t, b.short) {
			out[i] = []float32{1, 2, 3}
			continue
		}
		out[i] = wordVector(t)
	}
	return out, nil
}

func wordVector(text string) []float32 {
	v := make([]float32, testDims)
	v[0] = 0.01
	for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z')
	}) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		v[1+int(h.Sum32()%(testDims-1))]++
	}
	return v
}

// queryEncoder embeds queries through EmbedQuery and counts how often each
// path is taken.
type queryEncoder struct {
	bagOfWords
	queries int
}

func (q *queryEncoder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	q.mu.Lock()
	q.queries++
	q.mu.Unlock()
	return wordVector(text), nil
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newChromemIndex(t *testing.T, emb Embedder, cfg *IndexConfig) *Index {
	t.Helper()
	store, err := NewChromemStore(&ChromemConfig{Collection: "test"})
	if err != nil {
		t.Fatalf("chromem store: %v", err)
	}
	idx, err := NewIndex(emb, store, cfg)
	if err != nil {
		t.Fatalf("NewIndex: %v", err)
	}
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func chunksOf(t *testing.T, source string, texts ...string) []splitter.Chunk {
	t.Helper()
	segs := make([]ingestion.Segment, len(texts))
	for i, txt := range texts {
		segs[i] = ingestion.Segment{Text: txt, Offset: i + 1, Source: source}
	}
	return splitter.NewDefault().Split(segs)
}

func TestNewIndex_RequiresDependencies(t *testing.T) {
	t.Parallel()
	if _, err := NewIndex(nil, Unavailable{}, nil); err == nil {
		t.Error("want error for nil embedder")
	}
	if _, err := NewIndex(&bagOfWords{}, nil, nil); err == nil {
		t.Error("want error for nil store")
	}
}

func TestIndex_SearchRanksRelevantChunksFirst(t *testing.T) {
	t.Parallel()
	idx := newChromemIndex(t, &bagOfWords{}, nil)
	ctx := context.Background()

	chunks := chunksOf(t, "handbook.pdf",
		"To submit an invoice, upload the invoice PDF to the finance portal.",
		"The office holiday schedule lists every public holiday.",
		"Parking permits are issued by building security.",
		"Each invoice must reference a purchase order before you submit it.",
		"The cafeteria serves lunch between noon and two.",
	)
	res, err := idx.Upsert(ctx, chunks)
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if res.Stored != len(chunks) || len(res.Failed) != 0 || res.Collection != "test" {
		t.Errorf("Upsert = %+v, want %d stored in test", res, len(chunks))
	}

	matches, err := idx.Search(ctx, "how do I submit an invoice", 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != DefaultTopK {
		t.Fatalf("got %d matches, want %d", len(matches), DefaultTopK)
	}

	for _, m := range matches[:2] {
		if !strings.Contains(strings.ToLower(m.Text), "invoice") || m.Source != "handbook.pdf" {
			t.Errorf("top match %q from %s is not about invoices", m.Text, m.Source)
		}
	}
	for i := 1; i < len(matches); i++ {
		if matches[i-1].Score < matches[i].Score {
			t.Errorf("matches must be ordered by decreasing score: %v < %v at %d", matches[i-1].Score, matches[i].Score, i)
		}
	}
	if p := matches[0].Page; p != 1 && p != 4 {
		t.Errorf("best match page = %d, want 1 or 4", p)
	}
}

func TestIndex_SearchUsesQueryEmbedder(t *testing.T) {
	t.Parallel()
	emb := &queryEncoder{}
	idx := newChromemIndex(t, emb, nil)
	ctx := context.Background()

	if _, err := idx.Upsert(ctx, chunksOf(t, "faq.docx", "invoices are paid monthly", "parking is free")); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	batches := emb.calls

	matches, err := idx.Search(ctx, "when are invoices paid", 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 1 || !strings.Contains(matches[0].Text, "invoices") {
		t.Errorf("matches = %+v, want the invoice chunk", matches)
	}
	if emb.queries != 1 {
		t.Errorf("EmbedQuery calls = %d, want 1", emb.queries)
	}
	if emb.calls != batches {
		t.Errorf("Embed called %d times for a query, want 0", emb.calls-batches)
	}
}

func TestIndex_SearchClampsToCollectionSize(t *testing.T) {
	t.Parallel()
	idx := newChromemIndex(t, &bagOfWords{}, nil)
	ctx := context.Background()

	matches, err := idx.Search(ctx, "anything", 10)
	if err != nil || len(matches) != 0 {
		t.Fatalf("Search on empty collection = %v, %v", matches, err)
	}

	if _, err := idx.Upsert(ctx, chunksOf(t, "a.docx", "only one chunk here")); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	matches, err = idx.Search(ctx, "chunk", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 1 {
		t.Errorf("got %d matches, want 1", len(matches))
	}
}

func TestIndex_UpsertToleratesPartialFailure(t *testing.T) {
	t.Parallel()
	emb := &bagOfWords{poison: "POISON"}
	idx := newChromemIndex(t, emb, &IndexConfig{BatchSize: 2})

	chunks := chunksOf(t, "mixed.docx",
		"first good chunk",
		"this one is POISON",
		"third good chunk",
		"fourth good chunk",
		"fifth good chunk",
	)
	res, err := idx.Upsert(logCtx(), chunks)
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if res.Stored != 4 || !slices.Equal(res.Failed, []string{chunks[1].ID}) {
		t.Errorf("Upsert = %+v, want 4 stored and %s failed", res, chunks[1].ID)
	}

	// Three batches, the first retried as two single-chunk calls.
	if emb.calls != 5 {
		t.Errorf("Embed calls = %d, want 5", emb.calls)
	}

	matches, err := idx.Search(context.Background(), "good chunk", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 4 {
		t.Errorf("got %d matches, want 4", len(matches))
	}
}

func TestIndex_UpsertRejectsWrongDimensions(t *testing.T) {
	t.Parallel()
	idx := newChromemIndex(t, &bagOfWords{short: "tiny"}, &IndexConfig{Dimensions: testDims})

	chunks := chunksOf(t, "dims.pdf", "a normal chunk", "a tiny chunk", "another normal chunk")
	res, err := idx.Upsert(logCtx(), chunks)
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if res.Stored != 2 || !slices.Equal(res.Failed, []string{chunks[1].ID}) {
		t.Errorf("Upsert = %+v, want 2 stored and %s failed", res, chunks[1].ID)
	}
}

func TestChromemStore_RejectsMixedDimensions(t *testing.T) {
	t.Parallel()
	store, err := NewChromemStore(&ChromemConfig{})
	if err != nil {
		t.Fatalf("NewChromemStore: %v", err)
	}
	ctx := context.Background()

	if err := store.Upsert(ctx, []Document{{ID: "a", Content: "a"}}, [][]float32{{1, 0, 0}}); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if err := store.Upsert(ctx, []Document{{ID: "b", Content: "b"}}, [][]float32{{1, 0}}); err == nil {
		t.Error("want error for a vector of a different length")
	}
	if store.Count() != 1 {
		t.Errorf("Count = %d, want 1", store.Count())
	}

	if err := store.Delete(ctx, []string{"a"}); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if store.Count() != 0 {
		t.Errorf("Count after delete = %d, want 0", store.Count())
	}
}

func TestIndex_Degraded(t *testing.T) {
	t.Parallel()
	idx := NewDegradedIndex(nil, errors.New("connection refused"))
	ctx := context.Background()

	if !idx.Degraded() {
		t.Fatal("want degraded index")
	}
	if !errors.Is(idx.Err(), ErrStoreUnavailable) {
		t.Fatalf("Err = %v, want ErrStoreUnavailable", idx.Err())
	}

	for _, q := range []string{"how do I submit an invoice", "", "anything at all"} {
		matches, err := idx.Search(ctx, q, 0)
		if err != nil {
			t.Fatalf("Search(%q): %v", q, err)
		}
		if matches == nil || len(matches) != 0 {
			t.Errorf("Search(%q) = %#v, want empty non-nil slice", q, matches)
		}
	}

	res, err := idx.Upsert(ctx, chunksOf(t, "x.pdf", "text"))
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("Upsert err = %v, want ErrStoreUnavailable", err)
	}
	if res.Stored != 0 {
		t.Errorf("Stored = %d, want 0", res.Stored)
	}
	if err := idx.Delete(ctx, []string{"id"}); !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("Delete err = %v, want ErrStoreUnavailable", err)
	}
}

func TestOpen_FallsBackToDegraded(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		backend string
		emb     Embedder
	}{
		{"disabled", BackendDisabled, &bagOfWords{}},
		{"unknown backend", "faiss", &bagOfWords{}},
		{"no embedder", BackendChromem, nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			idx := Open(context.Background(), &OpenConfig{Backend: tc.backend}, tc.emb, quietLogger())
			if !idx.Degraded() || !errors.Is(idx.Err(), ErrStoreUnavailable) {
				t.Errorf("Open = degraded %v, err %v; want degraded with ErrStoreUnavailable", idx.Degraded(), idx.Err())
			}
		})
	}
}

func TestOpen_Chromem(t *testing.T) {
	t.Parallel()
	cfg := &OpenConfig{
		Backend: BackendChromem,
		Chromem: ChromemConfig{Path: t.TempDir(), Collection: "persisted"},
		Index:   IndexConfig{Collection: "persisted", TopK: 2},
	}
	idx := Open(context.Background(), cfg, &bagOfWords{}, quietLogger())
	if idx.Degraded() {
		t.Fatalf("unexpected degraded index: %v", idx.Err())
	}
	if idx.Collection() != "persisted" || idx.TopK() != 2 {
		t.Errorf("collection=%q topK=%d, want persisted/2", idx.Collection(), idx.TopK())
	}
}

func TestPostgresConfig_DSN(t *testing.T) {
	t.Parallel()
	tests := []struct {
		cfg  PostgresConfig
		want string
	}{
		{PostgresConfig{Host: "db", Port: 6543, User: "app", Password: "p@ss", DBName: "chat"}, "postgres://app:p%40ss@db:6543/chat?sslmode=disable"},
		{PostgresConfig{SSLMode: "require"}, "postgres://localhost:5432/?sslmode=require"},
	}
	for _, tc := range tests {
		if got := tc.cfg.DSN(); got != tc.want {
			t.Errorf("DSN() = %q, want %q", got, tc.want)
		}
	}
}

// logCtx returns a context carrying a discard logger so warnings stay quiet.
func logCtx() context.Context {
	return logging.WithLogger(context.Background(), quietLogger())
}
