// Package query answers similarity searches over the vector store. Each
// query encodes the input once, streams stored vectors through a bounded
// min-heap, and returns results sorted by descending score.
package query

import (
	"container/heap"
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/filescope/filescope/internal/embed"
	"github.com/filescope/filescope/internal/store"
	"github.com/filescope/filescope/pkg/types"
)

// Options shape one search.
type Options struct {
	MaxResults  int            // top-K; default 20
	MinScore    float64        // drop results below this
	Directory   string         // restrict to this subtree when set
	Kind        types.FileKind // restrict to this kind when set
	SortByScore bool           // default true; false preserves scan order
}

// DefaultOptions returns the standard search parameters.
func DefaultOptions() Options {
	return Options{MaxResults: 20, SortByScore: true}
}

func (o *Options) applyDefaults() {
	if o.MaxResults <= 0 {
		o.MaxResults = 20
	}
}

// Result is one scored match.
type Result struct {
	Path       string         `json:"path"`
	Name       string         `json:"name"`
	Kind       types.FileKind `json:"kind"`
	Score      float64        `json:"score"`
	ByteSize   int64          `json:"byte_size"`
	ModifiedAt int64          `json:"modified_at"`
	Width      int            `json:"width,omitempty"`
	Height     int            `json:"height,omitempty"`
}

// Response is the complete answer to one search. A failed search carries
// Success=false and no partial results.
type Response struct {
	Results      []Result `json:"results"`
	SearchTimeMs float64  `json:"search_time_ms"`
	Success      bool     `json:"success"`
	Error        string   `json:"error,omitempty"`
}

// Engine runs searches against the file and image tables.
type Engine struct {
	files  *store.Store
	images *store.ImageStore
	text   embed.TextProducer
	visual embed.VisualProducer
}

// New creates an engine. The visual producer may be nil; image searches
// then fail with a useful error.
func New(files *store.Store, images *store.ImageStore, text embed.TextProducer, visual embed.VisualProducer) *Engine {
	return &Engine{files: files, images: images, text: text, visual: visual}
}

// TextQuery searches text-embedded files by natural-language query.
func (e *Engine) TextQuery(ctx context.Context, queryText string, opts Options) *Response {
	start := time.Now()
	opts.applyDefaults()

	if strings.TrimSpace(queryText) == "" {
		return failure(start, fmt.Errorf("%w: empty query", types.ErrInvalidInput))
	}
	if e.files == nil {
		return failure(start, fmt.Errorf("%w: store not set", types.ErrNotInitialized))
	}
	if e.text == nil || !e.text.IsLoaded() {
		return failure(start, embed.ErrNotLoaded)
	}

	queryVec, err := e.text.EncodeText(ctx, queryText)
	if err != nil {
		return failure(start, fmt.Errorf("encode query: %w", err))
	}

	top := newTopK(opts.MaxResults)
	scoreRec := func(rec *store.Record) error {
		if opts.Kind != "" && rec.Kind != opts.Kind {
			return nil
		}
		score := store.CosineSimilarity(queryVec, rec.Embedding)
		if score < opts.MinScore {
			return nil
		}
		top.offer(Result{
			Path:       rec.Path,
			Name:       rec.Name,
			Kind:       rec.Kind,
			Score:      score,
			ByteSize:   rec.ByteSize,
			ModifiedAt: rec.ModifiedAt,
		})
		return nil
	}
	if opts.Directory != "" {
		err = e.files.IterUnder(ctx, opts.Directory, scoreRec)
	} else {
		err = e.files.IterEmbedded(ctx, scoreRec)
	}
	if err != nil {
		return failure(start, fmt.Errorf("scan store: %w", err))
	}

	return success(start, top.take(opts.SortByScore))
}

// ImageQueryByText searches the image table by text through the visual
// producer's shared space.
func (e *Engine) ImageQueryByText(ctx context.Context, queryText string, opts Options) *Response {
	start := time.Now()
	opts.applyDefaults()

	if strings.TrimSpace(queryText) == "" {
		return failure(start, fmt.Errorf("%w: empty query", types.ErrInvalidInput))
	}
	if e.images == nil {
		return failure(start, fmt.Errorf("%w: store not set", types.ErrNotInitialized))
	}
	if e.visual == nil || !e.visual.IsLoaded() {
		return failure(start, embed.ErrNotLoaded)
	}

	queryVec, err := e.visual.EncodeText(ctx, queryText)
	if err != nil {
		return failure(start, fmt.Errorf("encode query: %w", err))
	}
	return e.imageScan(ctx, start, queryVec, "", opts)
}

// ImageQueryByImage finds images similar to a reference image. The
// reference itself is excluded from the results.
func (e *Engine) ImageQueryByImage(ctx context.Context, imagePath string, opts Options) *Response {
	start := time.Now()
	opts.applyDefaults()

	if e.images == nil {
		return failure(start, fmt.Errorf("%w: store not set", types.ErrNotInitialized))
	}
	if e.visual == nil || !e.visual.IsLoaded() {
		return failure(start, embed.ErrNotLoaded)
	}
	if !embed.IsSupportedImage(imagePath) {
		return failure(start, fmt.Errorf("%w: %s", embed.ErrUnsupportedImage, imagePath))
	}

	enc, err := e.visual.EncodeImage(ctx, imagePath)
	if err != nil {
		return failure(start, fmt.Errorf("encode image: %w", err))
	}
	return e.imageScan(ctx, start, enc.Vector, imagePath, opts)
}

func (e *Engine) imageScan(ctx context.Context, start time.Time, queryVec []float32, excludePath string, opts Options) *Response {
	top := newTopK(opts.MaxResults)
	var err error
	if opts.Directory != "" {
		err = e.images.IterUnder(ctx, opts.Directory, e.scoreImage(queryVec, excludePath, opts, top))
	} else {
		err = e.images.Iter(ctx, e.scoreImage(queryVec, excludePath, opts, top))
	}
	if err != nil {
		return failure(start, fmt.Errorf("scan images: %w", err))
	}
	return success(start, top.take(opts.SortByScore))
}

func (e *Engine) scoreImage(queryVec []float32, excludePath string, opts Options, top *topK) func(*store.ImageRecord) error {
	return func(rec *store.ImageRecord) error {
		if rec.Path == excludePath {
			return nil
		}
		score := store.CosineSimilarity(queryVec, rec.Embedding)
		if score < opts.MinScore {
			return nil
		}
		top.offer(Result{
			Path:       rec.Path,
			Name:       rec.Name,
			Kind:       types.KindImage,
			Score:      score,
			ByteSize:   rec.ByteSize,
			ModifiedAt: rec.ModifiedAt,
			Width:      rec.Width,
			Height:     rec.Height,
		})
		return nil
	}
}

func failure(start time.Time, err error) *Response {
	return &Response{
		SearchTimeMs: float64(time.Since(start).Microseconds()) / 1000.0,
		Success:      false,
		Error:        err.Error(),
	}
}

func success(start time.Time, results []Result) *Response {
	if results == nil {
		results = []Result{}
	}
	return &Response{
		Results:      results,
		SearchTimeMs: float64(time.Since(start).Microseconds()) / 1000.0,
		Success:      true,
	}
}

// topK keeps the K highest-scoring results using a min-heap; the root is
// the weakest survivor and is evicted by anything stronger. Each entry
// records its offer sequence so take can restore scan order.
type topK struct {
	k     int
	next  int
	items resultHeap
}

type scored struct {
	res Result
	seq int
}

func newTopK(k int) *topK {
	return &topK{k: k, items: make(resultHeap, 0, k)}
}

func (t *topK) offer(r Result) {
	e := scored{res: r, seq: t.next}
	t.next++
	if len(t.items) < t.k {
		heap.Push(&t.items, e)
		return
	}
	if e.res.Score > t.items[0].res.Score {
		t.items[0] = e
		heap.Fix(&t.items, 0)
	}
}

func (t *topK) take(sortByScore bool) []Result {
	entries := make([]scored, len(t.items))
	copy(entries, t.items)
	if sortByScore {
		sort.Slice(entries, func(i, j int) bool { return entries[i].res.Score > entries[j].res.Score })
	} else {
		sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	}
	out := make([]Result, len(entries))
	for i, e := range entries {
		out[i] = e.res
	}
	return out
}

type resultHeap []scored

func (h resultHeap) Len() int            { return len(h) }
func (h resultHeap) Less(i, j int) bool  { return h[i].res.Score < h[j].res.Score }
func (h resultHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *resultHeap) Push(x interface{}) { *h = append(*h, x.(scored)) }
func (h *resultHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
