package runtime

import (
	"context"
	"errors"
	"iter"
	"sync/atomic"
	"testing"

	"github.com/pithecene-io/gloss/types"
)

func segments(items ...any) iter.Seq2[*types.Segment, error] {
	return func(yield func(*types.Segment, error) bool) {
		for _, it := range items {
			var ok bool
			switch v := it.(type) {
			case *types.Segment:
				ok = yield(v, nil)
			case error:
				ok = yield(nil, v)
			}
			if !ok {
				return
			}
		}
	}
}

func TestBatchOperator_RunsEachSegmentOnce(t *testing.T) {
	out := t.TempDir()
	client := newFakeClient(map[string]map[string]any{multiple: {"answer": "1-0"}})
	var built atomic.Int64
	factory := func(_ context.Context, _ int) (Collaborators, func(), error) {
		built.Add(1)
		return Collaborators{Client: client, Prompts: namePrompts{}}, nil, nil
	}

	op := NewBatchOperator(BatchConfig{Workers: 3}, SegmentConfig{OutputRoot: out}, factory)
	res, err := op.Run(t.Context(), segments(
		clip("1", multiple),
		clip("2", multiple),
		clip("1", multiple),
		errors.New("bad.json: schema error"),
		clip("3"),
	))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if res.Selected != 3 || res.Deduped != 1 {
		t.Errorf("selected=%d deduped=%d", res.Selected, res.Deduped)
	}
	if res.Processed != 2 || res.Skipped != 1 || res.Failed != 0 {
		t.Errorf("processed=%d skipped=%d failed=%d", res.Processed, res.Skipped, res.Failed)
	}
	if len(res.LoadErrors) != 1 {
		t.Errorf("LoadErrors = %v", res.LoadErrors)
	}
	if client.calls[multiple] != 2 {
		t.Errorf("annotate calls = %d, want 2", client.calls[multiple])
	}
	if built.Load() != 3 {
		t.Errorf("collaborator sets = %d, want one per worker", built.Load())
	}
	if len(res.Segments) != 3 || res.Segments[0].Key.ID != "1" || res.Segments[2].Key.ID != "3" {
		t.Errorf("segments not sorted by key: %+v", res.Segments)
	}
	if res.Clean() {
		t.Error("batch with load errors reported clean")
	}
	if res.RunID == "" {
		t.Error("RunID not generated")
	}
}

func TestBatchOperator_Selector(t *testing.T) {
	client := newFakeClient(map[string]map[string]any{multiple: {"answer": "1-0"}})
	factory := func(context.Context, int) (Collaborators, func(), error) {
		return Collaborators{Client: client, Prompts: namePrompts{}}, nil, nil
	}
	other := clip("2", multiple)
	other.Origin.Event = "final"

	op := NewBatchOperator(BatchConfig{Selector: Selector{Event: "final"}}, SegmentConfig{OutputRoot: t.TempDir()}, factory)
	res, err := op.Run(t.Context(), segments(clip("1", multiple), other))
	if err != nil {
		t.Fatal(err)
	}
	if res.Selected != 1 || len(res.Segments) != 1 || res.Segments[0].Key.Event != "final" {
		t.Errorf("result = %+v", res)
	}
	if !res.Clean() {
		t.Error("expected clean batch")
	}
}

func TestBatchOperator_FactoryError(t *testing.T) {
	factory := func(context.Context, int) (Collaborators, func(), error) {
		return Collaborators{}, nil, errors.New("missing api key")
	}
	op := NewBatchOperator(BatchConfig{}, SegmentConfig{OutputRoot: t.TempDir()}, factory)
	if _, err := op.Run(t.Context(), segments(clip("1", multiple))); err == nil {
		t.Error("expected factory error")
	}
}

func TestBatchOperator_ClosesCollaborators(t *testing.T) {
	client := newFakeClient(nil)
	var closed atomic.Int64
	factory := func(context.Context, int) (Collaborators, func(), error) {
		return Collaborators{Client: client, Prompts: namePrompts{}}, func() { closed.Add(1) }, nil
	}
	op := NewBatchOperator(BatchConfig{Workers: 2}, SegmentConfig{OutputRoot: t.TempDir()}, factory)
	if _, err := op.Run(t.Context(), segments(clip("1"), clip("2"))); err != nil {
		t.Fatal(err)
	}
	if closed.Load() != 2 {
		t.Errorf("closed = %d, want 2", closed.Load())
	}
}

func TestBatchOperator_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	factory := func(context.Context, int) (Collaborators, func(), error) {
		return Collaborators{Client: newFakeClient(nil), Prompts: namePrompts{}}, nil, nil
	}
	op := NewBatchOperator(BatchConfig{}, SegmentConfig{OutputRoot: t.TempDir()}, factory)
	res, err := op.Run(ctx, segments(clip("1", multiple)))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if res == nil {
		t.Fatal("expected partial result")
	}
}

func TestSelector_Match(t *testing.T) {
	key := types.SegmentKey{Sport: "soccer", Event: "derby", Kind: types.KindClip, ID: "4"}
	tests := []struct {
		sel  Selector
		want bool
	}{
		{Selector{}, true},
		{Selector{Sport: "soccer"}, true},
		{Selector{Sport: "soccer", Event: "derby", ID: "4"}, true},
		{Selector{Sport: "tennis"}, false},
		{Selector{ID: "5"}, false},
	}
	for _, tt := range tests {
		if got := tt.sel.Match(key); got != tt.want {
			t.Errorf("%+v.Match = %v, want %v", tt.sel, got, tt.want)
		}
	}
}
