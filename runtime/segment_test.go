package runtime

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/pithecene-io/gloss/artifact"
	"github.com/pithecene-io/gloss/metrics"
	"github.com/pithecene-io/gloss/model"
	"github.com/pithecene-io/gloss/record"
	"github.com/pithecene-io/gloss/types"
)

const (
	scoreboard = "ScoreboardSingle"
	multiple   = "ScoreboardMultiple"
	objTrack   = "Object_Tracking"
)

// fakeClient answers each prompt (the task name) from a fixed table.
type fakeClient struct {
	mu        sync.Mutex
	answers   map[string]map[string]any
	errs      map[string]error
	uploadErr error
	uploads   int
	cleanups  int
	calls     map[string]int
}

func newFakeClient(answers map[string]map[string]any) *fakeClient {
	return &fakeClient{answers: answers, errs: map[string]error{}, calls: map[string]int{}}
}

func (c *fakeClient) Upload(_ context.Context, m model.Media) (*model.Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.uploadErr != nil {
		return nil, c.uploadErr
	}
	c.uploads++
	return &model.Handle{Name: "files/1", URI: m.Path, MIMEType: m.MIMEType}, nil
}

func (c *fakeClient) Annotate(_ context.Context, _ *model.Handle, prompt string) (map[string]any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[prompt]++
	if err := c.errs[prompt]; err != nil {
		return nil, err
	}
	a, ok := c.answers[prompt]
	if !ok {
		return nil, model.ErrEmptyResponse
	}
	return types.CloneValue(a).(map[string]any), nil
}

func (c *fakeClient) Cleanup(context.Context, *model.Handle) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleanups++
	return nil
}

type namePrompts struct{}

func (namePrompts) Prompt(name string, _ model.Vars) (string, error) { return name, nil }

type fakeGrounder struct {
	box   artifact.Box
	descs []string
}

func (g *fakeGrounder) Locate(_ context.Context, _ model.Image, desc string) (artifact.Box, error) {
	g.descs = append(g.descs, desc)
	return g.box, nil
}

type fakeFrames struct{ frames []int }

func (f *fakeFrames) Extract(_ context.Context, _ string, frame int) (model.Image, error) {
	f.frames = append(f.frames, frame)
	return model.Image{Width: 1280, Height: 720}, nil
}

type fakeTracker struct{ req model.TrackRequest }

func (f *fakeTracker) Track(_ context.Context, req model.TrackRequest) (*artifact.Tracking, error) {
	f.req = req
	obj := artifact.Object{ID: req.ObjectID, Frames: map[int]artifact.Box{}}
	for n := req.StartFrame; n <= req.EndFrame; n++ {
		obj.Frames[n] = req.Box
	}
	return &artifact.Tracking{Objects: []artifact.Object{obj}}, nil
}

func clip(id string, tasks ...string) *types.Segment {
	return &types.Segment{
		ID:     id,
		Origin: types.Origin{Sport: "soccer", Event: "derby"},
		Info:   types.Info{StartingFrame: 100, TotalFrames: 50, FPS: 25},
		Tasks:  tasks,
	}
}

func scoreboardAnswer() map[string]any {
	return map[string]any{
		"question":        "What is the score?",
		"answer":          "2-1",
		"bounding_box":    "the scoreboard in the top left corner",
		"timestamp_frame": float64(3),
	}
}

func trackingAnswer() map[string]any {
	return map[string]any{
		"question":                "Track the goalkeeper",
		"first_frame_description": "goalkeeper in yellow",
		"Q_window_frame":          []any{float64(2), float64(4)},
	}
}

func newRunner(t *testing.T, output string, collab Collaborators, c *metrics.Collector) *SegmentRunner {
	t.Helper()
	r, err := NewSegmentRunner(SegmentConfig{DatasetRoot: "/data", OutputRoot: output, Collector: c}, collab)
	if err != nil {
		t.Fatalf("NewSegmentRunner: %v", err)
	}
	return r
}

func TestProcess_FirstRunWritesSingleAnnotation(t *testing.T) {
	out := t.TempDir()
	client := newFakeClient(map[string]map[string]any{scoreboard: scoreboardAnswer()})
	g := &fakeGrounder{box: artifact.Box{10, 20, 110, 60}}
	frames := &fakeFrames{}
	r := newRunner(t, out, Collaborators{Client: client, Prompts: namePrompts{}, Grounder: g, Frames: frames}, nil)

	res := r.Process(t.Context(), clip("1", scoreboard))
	if res.Status != SegmentProcessed {
		t.Fatalf("Status = %s (%v)", res.Status, res.Err)
	}
	if len(res.Plan.Run) != 1 || res.Plan.Run[0] != scoreboard {
		t.Errorf("Plan.Run = %v", res.Plan.Run)
	}

	got, err := record.Load(res.OutputPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got.Annotations) != 1 {
		t.Fatalf("annotations = %d, want 1", len(got.Annotations))
	}
	a := got.Annotations[0]
	if a.ID != "1" || a.TaskL2 != scoreboard || a.TaskL1 != "Understanding" || a.Reviewed {
		t.Errorf("annotation = %+v", a)
	}
	box, _ := a.Get("bounding_box")
	if list, ok := box.([]any); !ok || len(list) != 4 {
		t.Errorf("bounding_box = %v, want grounded box", box)
	}
	if len(frames.frames) != 1 || frames.frames[0] != 3 {
		t.Errorf("extracted frames = %v, want [3]", frames.frames)
	}
	if client.cleanups != 1 {
		t.Errorf("cleanups = %d, want 1", client.cleanups)
	}
}

func TestProcess_ResumeSkipsSatisfiedTasks(t *testing.T) {
	out := t.TempDir()
	client := newFakeClient(map[string]map[string]any{
		scoreboard: scoreboardAnswer(),
		multiple:   {"question": "How did the score change?", "answer": "1-1 to 2-1"},
	})
	client.errs[multiple] = errors.New("quota exceeded")
	c := metrics.NewCollector("fake", "fake", "", "run-1")
	r := newRunner(t, out, Collaborators{Client: client, Prompts: namePrompts{}}, c)
	seg := clip("7", scoreboard, multiple)

	first := r.Process(t.Context(), seg)
	if first.Status != SegmentProcessed {
		t.Fatalf("first Status = %s", first.Status)
	}
	if got := first.Succeeded(); len(got) != 1 || got[0] != scoreboard {
		t.Errorf("first Succeeded = %v", got)
	}

	delete(client.errs, multiple)
	second := r.Process(t.Context(), seg)
	if len(second.Plan.Run) != 1 || second.Plan.Run[0] != multiple {
		t.Errorf("second Plan.Run = %v, want only the failed task", second.Plan.Run)
	}
	if client.calls[scoreboard] != 1 {
		t.Errorf("scoreboard annotated %d times, want 1", client.calls[scoreboard])
	}

	third := r.Process(t.Context(), seg)
	if third.Status != SegmentSkipped || !third.Plan.Done() {
		t.Errorf("third = %s %+v, want skipped with nothing to run", third.Status, third.Plan)
	}

	got, err := record.Load(third.OutputPath)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Annotations) != 2 || got.Annotations[0].ID != "1" || got.Annotations[1].ID != "2" {
		t.Errorf("annotations = %+v", got.Annotations)
	}

	s := c.Snapshot()
	if s.TasksFailed != 1 || s.FailedByTask[multiple] != 1 || s.TasksSucceeded != 2 {
		t.Errorf("snapshot = %+v", s)
	}
	if s.SegmentsProcessed != 2 || s.SegmentsSkipped != 1 {
		t.Errorf("segments processed=%d skipped=%d", s.SegmentsProcessed, s.SegmentsSkipped)
	}
}

func TestProcess_RejectedAnnotationNotMerged(t *testing.T) {
	out := t.TempDir()
	bad := scoreboardAnswer()
	bad["bounding_box"] = []any{float64(50), float64(50), float64(10), float64(10)}
	client := newFakeClient(map[string]map[string]any{scoreboard: bad})
	r := newRunner(t, out, Collaborators{Client: client, Prompts: namePrompts{}}, nil)

	res := r.Process(t.Context(), clip("2", scoreboard))
	if len(res.Outcomes) != 1 || res.Outcomes[0].OK() {
		t.Fatalf("outcomes = %+v", res.Outcomes)
	}
	if _, err := os.Stat(res.OutputPath); !os.IsNotExist(err) {
		t.Errorf("output written for rejected annotation: %v", err)
	}
}

func TestProcess_ReplacesInvalidKeepsReviewed(t *testing.T) {
	out := t.TempDir()
	seg := clip("3", multiple, scoreboard)
	existing := types.NewOutput(seg)
	existing.Annotations = []types.Annotation{
		{TaskL1: "Understanding", TaskL2: multiple, Reviewed: true, Fields: map[string]any{"answer": "kept"}},
		{TaskL1: "Understanding", TaskL2: scoreboard, Fields: map[string]any{"bounding_box": []any{1.0, 2.0}}},
	}
	record.Renumber(existing)
	path := record.Path(out, seg.Key())
	if err := record.Save(path, existing); err != nil {
		t.Fatal(err)
	}

	client := newFakeClient(map[string]map[string]any{scoreboard: scoreboardAnswer()})
	r := newRunner(t, out, Collaborators{Client: client, Prompts: namePrompts{}}, nil)
	res := r.Process(t.Context(), seg)
	if len(res.Plan.Invalid) != 1 || res.Plan.Invalid[0].Task != scoreboard {
		t.Fatalf("Plan.Invalid = %+v", res.Plan.Invalid)
	}

	got, err := record.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Annotations) != 2 {
		t.Fatalf("annotations = %d", len(got.Annotations))
	}
	if a := got.Annotations[0]; a.TaskL2 != multiple || !a.Reviewed || a.ID != "1" {
		t.Errorf("untouched annotation = %+v", a)
	}
	if a := got.Annotations[1]; a.TaskL2 != scoreboard || a.Reviewed || a.ID != "2" {
		t.Errorf("replaced annotation = %+v", a)
	}
	// No grounder configured: the description is kept.
	if v, _ := got.Annotations[1].Get("bounding_box"); v != "the scoreboard in the top left corner" {
		t.Errorf("bounding_box = %v", v)
	}
}

func TestProcess_TrackingWritesSideFile(t *testing.T) {
	out := t.TempDir()
	client := newFakeClient(map[string]map[string]any{objTrack: trackingAnswer()})
	tr := &fakeTracker{}
	collab := Collaborators{
		Client:   client,
		Prompts:  namePrompts{},
		Grounder: &fakeGrounder{box: artifact.Box{10, 10, 50, 90}},
		Frames:   &fakeFrames{},
		Tracker:  tr,
	}
	r := newRunner(t, out, collab, nil)
	seg := clip("4", objTrack)

	res := r.Process(t.Context(), seg)
	if res.Status != SegmentProcessed || len(res.Succeeded()) != 1 {
		t.Fatalf("result = %+v", res)
	}
	if tr.req.StartFrame != 2 || tr.req.EndFrame != 4 || tr.req.Box != (artifact.Box{10, 10, 50, 90}) {
		t.Errorf("track request = %+v", tr.req)
	}

	got, err := record.Load(res.OutputPath)
	if err != nil {
		t.Fatal(err)
	}
	a := got.Annotations[0]
	ref := a.TrackingRef()
	if ref != artifact.Ref(seg.Key(), objTrack) {
		t.Fatalf("ref = %q", ref)
	}
	if a.TaskL1 != "Perception" {
		t.Errorf("task_L1 = %q", a.TaskL1)
	}
	rows, err := artifact.ReadMOT(filepath.Join(out, filepath.FromSlash(ref)))
	if err != nil {
		t.Fatalf("ReadMOT: %v", err)
	}
	if len(rows) != 3 || rows[0].Frame != 1 || rows[0].TrackID != 1 || rows[0].Width != 40 {
		t.Errorf("rows = %+v", rows)
	}

	// Re-running the task rewrites the same side file and keeps it.
	if err := os.Remove(res.OutputPath); err != nil {
		t.Fatal(err)
	}
	again := r.Process(t.Context(), seg)
	if len(again.Reconcile.Candidates()) != 0 {
		t.Errorf("reconcile candidates = %v, want none", again.Reconcile.Candidates())
	}
	if _, err := os.Stat(filepath.Join(out, filepath.FromSlash(ref))); err != nil {
		t.Errorf("side file gone: %v", err)
	}
}

func TestProcess_InlineTrackingWithoutTracker(t *testing.T) {
	out := t.TempDir()
	answer := trackingAnswer()
	answer["first_bounding_box"] = []any{1.0, 1.0, 5.0, 5.0}
	answer["tracking_bboxes"] = []any{
		[]any{1.0, 1.0, 5.0, 5.0},
		[]any{2.0, 1.0, 6.0, 5.0},
	}
	client := newFakeClient(map[string]map[string]any{objTrack: answer})
	r := newRunner(t, out, Collaborators{Client: client, Prompts: namePrompts{}}, nil)

	res := r.Process(t.Context(), clip("5", objTrack))
	if len(res.Succeeded()) != 1 {
		t.Fatalf("outcomes = %+v", res.Outcomes)
	}
	got, err := record.Load(res.OutputPath)
	if err != nil {
		t.Fatal(err)
	}
	ref := got.Annotations[0].TrackingRef()
	rows, err := artifact.ReadMOT(filepath.Join(out, filepath.FromSlash(ref)))
	if err != nil {
		t.Fatalf("ReadMOT(%q): %v", ref, err)
	}
	if len(rows) != 2 {
		t.Errorf("rows = %+v", rows)
	}
}

func TestProcess_UploadFailureFailsAllTasks(t *testing.T) {
	out := t.TempDir()
	client := newFakeClient(nil)
	client.uploadErr = errors.New("network down")
	r := newRunner(t, out, Collaborators{Client: client, Prompts: namePrompts{}}, nil)

	res := r.Process(t.Context(), clip("6", scoreboard, multiple))
	if len(res.Outcomes) != 2 {
		t.Fatalf("outcomes = %d", len(res.Outcomes))
	}
	for _, o := range res.Outcomes {
		if o.OK() {
			t.Errorf("%s succeeded", o.Task)
		}
	}
	if client.cleanups != 0 {
		t.Errorf("cleanup called without upload")
	}
}

func TestProcess_CorruptOutputFailsSegment(t *testing.T) {
	out := t.TempDir()
	seg := clip("8", scoreboard)
	path := record.Path(out, seg.Key())
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("{broken"), 0o644); err != nil {
		t.Fatal(err)
	}
	client := newFakeClient(map[string]map[string]any{scoreboard: scoreboardAnswer()})
	r := newRunner(t, out, Collaborators{Client: client, Prompts: namePrompts{}}, nil)

	res := r.Process(t.Context(), seg)
	if res.Status != SegmentFailed || res.Err == nil {
		t.Fatalf("result = %+v", res)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "{broken" {
		t.Error("corrupt output was overwritten")
	}
	if client.uploads != 0 {
		t.Error("model called for a failed segment")
	}
}

func TestProcess_IneligibleSegmentSkipped(t *testing.T) {
	client := newFakeClient(nil)
	r := newRunner(t, t.TempDir(), Collaborators{Client: client, Prompts: namePrompts{}}, nil)
	if res := r.Process(t.Context(), clip("9")); res.Status != SegmentSkipped {
		t.Errorf("Status = %s", res.Status)
	}
}

func TestProcess_UnknownTaskInert(t *testing.T) {
	client := newFakeClient(nil)
	c := metrics.NewCollector("", "", "", "")
	r := newRunner(t, t.TempDir(), Collaborators{Client: client, Prompts: namePrompts{}}, c)
	res := r.Process(t.Context(), clip("10", "Made_Up_Task"))
	if res.Status != SegmentSkipped || len(res.Plan.Unknown) != 1 {
		t.Errorf("result = %+v", res)
	}
	if client.uploads != 0 {
		t.Error("unknown task triggered an upload")
	}
	if c.Snapshot().TasksUnknown != 1 {
		t.Error("unknown task not counted")
	}
}

func TestProcess_DropsSideFileRefsFromAnswer(t *testing.T) {
	out := t.TempDir()
	client := newFakeClient(map[string]map[string]any{multiple: {
		"question":     "How did the score change?",
		"answer":       "1-1 to 2-1",
		"mot_file":     "/etc/hosts",
		"tracking_ref": "soccer/derby/mot/9_Object_Tracking.txt",
		"tracking_bboxes": map[string]any{
			"mot_file": "soccer/derby/mot/9_ScoreboardMultiple.txt",
			"format":   "MOTChallenge",
		},
	}})
	r := newRunner(t, out, Collaborators{Client: client, Prompts: namePrompts{}}, nil)

	res := r.Process(t.Context(), clip("9", multiple))
	if len(res.Succeeded()) != 1 {
		t.Fatalf("outcomes = %+v", res.Outcomes)
	}
	got, err := record.Load(res.OutputPath)
	if err != nil {
		t.Fatal(err)
	}
	a := got.Annotations[0]
	if ref := a.TrackingRef(); ref != "" {
		t.Errorf("TrackingRef = %q, want none", ref)
	}
	for _, key := range []string{types.KeyMOTFile, types.KeyTrackingRef, types.KeyTrackingBBoxes} {
		if _, ok := a.Get(key); ok {
			t.Errorf("%s kept from the model answer", key)
		}
	}
	if answer, _ := a.Get("answer"); answer != "1-1 to 2-1" {
		t.Errorf("answer = %v", answer)
	}
}

func TestClipFrame(t *testing.T) {
	seg := clip("1")
	tests := []struct{ in, want int }{
		{0, 0},
		{49, 49},
		{100, 0},
		{120, 20},
		{150, 150},
	}
	for _, tt := range tests {
		if got := clipFrame(seg, tt.in); got != tt.want {
			t.Errorf("clipFrame(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestNewSegmentRunner_RequiresCollaborators(t *testing.T) {
	if _, err := NewSegmentRunner(SegmentConfig{OutputRoot: "/out"}, Collaborators{Prompts: namePrompts{}}); err == nil {
		t.Error("expected error without client")
	}
	if _, err := NewSegmentRunner(SegmentConfig{OutputRoot: "/out"}, Collaborators{Client: newFakeClient(nil)}); err == nil {
		t.Error("expected error without prompts")
	}
}
