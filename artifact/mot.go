package artifact

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/pithecene-io/gloss/iox"
)

// Box is a pixel box [xtl, ytl, xbr, ybr].
type Box [4]float64

// Width returns xbr - xtl.
func (b Box) Width() float64 { return b[2] - b[0] }

// Height returns ybr - ytl.
func (b Box) Height() float64 { return b[3] - b[1] }

// Drawable reports whether the box has positive width and height.
func (b Box) Drawable() bool { return b.Width() > 0 && b.Height() > 0 }

// Object is one tracked object: a box per clip-relative frame.
type Object struct {
	ID     int         `json:"id" msgpack:"id"`
	Frames map[int]Box `json:"frames" msgpack:"frames"`
}

// Tracking is per-object per-frame tracker output.
type Tracking struct {
	Objects []Object `json:"objects" msgpack:"objects"`
}

// Empty reports whether the tracking holds no drawable box.
func (t *Tracking) Empty() bool {
	if t == nil {
		return true
	}
	for _, o := range t.Objects {
		for _, b := range o.Frames {
			if b.Drawable() {
				return false
			}
		}
	}
	return true
}

// ParseTracking reads inline tracking data from a decoded JSON value
// ({"objects": [{"id": 0, "frames": {"12": [x1, y1, x2, y2]}}]}).
func ParseTracking(v any) (*Tracking, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("tracking data: %w", err)
	}
	var t Tracking
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("tracking data: %w", err)
	}
	return &t, nil
}

// Row is one MOTChallenge line.
type Row struct {
	Frame   int
	TrackID int
	Left    float64
	Top     float64
	Width   float64
	Height  float64
}

// String renders the row as frame,track_id,left,top,width,height,-1,-1,-1,-1.
func (r Row) String() string {
	return fmt.Sprintf("%d,%d,%.2f,%.2f,%.2f,%.2f,-1,-1,-1,-1",
		r.Frame, r.TrackID, r.Left, r.Top, r.Width, r.Height)
}

// Rows converts tracking output to MOT rows. Track ids are object id + 1,
// frames are shifted so the smallest emitted frame becomes 1, boxes with
// non-positive width or height are skipped, and rows are sorted by frame
// then track id.
func Rows(t *Tracking) []Row {
	if t == nil {
		return nil
	}
	var rows []Row
	for _, o := range t.Objects {
		for frame, b := range o.Frames {
			if !b.Drawable() {
				continue
			}
			rows = append(rows, Row{
				Frame:   frame,
				TrackID: o.ID + 1,
				Left:    b[0],
				Top:     b[1],
				Width:   b.Width(),
				Height:  b.Height(),
			})
		}
	}
	if len(rows) == 0 {
		return nil
	}
	minFrame := rows[0].Frame
	for _, r := range rows[1:] {
		minFrame = min(minFrame, r.Frame)
	}
	offset := 1 - minFrame
	for i := range rows {
		rows[i].Frame += offset
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Frame != rows[j].Frame {
			return rows[i].Frame < rows[j].Frame
		}
		return rows[i].TrackID < rows[j].TrackID
	})
	return rows
}

// EncodeMOT renders rows, one per line.
func EncodeMOT(rows []Row) []byte {
	var buf bytes.Buffer
	for _, r := range rows {
		buf.WriteString(r.String())
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// WriteMOT atomically writes rows to path.
func WriteMOT(path string, rows []Row) error {
	return iox.WriteFileAtomic(path, EncodeMOT(rows), 0o644)
}

// ReadMOT parses a MOTChallenge file. Blank lines are ignored.
func ReadMOT(path string) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer iox.DiscardClose(f)

	var rows []Row
	sc := bufio.NewScanner(f)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		r, err := parseRow(text)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		rows = append(rows, r)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return rows, nil
}

func parseRow(text string) (Row, error) {
	cols := strings.Split(text, ",")
	if len(cols) < 6 {
		return Row{}, fmt.Errorf("expected at least 6 columns, got %d", len(cols))
	}
	var (
		r   Row
		err error
	)
	if r.Frame, err = strconv.Atoi(strings.TrimSpace(cols[0])); err != nil {
		return Row{}, fmt.Errorf("frame: %w", err)
	}
	if r.TrackID, err = strconv.Atoi(strings.TrimSpace(cols[1])); err != nil {
		return Row{}, fmt.Errorf("track_id: %w", err)
	}
	geom := []*float64{&r.Left, &r.Top, &r.Width, &r.Height}
	for i, dst := range geom {
		if *dst, err = strconv.ParseFloat(strings.TrimSpace(cols[2+i]), 64); err != nil {
			return Row{}, fmt.Errorf("column %d: %w", 3+i, err)
		}
	}
	return r, nil
}
