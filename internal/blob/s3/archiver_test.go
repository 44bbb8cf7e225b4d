package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/escrowd/internal/domain"
)

type memBlobs struct {
	objects   map[string][]byte
	multipart []string
}

func newMemBlobs() *memBlobs { return &memBlobs{objects: map[string][]byte{}} }

func (m *memBlobs) Put(_ context.Context, p string, data io.Reader, _ string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.objects[p] = b
	return nil
}

func (m *memBlobs) PutMultipart(ctx context.Context, p string, data io.Reader, _ int64) error {
	m.multipart = append(m.multipart, p)
	return m.Put(ctx, p, data, "")
}

func (m *memBlobs) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	var out []domain.BlobInfo
	for p, b := range m.objects {
		if strings.HasPrefix(p, prefix) {
			out = append(out, domain.BlobInfo{Path: p, Size: int64(len(b))})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

type sliceSource []domain.Event

func (s sliceSource) List(_ context.Context, from uint64, limit int) ([]domain.Event, error) {
	var out []domain.Event
	for _, e := range s {
		if e.Seq >= from {
			out = append(out, e)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

type memAudit struct{ events []string }

func (m *memAudit) Log(_ context.Context, event string, _ map[string]any) error {
	m.events = append(m.events, event)
	return nil
}

func (m *memAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func events(n int) sliceSource {
	out := make(sliceSource, n)
	for i := range out {
		out[i] = domain.Event{Seq: uint64(i + 1), Kind: domain.EventListingCreated, EntityID: uint64(i + 1)}
	}
	return out
}

func TestArchiveEventsWritesSegments(t *testing.T) {
	blobs := newMemBlobs()
	audit := &memAudit{}
	a := NewArchiver(events(5), blobs, blobs, audit, RunPrefix("run-1"), 2)

	last, n, err := a.ArchiveEvents(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(5), last)
	require.Equal(t, 5, n)
	require.Len(t, blobs.objects, 3)
	require.Len(t, audit.events, 3)

	seg := blobs.objects[segmentPath(RunPrefix("run-1"), 3, 4)]
	require.NotNil(t, seg)
	sc := bufio.NewScanner(bytes.NewReader(seg))
	var seqs []uint64
	for sc.Scan() {
		var e domain.Event
		require.NoError(t, json.Unmarshal(sc.Bytes(), &e))
		seqs = append(seqs, e.Seq)
	}
	require.Equal(t, []uint64{3, 4}, seqs)

	last, n, err = a.ArchiveEvents(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(5), last)
	require.Zero(t, n)
}

func TestArchiveEventsRecoversCursor(t *testing.T) {
	blobs := newMemBlobs()
	first := NewArchiver(events(3), blobs, blobs, nil, RunPrefix("run-1"), 10)
	_, _, err := first.ArchiveEvents(context.Background())
	require.NoError(t, err)

	restarted := NewArchiver(events(7), blobs, blobs, nil, RunPrefix("run-1"), 10)
	last, n, err := restarted.ArchiveEvents(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(7), last)
	require.Equal(t, 4, n)
	require.Contains(t, blobs.objects, segmentPath(RunPrefix("run-1"), 4, 7))

	other := NewArchiver(events(2), blobs, blobs, nil, RunPrefix("run-2"), 10)
	last, n, err = other.ArchiveEvents(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(2), last)
	require.Equal(t, 2, n)
}

func TestArchiveEventsUsesMultipartForLargeSegments(t *testing.T) {
	blobs := newMemBlobs()
	a := NewArchiver(events(4), blobs, blobs, nil, RunPrefix("run-1"), 2)
	small, err := marshalJSONL([]domain.Event(events(2)[:1]))
	require.NoError(t, err)
	// One event fits under the threshold, two do not.
	a.multipartAt = int64(len(small)) + 1

	_, n, err := a.ArchiveEvents(context.Background())
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.Equal(t, []string{
		segmentPath(RunPrefix("run-1"), 1, 2),
		segmentPath(RunPrefix("run-1"), 3, 4),
	}, blobs.multipart)
	require.Len(t, blobs.objects, 2)

	a = NewArchiver(events(5), blobs, blobs, nil, RunPrefix("run-1"), 2)
	a.multipartAt = int64(len(small)) + 1
	_, n, err = a.ArchiveEvents(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Len(t, blobs.multipart, 2)
	require.Contains(t, blobs.objects, segmentPath(RunPrefix("run-1"), 5, 5))
}

func TestParseSegmentPath(t *testing.T) {
	tests := []struct {
		path        string
		first, last uint64
		ok          bool
	}{
		{segmentPath(EventsPrefix, 1, 1000), 1, 1000, true},
		{"archive/events/00000000000000000007-00000000000000000009.jsonl", 7, 9, true},
		{"archive/events/readme.txt", 0, 0, false},
		{"archive/events/9-3.jsonl", 0, 0, false},
		{"archive/events/a-b.jsonl", 0, 0, false},
	}
	for _, tt := range tests {
		first, last, ok := parseSegmentPath(tt.path)
		require.Equal(t, tt.ok, ok, tt.path)
		require.Equal(t, tt.first, first, tt.path)
		require.Equal(t, tt.last, last, tt.path)
	}
}

func TestRunPrefix(t *testing.T) {
	require.Equal(t, "archive/events/abc/", RunPrefix("/abc/"))
}

func TestObjectKey(t *testing.T) {
	require.Equal(t, "a/b.jsonl", objectKey("", "/a/b.jsonl"))
	require.Equal(t, "escrowd/a/b.jsonl", objectKey("escrowd", "a/b.jsonl"))
}
