package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strconv"
	"strings"
	"sync"

	"github.com/alanyoungcy/escrowd/internal/domain"
)

// EventsPrefix is the blob prefix archived segments are written under. Each
// engine run archives below its own run id.
const EventsPrefix = "archive/events/"

// RunPrefix returns the segment prefix of one engine run.
func RunPrefix(runID string) string {
	return EventsPrefix + strings.Trim(runID, "/") + "/"
}

// DefaultSegmentSize is the maximum number of events per archived segment.
const DefaultSegmentSize = 1_000

// DefaultMultipartThreshold is the encoded segment size from which uploads go
// through the multipart manager instead of a single PutObject.
const DefaultMultipartThreshold = 2 * MinPartSize

// EventSource yields committed events in sequence order.
type EventSource interface {
	List(ctx context.Context, fromSeq uint64, limit int) ([]domain.Event, error)
}

// EventArchiver implements domain.Archiver. Each run copies the events
// committed since the last archived sequence to JSONL segments named
// <prefix><first>-<last>.jsonl. On first use the cursor is recovered from the
// segment names already under prefix, so a restarted archiver never rewrites
// or skips a range.
//
// Archived events are not removed from the primary store.
type EventArchiver struct {
	source      EventSource
	writer      domain.BlobWriter
	reader      domain.BlobReader
	audit       domain.AuditStore
	prefix      string
	segmentSize int
	// multipartAt is the encoded segment size that switches to PutMultipart.
	multipartAt int64

	mu      sync.Mutex
	loaded  bool
	lastSeq uint64
}

// NewArchiver creates an EventArchiver writing below prefix (see RunPrefix).
// audit may be nil; segmentSize <= 0 uses DefaultSegmentSize.
func NewArchiver(source EventSource, writer domain.BlobWriter, reader domain.BlobReader, audit domain.AuditStore, prefix string, segmentSize int) *EventArchiver {
	if segmentSize <= 0 {
		segmentSize = DefaultSegmentSize
	}
	if prefix == "" {
		prefix = EventsPrefix
	}
	return &EventArchiver{
		source:      source,
		writer:      writer,
		reader:      reader,
		audit:       audit,
		prefix:      prefix,
		segmentSize: segmentSize,
		multipartAt: DefaultMultipartThreshold,
	}
}

// ArchiveEvents uploads every event newer than the archive cursor and returns
// the new cursor and the number of events written.
func (a *EventArchiver) ArchiveEvents(ctx context.Context) (uint64, int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.loaded {
		last, err := a.recoverCursor(ctx)
		if err != nil {
			return 0, 0, err
		}
		a.lastSeq, a.loaded = last, true
	}

	total := 0
	for {
		events, err := a.source.List(ctx, a.lastSeq+1, a.segmentSize)
		if err != nil {
			return a.lastSeq, total, fmt.Errorf("s3blob: archive events query: %w", err)
		}
		if len(events) == 0 {
			return a.lastSeq, total, nil
		}

		first, last := events[0].Seq, events[len(events)-1].Seq
		buf, err := marshalJSONL(events)
		if err != nil {
			return a.lastSeq, total, fmt.Errorf("s3blob: archive events marshal: %w", err)
		}
		p := segmentPath(a.prefix, first, last)
		if err := a.upload(ctx, p, buf); err != nil {
			return a.lastSeq, total, fmt.Errorf("s3blob: archive events upload: %w", err)
		}
		a.lastSeq = last
		total += len(events)

		if a.audit != nil {
			if err := a.audit.Log(ctx, "archive.events", map[string]any{
				"path":  p,
				"first": first,
				"last":  last,
				"count": len(events),
			}); err != nil {
				return a.lastSeq, total, fmt.Errorf("s3blob: archive events audit log: %w", err)
			}
		}
		if len(events) < a.segmentSize {
			return a.lastSeq, total, nil
		}
	}
}

func (a *EventArchiver) upload(ctx context.Context, p string, buf []byte) error {
	if int64(len(buf)) >= a.multipartAt {
		return a.writer.PutMultipart(ctx, p, bytes.NewReader(buf), MinPartSize)
	}
	return a.writer.Put(ctx, p, bytes.NewReader(buf), "application/x-ndjson")
}

func (a *EventArchiver) recoverCursor(ctx context.Context) (uint64, error) {
	infos, err := a.reader.List(ctx, a.prefix)
	if err != nil {
		return 0, fmt.Errorf("s3blob: list archived segments: %w", err)
	}
	var last uint64
	for _, info := range infos {
		if _, hi, ok := parseSegmentPath(info.Path); ok && hi > last {
			last = hi
		}
	}
	return last, nil
}

// segmentPath zero-pads both bounds so lexical and numeric order agree.
func segmentPath(prefix string, first, last uint64) string {
	return fmt.Sprintf("%s%020d-%020d.jsonl", prefix, first, last)
}

func parseSegmentPath(p string) (first, last uint64, ok bool) {
	name := strings.TrimSuffix(path.Base(p), ".jsonl")
	lo, hi, found := strings.Cut(name, "-")
	if !found || name == path.Base(p) {
		return 0, 0, false
	}
	first, err1 := strconv.ParseUint(lo, 10, 64)
	last, err2 := strconv.ParseUint(hi, 10, 64)
	if err1 != nil || err2 != nil || last < first {
		return 0, 0, false
	}
	return first, last, true
}

// marshalJSONL encodes records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.Archiver = (*EventArchiver)(nil)
