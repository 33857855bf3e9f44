package chunkserver

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pyropy/gfs/core/model"
	"github.com/pyropy/gfs/lib/checksum"
	chunkServerRPC "github.com/pyropy/gfs/rpc/chunkserver"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestChunkServer(t *testing.T, root, metadataPath string) (*ChunkServer, *fakeClock) {
	t.Helper()

	store, err := NewMetadataStore(metadataPath)
	if err != nil {
		t.Fatal(err)
	}

	clock := &fakeClock{t: time.Unix(1_000, 0)}
	opts := Options{
		Root:           root,
		ChunkSizeBytes: 64,
		BlockSizeBytes: 16,
		TxnTimeout:     time.Minute,
		Now:            clock.Now,
	}

	ctx, cancel := context.WithCancel(context.Background())
	c, err := NewChunkServer(ctx, opts, store)
	if err != nil {
		t.Fatal(err)
	}

	c.Start(ctx)
	t.Cleanup(func() {
		cancel()
		c.Close()
	})

	return c, clock
}

func write(t *testing.T, c *ChunkServer, handle model.ChunkHandle, data string, offset int) WriteResult {
	t.Helper()

	res, err := c.Write(context.Background(), handle, []byte(data), checksum.CalculateCheckSum([]byte(data)), offset, 0)
	if err != nil {
		t.Fatal(err)
	}
	return res
}

func read(t *testing.T, c *ChunkServer, handle model.ChunkHandle) string {
	t.Helper()

	data, _, _, err := c.Read(handle)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func TestWriteAndRead(t *testing.T) {
	c, _ := newTestChunkServer(t, t.TempDir(), "")

	res := write(t, c, 1, "Hello", 0)
	if res.BytesWritten != 5 || res.Length != 5 || res.Version != 1 {
		t.Fatalf("first write = %+v", res)
	}

	res = write(t, c, 1, " World", 5)
	if res.Length != 11 || res.Version != 2 {
		t.Fatalf("second write = %+v", res)
	}

	// overwriting inside the chunk keeps the length
	res = write(t, c, 1, "J", 0)
	if res.Length != 11 {
		t.Fatalf("overwrite length = %d", res.Length)
	}

	if got := read(t, c, 1); got != "Jello World" {
		t.Fatalf("read = %q", got)
	}
}

func TestWriteValidation(t *testing.T) {
	c, _ := newTestChunkServer(t, t.TempDir(), "")
	ctx := context.Background()
	data := []byte("abc")

	if _, err := c.Write(ctx, 1, data, 0, 0, 0); !errors.Is(err, ErrChecksumNotMatching) {
		t.Fatalf("bad checksum: %v", err)
	}

	if _, err := c.Write(ctx, 1, data, checksum.CalculateCheckSum(data), 62, 0); !errors.Is(err, ErrChunkOverflow) {
		t.Fatalf("overflow: %v", err)
	}

	if _, err := c.Write(ctx, 1, data, checksum.CalculateCheckSum(data), -1, 0); !errors.Is(err, ErrInvalidOffset) {
		t.Fatalf("negative offset: %v", err)
	}
}

func TestWriteVersion(t *testing.T) {
	c, _ := newTestChunkServer(t, t.TempDir(), "")
	ctx := context.Background()
	data := []byte("x")
	sum := checksum.CalculateCheckSum(data)

	for _, tt := range []struct {
		given, want int
	}{
		{5, 5},
		{0, 6},
		{9, 9},
	} {
		res, err := c.Write(ctx, 1, data, sum, 0, tt.given)
		if err != nil {
			t.Fatal(err)
		}
		if res.Version != tt.want {
			t.Fatalf("write with version %d -> %d, want %d", tt.given, res.Version, tt.want)
		}
	}
}

func TestReadMissingChunk(t *testing.T) {
	c, _ := newTestChunkServer(t, t.TempDir(), "")

	data, _, found, err := c.Read(42)
	if err != nil || found || len(data) != 0 {
		t.Fatalf("Read(42) = %q, %v, %v", data, found, err)
	}
}

func TestAppendIsIdempotent(t *testing.T) {
	c, _ := newTestChunkServer(t, t.TempDir(), "")
	ctx := context.Background()
	data := []byte("entry")
	sum := checksum.CalculateCheckSum(data)
	requestID := uuid.New()

	first, err := c.Append(ctx, requestID, 1, data, sum, 0)
	if err != nil {
		t.Fatal(err)
	}

	again, err := c.Append(ctx, requestID, 1, data, sum, 0)
	if err != nil {
		t.Fatal(err)
	}

	if !again.Duplicate || again.Offset != first.Offset {
		t.Fatalf("repeated append = %+v, first = %+v", again, first)
	}

	if got := read(t, c, 1); got != "entry" {
		t.Fatalf("read after repeated append = %q", got)
	}

	second, err := c.Append(ctx, uuid.New(), 1, data, sum, 0)
	if err != nil {
		t.Fatal(err)
	}
	if second.Offset != 5 {
		t.Fatalf("second append offset = %d", second.Offset)
	}
}

func TestWriteAndTruncate(t *testing.T) {
	c, _ := newTestChunkServer(t, t.TempDir(), "")
	ctx := context.Background()

	write(t, c, 1, "AAAAAA", 0)

	res, err := c.WriteAndTruncate(ctx, 1, []byte("BB"), checksum.CalculateCheckSum([]byte("BB")), 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if res.Length != 2 {
		t.Fatalf("length = %d", res.Length)
	}
	if got := read(t, c, 1); got != "BB" {
		t.Fatalf("read = %q", got)
	}

	// cut bytes do not come back past a later write
	write(t, c, 1, "C", 3)
	if got := read(t, c, 1); got != "BB\x00C" {
		t.Fatalf("read = %q", got)
	}
}

func TestCreateChunk(t *testing.T) {
	c, _ := newTestChunkServer(t, t.TempDir(), "")
	ctx := context.Background()

	version, err := c.CreateChunk(ctx, 3, 1)
	if err != nil {
		t.Fatal(err)
	}
	if version != 1 {
		t.Fatalf("version = %d", version)
	}

	write(t, c, 3, "a", 0)

	// creating an existing chunk leaves it alone
	version, err = c.CreateChunk(ctx, 3, 1)
	if err != nil || version != 2 {
		t.Fatalf("second create = %d, %v", version, err)
	}

	if got := read(t, c, 3); got != "a" {
		t.Fatalf("read = %q", got)
	}
}

func prepare(c *ChunkServer, txnID uuid.UUID, handle model.ChunkHandle, data string, createdAt time.Time) (chunkServerRPC.Status, chunkServerRPC.Reason, int) {
	return c.PrepareAppend(txnID, handle, []byte(data), checksum.CalculateCheckSum([]byte(data)), createdAt)
}

func TestPrepareCommit(t *testing.T) {
	root := t.TempDir()
	c, clock := newTestChunkServer(t, root, "")
	ctx := context.Background()

	c.CreateChunk(ctx, 1, 1)
	write(t, c, 1, "head", 0)

	before, _ := c.GetChunk(1)

	txnID := uuid.New()
	status, reason, reserved := prepare(c, txnID, 1, "tail", clock.Now())
	if status != chunkServerRPC.StatusReady || reserved != 4 {
		t.Fatalf("prepare = %s %s at %d", status, reason, reserved)
	}

	// staged data is not visible before commit
	if got := read(t, c, 1); got != "head" {
		t.Fatalf("read before commit = %q", got)
	}

	res, err := c.CommitAppend(ctx, txnID)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != chunkServerRPC.StatusCommitted || res.Offset != 4 || res.Length != 8 {
		t.Fatalf("commit = %+v", res)
	}

	if got := read(t, c, 1); got != "headtail" {
		t.Fatalf("read after commit = %q", got)
	}

	after, _ := c.GetChunk(1)
	if after.Version != before.Version+1 {
		t.Fatalf("version = %d, want %d", after.Version, before.Version+1)
	}

	info, err := os.Stat(filepath.Join(root, GetChunkFilename(1)))
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != 16 {
		t.Fatalf("chunk file size = %d, want padding to 16", info.Size())
	}

	again, err := c.CommitAppend(ctx, txnID)
	if err != nil {
		t.Fatal(err)
	}
	if again.Status != chunkServerRPC.StatusAbort || again.Reason != chunkServerRPC.ReasonAlreadyCommitted || again.Offset != 4 {
		t.Fatalf("second commit = %+v", again)
	}

	if status, reason, _ := prepare(c, txnID, 1, "tail", clock.Now()); status != chunkServerRPC.StatusAbort || reason != chunkServerRPC.ReasonAlreadyCommitted {
		t.Fatalf("prepare after commit = %s %s", status, reason)
	}

	if got := read(t, c, 1); got != "headtail" {
		t.Fatalf("read after repeated commit = %q", got)
	}

	// the next commit lands at the logical end, over the padding
	next := uuid.New()
	prepare(c, next, 1, "!", clock.Now())
	if res, _ := c.CommitAppend(ctx, next); res.Offset != 8 {
		t.Fatalf("next commit offset = %d", res.Offset)
	}
	if got := read(t, c, 1); !bytes.Equal([]byte(got), []byte("headtail!")) {
		t.Fatalf("read = %q", got)
	}
}

func TestPrepareRejects(t *testing.T) {
	c, clock := newTestChunkServer(t, t.TempDir(), "")
	c.CreateChunk(context.Background(), 1, 1)
	now := clock.Now()

	tests := []struct {
		name      string
		handle    model.ChunkHandle
		data      string
		sum       int
		createdAt time.Time
		want      chunkServerRPC.Reason
	}{
		{"unknown chunk", 9, "x", checksum.CalculateCheckSum([]byte("x")), now, chunkServerRPC.ReasonInvalidChunk},
		{"timed out", 1, "x", checksum.CalculateCheckSum([]byte("x")), now.Add(-2 * time.Minute), chunkServerRPC.ReasonTimeout},
		{"bad checksum", 1, "x", 0, now, chunkServerRPC.ReasonChecksumMismatch},
		{"chunk full", 1, string(make([]byte, 65)), checksum.CalculateCheckSum(make([]byte, 65)), now, chunkServerRPC.ReasonChunkFull},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			txnID := uuid.New()
			status, reason, _ := c.PrepareAppend(txnID, tt.handle, []byte(tt.data), tt.sum, tt.createdAt)
			if status != chunkServerRPC.StatusAbort || reason != tt.want {
				t.Fatalf("prepare = %s %s, want ABORT %s", status, reason, tt.want)
			}
			if c.txns.Staged(txnID) {
				t.Fatal("rejected payload was staged")
			}
		})
	}
}

func TestPrepareReservesAfterStagedAppends(t *testing.T) {
	c, clock := newTestChunkServer(t, t.TempDir(), "")
	ctx := context.Background()
	c.CreateChunk(ctx, 1, 1)
	write(t, c, 1, "ab", 0)

	_, _, first := prepare(c, uuid.New(), 1, "cde", clock.Now())
	_, _, second := prepare(c, uuid.New(), 1, "fg", clock.Now())
	if first != 2 || second != 5 {
		t.Fatalf("reserved = %d, %d", first, second)
	}

	// staged bytes count against the chunk size
	status, reason, _ := prepare(c, uuid.New(), 1, string(make([]byte, 58)), clock.Now())
	if status != chunkServerRPC.StatusAbort || reason != chunkServerRPC.ReasonChunkFull {
		t.Fatalf("prepare past reservations = %s %s", status, reason)
	}
}

func TestReplicasAgreeWhenCommitsArriveOutOfOrder(t *testing.T) {
	ctx := context.Background()
	a, clockA := newTestChunkServer(t, t.TempDir(), "")
	b, _ := newTestChunkServer(t, t.TempDir(), "")

	t1, t2 := uuid.New(), uuid.New()
	for _, c := range []*ChunkServer{a, b} {
		c.CreateChunk(ctx, 1, 1)
		if status, reason, _ := prepare(c, t1, 1, "AAA", clockA.Now()); status != chunkServerRPC.StatusReady {
			t.Fatalf("prepare t1 = %s %s", status, reason)
		}
		if status, reason, _ := prepare(c, t2, 1, "BB", clockA.Now()); status != chunkServerRPC.StatusReady {
			t.Fatalf("prepare t2 = %s %s", status, reason)
		}
	}

	commit := func(c *ChunkServer, txnID uuid.UUID) CommitResult {
		t.Helper()
		res, err := c.CommitAppend(ctx, txnID)
		if err != nil {
			t.Fatal(err)
		}
		return res
	}

	if res := commit(a, t1); res.Status != chunkServerRPC.StatusCommitted || res.Offset != 0 {
		t.Fatalf("a t1 = %+v", res)
	}
	if res := commit(a, t2); res.Status != chunkServerRPC.StatusCommitted || res.Offset != 3 {
		t.Fatalf("a t2 = %+v", res)
	}

	// t2 waits on b until t1 is in
	if res := commit(b, t2); res.Status != chunkServerRPC.StatusAbort || res.Reason != chunkServerRPC.ReasonOffsetPending {
		t.Fatalf("b t2 before t1 = %+v", res)
	}
	if res := commit(b, t1); res.Status != chunkServerRPC.StatusCommitted || res.Offset != 0 {
		t.Fatalf("b t1 = %+v", res)
	}
	if res := commit(b, t2); res.Status != chunkServerRPC.StatusCommitted || res.Offset != 3 {
		t.Fatalf("b t2 = %+v", res)
	}

	gotA, gotB := read(t, a, 1), read(t, b, 1)
	if gotA != "AAABB" || gotB != "AAABB" {
		t.Fatalf("replica a = %q, replica b = %q", gotA, gotB)
	}
}

func TestCommitRejectsLostReservation(t *testing.T) {
	c, clock := newTestChunkServer(t, t.TempDir(), "")
	ctx := context.Background()
	c.CreateChunk(ctx, 1, 1)

	t1, t2 := uuid.New(), uuid.New()
	prepare(c, t1, 1, "AAA", clock.Now())
	prepare(c, t2, 1, "BB", clock.Now())
	c.AbortAppend(t1)

	res, err := c.CommitAppend(ctx, t2)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != chunkServerRPC.StatusAbort || res.Reason != chunkServerRPC.ReasonOffsetMismatch {
		t.Fatalf("commit after earlier abort = %+v", res)
	}
	if c.txns.Staged(t2) {
		t.Fatal("lost reservation still staged")
	}
	if got := read(t, c, 1); got != "" {
		t.Fatalf("content = %q", got)
	}

	// a fresh prepare reserves from the logical end again
	if _, _, offset := prepare(c, uuid.New(), 1, "BB", clock.Now()); offset != 0 {
		t.Fatalf("reserved = %d", offset)
	}
}

func TestCommitRejects(t *testing.T) {
	c, clock := newTestChunkServer(t, t.TempDir(), "")
	ctx := context.Background()
	c.CreateChunk(ctx, 1, 1)

	res, err := c.CommitAppend(ctx, uuid.New())
	if err != nil {
		t.Fatal(err)
	}
	if res.Reason != chunkServerRPC.ReasonInvalidTransaction {
		t.Fatalf("commit of unknown txn = %+v", res)
	}

	txnID := uuid.New()
	prepare(c, txnID, 1, "late", clock.Now())
	clock.Advance(2 * time.Minute)

	res, err = c.CommitAppend(ctx, txnID)
	if err != nil {
		t.Fatal(err)
	}
	if res.Reason != chunkServerRPC.ReasonTimeout {
		t.Fatalf("commit after timeout = %+v", res)
	}

	if got := read(t, c, 1); got != "" {
		t.Fatalf("timed out commit applied %q", got)
	}
}

func TestAbortAppend(t *testing.T) {
	c, clock := newTestChunkServer(t, t.TempDir(), "")
	ctx := context.Background()
	c.CreateChunk(ctx, 1, 1)

	txnID := uuid.New()
	prepare(c, txnID, 1, "gone", clock.Now())

	if status := c.AbortAppend(txnID); status != chunkServerRPC.StatusAborted {
		t.Fatalf("abort = %s", status)
	}
	if status := c.AbortAppend(txnID); status != chunkServerRPC.StatusAborted {
		t.Fatalf("second abort = %s", status)
	}

	res, _ := c.CommitAppend(ctx, txnID)
	if res.Status != chunkServerRPC.StatusAbort || res.Reason != chunkServerRPC.ReasonInvalidTransaction {
		t.Fatalf("commit after abort = %+v", res)
	}

	if got := read(t, c, 1); got != "" {
		t.Fatalf("aborted payload visible: %q", got)
	}
}

func TestMetadataSurvivesRestart(t *testing.T) {
	root := t.TempDir()
	metadataPath := filepath.Join(t.TempDir(), "meta")

	c, _ := newTestChunkServer(t, root, metadataPath)
	write(t, c, 7, "persisted", 0)
	id := uuid.New()
	if err := c.setID(context.Background(), id); err != nil {
		t.Fatal(err)
	}
	c.Close()

	restarted, _ := newTestChunkServer(t, root, metadataPath)

	if restarted.ID() != id {
		t.Fatalf("id = %s, want %s", restarted.ID(), id)
	}

	chunk, exists := restarted.GetChunk(7)
	if !exists || chunk.Length != 9 || chunk.Version != 1 {
		t.Fatalf("restored chunk = %+v, %v", chunk, exists)
	}

	if got := read(t, restarted, 7); got != "persisted" {
		t.Fatalf("read = %q", got)
	}
}
