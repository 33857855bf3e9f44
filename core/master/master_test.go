package master

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pyropy/gfs/core/model"
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

type createdChunk struct {
	addr   string
	handle model.ChunkHandle
}

type recorder struct {
	mu    sync.Mutex
	calls []createdChunk
}

func (r *recorder) create(_ context.Context, addr string, handle model.ChunkHandle, _ int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, createdChunk{addr: addr, handle: handle})
	return nil
}

func newTestMaster(t *testing.T, opts Options) (*Master, *fakeClock, *recorder) {
	t.Helper()

	clock := &fakeClock{t: time.Unix(1_000, 0)}
	rec := &recorder{}
	if opts.ReplicationFactor == 0 {
		opts.ReplicationFactor = 3
	}
	opts.LeaseDuration = time.Minute
	opts.HeartbeatInterval = 10 * time.Second
	opts.Now = clock.Now
	opts.CreateChunk = rec.create

	m, err := NewMaster(context.Background(), opts)
	if err != nil {
		t.Fatal(err)
	}

	return m, clock, rec
}

func registerServers(m *Master, n int) []uuid.UUID {
	ids := make([]uuid.UUID, 0, n)
	for i := 0; i < n; i++ {
		ids = append(ids, m.RegisterChunkServer(fmt.Sprintf("127.0.0.1:%d", 7000+i), uuid.Nil))
	}
	return ids
}

func TestCreateFile(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestMaster(t, Options{})

	if err := m.CreateFile(ctx, "/a"); err != nil {
		t.Fatal(err)
	}

	if err := m.CreateFile(ctx, "/a"); !errors.Is(err, model.ErrFileExists) {
		t.Fatalf("second create: %v", err)
	}

	info, err := m.GetFileInfo("/a")
	if err != nil {
		t.Fatal(err)
	}
	if info.Length != 0 || len(info.Chunks) != 0 {
		t.Fatalf("new file info = %+v", info)
	}

	if _, err := m.GetFileInfo("/missing"); !errors.Is(err, model.ErrFileNotFound) {
		t.Fatalf("missing file: %v", err)
	}
}

func TestAllocateChunk(t *testing.T) {
	ctx := context.Background()
	m, _, rec := newTestMaster(t, Options{})
	registerServers(m, 4)

	if _, err := m.AllocateChunk(ctx, "/missing", 0); !errors.Is(err, model.ErrFileNotFound) {
		t.Fatalf("allocate on missing file: %v", err)
	}

	m.CreateFile(ctx, "/a")
	m.CreateFile(ctx, "/b")

	first, err := m.AllocateChunk(ctx, "/a", 0)
	if err != nil {
		t.Fatal(err)
	}
	second, err := m.AllocateChunk(ctx, "/b", 0)
	if err != nil {
		t.Fatal(err)
	}
	third, err := m.AllocateChunk(ctx, "/a", 1)
	if err != nil {
		t.Fatal(err)
	}

	if !(first.Handle < second.Handle && second.Handle < third.Handle) {
		t.Fatalf("handles not increasing: %d %d %d", first.Handle, second.Handle, third.Handle)
	}

	if len(first.Replicas) != 3 {
		t.Fatalf("replicas = %d, want 3", len(first.Replicas))
	}

	seen := map[uuid.UUID]bool{}
	for _, r := range first.Replicas {
		if seen[r.ID] {
			t.Fatalf("replica %s selected twice", r.ID)
		}
		seen[r.ID] = true
	}

	if first.Primary != first.Replicas[0].ID {
		t.Fatal("lease not granted to the first replica")
	}

	if first.Version != 1 {
		t.Fatalf("version = %d, want 1", first.Version)
	}

	again, err := m.AllocateChunk(ctx, "/a", 0)
	if err != nil {
		t.Fatal(err)
	}
	if again.Handle != first.Handle {
		t.Fatal("allocating a mapped index created a new chunk")
	}

	if len(rec.calls) != 9 {
		t.Fatalf("chunk creations = %d, want 9", len(rec.calls))
	}
}

func TestAllocateChunkInsufficientReplicas(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestMaster(t, Options{})
	registerServers(m, 2)
	m.CreateFile(ctx, "/a")

	_, err := m.AllocateChunk(ctx, "/a", 0)
	if !errors.Is(err, model.ErrInsufficientReplicas) {
		t.Fatalf("err = %v", err)
	}

	info, _ := m.GetFileInfo("/a")
	if len(info.Chunks) != 0 {
		t.Fatal("failed allocation left a mapping behind")
	}
}

func TestAllocateSkipsEvictedServers(t *testing.T) {
	ctx := context.Background()
	m, clock, _ := newTestMaster(t, Options{})
	ids := registerServers(m, 4)
	m.CreateFile(ctx, "/a")

	clock.Advance(15 * time.Second)
	for _, id := range ids[1:] {
		if ok, _ := m.Heartbeat(ctx, id, "", nil, 0); !ok {
			t.Fatal("live server asked to re-register")
		}
	}
	clock.Advance(10 * time.Second)

	evicted := m.DetectFailures()
	if len(evicted) != 1 || evicted[0] != ids[0] {
		t.Fatalf("evicted = %v, want [%s]", evicted, ids[0])
	}

	for i := 0; i < 5; i++ {
		locations, err := m.AllocateChunk(ctx, "/a", i)
		if err != nil {
			t.Fatal(err)
		}
		for _, r := range locations.Replicas {
			if r.ID == ids[0] {
				t.Fatal("evicted server selected as replica")
			}
		}
	}

	if ok, _ := m.Heartbeat(ctx, ids[0], "", nil, 0); ok {
		t.Fatal("evicted server not asked to re-register")
	}
}

func TestLeaseReassignment(t *testing.T) {
	ctx := context.Background()
	m, clock, _ := newTestMaster(t, Options{})
	registerServers(m, 3)
	m.CreateFile(ctx, "/a")

	first, err := m.AllocateChunk(ctx, "/a", 0)
	if err != nil {
		t.Fatal(err)
	}

	// keep every server but the primary alive past the lease
	clock.Advance(15 * time.Second)
	for _, r := range first.Replicas[1:] {
		m.Heartbeat(ctx, r.ID, "", nil, 0)
	}
	clock.Advance(10 * time.Second)
	m.DetectFailures()
	clock.Advance(40 * time.Second)
	for _, r := range first.Replicas[1:] {
		m.Heartbeat(ctx, r.ID, "", nil, 0)
	}

	got, err := m.GetChunkLocations(ctx, "/a", 0, false)
	if err != nil {
		t.Fatal(err)
	}

	if got.Primary != first.Replicas[1].ID {
		t.Fatalf("primary = %s, want %s", got.Primary, first.Replicas[1].ID)
	}

	if len(got.Replicas) != len(first.Replicas) {
		t.Fatal("reassignment changed the replica set")
	}
	for i := range got.Replicas {
		if got.Replicas[i] != first.Replicas[i] {
			t.Fatal("reassignment changed the replica set")
		}
	}

	if !got.LeaseExpiry.After(clock.Now()) {
		t.Fatal("reassigned lease already expired")
	}
}

func TestLeaseKeptWhenNoReplicaLive(t *testing.T) {
	ctx := context.Background()
	m, clock, _ := newTestMaster(t, Options{})
	registerServers(m, 3)
	m.CreateFile(ctx, "/a")

	first, _ := m.AllocateChunk(ctx, "/a", 0)

	clock.Advance(2 * time.Minute)
	m.DetectFailures()

	got, err := m.GetChunkLocations(ctx, "/a", 0, false)
	if err != nil {
		t.Fatal(err)
	}

	if got.Primary != first.Primary {
		t.Fatal("primary changed with no live replica")
	}
}

func TestGetChunkLocations(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestMaster(t, Options{})
	registerServers(m, 3)
	m.CreateFile(ctx, "/a")

	if _, err := m.GetChunkLocations(ctx, "/a", 0, false); !errors.Is(err, model.ErrChunkNotFound) {
		t.Fatalf("read of unmapped chunk: %v", err)
	}

	allocated, err := m.GetChunkLocations(ctx, "/a", 0, true)
	if err != nil {
		t.Fatal(err)
	}

	got, err := m.GetChunkLocations(ctx, "/a", 0, false)
	if err != nil {
		t.Fatal(err)
	}
	if got.Handle != allocated.Handle {
		t.Fatal("lookup returned a different chunk")
	}
}

func TestGetLastChunk(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestMaster(t, Options{})
	registerServers(m, 3)
	m.CreateFile(ctx, "/a")

	zero, err := m.GetLastChunk(ctx, "/a")
	if err != nil {
		t.Fatal(err)
	}
	if zero.Index != 0 {
		t.Fatalf("index = %d, want 0", zero.Index)
	}

	m.AllocateChunk(ctx, "/a", 1)
	last, err := m.GetLastChunk(ctx, "/a")
	if err != nil {
		t.Fatal(err)
	}
	if last.Index != 1 {
		t.Fatalf("index = %d, want 1", last.Index)
	}
}

func TestUpdateFileLengthIsMonotonic(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestMaster(t, Options{})
	m.CreateFile(ctx, "/a")

	for _, tt := range []struct{ in, want int }{{10, 10}, {5, 10}, {42, 42}} {
		got, err := m.UpdateFileLength(ctx, "/a", tt.in)
		if err != nil {
			t.Fatal(err)
		}
		if got != tt.want {
			t.Fatalf("UpdateFileLength(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestList(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestMaster(t, Options{})
	for _, p := range []string{"/logs/b", "/data/x", "/logs/a"} {
		m.CreateFile(ctx, p)
	}

	got := m.List("/logs/")
	if len(got) != 2 || got[0] != "/logs/a" || got[1] != "/logs/b" {
		t.Fatalf("List = %v", got)
	}

	if all := m.List(""); len(all) != 3 {
		t.Fatalf("List(\"\") = %v", all)
	}
}

func TestRegisterKeepsPreviousID(t *testing.T) {
	m, _, _ := newTestMaster(t, Options{})

	id := m.RegisterChunkServer("127.0.0.1:1", uuid.Nil)
	if again := m.RegisterChunkServer("127.0.0.1:1", id); again != id {
		t.Fatal("same server got a new id")
	}

	if other := m.RegisterChunkServer("127.0.0.1:2", id); other == id {
		t.Fatal("id of a live server handed to another address")
	}
}

func TestHeartbeatRaisesChunkVersion(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestMaster(t, Options{})
	ids := registerServers(m, 3)
	m.CreateFile(ctx, "/a")
	locations, _ := m.AllocateChunk(ctx, "/a", 0)

	m.Heartbeat(ctx, ids[0], "", []model.Chunk{{Handle: locations.Handle, Version: 4}}, 1<<20)

	got, _ := m.GetChunkLocations(ctx, "/a", 0, false)
	if got.Version != 4 {
		t.Fatalf("version = %d, want 4", got.Version)
	}
}

func TestFindOrphanedChunks(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestMaster(t, Options{})
	ids := registerServers(m, 3)
	m.CreateFile(ctx, "/a")
	locations, _ := m.AllocateChunk(ctx, "/a", 0)

	m.Heartbeat(ctx, ids[0], "", []model.Chunk{{Handle: locations.Handle}, {Handle: 999}}, 0)
	m.Heartbeat(ctx, ids[1], "", []model.Chunk{{Handle: 999}}, 0)

	orphaned := m.FindOrphanedChunks()
	if len(orphaned) != 1 || orphaned[0] != 999 {
		t.Fatalf("orphaned = %v", orphaned)
	}
}

func TestMetadataSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := NewMetadataStore(filepath.Join(dir, "meta"))
	if err != nil {
		t.Fatal(err)
	}

	m, _, _ := newTestMaster(t, Options{Store: store})
	registerServers(m, 3)
	m.CreateFile(ctx, "/a")
	first, err := m.AllocateChunk(ctx, "/a", 0)
	if err != nil {
		t.Fatal(err)
	}
	m.UpdateFileLength(ctx, "/a", 11)
	if err := m.Close(); err != nil {
		t.Fatal(err)
	}

	store, err = NewMetadataStore(filepath.Join(dir, "meta"))
	if err != nil {
		t.Fatal(err)
	}

	restarted, _, _ := newTestMaster(t, Options{Store: store})
	defer restarted.Close()

	info, err := restarted.GetFileInfo("/a")
	if err != nil {
		t.Fatal(err)
	}
	if info.Length != 11 || info.Chunks[0] != first.Handle {
		t.Fatalf("restored file = %+v", info)
	}

	registerServers(restarted, 3)
	restarted.CreateFile(ctx, "/b")
	next, err := restarted.AllocateChunk(ctx, "/b", 0)
	if err != nil {
		t.Fatal(err)
	}
	if next.Handle <= first.Handle {
		t.Fatalf("handle %d reused after restart", next.Handle)
	}
}

func TestOpLogRecordsMutations(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "op.log")

	oplog, err := NewOpLog(path)
	if err != nil {
		t.Fatal(err)
	}

	m, _, _ := newTestMaster(t, Options{OpLog: oplog})
	m.CreateFile(ctx, "/a")
	m.UpdateFileLength(ctx, "/a", 3)
	m.Close()

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var ops []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var record map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			t.Fatalf("record %q: %v", scanner.Text(), err)
		}
		ops = append(ops, record["op"].(string))
	}

	if len(ops) != 2 || ops[0] != "create" || ops[1] != "length" {
		t.Fatalf("ops = %v", ops)
	}
}

func TestHaveLease(t *testing.T) {
	ls := NewLeaseStore()
	now := time.Unix(1_000, 0)

	if ls.HaveLease(1, now) {
		t.Fatal("lease reported for unleased chunk")
	}

	ls.GrantLease(1, uuid.New(), now, time.Minute)
	if !ls.HaveLease(1, now.Add(30*time.Second)) {
		t.Fatal("lease missing before expiry")
	}
	if ls.HaveLease(1, now.Add(2*time.Minute)) {
		t.Fatal("expired lease reported")
	}
}

func TestGetConfigDefaults(t *testing.T) {
	cfg, err := GetConfig()
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Chunks.ReplicationFactor != 3 || cfg.Lease.Duration != time.Minute || cfg.Heartbeat.Interval != 10*time.Second {
		t.Fatalf("config = %+v", cfg)
	}
}
