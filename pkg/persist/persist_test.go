package persist

import (
	"testing"
	"time"

	"github.com/mvickers/meshdeck/pkg/models"
	"github.com/mvickers/meshdeck/pkg/omap"
)

func openTestStore(t *testing.T) Adapter {
	t.Helper()
	adapter, err := Open(":memory:", nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { adapter.Close() })
	return adapter
}

func sampleSnapshot(deviceID string) *models.DeviceSnapshot {
	nodes := omap.New[models.NodeID, models.NodeRecord]()
	nodes.Set(4042674096, models.NodeRecord{
		Num:  4042674096,
		User: models.NodeUser{LongName: "Alice", PublicKey: []byte{0x4b, 0x01}},
	})
	nodes.Set(42, models.NodeRecord{
		Num:      42,
		Position: models.Position{LatitudeI: 450000000, LongitudeI: -750000000},
	})

	conversations := omap.New[models.ConversationKey, []models.Message]()
	conversations.Set(models.ChannelConversation(0), []models.Message{
		{CorrelationID: "c1", Conversation: models.ChannelConversation(0), Payload: "hi", AckState: models.AckAcknowledged},
	})

	sections := omap.New[string, models.SectionState]()
	sections.Set("bluetooth", models.SectionState{
		Committed: map[string]any{"enabled": true},
	})

	return &models.DeviceSnapshot{
		DeviceID:      deviceID,
		Name:          "bench radio",
		Phase:         models.PhaseConnected,
		Nodes:         nodes,
		Conversations: conversations,
		Sections:      sections,
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	adapter := openTestStore(t)
	snap := sampleSnapshot("dev-1")

	if err := adapter.Save("dev-1", snap); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	got, err := adapter.Load("dev-1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got == nil {
		t.Fatal("Load() returned absent for saved snapshot")
	}

	if got.DeviceID != "dev-1" || got.Name != "bench radio" || got.Phase != models.PhaseConnected {
		t.Errorf("scalar fields mismatch: %+v", got)
	}

	// Ordered-map shape survives: key order and key typing intact.
	wantKeys := []models.NodeID{4042674096, 42}
	gotKeys := got.Nodes.Keys()
	if len(gotKeys) != 2 || gotKeys[0] != wantKeys[0] || gotKeys[1] != wantKeys[1] {
		t.Errorf("node key order = %v, want %v", gotKeys, wantKeys)
	}
	rec, ok := got.Nodes.Get(4042674096)
	if !ok || rec.User.LongName != "Alice" {
		t.Errorf("node 4042674096 = %+v, %v", rec, ok)
	}

	msgs, ok := got.Conversations.Get(models.ChannelConversation(0))
	if !ok || len(msgs) != 1 || msgs[0].AckState != models.AckAcknowledged {
		t.Errorf("conversation = %+v, %v", msgs, ok)
	}

	state, ok := got.Sections.Get("bluetooth")
	if !ok || state.Committed["enabled"] != true {
		t.Errorf("section state = %+v, %v", state, ok)
	}
}

func TestLoadAbsentDevice(t *testing.T) {
	adapter := openTestStore(t)
	got, err := adapter.Load("never-seen")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got != nil {
		t.Errorf("Load() = %+v, want absent", got)
	}
}

func TestSaveOverwrites(t *testing.T) {
	adapter := openTestStore(t)
	if err := adapter.Save("dev-1", sampleSnapshot("dev-1")); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	updated := sampleSnapshot("dev-1")
	updated.Name = "renamed"
	if err := adapter.Save("dev-1", updated); err != nil {
		t.Fatalf("second Save() error = %v", err)
	}

	got, err := adapter.Load("dev-1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.Name != "renamed" {
		t.Errorf("Name = %q, want renamed", got.Name)
	}
}

func TestRemove(t *testing.T) {
	adapter := openTestStore(t)
	if err := adapter.Save("dev-1", sampleSnapshot("dev-1")); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := adapter.Remove("dev-1"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	got, err := adapter.Load("dev-1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got != nil {
		t.Error("snapshot survived Remove()")
	}
	// Removing an absent device is not an error.
	if err := adapter.Remove("dev-1"); err != nil {
		t.Errorf("second Remove() error = %v", err)
	}
}

func TestCorruptBlobTreatedAsAbsent(t *testing.T) {
	adapter := openTestStore(t)
	sq := adapter.(*sqliteAdapter)
	_, err := sq.db.Exec(
		`INSERT INTO device_snapshots (device_id, snapshot, updated_at) VALUES ($1, $2, $3);`,
		"dev-bad", []byte("{not json"), time.Now().UTC())
	if err != nil {
		t.Fatalf("inserting corrupt row: %v", err)
	}

	got, err := adapter.Load("dev-bad")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got != nil {
		t.Errorf("corrupt snapshot should read as absent, got %+v", got)
	}

	// LoadAll skips the corrupt row instead of failing startup.
	if err := adapter.Save("dev-ok", sampleSnapshot("dev-ok")); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	snaps, err := adapter.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll() error = %v", err)
	}
	if len(snaps) != 1 || snaps[0].DeviceID != "dev-ok" {
		t.Errorf("LoadAll() = %+v, want only dev-ok", snaps)
	}
}
