package pool

import (
	"hash/crc32"
	"strings"
	"testing"

	"github.com/mwzzzh/devreg/pkg/device"
)

func TestShardOfStable(t *testing.T) {
	ids := []string{"1234567890123456789", "9876543210987654321", "abcdef", "anon:17"}
	for _, id := range ids {
		first := ShardOf(id, 10)
		for i := 0; i < 5; i++ {
			if got := ShardOf(id, 10); got != first {
				t.Fatalf("ShardOf(%q) unstable: %d then %d", id, first, got)
			}
		}
		want := int(crc32.ChecksumIEEE([]byte(id)) % 10)
		if first != want {
			t.Errorf("ShardOf(%q, 10) = %d, want %d", id, first, want)
		}
	}
}

func TestShardOfEdges(t *testing.T) {
	tests := []struct {
		name   string
		id     string
		shards int
		want   int
	}{
		{"single shard", "whatever", 1, 0},
		{"zero shards", "whatever", 0, 0},
		{"empty id", "", 8, 0},
		{"whitespace id", "  ", 8, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ShardOf(tt.id, tt.shards); got != tt.want {
				t.Errorf("ShardOf(%q, %d) = %d, want %d", tt.id, tt.shards, got, tt.want)
			}
		})
	}
}

func TestAssignerHashAndForce(t *testing.T) {
	a := NewAssigner(10, "device_id")
	d := &device.Device{DeviceID: "1234567890123456789"}

	row, err := a.RowFor(d)
	if err != nil {
		t.Fatalf("RowFor() error = %v", err)
	}
	if row.DeviceID != d.DeviceID {
		t.Errorf("RowFor() DeviceID = %q, want %q", row.DeviceID, d.DeviceID)
	}
	if want := ShardOf(d.DeviceID, 10); row.ShardID != want {
		t.Errorf("RowFor() ShardID = %d, want %d", row.ShardID, want)
	}
	if !strings.Contains(string(row.JSON), `"device_id":"1234567890123456789"`) {
		t.Errorf("RowFor() JSON missing device_id: %s", row.JSON)
	}

	a.SetForce(7)
	row, err = a.RowFor(d)
	if err != nil {
		t.Fatal(err)
	}
	if row.ShardID != 7 {
		t.Errorf("forced ShardID = %d, want 7", row.ShardID)
	}

	a.ClearForce()
	row, _ = a.RowFor(d)
	if want := ShardOf(d.DeviceID, 10); row.ShardID != want {
		t.Errorf("ShardID after ClearForce() = %d, want %d", row.ShardID, want)
	}
}

func TestAssignerFallbackID(t *testing.T) {
	a := NewAssigner(4, "device_id")
	d := &device.Device{CDID: "cdid-1"}

	row, err := a.RowFor(d)
	if err != nil {
		t.Fatal(err)
	}
	if row.DeviceID != "cdid-1" {
		t.Errorf("RowFor() DeviceID = %q, want fallback cdid-1", row.DeviceID)
	}
}

func TestUpsertSQL(t *testing.T) {
	got := upsertSQL("device_pool_devices", 2)
	want := "INSERT INTO `device_pool_devices` (shard_id, device_id, device_json) VALUES (?, ?, ?), (?, ?, ?)" +
		" ON DUPLICATE KEY UPDATE device_json = VALUES(device_json), updated_at = CURRENT_TIMESTAMP"
	if got != want {
		t.Errorf("upsertSQL() =\n%s\nwant\n%s", got, want)
	}
}

func TestSchemaSQL(t *testing.T) {
	got := schemaSQL("device_pool_devices")
	for _, frag := range []string{
		"CREATE TABLE IF NOT EXISTS `device_pool_devices`",
		"UNIQUE KEY uq_device_id (device_id)",
		"KEY idx_shard (shard_id)",
		"use_count INT NOT NULL DEFAULT 0",
	} {
		if !strings.Contains(got, frag) {
			t.Errorf("schemaSQL() missing %q", frag)
		}
	}
}
