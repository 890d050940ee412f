package device

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFabricateSetsUID(t *testing.T) {
	f := NewFabricator(nil)
	for i := 0; i < 50; i++ {
		d := f.Fabricate()
		if d.DeviceUID == "" {
			t.Fatal("Fabricate() returned empty DeviceUID")
		}
		if d.DeviceUID != d.CDID {
			t.Errorf("DeviceUID = %q, want cdid %q (first fallback)", d.DeviceUID, d.CDID)
		}
		if d.UA == "" || d.WebUA == "" {
			t.Error("Fabricate() returned empty user agents")
		}
		if d.DeviceID != "" || d.InstallID != "" {
			t.Error("fresh device must not carry remote-issued identifiers")
		}
	}
}

func TestBatchUnique(t *testing.T) {
	f := NewFabricator(nil)
	devs := f.Batch(100)
	if len(devs) != 100 {
		t.Fatalf("Batch(100) returned %d records", len(devs))
	}
	seen := make(map[string]struct{})
	for _, d := range devs {
		if _, dup := seen[d.DeviceUID]; dup {
			t.Fatalf("duplicate DeviceUID %q in batch", d.DeviceUID)
		}
		seen[d.DeviceUID] = struct{}{}
	}
}

func TestPrimaryID(t *testing.T) {
	tests := []struct {
		name    string
		dev     Device
		idField string
		want    string
	}{
		{
			name:    "device_id wins post registration",
			dev:     Device{DeviceID: "123", DeviceUID: "uid", CDID: "cdid"},
			idField: "device_id",
			want:    "123",
		},
		{
			name:    "device_uid pre registration",
			dev:     Device{DeviceUID: "uid", CDID: "cdid"},
			idField: "device_id",
			want:    "uid",
		},
		{
			name:    "cdid fallback",
			dev:     Device{CDID: "cdid", ClientUDID: "cu"},
			idField: "device_id",
			want:    "cdid",
		},
		{
			name:    "install_id field",
			dev:     Device{InstallID: "456", DeviceUID: "uid"},
			idField: "install_id",
			want:    "456",
		},
		{
			name:    "nothing set",
			dev:     Device{},
			idField: "device_id",
			want:    "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.dev.PrimaryID(tt.idField); got != tt.want {
				t.Errorf("PrimaryID(%q) = %q, want %q", tt.idField, got, tt.want)
			}
		})
	}
}

func TestMarshalCanonical(t *testing.T) {
	b, err := MarshalCanonical(map[string]string{"ua": "a&b <c>"})
	if err != nil {
		t.Fatalf("MarshalCanonical() error = %v", err)
	}
	s := string(b)
	if strings.Contains(s, "\\u0026") || strings.Contains(s, "\\u003c") {
		t.Errorf("MarshalCanonical() HTML-escaped output: %s", s)
	}
	if strings.HasSuffix(s, "\n") {
		t.Error("MarshalCanonical() left a trailing newline")
	}
	if strings.Contains(s, ": ") || strings.Contains(s, ", ") {
		t.Errorf("MarshalCanonical() output not compact: %s", s)
	}
}

func TestDeviceJSONRoundTrip(t *testing.T) {
	f := NewFabricator(nil)
	d := f.Fabricate()
	d.DeviceID = "7566195049035286030"
	d.InstallID = "7566195504888792845"

	b, err := MarshalCanonical(d)
	if err != nil {
		t.Fatalf("MarshalCanonical() error = %v", err)
	}
	var back Device
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if back != *d {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", back, *d)
	}
}

func TestLoadCatalog(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")
	yaml := `
profiles:
  - model: TestPhone
    brand: test
    manufacturer: Test Inc
    os_api: 33
    os_version: "13"
    resolution: 1920x1080
    resolution_v2: 1920x1080
    dpi: 400
    ram_size: "8192"
    screen_height_dp: 900
    screen_width_dp: 400
    rom_version: T1
    release_build: T1
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	c, err := LoadCatalog(path)
	if err != nil {
		t.Fatalf("LoadCatalog() error = %v", err)
	}
	if len(c.Profiles) != 1 || c.Profiles[0].Model != "TestPhone" {
		t.Errorf("unexpected profiles: %+v", c.Profiles)
	}
	if len(c.Builds) == 0 {
		t.Error("LoadCatalog() should default builds from the built-in catalog")
	}

	d := NewFabricator(c).Fabricate()
	if d.DeviceType != "TestPhone" {
		t.Errorf("DeviceType = %q, want TestPhone", d.DeviceType)
	}

	if _, err := LoadCatalog(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("LoadCatalog() of missing file should fail")
	}
}
