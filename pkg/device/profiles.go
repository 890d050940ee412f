package device

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Profile is one plausible hardware identity a fabricated device can take.
type Profile struct {
	Model        string `yaml:"model"`
	Brand        string `yaml:"brand"`
	Manufacturer string `yaml:"manufacturer"`
	OSAPI        int    `yaml:"os_api"`
	OSVersion    string `yaml:"os_version"`
	Resolution   string `yaml:"resolution"`
	ResolutionV2 string `yaml:"resolution_v2"`
	DPI          int    `yaml:"dpi"`
	RAMSize      string `yaml:"ram_size"`
	ScreenHDP    int    `yaml:"screen_height_dp"`
	ScreenWDP    int    `yaml:"screen_width_dp"`
	ROMVersion   string `yaml:"rom_version"`
	ReleaseBuild string `yaml:"release_build"`
}

// Build is one app version tuple.
type Build struct {
	VersionName       string `yaml:"version_name"`
	VersionCode       int    `yaml:"version_code"`
	UpdateVersionCode int    `yaml:"update_version_code"`
	SDKVersion        string `yaml:"sdk_version"`
	SDKVersionCode    int    `yaml:"sdk_version_code"`
	SDKTargetVersion  int    `yaml:"sdk_target_version"`
}

// Catalog holds the pools the fabricator draws from.
type Catalog struct {
	Profiles []Profile `yaml:"profiles"`
	Builds   []Build   `yaml:"builds"`
}

// LoadCatalog reads a YAML catalog file. Used to override the built-in pools
// without a rebuild (DEVICE_PROFILE_FILE).
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading profile catalog: %w", err)
	}
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parsing profile catalog: %w", err)
	}
	if len(c.Profiles) == 0 {
		return nil, fmt.Errorf("profile catalog %s has no profiles", path)
	}
	if len(c.Builds) == 0 {
		c.Builds = defaultCatalog.Builds
	}
	return &c, nil
}

// defaultCatalog is the built-in pool of hardware and app identities.
// Values mirror common US-market Android handsets.
var defaultCatalog = Catalog{
	Profiles: []Profile{
		{
			Model: "Pixel 7", Brand: "google", Manufacturer: "Google",
			OSAPI: 33, OSVersion: "13", Resolution: "2400x1080", ResolutionV2: "2400x1080",
			DPI: 420, RAMSize: "8192", ScreenHDP: 915, ScreenWDP: 411,
			ROMVersion: "TQ3A.230901.001", ReleaseBuild: "TQ3A.230901.001",
		},
		{
			Model: "SM-G991U", Brand: "samsung", Manufacturer: "samsung",
			OSAPI: 33, OSVersion: "13", Resolution: "2340x1080", ResolutionV2: "2340x1080",
			DPI: 480, RAMSize: "8192", ScreenHDP: 780, ScreenWDP: 360,
			ROMVersion: "G991USQS6EWB1", ReleaseBuild: "G991USQS6EWB1",
		},
		{
			Model: "SM-S901U", Brand: "samsung", Manufacturer: "samsung",
			OSAPI: 34, OSVersion: "14", Resolution: "2340x1080", ResolutionV2: "2340x1080",
			DPI: 450, RAMSize: "8192", ScreenHDP: 812, ScreenWDP: 384,
			ROMVersion: "S901USQU3DWH5", ReleaseBuild: "S901USQU3DWH5",
		},
		{
			Model: "Pixel 6a", Brand: "google", Manufacturer: "Google",
			OSAPI: 34, OSVersion: "14", Resolution: "2400x1080", ResolutionV2: "2400x1080",
			DPI: 420, RAMSize: "6144", ScreenHDP: 914, ScreenWDP: 411,
			ROMVersion: "AP1A.240505.004", ReleaseBuild: "AP1A.240505.004",
		},
		{
			Model: "moto g power (2022)", Brand: "motorola", Manufacturer: "motorola",
			OSAPI: 31, OSVersion: "12", Resolution: "1600x720", ResolutionV2: "1600x720",
			DPI: 280, RAMSize: "4096", ScreenHDP: 838, ScreenWDP: 377,
			ROMVersion: "S3RQS32.20-42-10-5", ReleaseBuild: "S3RQS32.20-42-10-5",
		},
		{
			Model: "2201117TG", Brand: "Redmi", Manufacturer: "Xiaomi",
			OSAPI: 33, OSVersion: "13", Resolution: "2400x1080", ResolutionV2: "2400x1080",
			DPI: 440, RAMSize: "6144", ScreenHDP: 857, ScreenWDP: 392,
			ROMVersion: "TP1A.220624.014", ReleaseBuild: "TP1A.220624.014",
		},
		{
			Model: "CPH2451", Brand: "OnePlus", Manufacturer: "OnePlus",
			OSAPI: 34, OSVersion: "14", Resolution: "2412x1080", ResolutionV2: "2412x1080",
			DPI: 450, RAMSize: "8192", ScreenHDP: 836, ScreenWDP: 384,
			ROMVersion: "CPH2451_14.0.0.700", ReleaseBuild: "UKQ1.230924.001",
		},
	},
	Builds: []Build{
		{
			VersionName: "42.4.3", VersionCode: 2023404030, UpdateVersionCode: 2023404030,
			SDKVersion: "v05.02.02-ov-android", SDKVersionCode: 84018704, SDKTargetVersion: 30,
		},
		{
			VersionName: "42.8.4", VersionCode: 2023408040, UpdateVersionCode: 2023408040,
			SDKVersion: "v05.02.02-ov-android", SDKVersionCode: 84018704, SDKTargetVersion: 30,
		},
		{
			VersionName: "43.1.2", VersionCode: 2023431020, UpdateVersionCode: 2023431020,
			SDKVersion: "v05.02.02-ov-android", SDKVersionCode: 84018704, SDKTargetVersion: 30,
		},
	},
}
