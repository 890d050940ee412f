package device

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	mrand "math/rand/v2"
	"time"

	"github.com/google/uuid"
)

// Fabricator produces synthetic device records from a catalog of plausible
// identities. It is stateless: callers that need batch-level uniqueness
// deduplicate on DeviceUID themselves (see Batch).
type Fabricator struct {
	catalog *Catalog
}

// NewFabricator returns a fabricator over the built-in catalog, or over the
// given one when non-nil.
func NewFabricator(catalog *Catalog) *Fabricator {
	if catalog == nil {
		catalog = &defaultCatalog
	}
	return &Fabricator{catalog: catalog}
}

// Fabricate draws one fresh device record. Every returned record has
// DeviceUID set (cdid, then clientudid, then a minted identifier).
func (f *Fabricator) Fabricate() *Device {
	p := f.catalog.Profiles[mrand.IntN(len(f.catalog.Profiles))]
	b := f.catalog.Builds[mrand.IntN(len(f.catalog.Builds))]

	now := time.Now()
	installed := now.Add(-time.Duration(3600+mrand.IntN(86400*30)) * time.Second)

	d := &Device{
		CDID:       uuid.NewString(),
		OpenUDID:   randomHex(8),
		ClientUDID: uuid.NewString(),

		DeviceType:         p.Model,
		DeviceBrand:        p.Brand,
		DeviceManufacturer: p.Manufacturer,
		OSAPI:              p.OSAPI,
		OSVersion:          p.OSVersion,
		Resolution:         p.Resolution,
		ResolutionV2:       p.ResolutionV2,
		DPI:                p.DPI,
		ROM:                p.ROMVersion,
		ROMVersion:         p.Brand + "/" + p.ROMVersion,
		ReleaseBuild:       p.ReleaseBuild,
		GoogleAID:          uuid.NewString(),
		RAMSize:            p.RAMSize,
		ScreenHeightDP:     p.ScreenHDP,
		ScreenWidthDP:      p.ScreenWDP,

		Package:           "com.zhiliaoapp.musically",
		AppName:           "musical_ly",
		VersionName:       b.VersionName,
		VersionCode:       b.VersionCode,
		UpdateVersionCode: b.UpdateVersionCode,
		SDKVersion:        b.SDKVersion,
		SDKVersionCode:    b.SDKVersionCode,
		SDKTargetVersion:  b.SDKTargetVersion,
		SDKFlavor:         "i18nInner",

		Region:         "US",
		Language:       "en",
		TimezoneName:   "America/New_York",
		TimezoneOffset: -18000,

		APKFirstInstallTime: installed.UnixMilli(),
		APKLastUpdateTime:   installed.Add(time.Duration(mrand.IntN(3600)) * time.Second).UnixMilli(),
	}
	d.UA = appUA(d)
	d.WebUA = webUA(d)
	d.DeviceUID = firstNonEmpty(d.CDID, d.ClientUDID, randomHex(16))
	return d
}

// Batch fabricates n records deduplicated on DeviceUID.
func (f *Fabricator) Batch(n int) []*Device {
	out := make([]*Device, 0, n)
	seen := make(map[string]struct{}, n)
	for len(out) < n {
		d := f.Fabricate()
		if _, dup := seen[d.DeviceUID]; dup {
			continue
		}
		seen[d.DeviceUID] = struct{}{}
		out = append(out, d)
	}
	return out
}

func appUA(d *Device) string {
	return fmt.Sprintf("com.zhiliaoapp.musically/%d (Linux; U; Android %s; en_US; %s; Build/%s;tt-ok/3.12.13.4-tiktok)",
		d.UpdateVersionCode, d.OSVersion, d.DeviceType, d.ReleaseBuild)
}

func webUA(d *Device) string {
	return fmt.Sprintf("Mozilla/5.0 (Linux; Android %s; %s Build/%s; wv) AppleWebKit/537.36 (KHTML, like Gecko) Version/4.0 Chrome/131.0.6778.39 Mobile Safari/537.36",
		d.OSVersion, d.DeviceType, d.ReleaseBuild)
}

// randomHex returns 2n lowercase hex chars from the system entropy source.
// Running out of entropy is not survivable; treat it as fatal.
func randomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic("device: entropy source failed: " + err.Error())
	}
	return hex.EncodeToString(b)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
