// Package device fabricates synthetic mobile-device records and defines the
// canonical serialization used everywhere a device crosses a byte boundary
// (signing, wire, DB, backup files).
package device

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Device is one synthetic device record. Field order is load-bearing: the
// canonical JSON form follows struct order, and the signing contract requires
// the serialized bytes to be identical everywhere.
type Device struct {
	CDID       string `json:"cdid" yaml:"-"`
	OpenUDID   string `json:"openudid" yaml:"-"`
	ClientUDID string `json:"clientudid" yaml:"-"`
	DeviceUID  string `json:"device_uid" yaml:"-"`

	DeviceType         string `json:"device_type" yaml:"-"`
	DeviceBrand        string `json:"device_brand" yaml:"-"`
	DeviceManufacturer string `json:"device_manufacturer" yaml:"-"`
	OSAPI              int    `json:"os_api" yaml:"-"`
	OSVersion          string `json:"os_version" yaml:"-"`
	Resolution         string `json:"resolution" yaml:"-"`
	ResolutionV2       string `json:"resolution_v2" yaml:"-"`
	DPI                int    `json:"dpi" yaml:"-"`
	ROM                string `json:"rom" yaml:"-"`
	ROMVersion         string `json:"rom_version" yaml:"-"`
	ReleaseBuild       string `json:"release_build" yaml:"-"`
	GoogleAID          string `json:"google_aid" yaml:"-"`
	RAMSize            string `json:"ram_size" yaml:"-"`
	ScreenHeightDP     int    `json:"screen_height_dp" yaml:"-"`
	ScreenWidthDP      int    `json:"screen_width_dp" yaml:"-"`

	Package           string `json:"package" yaml:"-"`
	AppName           string `json:"app_name" yaml:"-"`
	VersionName       string `json:"version_name" yaml:"-"`
	VersionCode       int    `json:"version_code" yaml:"-"`
	UpdateVersionCode int    `json:"update_version_code" yaml:"-"`
	SDKVersion        string `json:"sdk_version" yaml:"-"`
	SDKVersionCode    int    `json:"sdk_version_code" yaml:"-"`
	SDKTargetVersion  int    `json:"sdk_target_version" yaml:"-"`
	SDKFlavor         string `json:"sdk_flavor" yaml:"-"`

	Region         string `json:"region" yaml:"-"`
	Language       string `json:"language" yaml:"-"`
	TimezoneName   string `json:"timezone_name" yaml:"-"`
	TimezoneOffset int    `json:"timezone_offset" yaml:"-"` // seconds east of UTC

	UA    string `json:"ua" yaml:"-"`
	WebUA string `json:"web_ua" yaml:"-"`

	APKFirstInstallTime int64 `json:"apk_first_install_time" yaml:"-"`
	APKLastUpdateTime   int64 `json:"apk_last_update_time" yaml:"-"`

	// Set by the registration handshake on success; opaque decimal strings
	// issued by the remote service.
	DeviceID  string `json:"device_id,omitempty" yaml:"-"`
	InstallID string `json:"install_id,omitempty" yaml:"-"`

	DeviceGuardData0       string `json:"device_guard_data0,omitempty" yaml:"-"`
	TTTicketGuardPublicKey string `json:"tt_ticket_guard_public_key,omitempty" yaml:"-"`
	PrivKey                string `json:"priv_key,omitempty" yaml:"-"`
}

// PrimaryID returns the identifier the pool keys this device on. Post
// registration that is device_id; pre registration it falls back through
// the stable identifier chain.
func (d *Device) PrimaryID(idField string) string {
	if idField == "" || idField == "device_id" {
		if v := strings.TrimSpace(d.DeviceID); v != "" {
			return v
		}
	}
	if idField == "install_id" {
		if v := strings.TrimSpace(d.InstallID); v != "" {
			return v
		}
	}
	for _, v := range []string{d.DeviceUID, d.CDID, d.ClientUDID, d.OpenUDID} {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// MarshalCanonical serializes v compactly with HTML escaping disabled, so
// '&', '<' and '>' survive byte-for-byte. encoding/json already emits keys
// in struct order with ',' and ':' separators and no extra whitespace.
func MarshalCanonical(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
