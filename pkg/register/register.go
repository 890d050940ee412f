package register

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/mwzzzh/devreg/pkg/device"
)

// registerBody is the stage-1 POST body. Key order matches the captured
// on-device traffic; the serialized bytes participate in the signature.
type registerBody struct {
	Header  registerHeader `json:"header"`
	MagicTag string        `json:"magic_tag"`
	GenTime int64          `json:"_gen_time"`
}

type registerHeader struct {
	OS                   string         `json:"os"`
	OSVersion            string         `json:"os_version"`
	OSAPI                int            `json:"os_api"`
	DeviceModel          string         `json:"device_model"`
	DeviceBrand          string         `json:"device_brand"`
	DeviceManufacturer   string         `json:"device_manufacturer"`
	CPUABI               string         `json:"cpu_abi"`
	DensityDPI           int            `json:"density_dpi"`
	DisplayDensity       string         `json:"display_density"`
	Resolution           string         `json:"resolution"`
	DisplayDensityV2     string         `json:"display_density_v2"`
	ResolutionV2         string         `json:"resolution_v2"`
	Access               string         `json:"access"`
	ROM                  string         `json:"rom"`
	ROMVersion           string         `json:"rom_version"`
	Language             string         `json:"language"`
	Timezone             int            `json:"timezone"`
	Region               string         `json:"region"`
	TZName               string         `json:"tz_name"`
	TZOffset             int            `json:"tz_offset"`
	ClientUDID           string         `json:"clientudid"`
	OpenUDID             string         `json:"openudid"`
	Channel              string         `json:"channel"`
	NotRequestSender     int            `json:"not_request_sender"`
	AID                  int            `json:"aid"`
	ReleaseBuild         string         `json:"release_build"`
	ABVersion            string         `json:"ab_version"`
	GoogleAID            string         `json:"google_aid"`
	GAIDLimited          int            `json:"gaid_limited"`
	Custom               registerCustom `json:"custom"`
	Package              string         `json:"package"`
	AppVersion           string         `json:"app_version"`
	AppVersionMinor      string         `json:"app_version_minor"`
	VersionCode          int            `json:"version_code"`
	UpdateVersionCode    int            `json:"update_version_code"`
	ManifestVersionCode  int            `json:"manifest_version_code"`
	AppName              string         `json:"app_name"`
	TweakedChannel       string         `json:"tweaked_channel"`
	DisplayName          string         `json:"display_name"`
	CDID                 string         `json:"cdid"`
	DevicePlatform       string         `json:"device_platform"`
	SDKVersionCode       int            `json:"sdk_version_code"`
	SDKTargetVersion     int            `json:"sdk_target_version"`
	ReqID                string         `json:"req_id"`
	SDKVersion           string         `json:"sdk_version"`
	GuestMode            int            `json:"guest_mode"`
	SDKFlavor            string         `json:"sdk_flavor"`
	APKFirstInstallTime  int64          `json:"apk_first_install_time"`
	IsSystemApp          int            `json:"is_system_app"`
}

// registerResponse carries the identifiers stage 1 extracts. The service
// returns them as numbers or numeric strings; json.Number accepts both.
type registerResponse struct {
	DeviceID  json.Number `json:"device_id"`
	InstallID json.Number `json:"install_id"`
}

// registerQuery builds the ordered stage-1 query parameters.
func registerQuery(d *device.Device, clk stageClock) []param {
	lastInstall := d.APKLastUpdateTime / 1000
	return []param{
		{"rticket", strconv.FormatInt(clk.utime, 10)},
		{"ab_version", d.VersionName},
		{"ac", "wifi"},
		{"ac2", "wifi"},
		{"aid", "1233"},
		{"app_language", "en"},
		{"app_name", d.AppName},
		{"app_type", "normal"},
		{"build_number", d.VersionName},
		{"carrier_region", "US"},
		{"carrier_region_v2", "310"},
		{"cdid", d.CDID},
		{"channel", "googleplay"},
		{"device_brand", d.DeviceBrand},
		{"device_platform", "android"},
		{"device_type", d.DeviceType},
		{"dpi", strconv.Itoa(d.DPI)},
		{"host_abi", "arm64-v8a"},
		{"is_pad", "0"},
		{"language", "en"},
		{"last_install_time", strconv.FormatInt(lastInstall, 10)},
		{"locale", "en"},
		{"manifest_version_code", strconv.Itoa(d.UpdateVersionCode)},
		{"mcc_mnc", "310004"},
		{"op_region", "US"},
		{"openudid", d.OpenUDID},
		{"os", "android"},
		{"os_api", strconv.Itoa(d.OSAPI)},
		{"os_version", d.OSVersion},
		{"redirect_from_idc", "maliva"},
		{"region", "US"},
		{"req_id", clk.reqID},
		{"resolution", d.Resolution},
		{"ssmix", "a"},
		{"sys_region", "US"},
		{"timezone_name", d.TimezoneName},
		{"timezone_offset", strconv.Itoa(d.TimezoneOffset)},
		{"ts", strconv.FormatInt(clk.stime, 10)},
		{"uoo", "0"},
		{"update_version_code", strconv.Itoa(d.UpdateVersionCode)},
		{"version_code", strconv.Itoa(d.VersionCode)},
		{"version_name", d.VersionName},
	}
}

func newRegisterBody(d *device.Device, clk stageClock) registerBody {
	return registerBody{
		Header: registerHeader{
			OS:                  "Android",
			OSVersion:           d.OSVersion,
			OSAPI:               d.OSAPI,
			DeviceModel:         d.DeviceType,
			DeviceBrand:         d.DeviceBrand,
			DeviceManufacturer:  d.DeviceManufacturer,
			CPUABI:              "arm64-v8a",
			DensityDPI:          d.DPI,
			DisplayDensity:      "mdpi",
			Resolution:          d.Resolution,
			DisplayDensityV2:    "xxhdpi",
			ResolutionV2:        d.ResolutionV2,
			Access:              "wifi",
			ROM:                 d.ROM,
			ROMVersion:          d.ROMVersion,
			Language:            "en",
			Timezone:            -4,
			Region:              "US",
			TZName:              d.TimezoneName,
			TZOffset:            -14400,
			ClientUDID:          d.ClientUDID,
			OpenUDID:            d.OpenUDID,
			Channel:             "googleplay",
			NotRequestSender:    1,
			AID:                 1233,
			ReleaseBuild:        d.ReleaseBuild,
			ABVersion:           d.VersionName,
			GoogleAID:           d.GoogleAID,
			GAIDLimited:         0,
			Custom: registerCustom{
				RAMSize:              d.RAMSize,
				DarkModeSettingValue: 1,
				IsFoldable:           0,
				ScreenHeightDP:       d.ScreenHeightDP,
				APKLastUpdateTime:    d.APKLastUpdateTime,
				FilterWarn:           0,
				PriorityRegion:       "US",
				UserPeriod:           0,
				IsKidsMode:           0,
				WebUA:                d.WebUA,
				ScreenWidthDP:        d.ScreenWidthDP,
				UserMode:             1,
			},
			Package:             d.Package,
			AppVersion:          d.VersionName,
			AppVersionMinor:     "",
			VersionCode:         d.VersionCode,
			UpdateVersionCode:   d.UpdateVersionCode,
			ManifestVersionCode: d.UpdateVersionCode,
			AppName:             d.AppName,
			TweakedChannel:      "googleplay",
			DisplayName:         "TikTok",
			CDID:                d.CDID,
			DevicePlatform:      "android",
			SDKVersionCode:      d.SDKVersionCode,
			SDKTargetVersion:    d.SDKTargetVersion,
			ReqID:               clk.reqID,
			SDKVersion:          d.SDKVersion,
			GuestMode:           0,
			SDKFlavor:           d.SDKFlavor,
			APKFirstInstallTime: d.APKFirstInstallTime,
			IsSystemApp:         0,
		},
		MagicTag: "ss_app_log",
		GenTime:  clk.utime,
	}
}

type registerCustom struct {
	RAMSize              string `json:"ram_size"`
	DarkModeSettingValue int    `json:"dark_mode_setting_value"`
	IsFoldable           int    `json:"is_foldable"`
	ScreenHeightDP       int    `json:"screen_height_dp"`
	APKLastUpdateTime    int64  `json:"apk_last_update_time"`
	FilterWarn           int    `json:"filter_warn"`
	PriorityRegion       string `json:"priority_region"`
	UserPeriod           int    `json:"user_period"`
	IsKidsMode           int    `json:"is_kids_mode"`
	WebUA                string `json:"web_ua"`
	ScreenWidthDP        int    `json:"screen_width_dp"`
	UserMode             int    `json:"user_mode"`
}

// registerDevice runs stage 1: it posts the device description and extracts
// device_id / install_id from the response body, falling back to the session
// cookie jar when the body carries no identifiers.
func (c *Client) registerDevice(ctx context.Context, httpc *http.Client, d *device.Device) error {
	clk := c.newStage()
	query := encodeQuery(registerQuery(d, clk))
	reqURL := c.registerBase + "/service/2/device_register/?" + query

	body, err := device.MarshalCanonical(newRegisterBody(d, clk))
	if err != nil {
		return fmt.Errorf("serializing register body: %w", err)
	}

	sigs, err := c.signer.Sign(signInput("", d.DeviceType, clk.stime, query, hex.EncodeToString(body)))
	if err != nil {
		return err
	}

	headers := map[string]string{
		"x-ss-stub":                  sigs.Stub,
		"x-tt-app-init-region":       "carrierregion=;mccmnc=;sysregion=US;appregion=US",
		"x-tt-request-tag":           "t=0;n=1",
		"x-tt-dm-status":             "login=0;ct=0;rt=1",
		"x-ss-req-ticket":            strconv.FormatInt(clk.utime, 10),
		"sdk-version":                "2",
		"passport-sdk-version":       "-1",
		"x-vc-bdturing-sdk-version":  "2.3.13.i18n",
		"user-agent":                 d.UA,
		"x-ladon":                    sigs.Ladon,
		"x-khronos":                  sigs.Khronos,
		"x-argus":                    sigs.Argus,
		"x-gorgon":                   sigs.Gorgon,
		"content-type":               "application/json; charset=utf-8",
		"accept-encoding":            "gzip",
	}

	raw, resp, err := c.post(ctx, httpc, reqURL, headers, body)
	if err != nil {
		return err
	}

	var parsed registerResponse
	if perr := c.cpu.Do(ctx, func() error {
		return json.Unmarshal(raw, &parsed)
	}); perr != nil {
		return fmt.Errorf("parsing register response: %w", perr)
	}

	d.DeviceID = nonZeroID(parsed.DeviceID)
	d.InstallID = nonZeroID(parsed.InstallID)
	if d.DeviceID == "" || d.InstallID == "" {
		c.idsFromJar(httpc, resp, d)
	}
	if d.DeviceID == "" || d.InstallID == "" {
		return fmt.Errorf("no identifiers issued (device_id=%q install_id=%q)", parsed.DeviceID, parsed.InstallID)
	}
	return nil
}

// nonZeroID normalizes a json.Number identifier; zero and empty are "not
// issued".
func nonZeroID(n json.Number) string {
	s := n.String()
	if s == "" || s == "0" {
		return ""
	}
	return s
}

// idsFromJar fills missing identifiers from cookies the response set on the
// session jar.
func (c *Client) idsFromJar(httpc *http.Client, resp *http.Response, d *device.Device) {
	if httpc.Jar == nil || resp == nil || resp.Request == nil {
		return
	}
	for _, ck := range httpc.Jar.Cookies(resp.Request.URL) {
		switch ck.Name {
		case "device_id":
			if d.DeviceID == "" && ck.Value != "0" {
				d.DeviceID = ck.Value
			}
		case "install_id":
			if d.InstallID == "" && ck.Value != "0" {
				d.InstallID = ck.Value
			}
		}
	}
}
