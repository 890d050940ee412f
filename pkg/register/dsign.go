package register

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/mwzzzh/devreg/pkg/device"
	"github.com/mwzzzh/devreg/pkg/sign"
)

// Opaque device_properties constants observed on real clients. They do not
// vary per device and are sent verbatim.
const (
	propDiskSize   = "ea489ffb302814b62320c02536989a3962de820f5a481eb5bac1086697d9aa3c"
	propMemorySize = "291cf975c42a1e788fdc454e3c7330d641db5f9f7ba06e37f7f388b3448bc374"
	propReTime     = "0af7de3d5239bb5542f0653e57c7c8b9"
	propIndss18    = "8725063fe010181646c25d1f993e1589"
	propIndc15     = "7874453cef13dddd56fcb3c7e8e99c28"
	propIndn5      = "a9ca935c4885bbc1da2be687f153354c"
	propIndmc14    = "e678d34e71a6943f1cab0bfa3c7a226b"
	propInda0      = "d0eac42291b9a88173d9914972a65d8b"
	propIndal2     = "d7baecabd462bc9f960eaab4c81a55c5"
	propIndm10     = "446ae4837d88b3b3988d57b9747e11cd"
	propIndsp3     = "9861cb1513b66e9aaeb66ef048bfdd18"
	propIndsd8     = "a15ec37e1115dea871970a39ec0769c4"
	propBl         = "a3d41c6f3e8c1892d2cc97469805b1f0"
	propCmf        = "5494690cb9b316eb618265ea11dc5146"
	propBc         = "1e2b66f4392214037884408109a383df"
	propStz        = "e6f9d2069f89b53a8e6f2c65929d2e50"
	propSl         = "2389ca43e5adab9de01d2dda7633ac39"
)

// dsignBody is the stage-3 POST body, key order as captured.
type dsignBody struct {
	DeviceID          string           `json:"device_id"`
	InstallID         string           `json:"install_id"`
	AID               int              `json:"aid"`
	AppVersion        string           `json:"app_version"`
	Model             string           `json:"model"`
	OS                string           `json:"os"`
	OpenUDID          string           `json:"openudid"`
	GoogleAID         string           `json:"google_aid"`
	PropertiesVersion string           `json:"properties_version"`
	DeviceProperties  deviceProperties `json:"device_properties"`
}

type deviceProperties struct {
	DeviceModel        string `json:"device_model"`
	DeviceManufacturer string `json:"device_manufacturer"`
	DiskSize           string `json:"disk_size"`
	MemorySize         string `json:"memory_size"`
	Resolution         string `json:"resolution"`
	ReTime             string `json:"re_time"`
	Indss18            string `json:"indss18"`
	Indc15             string `json:"indc15"`
	Indn5              string `json:"indn5"`
	Indmc14            string `json:"indmc14"`
	Inda0              string `json:"inda0"`
	Indal2             string `json:"indal2"`
	Indm10             string `json:"indm10"`
	Indsp3             string `json:"indsp3"`
	Indsd8             string `json:"indsd8"`
	Bl                 string `json:"bl"`
	Cmf                string `json:"cmf"`
	Bc                 string `json:"bc"`
	Stz                string `json:"stz"`
	Sl                 string `json:"sl"`
}

// guardData is the decoded tt-device-guard-server-data payload.
type guardData struct {
	DeviceToken string `json:"device_token"`
	DtokenSign  string `json:"dtoken_sign"`
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// dsignQuery builds the ordered stage-3 query parameters. The order differs
// from stages 1 and 2.
func dsignQuery(d *device.Device, clk stageClock) []param {
	lastInstall := d.APKLastUpdateTime / 1000
	return []param{
		{"from", "normal"},
		{"device_platform", "android"},
		{"os", "android"},
		{"ssmix", "a"},
		{"_rticket", strconv.FormatInt(clk.utime, 10)},
		{"cdid", d.CDID},
		{"channel", "googleplay"},
		{"aid", "1233"},
		{"app_name", d.AppName},
		{"version_code", strconv.Itoa(d.VersionCode)},
		{"version_name", d.VersionName},
		{"manifest_version_code", strconv.Itoa(d.UpdateVersionCode)},
		{"update_version_code", strconv.Itoa(d.UpdateVersionCode)},
		{"ab_version", d.VersionName},
		{"resolution", d.Resolution},
		{"dpi", strconv.Itoa(d.DPI)},
		{"device_type", d.DeviceType},
		{"device_brand", d.DeviceBrand},
		{"language", "en"},
		{"os_api", strconv.Itoa(d.OSAPI)},
		{"os_version", d.OSVersion},
		{"ac", "wifi"},
		{"is_pad", "0"},
		{"app_type", "normal"},
		{"sys_region", "US"},
		{"last_install_time", strconv.FormatInt(lastInstall, 10)},
		{"mcc_mnc", "310004"},
		{"timezone_name", "America%2FNew_York"},
		{"carrier_region_v2", "310"},
		{"app_language", "en"},
		{"carrier_region", "US"},
		{"ac2", "wifi"},
		{"uoo", "0"},
		{"op_region", "US"},
		{"timezone_offset", strconv.Itoa(d.TimezoneOffset)},
		{"build_number", d.VersionName},
		{"host_abi", "arm64-v8a"},
		{"locale", "en"},
		{"region", "US"},
		{"ts", strconv.FormatInt(clk.stime, 10)},
		{"iid", d.InstallID},
		{"device_id", d.DeviceID},
		{"openudid", d.OpenUDID},
	}
}

// exchangeSign runs stage 3: it generates the ephemeral keypair, posts the
// hashed device properties, and decodes the guard blob issued in return.
func (c *Client) exchangeSign(ctx context.Context, httpc *http.Client, d *device.Device) error {
	clk := c.newStage()
	query := encodeQuery(dsignQuery(d, clk))
	reqURL := c.dsignBase + "/service/2/dsign/?" + query

	var kp *sign.Keypair
	if err := c.cpu.Do(ctx, func() error {
		var kerr error
		kp, kerr = sign.GenerateKeypair()
		return kerr
	}); err != nil {
		return fmt.Errorf("generating keypair: %w", err)
	}

	body, err := device.MarshalCanonical(dsignBody{
		DeviceID:          d.DeviceID,
		InstallID:         d.InstallID,
		AID:               1233,
		AppVersion:        d.VersionName,
		Model:             d.DeviceType,
		OS:                "Android",
		OpenUDID:          d.OpenUDID,
		GoogleAID:         d.GoogleAID,
		PropertiesVersion: "android-1.0",
		DeviceProperties: deviceProperties{
			DeviceModel:        sha256Hex(d.DeviceType),
			DeviceManufacturer: sha256Hex(d.DeviceManufacturer),
			DiskSize:           propDiskSize,
			MemorySize:         propMemorySize,
			Resolution:         sha256Hex(d.Resolution),
			ReTime:             propReTime,
			Indss18:            propIndss18,
			Indc15:             propIndc15,
			Indn5:              propIndn5,
			Indmc14:            propIndmc14,
			Inda0:              propInda0,
			Indal2:             propIndal2,
			Indm10:             propIndm10,
			Indsp3:             propIndsp3,
			Indsd8:             propIndsd8,
			Bl:                 propBl,
			Cmf:                propCmf,
			Bc:                 propBc,
			Stz:                propStz,
			Sl:                 propSl,
		},
	})
	if err != nil {
		return fmt.Errorf("serializing dsign body: %w", err)
	}

	sigs, err := c.signer.Sign(signInput(d.DeviceID, d.DeviceType, clk.stime, query, hex.EncodeToString(body)))
	if err != nil {
		return err
	}

	cookie := "store-idc=useast5; store-country-code=us; store-country-code-src=did; install_id=" + d.InstallID
	headers := map[string]string{
		"cookie":                               cookie,
		"x-tt-request-tag":                     "t=0;n=1",
		"tt-ticket-guard-public-key":           kp.PublicB64,
		"sdk-version":                          "2",
		"x-tt-dm-status":                       "login=0;ct=0;rt=1",
		"x-ss-req-ticket":                      strconv.FormatInt(clk.utime, 10),
		"tt-device-guard-iteration-version":    "1",
		"passport-sdk-version":                 "-1",
		"x-vc-bdturing-sdk-version":            "2.3.17.i18n",
		"content-type":                         "application/json; charset=utf-8",
		"x-ss-stub":                            sigs.Stub,
		"rpc-persist-pyxis-policy-state-law-is-ca": "1",
		"rpc-persist-pyxis-policy-v-tnc":       "1",
		"x-ss-dp":                              "1233",
		"user-agent":                           d.UA,
		"accept-encoding":                      "gzip, deflate",
	}

	raw, _, err := c.post(ctx, httpc, reqURL, headers, body)
	if err != nil {
		return err
	}

	var decoded string
	if perr := c.cpu.Do(ctx, func() error {
		var resp map[string]json.RawMessage
		if uerr := json.Unmarshal(raw, &resp); uerr != nil {
			return fmt.Errorf("parsing dsign response: %w", uerr)
		}
		var b64 string
		if uerr := json.Unmarshal(resp["tt-device-guard-server-data"], &b64); uerr != nil {
			return fmt.Errorf("missing tt-device-guard-server-data: %w", uerr)
		}
		blob, derr := base64.StdEncoding.DecodeString(b64)
		if derr != nil {
			return fmt.Errorf("decoding guard data: %w", derr)
		}
		var gd guardData
		if uerr := json.Unmarshal(blob, &gd); uerr != nil {
			return fmt.Errorf("parsing guard data: %w", uerr)
		}
		if gd.DeviceToken == "" {
			return fmt.Errorf("guard data has empty device_token")
		}
		decoded = string(blob)
		return nil
	}); perr != nil {
		return perr
	}

	d.DeviceGuardData0 = decoded
	d.TTTicketGuardPublicKey = kp.PublicB64
	d.PrivKey = kp.PrivateHex
	return nil
}
