package register

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/mwzzzh/devreg/pkg/device"
)

// alertCheckSuccess is the exact activation response body. Anything else,
// including semantically equivalent JSON, fails the stage.
const alertCheckSuccess = `{"message":"success"}`

// alertCheckQuery builds the ordered stage-2 query parameters. The list
// mirrors stage 1; ts, rticket and req_id are this stage's own.
func alertCheckQuery(d *device.Device, clk stageClock) []param {
	return registerQuery(d, clk)
}

// alertCheck runs stage 2: a bodyless GET that activates the identifiers
// issued by stage 1. Success is recognized by exact body comparison.
func (c *Client) alertCheck(ctx context.Context, httpc *http.Client, d *device.Device) error {
	clk := c.newStage()
	query := encodeQuery(alertCheckQuery(d, clk))
	reqURL := c.registerBase + "/service/2/app_alert_check/?" + query

	sigs, err := c.signer.Sign(signInput(d.DeviceID, d.DeviceType, clk.stime, query, ""))
	if err != nil {
		return err
	}

	headers := map[string]string{
		"accept-encoding":           "gzip",
		"x-tt-app-init-region":      "carrierregion=;mccmnc=;sysregion=US;appregion=US",
		"x-tt-dm-status":            "login=0;ct=0;rt=1",
		"x-ss-req-ticket":           strconv.FormatInt(clk.utime, 10),
		"sdk-version":               "2",
		"passport-sdk-version":      "-1",
		"x-vc-bdturing-sdk-version": "2.3.13.i18n",
		"user-agent":                d.UA,
		"x-ladon":                   sigs.Ladon,
		"x-khronos":                 sigs.Khronos,
		"x-argus":                   sigs.Argus,
		"x-gorgon":                  sigs.Gorgon,
	}

	raw, _, err := c.get(ctx, httpc, reqURL, headers)
	if err != nil {
		return err
	}
	if string(raw) != alertCheckSuccess {
		return fmt.Errorf("activation rejected: %s", truncate(raw, 200))
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
