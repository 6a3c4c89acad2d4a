package discovery

import (
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const (
	yamahaManufacturer = "Yamaha Corporation"
	yxcControlPath     = "/YamahaExtendedControl/v1/"

	// maxDescriptionSize bounds the description document read.
	maxDescriptionSize = 1 << 20
)

// deviceDescription is the subset of the UPnP description document the
// gateway cares about. Yamaha extends the schema with an X_device block
// carrying the extended-control base URL.
type deviceDescription struct {
	XMLName xml.Name `xml:"root"`
	Device  struct {
		FriendlyName string `xml:"friendlyName"`
		Manufacturer string `xml:"manufacturer"`
		ModelName    string `xml:"modelName"`
		UDN          string `xml:"UDN"`
		XDevice      struct {
			URLBase     string   `xml:"X_URLBase"`
			ControlURLs []string `xml:"X_serviceList>X_service>X_yxcControlURL"`
		} `xml:"X_device"`
	} `xml:"device"`
}

func (d *deviceDescription) hasExtendedControl() bool {
	for _, u := range d.Device.XDevice.ControlURLs {
		if strings.Contains(u, yxcControlPath) {
			return true
		}
	}
	return false
}

// describe fetches and filters one responder's description document.
// Non-Yamaha devices and anything without the extended-control block
// return (nil, nil): not an error, just not ours.
func describe(client *http.Client, location string) (*Handle, error) {
	resp, err := client.Get(location)
	if err != nil {
		return nil, fmt.Errorf("fetching description: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching description: HTTP status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDescriptionSize))
	if err != nil {
		return nil, fmt.Errorf("reading description: %w", err)
	}

	var desc deviceDescription
	if err := xml.Unmarshal(body, &desc); err != nil {
		return nil, fmt.Errorf("parsing description: %w", err)
	}

	if desc.Device.Manufacturer != yamahaManufacturer || !desc.hasExtendedControl() {
		return nil, nil
	}

	// The device id is the last 12 characters of the UDN, uppercased.
	udn := strings.TrimSpace(desc.Device.UDN)
	if len(udn) < 12 {
		return nil, fmt.Errorf("UDN %q is too short for a device id", udn)
	}
	deviceID := strings.ToUpper(udn[len(udn)-12:])

	base, err := url.Parse(strings.TrimSpace(desc.Device.XDevice.URLBase))
	if err != nil {
		return nil, fmt.Errorf("parsing X_URLBase: %w", err)
	}
	port := 80
	if p := base.Port(); p != "" {
		if port, err = strconv.Atoi(p); err != nil {
			return nil, fmt.Errorf("parsing X_URLBase port: %w", err)
		}
	}

	return &Handle{
		Op:       OpCreate,
		DeviceID: deviceID,
		Host:     base.Hostname(),
		APIPort:  port,
		Model:    desc.Device.ModelName,
		Name:     desc.Device.FriendlyName,
	}, nil
}
