package discovery

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestParseSSDPResponse(t *testing.T) {
	raw := "HTTP/1.1 200 OK\r\n" +
		"CACHE-CONTROL: max-age=1800\r\n" +
		"LOCATION: http://192.168.1.44:49154/MediaRenderer/desc.xml\r\n" +
		"ST: urn:schemas-upnp-org:device:MediaRenderer:1\r\n" +
		"USN: uuid:9ab0c000-f668-11de-9976-00a0ded57e83::urn:schemas-upnp-org:device:MediaRenderer:1\r\n" +
		"\r\n"

	resp := parseSSDPResponse(raw)
	if resp.Location != "http://192.168.1.44:49154/MediaRenderer/desc.xml" {
		t.Errorf("Location = %q", resp.Location)
	}
	if resp.USN == "" {
		t.Error("USN should be parsed")
	}
}

func TestParseSSDPResponse_Garbage(t *testing.T) {
	resp := parseSSDPResponse("not an ssdp response at all")
	if resp.Location != "" || resp.USN != "" {
		t.Errorf("garbage input produced %+v", resp)
	}
}

const yamahaDescXML = `<?xml version="1.0"?>
<root xmlns="urn:schemas-upnp-org:device-1-0" xmlns:yamaha="urn:schemas-yamaha-com:device-1-0">
  <device>
    <friendlyName>Living Room</friendlyName>
    <manufacturer>Yamaha Corporation</manufacturer>
    <modelName>RX-A860</modelName>
    <UDN>uuid:9ab0c000-f668-11de-9976-00a0ded57e83</UDN>
    <yamaha:X_device>
      <yamaha:X_URLBase>http://192.168.1.44:80/</yamaha:X_URLBase>
      <yamaha:X_serviceList>
        <yamaha:X_service>
          <yamaha:X_yxcControlURL>/YamahaExtendedControl/v1/</yamaha:X_yxcControlURL>
        </yamaha:X_service>
      </yamaha:X_serviceList>
    </yamaha:X_device>
  </device>
</root>`

const otherDescXML = `<?xml version="1.0"?>
<root xmlns="urn:schemas-upnp-org:device-1-0">
  <device>
    <friendlyName>Some TV</friendlyName>
    <manufacturer>Acme Corp</manufacturer>
    <modelName>TV-9000</modelName>
    <UDN>uuid:12345678-aaaa-bbbb-cccc-d57e83aabbcc</UDN>
  </device>
</root>`

func descServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDescribe_Yamaha(t *testing.T) {
	srv := descServer(t, yamahaDescXML)
	handle, err := describe(srv.Client(), srv.URL)
	if err != nil {
		t.Fatalf("describe() error = %v", err)
	}
	if handle == nil {
		t.Fatal("describe() filtered out a Yamaha device")
	}
	if handle.Op != OpCreate {
		t.Errorf("Op = %v, want create", handle.Op)
	}
	if handle.DeviceID != "00A0DED57E83" {
		t.Errorf("DeviceID = %q, want 00A0DED57E83", handle.DeviceID)
	}
	if handle.Host != "192.168.1.44" || handle.APIPort != 80 {
		t.Errorf("address = %s:%d, want 192.168.1.44:80", handle.Host, handle.APIPort)
	}
	if handle.Model != "RX-A860" || handle.Name != "Living Room" {
		t.Errorf("identity = %s/%s", handle.Model, handle.Name)
	}
}

func TestDescribe_FiltersNonYamaha(t *testing.T) {
	srv := descServer(t, otherDescXML)
	handle, err := describe(srv.Client(), srv.URL)
	if err != nil {
		t.Fatalf("describe() error = %v", err)
	}
	if handle != nil {
		t.Errorf("describe() = %+v, want nil for a non-Yamaha device", handle)
	}
}

func TestDescribe_Errors(t *testing.T) {
	t.Run("http error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		t.Cleanup(srv.Close)
		if _, err := describe(srv.Client(), srv.URL); err == nil {
			t.Error("describe() should fail on HTTP error status")
		}
	})

	t.Run("malformed xml", func(t *testing.T) {
		srv := descServer(t, "<root><device>")
		if _, err := describe(srv.Client(), srv.URL); err == nil {
			t.Error("describe() should fail on malformed XML")
		}
	})
}

func TestService_TriggerNeverBlocks(t *testing.T) {
	s := New(Config{Cycle: time.Hour, MX: 3})
	for i := 0; i < 5; i++ {
		s.Trigger() // repeated triggers collapse into one pending search
	}
}

func TestOpString(t *testing.T) {
	if OpCreate.String() != "create" || OpDelete.String() != "delete" {
		t.Error("Op strings are wrong")
	}
}
