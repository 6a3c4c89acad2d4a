package discovery

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"time"
)

const (
	ssdpAddr   = "239.255.255.250:1900"
	ssdpTarget = "urn:schemas-upnp-org:device:MediaRenderer:1"

	// readBufferSize fits any SSDP response datagram.
	readBufferSize = 2048
)

// ssdpResponse is one parsed M-SEARCH answer.
type ssdpResponse struct {
	Location string
	USN      string
	FromIP   string
}

// search performs one SSDP M-SEARCH round and collects responses until
// the read window closes. The window is twice the MX value, giving
// devices that honor the full MX backoff time to answer. Responses are
// deduplicated by USN.
func search(ctx context.Context, mx int) ([]ssdpResponse, error) {
	if mx < 1 || mx > 5 {
		mx = 3
	}

	conn, err := net.ListenPacket("udp4", ":0")
	if err != nil {
		return nil, fmt.Errorf("opening search socket: %w", err)
	}
	defer conn.Close()

	addr, err := net.ResolveUDPAddr("udp4", ssdpAddr)
	if err != nil {
		return nil, fmt.Errorf("resolving multicast address: %w", err)
	}

	msg := strings.Join([]string{
		"M-SEARCH * HTTP/1.1",
		"HOST: " + ssdpAddr,
		"MAN: \"ssdp:discover\"",
		fmt.Sprintf("MX: %d", mx),
		"ST: " + ssdpTarget,
		"",
		"",
	}, "\r\n")
	if _, err := conn.WriteTo([]byte(msg), addr); err != nil {
		return nil, fmt.Errorf("sending search: %w", err)
	}

	deadline := time.Now().Add(time.Duration(2*mx) * time.Second)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return nil, fmt.Errorf("setting read deadline: %w", err)
	}

	responses := make(map[string]ssdpResponse)
	buf := make([]byte, readBufferSize)
	for {
		n, raddr, err := conn.ReadFrom(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				break
			}
			return collect(responses), err
		}
		resp := parseSSDPResponse(string(buf[:n]))
		if resp.Location == "" || resp.USN == "" {
			continue
		}
		resp.FromIP = raddr.String()
		if _, seen := responses[resp.USN]; !seen {
			responses[resp.USN] = resp
		}
	}
	return collect(responses), nil
}

func parseSSDPResponse(raw string) ssdpResponse {
	scanner := bufio.NewScanner(strings.NewReader(raw))
	headers := make(map[string]string)

	// status line
	scanner.Scan()

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			break
		}
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.ToUpper(strings.TrimSpace(parts[0]))
		headers[key] = strings.TrimSpace(parts[1])
	}
	return ssdpResponse{
		Location: headers["LOCATION"],
		USN:      headers["USN"],
	}
}

func collect(responses map[string]ssdpResponse) []ssdpResponse {
	out := make([]ssdpResponse, 0, len(responses))
	for _, r := range responses {
		out = append(out, r)
	}
	return out
}
