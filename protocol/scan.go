package protocol

import (
	"regexp"
	"strconv"
	"strings"
)

// ScanCompleted is the line the firmware prints after the last scan entry.
const ScanCompleted = "Wi-Fi scan completed."

var (
	networkPattern = regexp.MustCompile(`^SSID: (.*), RSSI: (-?\d+), Channel: (\d+)$`)
	foundPattern   = regexp.MustCompile(`^Found (\d+) access points:$`)
)

// IsScanCompleted reports whether a cleaned line ends a scan.
func IsScanCompleted(cleaned string) bool {
	return strings.EqualFold(cleaned, ScanCompleted)
}

// Network is one access point reported by a scan.
type Network struct {
	SSID    string
	RSSI    int
	Channel int
}

// ParseNetwork parses a scan entry of the form
// "SSID: <ssid>, RSSI: <dBm>, Channel: <n>".
func ParseNetwork(line string) (Network, bool) {
	m := networkPattern.FindStringSubmatch(line)
	if m == nil {
		return Network{}, false
	}
	rssi, err := strconv.Atoi(m[2])
	if err != nil {
		return Network{}, false
	}
	ch, err := strconv.Atoi(m[3])
	if err != nil {
		return Network{}, false
	}
	return Network{SSID: m[1], RSSI: rssi, Channel: ch}, true
}

// ScanResult holds the lines received between the scan command and the
// completion sentinel, in arrival order.
type ScanResult []string

// Networks returns the entries that parse as access points.
func (r ScanResult) Networks() []Network {
	var out []Network
	for _, line := range r {
		if n, ok := ParseNetwork(line); ok {
			out = append(out, n)
		}
	}
	return out
}

// Announced returns the access point count from the firmware's
// "Found N access points:" header, if present.
func (r ScanResult) Announced() (int, bool) {
	for _, line := range r {
		if m := foundPattern.FindStringSubmatch(line); m != nil {
			n, err := strconv.Atoi(m[1])
			return n, err == nil
		}
	}
	return 0, false
}
