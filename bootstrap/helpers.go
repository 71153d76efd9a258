package bootstrap

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"

	"tdrf/util"
)

// ClassifyConnectionError turns a sink connection failure into an operator
// message with remediation hints. Credentials in addr are masked.
func ClassifyConnectionError(err error, service, addr string) string {
	if err == nil {
		return ""
	}
	addr = util.RedactString(addr)
	errStr := strings.ToLower(err.Error())

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Sprintf("Connection to %s at %s timed out.\n"+
			"  Possible causes:\n"+
			"  - %s is starting up (wait and retry)\n"+
			"  - Network latency or firewall blocking the connection\n"+
			"  Remediation:\n"+
			"  - Verify network connectivity: nc -zv %s", service, addr, service, addr)
	}

	if errors.Is(err, syscall.ECONNREFUSED) || strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "actively refused") {
		return fmt.Sprintf("Connection refused by %s at %s.\n"+
			"  This usually means %s is not running.\n"+
			"  Remediation:\n"+
			"  - Start %s or disable the sink in config.yaml\n"+
			"  - Verify the address is correct", service, addr, service, service)
	}

	if strings.Contains(errStr, "no such host") || strings.Contains(errStr, "lookup") {
		return fmt.Sprintf("Cannot resolve hostname in %s address %s.\n"+
			"  Remediation:\n"+
			"  - Verify the hostname is correct\n"+
			"  - Try using an IP address instead of a hostname", service, addr)
	}

	if strings.Contains(errStr, "auth") || strings.Contains(errStr, "password") || strings.Contains(errStr, "denied") {
		return fmt.Sprintf("Authentication failed for %s at %s.\n"+
			"  Remediation:\n"+
			"  - Verify credentials in config.yaml or the TDRF_SINKS_* env vars", service, addr)
	}

	return fmt.Sprintf("Failed to connect to %s at %s: %v\n"+
		"  Remediation:\n"+
		"  - Ensure %s is running and accessible\n"+
		"  - Verify network connectivity", service, addr, util.RedactError(err), service)
}
