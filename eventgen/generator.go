// Package eventgen generates synthetic security events and attack scenarios
// for exercising the correlation engine.
package eventgen

import (
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Record is a generated event in the wire shape the ingest decoders accept.
type Record struct {
	EventID     string                 `json:"event_id" msgpack:"event_id"`
	EventType   string                 `json:"event_type" msgpack:"event_type"`
	Timestamp   string                 `json:"timestamp" msgpack:"timestamp"`
	SourceIP    string                 `json:"source_ip,omitempty" msgpack:"source_ip,omitempty"`
	TargetIP    string                 `json:"target_ip,omitempty" msgpack:"target_ip,omitempty"`
	Username    string                 `json:"username,omitempty" msgpack:"username,omitempty"`
	Port        int                    `json:"port,omitempty" msgpack:"port,omitempty"`
	Service     string                 `json:"service,omitempty" msgpack:"service,omitempty"`
	Severity    string                 `json:"severity,omitempty" msgpack:"severity,omitempty"`
	Description string                 `json:"description,omitempty" msgpack:"description,omitempty"`
	Extension   map[string]interface{} `json:"extension,omitempty" msgpack:"extension,omitempty"`
}

// Scenario names accepted by Generator.Scenario.
const (
	ScenarioBruteForce            = "brute_force"
	ScenarioSuccessfulBruteForce  = "successful_brute_force"
	ScenarioDistributedBruteForce = "distributed_brute_force"
	ScenarioRecon                 = "recon"
	ScenarioSuspiciousService     = "suspicious_service"
	ScenarioWindowsLogon          = "windows_logon"
	ScenarioNoise                 = "noise"
	ScenarioMixed                 = "mixed"
)

// Scenarios lists every scenario name.
func Scenarios() []string {
	return []string{
		ScenarioBruteForce,
		ScenarioSuccessfulBruteForce,
		ScenarioDistributedBruteForce,
		ScenarioRecon,
		ScenarioSuspiciousService,
		ScenarioWindowsLogon,
		ScenarioNoise,
		ScenarioMixed,
	}
}

// ScenarioOptions parameterize a scenario. Zero values pick defaults.
type ScenarioOptions struct {
	// Count is the number of attack events, e.g. failed attempts or scanned
	// ports.
	Count    int
	SourceIP string
	TargetIP string
	Username string
}

func (o ScenarioOptions) withDefaults(g *Generator) ScenarioOptions {
	if o.Count <= 0 {
		o.Count = 10
	}
	if o.SourceIP == "" {
		o.SourceIP = g.externalIP()
	}
	if o.TargetIP == "" {
		o.TargetIP = g.internalIP()
	}
	if o.Username == "" {
		o.Username = g.choice(usernames)
	}
	return o
}

var (
	usernames = []string{
		"admin", "root", "administrator", "user", "jdoe", "jsmith",
		"alice", "bob", "svc_backup", "svc_sql",
	}
	benignTypes = []string{"http_request", "dns_query", "file_access", "process_creation", "network_connection"}
	scanPorts   = []struct {
		port    int
		service string
	}{
		{21, "ftp"}, {22, "ssh"}, {23, "telnet"}, {25, "smtp"}, {80, "http"},
		{110, "pop3"}, {143, "imap"}, {443, "https"}, {445, "smb"}, {3306, "mysql"},
		{3389, "rdp"}, {5432, "postgresql"}, {8080, "http-alt"},
	}
)

// timestampLayout is fixed width so generated timestamps sort lexically.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Generator produces events with monotonically increasing timestamps. It is
// not safe for concurrent use.
type Generator struct {
	rand  *rand.Rand
	clock time.Time
	step  time.Duration
}

// NewGenerator creates a generator. Events start at start and advance by
// step on average; the same seed yields the same events.
func NewGenerator(seed int64, start time.Time, step time.Duration) *Generator {
	if step <= 0 {
		step = time.Second
	}
	return &Generator{
		rand:  rand.New(rand.NewSource(seed)),
		clock: start.UTC(),
		step:  step,
	}
}

func (g *Generator) next() string {
	// jitter within [step/2, 3*step/2)
	g.clock = g.clock.Add(g.step/2 + time.Duration(g.rand.Int63n(int64(g.step))))
	return g.clock.Format(timestampLayout)
}

func (g *Generator) record(eventType string) Record {
	return Record{
		EventID:   uuid.NewString(),
		EventType: eventType,
		Timestamp: g.next(),
	}
}

// FailedLogin returns an sshd-style failed password event.
func (g *Generator) FailedLogin(src, target, user string) Record {
	r := g.record("failed_password")
	r.SourceIP, r.TargetIP, r.Username = src, target, user
	r.Port, r.Service = 22, "ssh"
	r.Description = fmt.Sprintf("Failed password for %s from %s port %d ssh2", user, src, 1024+g.rand.Intn(60000))
	return r
}

// SuccessfulLogin returns an accepted password event.
func (g *Generator) SuccessfulLogin(src, target, user string) Record {
	r := g.record("accepted_password")
	r.SourceIP, r.TargetIP, r.Username = src, target, user
	r.Port, r.Service = 22, "ssh"
	r.Description = fmt.Sprintf("Accepted password for %s from %s", user, src)
	return r
}

// WindowsLogon returns a Windows security log logon event carrying its event
// id (4624 success, 4625 failure) as an extension field.
func (g *Generator) WindowsLogon(src, target, user string, failed bool) Record {
	r := g.record("windows_security")
	r.SourceIP, r.TargetIP, r.Username = src, target, user
	id := 4624
	if failed {
		id = 4625
	}
	r.Extension = map[string]interface{}{"event_id": id, "logon_type": 10}
	return r
}

// PortScan returns a port probe event.
func (g *Generator) PortScan(src, target string, port int, service string) Record {
	r := g.record("port_scan")
	r.SourceIP, r.TargetIP = src, target
	r.Port, r.Service = port, service
	r.Description = fmt.Sprintf("SYN probe %s -> %s:%d", src, target, port)
	return r
}

// Noise returns a random benign event.
func (g *Generator) Noise() Record {
	r := g.record(g.choice(benignTypes))
	r.SourceIP = g.internalIP()
	r.TargetIP = g.internalIP()
	r.Severity = "INFO"
	return r
}

// Scenario generates the named scenario.
func (g *Generator) Scenario(name string, opts ScenarioOptions) ([]Record, error) {
	o := opts.withDefaults(g)
	var out []Record

	switch name {
	case ScenarioBruteForce:
		for i := 0; i < o.Count; i++ {
			out = append(out, g.FailedLogin(o.SourceIP, o.TargetIP, o.Username))
		}
	case ScenarioSuccessfulBruteForce:
		for i := 0; i < o.Count; i++ {
			out = append(out, g.FailedLogin(o.SourceIP, o.TargetIP, o.Username))
		}
		out = append(out, g.SuccessfulLogin(o.SourceIP, o.TargetIP, o.Username))
	case ScenarioDistributedBruteForce:
		// one attempt per source, each against a different account
		for i := 0; i < o.Count; i++ {
			r := g.FailedLogin(g.externalIP(), o.TargetIP, g.choice(usernames))
			r.EventType = "failed_login"
			out = append(out, r)
		}
	case ScenarioRecon:
		for i := 0; i < o.Count; i++ {
			p := scanPorts[i%len(scanPorts)]
			out = append(out, g.PortScan(o.SourceIP, o.TargetIP, p.port, ""))
		}
		r := g.FailedLogin(o.SourceIP, o.TargetIP, o.Username)
		r.EventType = "failed_login"
		out = append(out, r)
	case ScenarioSuspiciousService:
		for i := 0; i < o.Count; i++ {
			p := scanPorts[i%len(scanPorts)]
			out = append(out, g.PortScan(o.SourceIP, o.TargetIP, p.port, p.service))
		}
	case ScenarioWindowsLogon:
		for i := 0; i < o.Count; i++ {
			out = append(out, g.WindowsLogon(o.SourceIP, o.TargetIP, o.Username, true))
		}
		out = append(out, g.WindowsLogon(o.SourceIP, o.TargetIP, o.Username, false))
	case ScenarioNoise:
		for i := 0; i < o.Count; i++ {
			out = append(out, g.Noise())
		}
	case ScenarioMixed:
		return g.mixed(o)
	default:
		return nil, fmt.Errorf("unknown scenario %q (available: %v)", name, Scenarios())
	}
	return out, nil
}

// mixed interleaves background noise with a brute-force run and a recon run,
// ordered by timestamp.
func (g *Generator) mixed(o ScenarioOptions) ([]Record, error) {
	var all []Record
	start, end := g.clock, g.clock
	for _, name := range []string{ScenarioNoise, ScenarioBruteForce, ScenarioRecon} {
		g.clock = start
		recs, err := g.Scenario(name, ScenarioOptions{Count: o.Count, TargetIP: o.TargetIP, Username: o.Username})
		if err != nil {
			return nil, err
		}
		all = append(all, recs...)
		if g.clock.After(end) {
			end = g.clock
		}
	}
	g.clock = end
	sort.SliceStable(all, func(i, j int) bool { return all[i].Timestamp < all[j].Timestamp })
	return all, nil
}

func (g *Generator) internalIP() string {
	return fmt.Sprintf("10.0.%d.%d", g.rand.Intn(255), 1+g.rand.Intn(254))
}

func (g *Generator) externalIP() string {
	prefixes := []string{"192.0.2", "198.51.100", "203.0.113"}
	return fmt.Sprintf("%s.%d", g.choice(prefixes), 1+g.rand.Intn(254))
}

func (g *Generator) choice(choices []string) string {
	return choices[g.rand.Intn(len(choices))]
}
