package updater

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/miekg/dns"
)

// versionProvider is one fallible strategy in the oracle's provider chain:
// an ordered chain of fallible providers rather than nested conditionals.
type versionProvider interface {
	resolve(db string) (version uint32, remoteIsCLD bool, ok bool)
}

// primaryTXTProvider parses the primary DNS "update info" TXT record the
// caller already resolved (colon-delimited fields; field index per
// textRecordField). It never performs I/O itself.
type primaryTXTProvider struct {
	record string
}

func (p primaryTXTProvider) resolve(db string) (uint32, bool, bool) {
	if p.record == "" {
		return 0, false, false
	}
	idx := textRecordField(db)
	if idx == 0 {
		return 0, false, false
	}
	fields := strings.Split(p.record, ":")
	if idx >= len(fields) {
		return 0, false, false
	}
	v, err := strconv.ParseUint(strings.TrimSpace(fields[idx]), 10, 32)
	if err != nil || v == 0 {
		return 0, false, false
	}
	return uint32(v), false, true
}

// secondaryTXTProvider issues a live DNS TXT query for "<db>.<zone>" (with
// the default zone "cvd.clamav.net" that is "<db>.cvd.clamav.net") using github.com/miekg/dns instead of the stdlib resolver, because the
// stdlib's net.LookupTXT offers no way to target a specific nameserver or
// bound query timeout, both of which this provider needs (Component
// Design 4.3, step 2).
type secondaryTXTProvider struct {
	server          string
	zone            string
	timeout         time.Duration
	stalenessMax    int64
	nowFunc         func() time.Time
	recordTimeIndex int
}

func newSecondaryTXTProvider(cfg *Config) *secondaryTXTProvider {
	return &secondaryTXTProvider{
		server:          cfg.DNSServer,
		zone:            cfg.DNSZone,
		timeout:         cfg.DNSTimeout,
		stalenessMax:    cfg.DNSStalenessSeconds,
		nowFunc:         time.Now,
		recordTimeIndex: 1,
	}
}

func (p *secondaryTXTProvider) resolve(db string) (uint32, bool, bool) {
	fqdn := fmt.Sprintf("%s.%s.", db, strings.TrimSuffix(p.zone, "."))

	msg := new(dns.Msg)
	msg.SetQuestion(fqdn, dns.TypeTXT)
	msg.RecursionDesired = true

	client := &dns.Client{Timeout: p.timeout}
	resp, _, err := client.Exchange(msg, p.server)
	if err != nil || resp == nil || resp.Rcode != dns.RcodeSuccess {
		return 0, false, false
	}

	for _, rr := range resp.Answer {
		txt, ok := rr.(*dns.TXT)
		if !ok || len(txt.Txt) == 0 {
			continue
		}
		fields := strings.Split(strings.Join(txt.Txt, ""), ":")
		if len(fields) <= p.recordTimeIndex {
			continue
		}
		version, err := strconv.ParseUint(strings.TrimSpace(fields[0]), 10, 32)
		if err != nil || version == 0 {
			continue
		}
		recordTime, err := strconv.ParseInt(strings.TrimSpace(fields[p.recordTimeIndex]), 10, 64)
		if err != nil {
			continue
		}
		now := p.nowFunc().Unix()
		if now-recordTime > p.stalenessMax {
			continue
		}
		return uint32(version), false, true
	}
	return 0, false, false
}
