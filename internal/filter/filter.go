// Package filter implements the accept/discard rule evaluator described
// in spec.md §4.4: a pure function of (record, rule list), with the rule
// grammar itself kept deliberately minimal per SPEC_FULL.md §5.4.
package filter

import (
	"net"

	"github.com/pavelkim/flowd/internal/flow"
)

// Action is the outcome of evaluating a record against a rule list.
type Action int

const (
	ActionAccept Action = iota
	ActionDiscard
)

// Predicate names one of the small set of conditions a Rule may test.
type Predicate string

const (
	PredicateAny      Predicate = "any"
	PredicateProtocol Predicate = "protocol"
	PredicateSrcCIDR  Predicate = "src_cidr"
	PredicateDstCIDR  Predicate = "dst_cidr"
	PredicateSrcPort  Predicate = "src_port"
	PredicateDstPort  Predicate = "dst_port"
)

// Rule is one ordered entry in a RuleList. Value's meaning depends on
// Predicate: a protocol name/number, a CIDR string, or a port number.
type Rule struct {
	Predicate Predicate
	Value     string
	Action    Action
	Tag       uint32 // applied to record.Tag when this rule matches and SetTag is true
	SetTag    bool

	cidr *net.IPNet // set by Compile
}

// RuleList is an ordered sequence of compiled rules. The core treats it
// as an opaque parameter beyond Evaluate; compiling the predicate
// language from config text is internal/config's job.
type RuleList []Rule

// Compile resolves each rule's textual CIDR predicate into a *net.IPNet
// once, so Evaluate never parses on the hot path. It is safe to call
// repeatedly (e.g. after a config reload rebuilds the list).
func (rl RuleList) Compile() error {
	for i := range rl {
		switch rl[i].Predicate {
		case PredicateSrcCIDR, PredicateDstCIDR:
			_, ipnet, err := net.ParseCIDR(rl[i].Value)
			if err != nil {
				return err
			}
			rl[i].cidr = ipnet
		}
	}
	return nil
}

// Evaluate applies rules to r in order; the first matching rule's action
// wins. It is a pure function of (r, rules) except that a matching rule
// with SetTag may assign r.Tag. An empty rule list accepts everything,
// matching the "no filter configured" default.
func Evaluate(r *flow.Record, rules RuleList) Action {
	for _, rule := range rules {
		if !matches(r, rule) {
			continue
		}
		if rule.SetTag {
			r.Tag = rule.Tag
		}
		return rule.Action
	}
	return ActionAccept
}

func matches(r *flow.Record, rule Rule) bool {
	switch rule.Predicate {
	case PredicateAny, "":
		return true
	case PredicateProtocol:
		return protocolMatches(r.Protocol, rule.Value)
	case PredicateSrcCIDR:
		return rule.cidr != nil && rule.cidr.Contains(r.Src.IP())
	case PredicateDstCIDR:
		return rule.cidr != nil && rule.cidr.Contains(r.Dst.IP())
	case PredicateSrcPort:
		return portMatches(r.SrcPort, rule.Value)
	case PredicateDstPort:
		return portMatches(r.DstPort, rule.Value)
	default:
		return false
	}
}
