package p4switch

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	p4v1 "github.com/p4lang/p4runtime/go/p4/v1"
	"github.com/tagmesh/tagmesh/pkg/types"
)

// fieldCriterion is one parsed component of a canonical match key
type fieldCriterion struct {
	Field     string
	Value     string
	PrefixLen int
}

// parseMatchKey inverts the canonical key encoding
// ("f1=v1/p1,f2=v2/p2", fields sorted).
func parseMatchKey(key string) ([]fieldCriterion, error) {
	if key == "" {
		return nil, nil
	}
	parts := strings.Split(key, ",")
	out := make([]fieldCriterion, 0, len(parts))
	for _, part := range parts {
		field, rest, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("malformed match key component %q", part)
		}
		value, plenStr, ok := strings.Cut(rest, "/")
		if !ok {
			return nil, fmt.Errorf("malformed match key component %q", part)
		}
		plen, err := strconv.Atoi(plenStr)
		if err != nil {
			return nil, fmt.Errorf("malformed prefix length in %q: %w", part, err)
		}
		out = append(out, fieldCriterion{Field: field, Value: value, PrefixLen: plen})
	}
	return out, nil
}

// encodeValue renders a match/param value into the protocol's byte encoding:
// dotted-quad strings become 4 network-order bytes, anything else is parsed
// as an unsigned integer (decimal or 0x-hex) and big-endian packed to the
// field width.
func encodeValue(value string, bitwidth int) ([]byte, error) {
	if ip := net.ParseIP(value); ip != nil {
		if v4 := ip.To4(); v4 != nil {
			return []byte(v4), nil
		}
		return nil, fmt.Errorf("non-IPv4 address %q", value)
	}

	n, err := strconv.ParseUint(strings.TrimPrefix(value, "0x"), base(value), 64)
	if err != nil {
		return nil, fmt.Errorf("value %q is neither an IPv4 address nor an integer", value)
	}

	nbytes := (bitwidth + 7) / 8
	if nbytes == 0 {
		nbytes = 1
	}
	buf := make([]byte, nbytes)
	for i := nbytes - 1; i >= 0; i-- {
		buf[i] = byte(n)
		n >>= 8
	}
	if n != 0 {
		return nil, fmt.Errorf("value %q overflows %d-bit field", value, bitwidth)
	}
	return buf, nil
}

func base(value string) int {
	if strings.HasPrefix(value, "0x") {
		return 16
	}
	return 10
}

// toTableEntry builds the wire representation of a canonical entry.
//
// Entry priority is only carried on the wire for ternary fields; LPM tables
// order by prefix length themselves and exact tables have no ordering, and
// the target rejects a nonzero priority on either. The canonical priority
// still participates in diffing and shadow resolution engine-side.
func toTableEntry(p *Profile, e types.CanonicalEntry) (*p4v1.TableEntry, error) {
	switch e.Table {
	case types.TableTag:
		return tagTableEntry(p, e)
	case types.TableFilter:
		return filterTableEntry(p, e)
	default:
		return nil, fmt.Errorf("unknown table kind %q", e.Table)
	}
}

func tagTableEntry(p *Profile, e types.CanonicalEntry) (*p4v1.TableEntry, error) {
	criteria, err := parseMatchKey(e.MatchKey)
	if err != nil {
		return nil, err
	}
	if len(criteria) == 0 {
		return nil, fmt.Errorf("tag entry %s has no match criteria", e.MatchKey)
	}

	var match []*p4v1.FieldMatch
	ternary := false
	for _, c := range criteria {
		fi, err := p.TagField(c.Field)
		if err != nil {
			return nil, err
		}
		value, err := encodeValue(c.Value, fi.Bitwidth)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", c.Field, err)
		}

		fm := &p4v1.FieldMatch{FieldId: fi.ID}
		switch fi.Kind {
		case MatchLPM:
			fm.FieldMatchType = &p4v1.FieldMatch_Lpm{
				Lpm: &p4v1.FieldMatch_LPM{Value: value, PrefixLen: int32(c.PrefixLen)},
			}
		case MatchTernary:
			mask, err := prefixMask(c.PrefixLen, fi.Bitwidth)
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", c.Field, err)
			}
			fm.FieldMatchType = &p4v1.FieldMatch_Ternary_{
				Ternary: &p4v1.FieldMatch_Ternary{Value: value, Mask: mask},
			}
			ternary = true
		default:
			if c.PrefixLen != fi.Bitwidth {
				return nil, fmt.Errorf("field %s is exact-match but prefix is /%d", c.Field, c.PrefixLen)
			}
			fm.FieldMatchType = &p4v1.FieldMatch_Exact_{
				Exact: &p4v1.FieldMatch_Exact{Value: value},
			}
		}
		match = append(match, fm)
	}

	// The action param goes through the same width-checked encoding as
	// match values, so an out-of-range tag fails here instead of being
	// truncated on the wire.
	tagValue, err := encodeValue(strconv.Itoa(e.Action.SetTag), p.TagParamBitwidth)
	if err != nil {
		return nil, fmt.Errorf("tag value %d: %w", e.Action.SetTag, err)
	}

	entry := &p4v1.TableEntry{
		TableId: p.TagTableID,
		Match:   match,
		Action: &p4v1.TableAction{
			Type: &p4v1.TableAction_Action{
				Action: &p4v1.Action{
					ActionId: p.TagActionID,
					Params: []*p4v1.Action_Param{
						{ParamId: p.TagParamID, Value: tagValue},
					},
				},
			},
		},
	}
	if ternary {
		entry.Priority = e.Priority
	}
	return entry, nil
}

func filterTableEntry(p *Profile, e types.CanonicalEntry) (*p4v1.TableEntry, error) {
	tagStr, ok := strings.CutPrefix(e.MatchKey, "tag=")
	if !ok {
		return nil, fmt.Errorf("malformed filter match key %q", e.MatchKey)
	}
	value, err := encodeValue(tagStr, p.FilterFieldBitwidth)
	if err != nil {
		return nil, err
	}

	return &p4v1.TableEntry{
		TableId: p.FilterTableID,
		Match: []*p4v1.FieldMatch{{
			FieldId: p.FilterFieldID,
			FieldMatchType: &p4v1.FieldMatch_Exact_{
				Exact: &p4v1.FieldMatch_Exact{Value: value},
			},
		}},
		Action: &p4v1.TableAction{
			Type: &p4v1.TableAction_Action{
				Action: &p4v1.Action{ActionId: p.FilterActionID},
			},
		},
	}, nil
}

func prefixMask(plen, bitwidth int) ([]byte, error) {
	if plen < 0 || plen > bitwidth {
		return nil, fmt.Errorf("prefix length %d out of range for %d-bit field", plen, bitwidth)
	}
	nbytes := (bitwidth + 7) / 8
	mask := make([]byte, nbytes)
	for i := 0; i < plen; i++ {
		mask[i/8] |= 0x80 >> (i % 8)
	}
	return mask, nil
}
