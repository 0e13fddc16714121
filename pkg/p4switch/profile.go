package p4switch

import (
	"fmt"
	"os"
	"strings"

	p4config "github.com/p4lang/p4runtime/go/p4/config/v1"
	"google.golang.org/protobuf/encoding/prototext"
)

// Entity names of the tag/filter pipelines. These match the shipped P4
// programs; deployments with different names resolve IDs through a P4Info
// file instead.
const (
	TagTableName     = "MyEgress.set_dscp_tag"
	TagActionName    = "MyEgress.modify_dscp"
	TagParamName     = "dscp_value"
	FilterTableName  = "MyEgress.filter_dscp_tag"
	FilterActionName = "MyEgress.drop"
	FilterFieldName  = "hdr.ipv4.diffserv"
)

// MatchKind is the match type a table declares for one field
type MatchKind int

const (
	MatchExact MatchKind = iota
	MatchLPM
	MatchTernary
)

// FieldInfo describes one match field of the tag table
type FieldInfo struct {
	ID       uint32
	Name     string // fully qualified, e.g. "hdr.ipv4.srcAddr"
	Bitwidth int
	Kind     MatchKind
}

// Profile carries the numeric IDs the control protocol addresses tables,
// actions and fields by. It is the compiled-in replacement for carrying a
// P4Info helper around every call site.
type Profile struct {
	TagTableID       uint32
	TagActionID      uint32
	TagParamID       uint32
	TagParamBitwidth int
	TagFields        []FieldInfo

	FilterTableID       uint32
	FilterActionID      uint32
	FilterFieldID       uint32
	FilterFieldBitwidth int
}

// TagField resolves a rule's header-field name against the tag table's match
// fields. Unqualified names ("srcAddr") match on the last path component of
// the P4 name.
func (p *Profile) TagField(name string) (FieldInfo, error) {
	for _, f := range p.TagFields {
		if f.Name == name || strings.HasSuffix(f.Name, "."+name) {
			return f, nil
		}
	}
	return FieldInfo{}, fmt.Errorf("field %q not in tag table profile", name)
}

// DefaultProfile returns the well-known IDs of the bmv2 tag/filter build.
// Used when no P4Info file is configured and by tests.
func DefaultProfile() *Profile {
	return &Profile{
		TagTableID:       40000001,
		TagActionID:      26000001,
		TagParamID:       1,
		TagParamBitwidth: 8,
		TagFields: []FieldInfo{
			{ID: 1, Name: "hdr.ipv4.srcAddr", Bitwidth: 32, Kind: MatchLPM},
			{ID: 2, Name: "hdr.ipv4.dstAddr", Bitwidth: 32, Kind: MatchLPM},
			{ID: 3, Name: "hdr.ipv4.protocol", Bitwidth: 8, Kind: MatchExact},
		},
		FilterTableID:       40000002,
		FilterActionID:      26000002,
		FilterFieldID:       1,
		FilterFieldBitwidth: 8,
	}
}

// LoadProfile parses a prototext P4Info file and resolves the tag/filter
// entity IDs by name.
func LoadProfile(p4infoPath string) (*Profile, error) {
	data, err := os.ReadFile(p4infoPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read p4info: %w", err)
	}

	var info p4config.P4Info
	if err := prototext.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("failed to parse p4info %s: %w", p4infoPath, err)
	}
	return profileFromP4Info(&info)
}

func profileFromP4Info(info *p4config.P4Info) (*Profile, error) {
	p := &Profile{}

	for _, tbl := range info.Tables {
		switch tbl.Preamble.GetName() {
		case TagTableName:
			p.TagTableID = tbl.Preamble.GetId()
			for _, mf := range tbl.MatchFields {
				p.TagFields = append(p.TagFields, FieldInfo{
					ID:       mf.GetId(),
					Name:     mf.GetName(),
					Bitwidth: int(mf.GetBitwidth()),
					Kind:     matchKind(mf.GetMatchType()),
				})
			}
		case FilterTableName:
			p.FilterTableID = tbl.Preamble.GetId()
			for _, mf := range tbl.MatchFields {
				if mf.GetName() == FilterFieldName {
					p.FilterFieldID = mf.GetId()
					p.FilterFieldBitwidth = int(mf.GetBitwidth())
				}
			}
		}
	}

	for _, act := range info.Actions {
		switch act.Preamble.GetName() {
		case TagActionName:
			p.TagActionID = act.Preamble.GetId()
			for _, param := range act.Params {
				if param.GetName() == TagParamName {
					p.TagParamID = param.GetId()
					p.TagParamBitwidth = int(param.GetBitwidth())
				}
			}
		case FilterActionName:
			p.FilterActionID = act.Preamble.GetId()
		}
	}

	if p.TagTableID == 0 || p.TagActionID == 0 {
		return nil, fmt.Errorf("p4info missing tag pipeline entities (%s/%s)", TagTableName, TagActionName)
	}
	if p.FilterTableID == 0 || p.FilterActionID == 0 {
		return nil, fmt.Errorf("p4info missing filter pipeline entities (%s/%s)", FilterTableName, FilterActionName)
	}
	return p, nil
}

func matchKind(mt p4config.MatchField_MatchType) MatchKind {
	switch mt {
	case p4config.MatchField_LPM:
		return MatchLPM
	case p4config.MatchField_TERNARY:
		return MatchTernary
	default:
		return MatchExact
	}
}
