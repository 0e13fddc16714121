package p4switch

import (
	"testing"

	p4config "github.com/p4lang/p4runtime/go/p4/config/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testP4Info() *p4config.P4Info {
	return &p4config.P4Info{
		Tables: []*p4config.Table{
			{
				Preamble: &p4config.Preamble{Id: 101, Name: TagTableName},
				MatchFields: []*p4config.MatchField{
					{Id: 1, Name: "hdr.ipv4.srcAddr", Bitwidth: 32, Match: &p4config.MatchField_MatchType_{MatchType: p4config.MatchField_LPM}},
					{Id: 2, Name: "hdr.ipv4.protocol", Bitwidth: 8, Match: &p4config.MatchField_MatchType_{MatchType: p4config.MatchField_EXACT}},
				},
			},
			{
				Preamble: &p4config.Preamble{Id: 102, Name: FilterTableName},
				MatchFields: []*p4config.MatchField{
					{Id: 1, Name: FilterFieldName, Bitwidth: 8, Match: &p4config.MatchField_MatchType_{MatchType: p4config.MatchField_EXACT}},
				},
			},
		},
		Actions: []*p4config.Action{
			{
				Preamble: &p4config.Preamble{Id: 201, Name: TagActionName},
				Params:   []*p4config.Action_Param{{Id: 1, Name: TagParamName, Bitwidth: 8}},
			},
			{
				Preamble: &p4config.Preamble{Id: 202, Name: FilterActionName},
			},
		},
	}
}

func TestProfileFromP4Info(t *testing.T) {
	p, err := profileFromP4Info(testP4Info())
	require.NoError(t, err)

	assert.Equal(t, uint32(101), p.TagTableID)
	assert.Equal(t, uint32(201), p.TagActionID)
	assert.Equal(t, uint32(1), p.TagParamID)
	assert.Equal(t, 8, p.TagParamBitwidth)
	require.Len(t, p.TagFields, 2)
	assert.Equal(t, MatchLPM, p.TagFields[0].Kind)
	assert.Equal(t, MatchExact, p.TagFields[1].Kind)

	assert.Equal(t, uint32(102), p.FilterTableID)
	assert.Equal(t, uint32(202), p.FilterActionID)
	assert.Equal(t, uint32(1), p.FilterFieldID)
	assert.Equal(t, 8, p.FilterFieldBitwidth)
}

func TestProfileFromP4InfoMissingEntities(t *testing.T) {
	info := testP4Info()
	info.Tables = info.Tables[:1] // drop the filter table

	_, err := profileFromP4Info(info)
	require.Error(t, err)
	assert.Contains(t, err.Error(), FilterTableName)
}

func TestTagFieldResolution(t *testing.T) {
	p := DefaultProfile()

	f, err := p.TagField("srcAddr")
	require.NoError(t, err)
	assert.Equal(t, "hdr.ipv4.srcAddr", f.Name)

	f, err = p.TagField("hdr.ipv4.dstAddr")
	require.NoError(t, err)
	assert.Equal(t, uint32(2), f.ID)

	_, err = p.TagField("vlanId")
	require.Error(t, err)
}
