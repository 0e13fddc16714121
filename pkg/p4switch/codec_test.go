package p4switch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tagmesh/tagmesh/pkg/types"
)

func TestEncodeValue(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		bitwidth int
		want     []byte
		wantErr  bool
	}{
		{name: "ipv4", value: "192.168.11.0", bitwidth: 32, want: []byte{192, 168, 11, 0}},
		{name: "small int", value: "10", bitwidth: 8, want: []byte{10}},
		{name: "hex int", value: "0x0c", bitwidth: 8, want: []byte{12}},
		{name: "wide int", value: "443", bitwidth: 16, want: []byte{0x01, 0xbb}},
		{name: "overflow", value: "300", bitwidth: 8, wantErr: true},
		{name: "garbage", value: "not-a-value", bitwidth: 8, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := encodeValue(tt.value, tt.bitwidth)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTagTableEntryLPM(t *testing.T) {
	p := DefaultProfile()
	e := types.CanonicalEntry{
		SwitchName: "s21",
		Table:      types.TableTag,
		MatchKey:   "srcAddr=192.168.11.0/24",
		Action:     types.ActionParams{SetTag: 10},
		Priority:   24,
	}

	entry, err := toTableEntry(p, e)
	require.NoError(t, err)

	assert.Equal(t, p.TagTableID, entry.TableId)
	require.Len(t, entry.Match, 1)

	lpm := entry.Match[0].GetLpm()
	require.NotNil(t, lpm)
	assert.Equal(t, []byte{192, 168, 11, 0}, lpm.Value)
	assert.Equal(t, int32(24), lpm.PrefixLen)

	action := entry.Action.GetAction()
	require.NotNil(t, action)
	assert.Equal(t, p.TagActionID, action.ActionId)
	require.Len(t, action.Params, 1)
	assert.Equal(t, []byte{10}, action.Params[0].Value)

	// LPM tables carry no wire priority.
	assert.Zero(t, entry.Priority)
}

func TestTagTableEntryExactField(t *testing.T) {
	p := DefaultProfile()
	e := types.CanonicalEntry{
		SwitchName: "s21",
		Table:      types.TableTag,
		MatchKey:   "protocol=17/8,srcAddr=192.168.13.0/24",
		Action:     types.ActionParams{SetTag: 12},
		Priority:   32,
	}

	entry, err := toTableEntry(p, e)
	require.NoError(t, err)
	require.Len(t, entry.Match, 2)

	// Key order is canonical (sorted), so protocol precedes srcAddr.
	exact := entry.Match[0].GetExact()
	require.NotNil(t, exact)
	assert.Equal(t, []byte{17}, exact.Value)

	require.NotNil(t, entry.Match[1].GetLpm())
}

func TestTagTableEntryRejectsOversizedTag(t *testing.T) {
	p := DefaultProfile()
	e := types.CanonicalEntry{
		SwitchName: "s21",
		Table:      types.TableTag,
		MatchKey:   "srcAddr=192.168.11.0/24",
		Action:     types.ActionParams{SetTag: 300}, // > 8-bit param width
		Priority:   24,
	}

	_, err := toTableEntry(p, e)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "300")
}

func TestFilterTableEntry(t *testing.T) {
	p := DefaultProfile()
	e := types.CanonicalEntry{
		SwitchName: "s11",
		Table:      types.TableFilter,
		MatchKey:   "tag=12",
		Action:     types.ActionParams{Drop: true},
	}

	entry, err := toTableEntry(p, e)
	require.NoError(t, err)

	assert.Equal(t, p.FilterTableID, entry.TableId)
	require.Len(t, entry.Match, 1)
	exact := entry.Match[0].GetExact()
	require.NotNil(t, exact)
	assert.Equal(t, []byte{12}, exact.Value)

	action := entry.Action.GetAction()
	require.NotNil(t, action)
	assert.Equal(t, p.FilterActionID, action.ActionId)
	assert.Empty(t, action.Params)
}

func TestToTableEntryUnknownField(t *testing.T) {
	p := DefaultProfile()
	e := types.CanonicalEntry{
		SwitchName: "s21",
		Table:      types.TableTag,
		MatchKey:   "vlanId=7/12",
		Action:     types.ActionParams{SetTag: 10},
	}

	_, err := toTableEntry(p, e)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vlanId")
}

func TestPrefixMask(t *testing.T) {
	mask, err := prefixMask(24, 32)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xff, 0xff, 0xff, 0x00}, mask)

	mask, err = prefixMask(4, 8)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xf0}, mask)

	_, err = prefixMask(33, 32)
	require.Error(t, err)
}

func TestParseMatchKeyRoundTrip(t *testing.T) {
	criteria, err := parseMatchKey("protocol=17/8,srcAddr=192.168.13.0/24")
	require.NoError(t, err)
	require.Len(t, criteria, 2)
	assert.Equal(t, fieldCriterion{Field: "protocol", Value: "17", PrefixLen: 8}, criteria[0])
	assert.Equal(t, fieldCriterion{Field: "srcAddr", Value: "192.168.13.0", PrefixLen: 24}, criteria[1])

	_, err = parseMatchKey("malformed")
	require.Error(t, err)
}
