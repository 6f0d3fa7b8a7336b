package encode

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBasicGrouping(t *testing.T) {
	names := []string{
		"images/01/ale 1.jpg",
		"images/01/ale 2.jpg",
		"images/01/ale 3.jpg",
		"images/01/ale 4.jpg",
		"images/01/ale 5.jpg",
	}
	groups, ungrouped := GroupByPrefix(names, DefaultSequenceThreshold)
	require.Contains(t, groups, "images/01/ale .jpg")
	assert.Equal(t, names, groups["images/01/ale .jpg"])
	assert.Empty(t, ungrouped)
}

func TestSmallGroupGoesToUngrouped(t *testing.T) {
	names := []string{
		"images/01/ale 1.jpg",
		"images/01/ale 2.jpg",
		"images/01/ale 3.jpg",
	}
	groups, ungrouped := GroupByPrefix(names, DefaultSequenceThreshold)
	assert.Empty(t, groups)
	assert.Len(t, ungrouped, 3)
}

func TestMixedGroups(t *testing.T) {
	names := []string{
		"images/01/ale 1.jpg",
		"images/01/ale 2.jpg",
		"images/01/ale 3.jpg",
		"images/01/ale 4.jpg",
		"images/01/ale 5.jpg",
		"images/01/dun 1.jpg",
		"images/01/dun 2.jpg",
		"images/01/solo.jpg",
	}
	groups, ungrouped := GroupByPrefix(names, DefaultSequenceThreshold)
	require.Len(t, groups, 1)
	assert.Len(t, groups["images/01/ale .jpg"], 5)
	assert.Len(t, ungrouped, 3)
}

func TestNoNumberSuffix(t *testing.T) {
	names := []string{"images/logo.png", "images/bg.jpg"}
	groups, ungrouped := GroupByPrefix(names, DefaultSequenceThreshold)
	assert.Empty(t, groups)
	assert.ElementsMatch(t, names, ungrouped)
}

func TestSortedByNumber(t *testing.T) {
	names := []string{
		"img/x10.png",
		"img/x2.png",
		"img/x1.png",
		"img/x5.png",
		"img/x3.png",
	}
	groups, _ := GroupByPrefix(names, DefaultSequenceThreshold)
	require.Contains(t, groups, "img/x.png")
	assert.Equal(t, []string{
		"img/x1.png", "img/x2.png", "img/x3.png", "img/x5.png", "img/x10.png",
	}, groups["img/x.png"])
}

func TestEmptyInput(t *testing.T) {
	groups, ungrouped := GroupByPrefix(nil, DefaultSequenceThreshold)
	assert.Empty(t, groups)
	assert.Empty(t, ungrouped)
}

func TestThresholdBoundary(t *testing.T) {
	names := []string{"a1.png", "a2.png", "a3.png", "a4.png", "a5.png"}

	groups, ungrouped := GroupByPrefix(names, 5)
	assert.Len(t, groups, 1)
	assert.Empty(t, ungrouped)

	groups, ungrouped = GroupByPrefix(names[:4], 5)
	assert.Empty(t, groups)
	assert.Len(t, ungrouped, 4)
}

func TestNoMergeAcrossExtensions(t *testing.T) {
	names := []string{
		"fx1.png", "fx2.png", "fx3.png",
		"fx1.jpg", "fx2.jpg", "fx3.jpg",
	}
	// Six names share the prefix but split across two extensions, so
	// neither bucket reaches the threshold.
	groups, ungrouped := GroupByPrefix(names, 5)
	assert.Empty(t, groups)
	assert.Len(t, ungrouped, 6)
}

func TestEveryNameAppearsExactlyOnce(t *testing.T) {
	names := []string{
		"a1.png", "a2.png", "a3.png", "a4.png", "a5.png",
		"b1.png", "b2.png",
		"solo.webp", "title.jpg",
	}
	groups, ungrouped := GroupByPrefix(names, 5)

	var all []string
	for _, members := range groups {
		all = append(all, members...)
	}
	all = append(all, ungrouped...)
	sort.Strings(all)

	want := append([]string(nil), names...)
	sort.Strings(want)
	assert.Equal(t, want, all)
}
