package util_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/wkalt/spatialcache/util"
)

func TestOkeys(t *testing.T) {
	m := map[string]string{"filter": "", "": "", "coverage": ""}
	for i := 0; i < 100; i++ {
		assert.Equal(t, []string{"", "coverage", "filter"}, util.Okeys(m))
	}
}

func TestHumanBytes(t *testing.T) {
	cases := []struct {
		assertion string
		input     uint64
		expected  string
	}{
		{"0 bytes", 0, "0 B"},
		{"1 byte", 1, "1 B"},
		{"50 bytes", 50, "50 B"},
		{"1023 bytes", 1023, "1023 B"},
		{"1 kilobyte", 1024, "1.0 KB"},
		{"a kilobyte and a half", 1536, "1.5 KB"},
		{"1 megabyte", 1024 * 1024, "1.0 MB"},
		{"just under 1 megabyte", 1024*1024 - 1, "1024.0 KB"},
		{"50 gigabytes", 50 * 1024 * 1024 * 1024, "50.0 GB"},
		{"1 exabyte", 1024 * 1024 * 1024 * 1024 * 1024 * 1024, "1.0 EB"},
	}
	for _, c := range cases {
		assert.Equal(t, c.expected, util.HumanBytes(c.input), c.assertion)
	}
}

func TestWhen(t *testing.T) {
	cases := []struct {
		assertion string
		cond      bool
		a         int
		b         int
		expected  int
	}{
		{"true", true, 1, 2, 1},
		{"false", false, 1, 2, 2},
	}
	for _, c := range cases {
		assert.Equal(t, c.expected, util.When(c.cond, c.a, c.b), c.assertion)
	}
}
