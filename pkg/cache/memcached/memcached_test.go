package memcached

import (
	"strings"
	"testing"

	"github.com/efficientgo/core/testutil"
)

func TestHashKey(t *testing.T) {
	long := "upstream:jdoe:https://api.example.com/items?q=" + strings.Repeat("x", 400)

	for _, key := range []string{"sess:1", "upstream:j doe:/items", long} {
		h := hashKey(key)
		testutil.Equals(t, 64, len(h))
		testutil.Assert(t, !strings.ContainsAny(h, " \n\t"), h)
		testutil.Equals(t, h, hashKey(key))
	}
	testutil.Assert(t, hashKey("sess:1") != hashKey("sess:2"))
}
