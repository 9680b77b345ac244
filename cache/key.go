package cache

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
)

// MakeSearchKey derives a deterministic cache key from every parameter that
// shapes a search. Provider ids are sorted so call-site ordering does not
// produce distinct keys.
func MakeSearchKey(query, tech string, maxResults int, providerIDs []string) string {
	ids := make([]string, len(providerIDs))
	copy(ids, providerIDs)
	sort.Strings(ids)

	raw := fmt.Sprintf("query:%s|tech:%s|max:%d|providers:%s",
		query, tech, maxResults, strings.Join(ids, ","))
	h := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%x", h)
}
