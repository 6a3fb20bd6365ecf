// File: filters/attrs.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package filters

import (
	"fmt"
	"sync/atomic"
)

// attrName gives each filter instance its own attribute so two instances in
// one chain never share connection state.
func attrName(kind string, seq *atomic.Uint64) string {
	return fmt.Sprintf("filters.%s#%d", kind, seq.Add(1))
}
