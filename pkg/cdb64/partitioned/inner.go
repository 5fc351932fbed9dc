package partitioned

import (
	"github.com/ar-io/ar-io-node-sub005/pkg/byterange"
	"github.com/ar-io/ar-io-node-sub005/pkg/cdb64"
)

// cdbReader aliases cdb64.Reader; named distinctly from this package's
// own Reader (the partitioned reader) to keep call sites unambiguous.
type cdbReader = cdb64.Reader

func newCdbReader(src byterange.Source) *cdbReader {
	return cdb64.NewReader(src)
}
