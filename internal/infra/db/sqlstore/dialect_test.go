package sqlstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRebind(t *testing.T) {
	q := "UPDATE t SET a=?, b=? WHERE id=?"
	assert.Equal(t, q, Dialect{}.rebind(q))
	assert.Equal(t, "UPDATE t SET a=$1, b=$2 WHERE id=$3", Dialect{NumberedParams: true}.rebind(q))
}
